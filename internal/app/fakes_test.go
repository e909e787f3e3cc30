package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/storage"
)

// memAccounts はテスト用のインメモリ資格情報・プロフィールストア。
type memAccounts struct {
	mu       sync.Mutex
	creds    map[string]*model.Credential
	profiles map[string]*model.Profile
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		creds:    make(map[string]*model.Credential),
		profiles: make(map[string]*model.Profile),
	}
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[email]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *memAccounts) CreateWithProfile(_ context.Context, cred *model.Credential, profile *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	p := *profile
	m.creds[cred.Email] = &c
	m.profiles[profile.ID] = &p
	return nil
}

func (m *memAccounts) ConfirmByEmail(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[email]
	if !ok {
		return repository.ErrNotFound
	}
	c.Confirmed = true
	return nil
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (m *memAccounts) Update(_ context.Context, profile *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profile.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.FullName = profile.FullName
	p.AvatarURL = profile.AvatarURL
	p.UpdatedAt = time.Now()
	return nil
}

// promote はメールアドレスのアカウントを管理者にする。
func (m *memAccounts) promote(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds[email]
	m.profiles[c.UserID].IsAdmin = true
}

func (m *memAccounts) userID(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[email].UserID
}

// memItems はテスト用のインメモリ投稿ストア。作成順に1秒ずつ新しいcreated_atを割り当てる。
type memItems struct {
	mu    sync.Mutex
	items map[string]*model.Item
	seq   int
	base  time.Time
}

func newMemItems() *memItems {
	return &memItems{
		items: make(map[string]*model.Item),
		base:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memItems) FindByID(_ context.Context, id string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	copied := *it
	return &copied, nil
}

func (m *memItems) List(_ context.Context, q repository.ItemQuery) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.Item{}
	for _, it := range m.items {
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		if q.Category != "" && it.Category != q.Category {
			continue
		}
		if q.UserID != "" && it.UserID != q.UserID {
			continue
		}
		if q.Search != "" {
			s := strings.ToLower(q.Search)
			if !strings.Contains(strings.ToLower(it.Title), s) && !strings.Contains(strings.ToLower(it.Description), s) {
				continue
			}
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && uint64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memItems) Create(_ context.Context, item *model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	item.ID = fmt.Sprintf("item-%d", m.seq)
	item.CreatedAt = m.base.Add(time.Duration(m.seq) * time.Second)
	item.UpdatedAt = item.CreatedAt
	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *memItems) Update(_ context.Context, item *model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[item.ID]
	if !ok {
		return repository.ErrNotFound
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = current.UpdatedAt.Add(time.Minute)
	copied := *item
	m.items[item.ID] = &copied
	return nil
}

func (m *memItems) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memItems) ListImageURLs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urls []string
	for _, it := range m.items {
		if it.ImageURL != "" {
			urls = append(urls, it.ImageURL)
		}
	}
	return urls, nil
}

// seed は任意の所有者の投稿を直接登録する。
func (m *memItems) seed(it model.Item) string {
	_ = m.Create(context.Background(), &it)
	return it.ID
}

// repositoryQueryAll は全件を取得する条件。
var repositoryQueryAll = repository.ItemQuery{}

var _ repository.ItemRepository = (*memItems)(nil)

// memBlobs はテスト用のインメモリ画像ストア。
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

const memBlobsBaseURL = "http://blobs.test/item-images/"

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Upload(_ context.Context, objectPath string, img *model.ImageUpload) error {
	data, err := io.ReadAll(img.Body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectPath] = data
	return nil
}

func (b *memBlobs) PublicURL(objectPath string) string {
	return memBlobsBaseURL + objectPath
}

func (b *memBlobs) PathFromURL(publicURL string) (string, bool) {
	if !strings.HasPrefix(publicURL, memBlobsBaseURL) {
		return "", false
	}
	return strings.TrimPrefix(publicURL, memBlobsBaseURL), true
}

func (b *memBlobs) Delete(_ context.Context, objectPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectPath)
	return nil
}

func (b *memBlobs) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.ObjectInfo
	for p, data := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, storage.ObjectInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
