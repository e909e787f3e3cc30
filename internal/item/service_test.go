package item

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/lostfound/internal/catalog"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// --- テスト用モック ---

// mockItemRepo はサービステスト用のItemRepositoryモック。
type mockItemRepo struct {
	listFn     func(ctx context.Context, q repository.ItemQuery) ([]model.Item, error)
	findByIDFn func(ctx context.Context, id string) (*model.Item, error)
	queries    []repository.ItemQuery
}

func (m *mockItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockItemRepo) List(ctx context.Context, q repository.ItemQuery) ([]model.Item, error) {
	m.queries = append(m.queries, q)
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return []model.Item{}, nil
}

func (m *mockItemRepo) Create(context.Context, *model.Item) error { return nil }
func (m *mockItemRepo) Update(context.Context, *model.Item) error { return nil }
func (m *mockItemRepo) Delete(context.Context, string) error { return nil }
func (m *mockItemRepo) ListImageURLs(context.Context) ([]string, error) { return nil, nil }

var _ repository.ItemRepository = (*mockItemRepo)(nil)

func baseItems() []model.Item {
	return []model.Item{
		{ID: "1", Title: "Blue Wallet", Location: "Library", Category: model.CategoryAccessories, Status: model.StatusLost},
		{ID: "2", Title: "Black Backpack", Location: "Cafe", Category: model.CategoryAccessories, Status: model.StatusLost},
		{ID: "3", Title: "Phone", Location: "Library", Category: model.CategoryElectronics, Status: model.StatusLost},
	}
}

// --- List ---

// TestItemService_List_FiltersAfterStatusQuery はステータスをクエリに渡し、残りの条件を取得後に適用することをテストする。
func TestItemService_List_FiltersAfterStatusQuery(t *testing.T) {
	repo := &mockItemRepo{listFn: func(context.Context, repository.ItemQuery) ([]model.Item, error) {
		return baseItems(), nil
	}}
	svc := NewItemService(repo)

	result, err := svc.List(context.Background(), ListParams{
		Status: model.StatusLost,
		Filter: catalog.FilterState{Location: "Library"},
	})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	if len(repo.queries) != 1 || repo.queries[0] != (repository.ItemQuery{Status: model.StatusLost}) {
		t.Errorf("unexpected queries: %+v", repo.queries)
	}
	if len(result.Items) != 2 || result.Items[0].ID != "1" || result.Items[1].ID != "3" {
		t.Errorf("unexpected items: %+v", result.Items)
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	// 選択肢は絞り込み前の一覧から求める
	if len(result.Locations) != 2 || result.Locations[0] != "Cafe" || result.Locations[1] != "Library" {
		t.Errorf("unexpected locations: %v", result.Locations)
	}
}

// TestItemService_List_RepoError はリポジトリエラーがPersistenceErrorとして返ることをテストする。
func TestItemService_List_RepoError(t *testing.T) {
	repo := &mockItemRepo{listFn: func(context.Context, repository.ItemQuery) ([]model.Item, error) {
		return nil, errors.New("db down")
	}}
	_, err := NewItemService(repo).List(context.Background(), ListParams{})

	var pe *model.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("err = %v, want PersistenceError", err)
	}
}

// --- Search ---

// TestItemService_Search_ClampsLimit は件数の上限が適用されることをテストする。
func TestItemService_Search_ClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit uint64
		want  uint64
	}{
		{"未指定", 0, MaxSearchLimit},
		{"上限超過", 1000, MaxSearchLimit},
		{"範囲内", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockItemRepo{}
			_, err := NewItemService(repo).Search(context.Background(), repository.ItemQuery{Search: "wallet", Limit: tt.limit})
			if err != nil {
				t.Fatalf("Search returned error: %v", err)
			}
			if repo.queries[0].Limit != tt.want || repo.queries[0].Search != "wallet" {
				t.Errorf("query = %+v, want limit %d", repo.queries[0], tt.want)
			}
		})
	}
}

// --- Recent ---

// TestItemService_Recent はステータスごとに件数を指定して取得することをテストする。
func TestItemService_Recent(t *testing.T) {
	repo := &mockItemRepo{listFn: func(_ context.Context, q repository.ItemQuery) ([]model.Item, error) {
		return []model.Item{{ID: string(q.Status), Status: q.Status}}, nil
	}}
	result, err := NewItemService(repo).Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}

	want := []repository.ItemQuery{
		{Status: model.StatusLost, Limit: RecentLimit},
		{Status: model.StatusFound, Limit: RecentLimit},
	}
	for i, q := range want {
		if repo.queries[i] != q {
			t.Errorf("query[%d] = %+v, want %+v", i, repo.queries[i], q)
		}
	}
	if result.Lost[0].ID != "lost" || result.Found[0].ID != "found" {
		t.Errorf("unexpected result: %+v", result)
	}
}

// --- GetItem ---

// TestItemService_GetItem_NotFound は存在しない投稿でITEM_NOT_FOUNDが返ることをテストする。
func TestItemService_GetItem_NotFound(t *testing.T) {
	svc := NewItemService(&mockItemRepo{})

	_, err := svc.GetItem(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeItemNotFound {
		t.Errorf("err = %v, want ITEM_NOT_FOUND", err)
	}
}

// TestItemService_GetItem_Found は投稿が返ることをテストする。
func TestItemService_GetItem_Found(t *testing.T) {
	repo := &mockItemRepo{findByIDFn: func(_ context.Context, id string) (*model.Item, error) {
		return &model.Item{ID: id, Title: "Wallet"}, nil
	}}
	got, err := NewItemService(repo).GetItem(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if got.ID != "item-1" || got.Title != "Wallet" {
		t.Errorf("unexpected item: %+v", got)
	}
}

// --- ListByOwner ---

// TestItemService_ListByOwner は所有者で絞り込むことをテストする。
func TestItemService_ListByOwner(t *testing.T) {
	repo := &mockItemRepo{}
	items, err := NewItemService(repo).ListByOwner(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if items == nil {
		t.Error("items should not be nil")
	}
	if repo.queries[0].UserID != "user-1" {
		t.Errorf("query = %+v", repo.queries[0])
	}
}
