package catalog

import (
	"context"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// ItemLister は基準一覧の取得元。
type ItemLister interface {
	List(ctx context.Context, q repository.ItemQuery) ([]model.Item, error)
}

// Loader は画面ごとの基準一覧をレコードストアから取得する。
type Loader struct {
	items ItemLister
}

// NewLoader はLoaderを生成する。
func NewLoader(items ItemLister) *Loader {
	return &Loader{items: items}
}

// LoadAll は全投稿を新しい順に取得する。
func (l *Loader) LoadAll(ctx context.Context) ([]model.Item, error) {
	return l.load(ctx, repository.ItemQuery{})
}

// LoadByStatus は指定ステータスの投稿を新しい順に取得する。空の場合は全件。
func (l *Loader) LoadByStatus(ctx context.Context, status model.Status) ([]model.Item, error) {
	return l.load(ctx, repository.ItemQuery{Status: status})
}

// LoadByOwner は指定ユーザーの投稿を新しい順に取得する。
func (l *Loader) LoadByOwner(ctx context.Context, userID string) ([]model.Item, error) {
	return l.load(ctx, repository.ItemQuery{UserID: userID})
}

func (l *Loader) load(ctx context.Context, q repository.ItemQuery) ([]model.Item, error) {
	items, err := l.items.List(ctx, q)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list", Err: err}
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// Recent はitemsのうち指定ステータスの投稿を先頭からn件返す。
func Recent(items []model.Item, status model.Status, n int) []model.Item {
	result := make([]model.Item, 0, n)
	for _, item := range items {
		if len(result) >= n {
			break
		}
		if item.Status == status {
			result = append(result, item)
		}
	}
	return result
}
