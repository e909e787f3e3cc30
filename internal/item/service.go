// Package item は投稿の参照機能を提供する。
package item

import (
	"context"
	"fmt"

	"github.com/hitoshi/lostfound/internal/catalog"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// RecentLimit はホーム画面にステータスごとに表示する件数。
const RecentLimit = 4

// MaxSearchLimit はSearchで一度に返す最大件数。
const MaxSearchLimit = 100

// ItemService は投稿の一覧・検索・詳細取得のサービス。
type ItemService struct {
	itemRepo repository.ItemRepository
	loader   *catalog.Loader
}

// NewItemService はItemServiceの新しいインスタンスを生成する。
func NewItemService(itemRepo repository.ItemRepository) *ItemService {
	return &ItemService{
		itemRepo: itemRepo,
		loader:   catalog.NewLoader(itemRepo),
	}
}

// ListParams はListの条件。Statusはレコードストア側で、Filterは取得後に適用する。
type ListParams struct {
	Status model.Status
	Filter catalog.FilterState
}

// ListResult はListの戻り値。
// Locationsは絞り込み前の一覧から求めた場所の選択肢。
type ListResult struct {
	Items     []model.Item
	Locations []string
	Total     int
}

// List はステータスで取得した一覧に絞り込み条件を適用して返す。
func (s *ItemService) List(ctx context.Context, p ListParams) (*ListResult, error) {
	base, err := s.loader.LoadByStatus(ctx, p.Status)
	if err != nil {
		return nil, err
	}
	engine := catalog.NewEngine(base)
	engine.SetState(p.Filter)
	return &ListResult{
		Items:     engine.Items(),
		Locations: engine.LocationOptions(),
		Total:     len(base),
	}, nil
}

// Search はレコードストアの検索条件だけで投稿を検索する。
// Limitが0または上限超過の場合はMaxSearchLimitに丸める。
func (s *ItemService) Search(ctx context.Context, q repository.ItemQuery) ([]model.Item, error) {
	if q.Limit == 0 || q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	items, err := s.itemRepo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	return items, nil
}

// RecentResult はホーム画面用の新着一覧。
type RecentResult struct {
	Lost  []model.Item
	Found []model.Item
}

// Recent は落とし物と拾得物の新着をそれぞれn件返す。
func (s *ItemService) Recent(ctx context.Context, n int) (*RecentResult, error) {
	if n <= 0 {
		n = RecentLimit
	}
	lost, err := s.itemRepo.List(ctx, repository.ItemQuery{Status: model.StatusLost, Limit: uint64(n)})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent lost items: %w", err)
	}
	found, err := s.itemRepo.List(ctx, repository.ItemQuery{Status: model.StatusFound, Limit: uint64(n)})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent found items: %w", err)
	}
	return &RecentResult{Lost: lost, Found: found}, nil
}

// GetItem は投稿の詳細を返す。存在しない場合はITEM_NOT_FOUNDのAPIErrorを返す。
func (s *ItemService) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// ListByOwner は指定ユーザーの投稿を新しい順に返す。
func (s *ItemService) ListByOwner(ctx context.Context, userID string) ([]model.Item, error) {
	return s.loader.LoadByOwner(ctx, userID)
}
