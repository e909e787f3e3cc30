package catalog

import (
	"slices"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

// Engine は基準一覧と絞り込み条件を保持し、どちらかが変わるたびに結果を再計算する。
type Engine struct {
	mu        sync.RWMutex
	base      []model.Item
	state     FilterState
	items     []model.Item
	locations []string
}

// NewEngine はbaseを基準一覧とするEngineを生成する。
func NewEngine(base []model.Item) *Engine {
	e := &Engine{}
	e.SetBase(base)
	return e
}

// SetBase は基準一覧を差し替える。絞り込み条件は維持する。
func (e *Engine) SetBase(base []model.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = slices.Clone(base)
	e.locations = LocationOptions(e.base)
	e.recompute()
}

// SetSearchQuery は検索語を設定する。
func (e *Engine) SetSearchQuery(q string) {
	e.update(func(s *FilterState) { s.SearchQuery = q })
}

// SetCategory はカテゴリを設定する。空文字列で解除する。
func (e *Engine) SetCategory(c model.Category) {
	e.update(func(s *FilterState) { s.Category = c })
}

// SetLocation は場所を設定する。空文字列で解除する。
func (e *Engine) SetLocation(loc string) {
	e.update(func(s *FilterState) { s.Location = loc })
}

// SetState は絞り込み条件をまとめて設定する。
func (e *Engine) SetState(state FilterState) {
	e.update(func(s *FilterState) { *s = state })
}

// Reset は絞り込み条件を解除する。
func (e *Engine) Reset() {
	e.SetState(FilterState{})
}

func (e *Engine) update(fn func(*FilterState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.recompute()
}

func (e *Engine) recompute() {
	e.items = Filter(e.base, e.state)
}

// Items は現在の絞り込み結果を返す。
func (e *Engine) Items() []model.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.items)
}

// LocationOptions は基準一覧から求めた場所の選択肢を返す。絞り込み条件には依存しない。
func (e *Engine) LocationOptions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.locations)
}

// State は現在の絞り込み条件を返す。
func (e *Engine) State() FilterState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
