// Package catalog は投稿一覧の絞り込みを行う。
//
// 絞り込みは基準となる一覧と絞り込み条件から毎回全件を再計算する。
// 結果の順序は基準一覧の順序のまま変えない。
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/hitoshi/lostfound/internal/model"
)

// Predicate は投稿が条件に一致するかを返す。
type Predicate func(model.Item) bool

// TextPredicate はタイトルまたは説明文にqueryを含む投稿に一致する。
// 大文字小文字は区別しない。queryは前後の空白も含めてそのまま照合し、空文字列のみ全件に一致する。
func TextPredicate(query string) Predicate {
	if query == "" {
		return matchAll
	}
	needle := fold(query)
	return func(item model.Item) bool {
		return strings.Contains(fold(item.Title), needle) ||
			strings.Contains(fold(item.Description), needle)
	}
}

// CategoryPredicate はカテゴリが完全一致する投稿に一致する。空の場合は全件に一致する。
func CategoryPredicate(category model.Category) Predicate {
	if category == "" {
		return matchAll
	}
	return func(item model.Item) bool {
		return item.Category == category
	}
}

// LocationPredicate は場所が完全一致する投稿に一致する。空の場合は全件に一致する。
func LocationPredicate(location string) Predicate {
	if location == "" {
		return matchAll
	}
	return func(item model.Item) bool {
		return item.Location == location
	}
}

// And はすべての条件に一致する投稿に一致する。
func And(preds ...Predicate) Predicate {
	return func(item model.Item) bool {
		for _, p := range preds {
			if !p(item) {
				return false
			}
		}
		return true
	}
}

func matchAll(model.Item) bool { return true }

// fold はCaserが並行利用できないため呼び出しごとに生成する。
func fold(s string) string {
	return cases.Fold().String(s)
}

// FilterState は一覧画面の絞り込み条件。ゼロ値は絞り込みなし。
type FilterState struct {
	SearchQuery string
	Category    model.Category
	Location    string
}

// IsZero は絞り込み条件が指定されていないかを返す。
func (s FilterState) IsZero() bool {
	return s.SearchQuery == "" && s.Category == "" && s.Location == ""
}

// String はFilterStateをログ用の文字列にする。
func (s FilterState) String() string {
	return fmt.Sprintf("q=%q category=%q location=%q", s.SearchQuery, s.Category, s.Location)
}

// Predicate はテキスト・カテゴリ・場所の条件をANDで合成する。
func (s FilterState) Predicate() Predicate {
	return And(
		TextPredicate(s.SearchQuery),
		CategoryPredicate(s.Category),
		LocationPredicate(s.Location),
	)
}

// Filter はbaseのうち条件に一致する投稿をbaseの順序のまま返す。
// 一致しない場合も空のスライスを返す。
func Filter(base []model.Item, state FilterState) []model.Item {
	pred := state.Predicate()
	result := make([]model.Item, 0, len(base))
	for _, item := range base {
		if pred(item) {
			result = append(result, item)
		}
	}
	return result
}

// LocationOptions はbaseに含まれる場所の一覧を重複なし・昇順で返す。
// 空の場所は含めない。
func LocationOptions(base []model.Item) []string {
	seen := make(map[string]struct{}, len(base))
	options := make([]string, 0)
	for _, item := range base {
		if item.Location == "" {
			continue
		}
		if _, ok := seen[item.Location]; ok {
			continue
		}
		seen[item.Location] = struct{}{}
		options = append(options, item.Location)
	}
	slices.Sort(options)
	return options
}
