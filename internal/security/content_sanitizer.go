// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投稿やプロフィールの入力テキストからHTMLを除去する。
// 投稿はプレーンテキストとして保存し、表示側で必ずエスケープする前提とする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/lostfound/internal/model"
)

// TextSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleタグは中身ごと除去する。
	// 出力を再度Sanitizeしても変化しない（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体は元の文字に戻す。
// 戻した結果が新たにタグとなる場合があるため、出力が変化しなくなるまで繰り返す。
// 出力を再度渡しても結果は変わらない。
func (s *textSanitizer) Sanitize(raw string) string {
	out := raw
	// 変化するたびにほぼ必ず短くなるため、入力長を上限に収束する
	for range len(raw) + 2 {
		next := s.clean(out)
		if next == out {
			return out
		}
		out = next
	}
	return out
}

func (s *textSanitizer) clean(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// SanitizeForm は投稿フォームのテキスト項目をサニタイズしたコピーを返す。
// 画像や日付、列挙値はそのまま引き継ぐ。
func SanitizeForm(s TextSanitizer, form model.FormData) model.FormData {
	form.Title = s.Sanitize(form.Title)
	form.Description = s.Sanitize(form.Description)
	form.Location = s.Sanitize(form.Location)
	form.ContactInfo = s.Sanitize(form.ContactInfo)
	return form
}
