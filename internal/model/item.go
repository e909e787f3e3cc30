// Package model はドメインモデルを定義する。
package model

import (
	"io"
	"strings"
	"time"
)

// Category は落とし物の分類を表す。
type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryClothing    Category = "clothing"
	CategoryAccessories Category = "accessories"
	CategoryDocuments   Category = "documents"
	CategoryPets        Category = "pets"
	CategoryOther       Category = "other"
)

// Categories は有効な分類の一覧を表示順で返す。
func Categories() []Category {
	return []Category{
		CategoryElectronics,
		CategoryClothing,
		CategoryAccessories,
		CategoryDocuments,
		CategoryPets,
		CategoryOther,
	}
}

// Valid は分類が定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory は文字列を分類に変換する。大文字小文字と前後の空白は無視する。
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Status は投稿の状態を表す。
type Status string

const (
	StatusLost     Status = "lost"
	StatusFound    Status = "found"
	StatusResolved Status = "resolved"
)

// Statuses は有効な状態の一覧を返す。
func Statuses() []Status {
	return []Status{StatusLost, StatusFound, StatusResolved}
}

// Valid は状態が定義済みの値かどうかを返す。
func (s Status) Valid() bool {
	switch s {
	case StatusLost, StatusFound, StatusResolved:
		return true
	}
	return false
}

// ParseStatus は文字列を状態に変換する。
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// DateLayout は投稿日付の入出力フォーマット。
const DateLayout = "2006-01-02"

// Item は落とし物・拾得物の投稿を表す。
// ImageURLが空文字列の場合は画像なしを意味する。
type Item struct {
	ID          string
	Title       string
	Description string
	Category    Category
	Status      Status
	Date        time.Time
	Location    string
	ContactInfo string
	ImageURL    string
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasImage は画像が添付されているかを返す。
func (i *Item) HasImage() bool {
	return i.ImageURL != ""
}

// ImageUpload は投稿フォームに添付された画像ファイル。
// Bodyの読み出しは1回のみ可能。
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// FormData は投稿フォームの入力値を表す。
// Imageがnilの場合は新しい画像なし。
type FormData struct {
	Title       string
	Description string
	Category    Category
	Status      Status
	Date        time.Time
	Location    string
	ContactInfo string
	Image       *ImageUpload
}

// Validate はAPI境界で受け取ったフォーム値の必須項目と列挙値を検証する。
func (f *FormData) Validate() error {
	switch {
	case strings.TrimSpace(f.Title) == "":
		return &ValidationError{Field: "title", Reason: "required"}
	case strings.TrimSpace(f.Description) == "":
		return &ValidationError{Field: "description", Reason: "required"}
	case !f.Category.Valid():
		return &ValidationError{Field: "category", Reason: "unknown category"}
	case !f.Status.Valid():
		return &ValidationError{Field: "status", Reason: "unknown status"}
	case f.Date.IsZero():
		return &ValidationError{Field: "date", Reason: "required"}
	case strings.TrimSpace(f.Location) == "":
		return &ValidationError{Field: "location", Reason: "required"}
	}
	return nil
}

// FormFromItem は既存投稿を編集フォームの初期値に変換する。
func FormFromItem(item *Item) FormData {
	return FormData{
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Status:      item.Status,
		Date:        item.Date,
		Location:    item.Location,
		ContactInfo: item.ContactInfo,
	}
}
