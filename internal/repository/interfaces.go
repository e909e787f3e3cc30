// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/lostfound/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Update は氏名とアバターURLを更新する。is_adminは変更しない。
	Update(ctx context.Context, profile *model.Profile) error
}

// CredentialRepository はパスワード資格情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレスで資格情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// CreateWithProfile は資格情報とプロフィールを同一トランザクションで作成する。
	CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error

	// ConfirmByEmail はメールアドレス確認済みとしてマークする。
	ConfirmByEmail(ctx context.Context, email string) error
}

// ItemQuery は投稿一覧の検索条件。ゼロ値のフィールドは条件に含めない。
type ItemQuery struct {
	Status   model.Status
	Category model.Category
	UserID   string
	// Search はタイトルまたは説明文に対する大文字小文字を区別しない部分一致。
	Search string
	Limit  uint64
}

// ItemRepository は投稿の永続化インターフェース。
// 一覧は常にcreated_at降順で返す。
type ItemRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// List は条件に一致する投稿をcreated_at降順で返す。
	List(ctx context.Context, q ItemQuery) ([]model.Item, error)

	// Create は投稿を作成し、ID・作成日時・更新日時を設定する。
	Create(ctx context.Context, item *model.Item) error

	// Update は投稿を上書き更新する。user_idは変更しない。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, item *model.Item) error

	// Delete は投稿を削除する。対象が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// ListImageURLs は画像URLを持つ全投稿の画像URLを返す。
	ListImageURLs(ctx context.Context) ([]string, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
