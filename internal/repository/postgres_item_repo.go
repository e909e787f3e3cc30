package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hitoshi/lostfound/internal/model"
)

// psq はPostgreSQL用のドル記号プレースホルダーを使うステートメントビルダー。
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var itemColumns = []string{
	"id", "title", "description", "category", "status", "date",
	"location", "contact_info", "image_url", "user_id", "created_at", "updated_at",
}

// likeEscaper はLIKEパターンのメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresItemRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var category, status string
	var imageURL sql.NullString
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &category, &status, &item.Date,
		&item.Location, &item.ContactInfo, &imageURL, &item.UserID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Category = model.Category(category)
	item.Status = model.Status(status)
	item.ImageURL = nullStringValue(imageURL)
	return item, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	query, args, err := psq.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return item, nil
}

// applyItemQuery は検索条件をSELECTビルダーに適用する。
func applyItemQuery(qb sq.SelectBuilder, q ItemQuery) sq.SelectBuilder {
	if q.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(q.Status)})
	}
	if q.Category != "" {
		qb = qb.Where(sq.Eq{"category": string(q.Category)})
	}
	if q.UserID != "" {
		qb = qb.Where(sq.Eq{"user_id": q.UserID})
	}
	if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(q.Search) + "%"
		qb = qb.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"description": pattern},
		})
	}
	if q.Limit > 0 {
		qb = qb.Limit(q.Limit)
	}
	return qb
}

// List は条件に一致する投稿をcreated_at降順で返す。
func (r *PostgresItemRepo) List(ctx context.Context, q ItemQuery) ([]model.Item, error) {
	qb := applyItemQuery(psq.Select(itemColumns...).From("items"), q).OrderBy("created_at DESC")
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// Create は投稿を作成する。IDが空の場合は新しいUUIDを採番し、
// 作成日時・更新日時はデータベース側の値で上書きする。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query, args, err := psq.Insert("items").
		Columns("id", "title", "description", "category", "status", "date",
			"location", "contact_info", "image_url", "user_id").
		Values(item.ID, item.Title, item.Description, string(item.Category), string(item.Status), item.Date,
			item.Location, item.ContactInfo, nullString(item.ImageURL), item.UserID).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build item insert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は投稿を上書き更新する。user_idとcreated_atはデータベースの値を返す。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) error {
	query, args, err := psq.Update("items").
		Set("title", item.Title).
		Set("description", item.Description).
		Set("category", string(item.Category)).
		Set("status", string(item.Status)).
		Set("date", item.Date).
		Set("location", item.Location).
		Set("contact_info", item.ContactInfo).
		Set("image_url", nullString(item.ImageURL)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": item.ID}).
		Suffix("RETURNING user_id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build item update: %w", err)
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&item.UserID, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は投稿を削除する。
func (r *PostgresItemRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListImageURLs は画像URLを持つ全投稿の画像URLを返す。
func (r *PostgresItemRepo) ListImageURLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT image_url FROM items WHERE image_url IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list image urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan image url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image urls: %w", err)
	}
	return urls, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを生成する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
