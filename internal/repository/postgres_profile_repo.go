package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var fullName, avatarURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, avatar_url, is_admin, created_at, updated_at
		 FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &fullName, &avatarURL, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	p.FullName = nullStringValue(fullName)
	p.AvatarURL = nullStringValue(avatarURL)
	return p, nil
}

// Update は氏名とアバターURLを更新し、updated_atを反映する。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE profiles SET full_name = $1, avatar_url = $2, updated_at = now()
		 WHERE id = $3
		 RETURNING updated_at`,
		nullString(p.FullName), nullString(p.AvatarURL), p.ID,
	).Scan(&p.UpdatedAt)

	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
