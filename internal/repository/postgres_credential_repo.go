package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByEmail はメールアドレスで資格情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	c := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, confirmed, created_at
		 FROM credentials WHERE email = $1`,
		email,
	).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.Confirmed, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}
	return c, nil
}

// CreateWithProfile はプロフィールと資格情報を同一トランザクションで作成する。
func (r *PostgresCredentialRepo) CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, email, full_name, avatar_url, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, $5, $5)`,
		profile.ID, profile.Email, nullString(profile.FullName), nullString(profile.AvatarURL), profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, confirmed, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.UserID, cred.Email, cred.PasswordHash, cred.Confirmed, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ConfirmByEmail はメールアドレス確認済みとしてマークする。
func (r *PostgresCredentialRepo) ConfirmByEmail(ctx context.Context, email string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET confirmed = true WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm credential: %w", err)
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

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
