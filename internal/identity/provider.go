package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/security"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// dummyPasswordHash は資格情報が見つからない場合の照合に使うハッシュ。
// 登録済みかどうかで応答時間が変わらないよう、同じコストで照合する。
var dummyPasswordHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("lostfound-unknown-account"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("failed to generate dummy password hash: %v", err))
	}
	return hash
})

// CredentialStore は資格情報の保存先。repository.CredentialRepositoryの部分集合。
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
	CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error
	ConfirmByEmail(ctx context.Context, email string) error
}

// SessionStore はサーバー側のセッション保存先。
type SessionStore interface {
	Save(ctx context.Context, session *model.Session) error
	Lookup(ctx context.Context, sessionID string) (*model.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAll(ctx context.Context, userID string) error
}

// ProviderConfig はProviderの設定。
type ProviderConfig struct {
	Secret      []byte
	SessionTTL  time.Duration
	AutoConfirm bool // falseの場合、サインアップ後はメール確認まで認証されない
}

// Provider はパスワード認証とセッショントークンの発行・検証・失効を行う。
type Provider struct {
	creds    CredentialStore
	sessions SessionStore
	tokens   *TokenIssuer
	config   ProviderConfig
	now      func() time.Time
	compare  func(hash, password []byte) error
}

// NewProvider はProviderを生成する。
func NewProvider(creds CredentialStore, sessions SessionStore, config ProviderConfig) *Provider {
	if config.SessionTTL <= 0 {
		config.SessionTTL = 7 * 24 * time.Hour
	}
	return &Provider{
		creds:    creds,
		sessions: sessions,
		tokens:   NewTokenIssuer(config.Secret),
		config:   config,
		now:      time.Now,
		compare:  bcrypt.CompareHashAndPassword,
	}
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register はアカウントを作成する。自動確認が有効な場合はセッションも発行する。
func (p *Provider) Register(ctx context.Context, email, password string) (*SignUpResult, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewAuthError(model.AuthReasonInvalidEmail, err)
	}
	if len(password) < MinPasswordLength {
		return nil, model.NewAuthError(model.AuthReasonWeakPassword,
			fmt.Errorf("password must be at least %d characters", MinPasswordLength))
	}

	existing, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}
	if existing != nil {
		return nil, model.NewAuthError(model.AuthReasonEmailTaken, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, fmt.Errorf("hash password: %w", err))
	}

	now := p.now()
	userID := uuid.New().String()
	cred := &model.Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: string(hash),
		Confirmed:    p.config.AutoConfirm,
		CreatedAt:    now,
	}
	profile := &model.Profile{ID: userID, Email: email, CreatedAt: now, UpdatedAt: now}

	if err := p.creds.CreateWithProfile(ctx, cred, profile); err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}

	slog.Info("account registered",
		slog.String("user_id", userID),
		slog.Bool("confirmed", cred.Confirmed),
	)

	result := &SignUpResult{UserID: userID, ConfirmationRequired: !cred.Confirmed}
	if cred.Confirmed {
		session, err := p.issue(ctx, cred)
		if err != nil {
			return nil, err
		}
		result.Session = session
	}
	return result, nil
}

// Authenticate はメールアドレスとパスワードを検証してセッションを発行する。
// 未登録のメールアドレスやパスワード未設定のアカウントでも、ダミーのハッシュと照合してから失敗を返す。
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*model.Session, error) {
	cred, err := p.creds.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}
	if cred == nil || cred.PasswordHash == "" {
		_ = p.compare(dummyPasswordHash(), []byte(password))
		return nil, model.NewAuthError(model.AuthReasonInvalidCredentials, nil)
	}
	if err := p.compare([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewAuthError(model.AuthReasonInvalidCredentials, nil)
	}
	if !cred.Confirmed {
		return nil, model.NewAuthError(model.AuthReasonNotConfirmed, nil)
	}
	return p.issue(ctx, cred)
}

// SignInExternal は外部IDプロバイダーで確認されたメールアドレスでセッションを発行する。
// 該当するアカウントがなければパスワードなしの資格情報とプロフィールを作成し、
// 未確認のアカウントは確認済みにする。
func (p *Provider) SignInExternal(ctx context.Context, ext *ExternalIdentity) (*model.Session, error) {
	if ext == nil || ext.Email == "" {
		return nil, model.NewAuthError(model.AuthReasonInvalidEmail, fmt.Errorf("external identity has no email"))
	}
	if !ext.EmailVerified {
		return nil, model.NewAuthError(model.AuthReasonNotConfirmed, fmt.Errorf("%s email is not verified", ext.Provider))
	}
	email := NormalizeEmail(ext.Email)

	cred, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}

	switch {
	case cred == nil:
		now := p.now()
		cred = &model.Credential{
			UserID:    uuid.New().String(),
			Email:     email,
			Confirmed: true,
			CreatedAt: now,
		}
		profile := &model.Profile{ID: cred.UserID, Email: email, FullName: ext.Name, CreatedAt: now, UpdatedAt: now}
		if ext.Picture != "" && security.ValidatePublicURL(ext.Picture) == nil {
			profile.AvatarURL = ext.Picture
		}
		if err := p.creds.CreateWithProfile(ctx, cred, profile); err != nil {
			return nil, model.NewAuthError(model.AuthReasonProvider, err)
		}
		slog.Info("account registered via external provider",
			slog.String("user_id", cred.UserID),
			slog.String("provider", ext.Provider),
		)
	case !cred.Confirmed:
		if err := p.creds.ConfirmByEmail(ctx, email); err != nil {
			return nil, model.NewAuthError(model.AuthReasonProvider, err)
		}
		cred.Confirmed = true
	}

	return p.issue(ctx, cred)
}

func (p *Provider) issue(ctx context.Context, cred *model.Credential) (*model.Session, error) {
	now := p.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    cred.UserID,
		Email:     cred.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(p.config.SessionTTL),
	}

	token, err := p.tokens.Issue(session.UserID, session.Email, session.ID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}
	session.Token = token

	if err := p.sessions.Save(ctx, session); err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}
	return session, nil
}

// Verify はトークンの署名・有効期限・失効状態を検証してセッションを返す。
// 無効なトークンはAuthReasonSessionRevokedのAuthErrorになる。
// セッションストアの障害はそのままエラーとして返す。
func (p *Provider) Verify(ctx context.Context, token string) (*model.Session, error) {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonSessionRevoked, err)
	}

	stored, err := p.sessions.Lookup(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if stored == nil || stored.UserID != claims.Subject {
		return nil, model.NewAuthError(model.AuthReasonSessionRevoked, errors.New("session not found"))
	}

	stored.Token = token
	return stored, nil
}

// Revoke はトークンのセッションを失効させる。期限切れのトークンも受け付ける。
func (p *Provider) Revoke(ctx context.Context, token string) error {
	claims, err := p.tokens.ParseUnverifiedExpiry(token)
	if err != nil {
		return model.NewAuthError(model.AuthReasonSessionRevoked, err)
	}
	if err := p.sessions.Revoke(ctx, claims.ID); err != nil {
		return model.NewAuthError(model.AuthReasonProvider, err)
	}
	return nil
}

// RevokeAll は指定ユーザーの全セッションを失効させる。
func (p *Provider) RevokeAll(ctx context.Context, userID string) error {
	if err := p.sessions.RevokeAll(ctx, userID); err != nil {
		return model.NewAuthError(model.AuthReasonProvider, err)
	}
	return nil
}
