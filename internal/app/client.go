package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/identity"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/lifecycle"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
	"github.com/hitoshi/lostfound/internal/session"
	"github.com/hitoshi/lostfound/internal/user"
)

// ClientDeps はClientの組み立てに必要な依存関係。
type ClientDeps struct {
	Credentials repository.CredentialRepository
	Sessions    identity.SessionStore
	Profiles    repository.ProfileRepository
	Items       repository.ItemRepository
	Blobs       lifecycle.BlobStore
	TokenCache  identity.TokenCache
	Provider    identity.ProviderConfig
	Logger      *slog.Logger

	// GoogleOAuthがnilの場合、Googleサインインは使えない。
	// GoogleRedirectURLはループバックで待ち受けるコールバック先。
	GoogleOAuth       identity.OAuthExchanger
	GoogleRedirectURL string
}

// Client はコマンドライン利用者1人分のセッションと、投稿の閲覧・変更操作をまとめたもの。
// セッショントークンはTokenCacheに保存され、コマンドの実行をまたいで引き継がれる。
type Client struct {
	Session *session.Manager
	Items   *item.ItemService
	Users   *user.Service

	gateway       *identity.PasswordGateway
	oauthRedirect string
	items         repository.ItemRepository
	blobs     lifecycle.BlobStore
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	closers   []func() error
}

// NewClient はClientを生成し、保存済みセッションの確認が終わるまで待つ。
func NewClient(ctx context.Context, deps ClientDeps) (*Client, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := identity.NewProvider(deps.Credentials, deps.Sessions, deps.Provider)
	gateway := identity.NewPasswordGateway(provider, deps.TokenCache, logger)
	oauthRedirect := ""
	if deps.GoogleOAuth != nil {
		gateway.WithOAuth(deps.GoogleOAuth)
		oauthRedirect = deps.GoogleRedirectURL
	}
	manager := session.NewManager(gateway, deps.Profiles, logger)

	c := &Client{
		Session:   manager,
		Items:     item.NewItemService(deps.Items),
		Users:     user.NewService(deps.Profiles, security.NewTextSanitizer()),
		gateway:       gateway,
		oauthRedirect: oauthRedirect,
		items:         deps.Items,
		blobs:     deps.Blobs,
		sanitizer: security.NewTextSanitizer(),
		logger:    logger,
	}

	if err := manager.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if _, err := manager.WaitSettled(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// connectClient は設定に従ってDB・Redis・オブジェクトストレージに接続し、Clientを生成する。
func connectClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	sessions, err := identity.NewRedisStore(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	blobs, err := newMinioStore(cfg)
	if err != nil {
		sessions.Close()
		db.Close()
		return nil, err
	}

	deps := ClientDeps{
		Credentials: repository.NewPostgresCredentialRepo(db),
		Sessions:    sessions,
		Profiles:    repository.NewPostgresProfileRepo(db),
		Items:       repository.NewPostgresItemRepo(db),
		Blobs:       blobs,
		TokenCache:  identity.NewTokenFile(cfg.TokenFile),
		Provider: identity.ProviderConfig{
			Secret:      []byte(cfg.SessionSecret),
			SessionTTL:  cfg.SessionTTL(),
			AutoConfirm: cfg.AutoConfirmSignup,
		},
		Logger:            slog.Default(),
		GoogleRedirectURL: cfg.GoogleCLIRedirectURL,
	}
	if google := newGoogleOAuth(cfg, cfg.GoogleCLIRedirectURL); google != nil {
		deps.GoogleOAuth = google
	}
	c, err := NewClient(ctx, deps)
	if err != nil {
		sessions.Close()
		db.Close()
		return nil, err
	}
	c.closers = append(c.closers, sessions.Close, db.Close)
	return c, nil
}

// Principal は現在の操作者を返す。
func (c *Client) Principal() authz.Principal {
	return c.Session.Snapshot().Principal()
}

// requireProfile は認証済みでプロフィールが取得できている場合にそのプロフィールを返す。
func (c *Client) requireProfile() (*model.Profile, error) {
	profile := c.Session.CurrentProfile()
	if profile == nil {
		return nil, fmt.Errorf("%w: run \"lostfound login\" first", model.ErrNotAuthenticated)
	}
	return profile, nil
}

// submitter は現在の操作者の権限で書き込みを制限した投稿操作を返す。
func (c *Client) submitter() *lifecycle.Controller {
	return lifecycle.NewController(
		c.Session,
		repository.NewPolicyItemRepo(c.items, c.Principal()),
		c.blobs,
		nil,
		c.logger,
	)
}

// modifiable は投稿を取得し、現在の操作者が変更できることを確認する。
func (c *Client) modifiable(ctx context.Context, id string) (*model.Item, error) {
	if _, err := c.requireProfile(); err != nil {
		return nil, err
	}
	it, err := c.Items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanModify(c.Principal(), it) {
		return nil, fmt.Errorf("%w: item %s belongs to another user", model.ErrNotAuthorized, id)
	}
	return it, nil
}

// Submit はフォームを無害化・検証してから投稿を作成または更新する。
func (c *Client) Submit(ctx context.Context, form model.FormData, existing *model.Item) (*model.Item, error) {
	if _, err := c.requireProfile(); err != nil {
		return nil, err
	}
	form = security.SanitizeForm(c.sanitizer, form)
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.submitter().Submit(ctx, form, existing)
}

// Delete は投稿と添付画像を削除する。
func (c *Client) Delete(ctx context.Context, it *model.Item) error {
	return c.submitter().Delete(ctx, it)
}

// Close はセッションの購読を解除し、外部接続を閉じる。
func (c *Client) Close() error {
	c.Session.Close()
	c.gateway.Close()

	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer())
	}
	c.closers = nil
	return errors.Join(errs...)
}
