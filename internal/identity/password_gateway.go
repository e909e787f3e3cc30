package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

// Authenticator はゲートウェイが利用するIDプロバイダーの操作。*Providerが実装する。
type Authenticator interface {
	Register(ctx context.Context, email, password string) (*SignUpResult, error)
	Authenticate(ctx context.Context, email, password string) (*model.Session, error)
	SignInExternal(ctx context.Context, ext *ExternalIdentity) (*model.Session, error)
	Verify(ctx context.Context, token string) (*model.Session, error)
	Revoke(ctx context.Context, token string) error
}

// PasswordGateway はクライアント1人分の現在のセッションを保持するGateway実装。
// セッショントークンはTokenCacheに永続化し、状態変化はイベントとして通知する。
type PasswordGateway struct {
	auth       Authenticator
	cache      TokenCache
	oauth      OAuthExchanger
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	current *model.Session
}

// NewPasswordGateway はPasswordGatewayを生成する。
func NewPasswordGateway(auth Authenticator, cache TokenCache, logger *slog.Logger) *PasswordGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordGateway{
		auth:       auth,
		cache:      cache,
		dispatcher: NewDispatcher(logger),
		logger:     logger,
	}
}

// WithOAuth はGoogleサインインに使う交換処理を設定する。生成直後、利用前に呼ぶ。
func (g *PasswordGateway) WithOAuth(exchanger OAuthExchanger) *PasswordGateway {
	g.oauth = exchanger
	return g
}

// Subscribe はイベントの購読を開始する。
func (g *PasswordGateway) Subscribe(l Listener) *Subscription {
	return g.dispatcher.Subscribe(l)
}

// SignUp はアカウントを作成する。セッションが発行された場合のみSIGNED_INを通知する。
func (g *PasswordGateway) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	result, err := g.auth.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if result.Session != nil {
		if err := g.establish(result.Session); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SignInWithPassword はサインインしてSIGNED_INを通知する。
func (g *PasswordGateway) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	session, err := g.auth.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := g.establish(session); err != nil {
		return nil, err
	}
	return session, nil
}

// OAuthLoginURL はGoogleの認可画面のURLを返す。
func (g *PasswordGateway) OAuthLoginURL(state string) (string, error) {
	if g.oauth == nil {
		return "", model.NewAuthError(model.AuthReasonProvider, ErrOAuthNotConfigured)
	}
	return g.oauth.LoginURL(state), nil
}

// SignInWithOAuth は認可コードを交換してサインインし、SIGNED_INを通知する。
func (g *PasswordGateway) SignInWithOAuth(ctx context.Context, code string) (*model.Session, error) {
	if g.oauth == nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, ErrOAuthNotConfigured)
	}
	ext, err := g.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, model.NewAuthError(model.AuthReasonProvider, err)
	}
	session, err := g.auth.SignInExternal(ctx, ext)
	if err != nil {
		return nil, err
	}
	if err := g.establish(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (g *PasswordGateway) establish(session *model.Session) error {
	if err := g.cache.Store(session.Token); err != nil {
		return model.NewAuthError(model.AuthReasonProvider, err)
	}
	g.mu.Lock()
	g.current = session
	g.mu.Unlock()

	g.dispatcher.Emit(Event{Type: EventSignedIn, Session: session})
	return nil
}

// SignOut はサーバー側のセッションを失効させ、ローカルのトークンを破棄する。
// 失効に失敗してもローカル状態は破棄し、SIGNED_OUTを通知したうえでエラーを返す。
func (g *PasswordGateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	previous := g.current
	g.current = nil
	g.mu.Unlock()

	token := ""
	if previous != nil {
		token = previous.Token
	} else {
		loaded, err := g.cache.Load()
		if err != nil {
			g.logger.Warn("failed to read cached token on sign out", slog.String("error", err.Error()))
		}
		token = loaded
	}

	var revokeErr error
	if token != "" {
		revokeErr = g.auth.Revoke(ctx, token)
	}
	clearErr := g.cache.Clear()

	g.dispatcher.Emit(Event{Type: EventSignedOut, Session: previous})

	if revokeErr != nil {
		var authErr *model.AuthError
		if errors.As(revokeErr, &authErr) && authErr.Reason == model.AuthReasonSessionRevoked {
			revokeErr = nil
		}
	}
	if err := errors.Join(revokeErr, clearErr); err != nil {
		return model.NewAuthError(model.AuthReasonProvider, err)
	}
	return nil
}

// GetSession は保持中のトークンを検証して返す。
// サーバー側で失効・期限切れとなっていた場合はローカル状態を破棄してSIGNED_OUTを通知し、nilを返す。
func (g *PasswordGateway) GetSession(ctx context.Context) (*model.Session, error) {
	g.mu.Lock()
	token := ""
	if g.current != nil {
		token = g.current.Token
	}
	g.mu.Unlock()

	if token == "" {
		loaded, err := g.cache.Load()
		if err != nil {
			return nil, model.NewAuthError(model.AuthReasonProvider, err)
		}
		token = loaded
	}
	if token == "" {
		return nil, nil
	}

	session, err := g.auth.Verify(ctx, token)
	if err != nil {
		var authErr *model.AuthError
		if !errors.As(err, &authErr) {
			return nil, err
		}
		g.logger.Info("cached session is no longer valid", slog.String("reason", authErr.Reason))
		g.mu.Lock()
		previous := g.current
		g.current = nil
		g.mu.Unlock()
		if clearErr := g.cache.Clear(); clearErr != nil {
			g.logger.Warn("failed to clear cached token", slog.String("error", clearErr.Error()))
		}
		g.dispatcher.Emit(Event{Type: EventSignedOut, Session: previous})
		return nil, nil
	}

	g.mu.Lock()
	g.current = session
	g.mu.Unlock()
	return session, nil
}

// Close はイベント配送を停止する。
func (g *PasswordGateway) Close() {
	g.dispatcher.Close()
}

var _ Gateway = (*PasswordGateway)(nil)
