// Package session はプロセス全体の認証状態を管理する。
//
// 状態遷移はゲートウェイから届くSIGNED_IN/SIGNED_OUTイベントを正として行い、
// 操作の戻り値は呼び出し元へのエラー通知にのみ使う。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/identity"
	"github.com/hitoshi/lostfound/internal/model"
)

// Phase は認証状態。
type Phase int

const (
	// PhaseUnknown は起動直後で、既存セッションの確認前。
	PhaseUnknown Phase = iota
	// PhaseAnonymous は有効なセッションがない状態。
	PhaseAnonymous
	// PhaseAuthenticating は資格情報を送信し、プロフィールの取得を待っている状態。
	PhaseAuthenticating
	// PhaseAuthenticated はセッションが確立し、プロフィールの取得が終わった状態。
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// ProfileLoader はプロフィールの取得元。見つからない場合はnil, nilを返す。
type ProfileLoader interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
}

// Snapshot はある時点の認証状態。
// Authenticatedでもプロフィールの取得に失敗した場合はProfileがnilになる。
type Snapshot struct {
	Phase     Phase
	Profile   *model.Profile
	Session   *model.Session
	IsLoading bool
}

// Principal は権限判定用の利用者を返す。
func (s Snapshot) Principal() authz.Principal {
	if s.Phase != PhaseAuthenticated {
		return authz.Principal{}
	}
	return authz.Principal{Session: s.Session, Profile: s.Profile}
}

// Manager は認証状態のステートマシン。1プロセスに1つ生成して利用者に渡す。
type Manager struct {
	gateway  identity.Gateway
	profiles ProfileLoader
	logger   *slog.Logger

	sub    *identity.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   Snapshot
	changed chan struct{}
	closed  bool
	// signedIn は最後に処理を終えたSIGNED_INのセッションID。
	signedIn string
}

// NewManager はManagerを生成し、ゲートウェイのイベント購読を開始する。
// 購読はCloseまで1つだけ保持する。
func NewManager(gateway identity.Gateway, profiles ProfileLoader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		gateway:  gateway,
		profiles: profiles,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    Snapshot{Phase: PhaseUnknown, IsLoading: true},
		changed:  make(chan struct{}),
	}
	m.sub = gateway.Subscribe(m.handleEvent)
	return m
}

// Start は既存セッションを確認し、あればプロフィールを取得して認証済みにする。
// プロフィールの取得失敗はサインアウト扱いにせず、プロフィールなしの認証済みとする。
func (m *Manager) Start(ctx context.Context) error {
	session, err := m.gateway.GetSession(ctx)
	if err != nil {
		m.transitionFrom(PhaseUnknown, Snapshot{Phase: PhaseAnonymous})
		return toAuthError(err)
	}
	if session == nil {
		m.transitionFrom(PhaseUnknown, Snapshot{Phase: PhaseAnonymous})
		return nil
	}

	profile := m.hydrate(ctx, session)
	m.transitionFrom(PhaseUnknown, Snapshot{Phase: PhaseAuthenticated, Session: session, Profile: profile})
	return nil
}

// SignIn はサインインする。状態はSIGNED_INイベントの処理後に認証済みとなり、
// このメソッドは発行されたセッションのイベントが処理されるまで待ってから戻る。
// それ以前に発行されたイベントの処理では戻らない。失敗時は未認証に戻してAuthErrorを返す。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	return m.signIn(ctx, func() (*model.Session, error) {
		return m.gateway.SignInWithPassword(ctx, email, password)
	})
}

// SignInWithOAuth はGoogleの認可コードでサインインする。待ち方と失敗時の扱いはSignInと同じ。
func (m *Manager) SignInWithOAuth(ctx context.Context, code string) error {
	return m.signIn(ctx, func() (*model.Session, error) {
		return m.gateway.SignInWithOAuth(ctx, code)
	})
}

func (m *Manager) signIn(ctx context.Context, send func() (*model.Session, error)) error {
	m.begin()

	session, err := send()
	if err != nil {
		m.set(Snapshot{Phase: PhaseAnonymous})
		return toAuthError(err)
	}
	return m.waitSignedIn(ctx, session)
}

// SignUp はアカウントを作成する。メール確認が必要な場合は未認証のまま結果を返す。
func (m *Manager) SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
	m.begin()

	result, err := m.gateway.SignUp(ctx, email, password)
	if err != nil {
		m.set(Snapshot{Phase: PhaseAnonymous})
		return nil, toAuthError(err)
	}
	if result.Session == nil {
		m.set(Snapshot{Phase: PhaseAnonymous})
		return result, nil
	}
	if err := m.waitSignedIn(ctx, result.Session); err != nil {
		return nil, err
	}
	return result, nil
}

// SignOut はサインアウトし、SIGNED_OUTイベントの処理後に戻る。
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.gateway.SignOut(ctx); err != nil {
		return toAuthError(err)
	}
	return m.waitFor(ctx, func(s Snapshot) bool { return s.Phase == PhaseAnonymous })
}

// Snapshot は現在の状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentProfile は認証済みでプロフィールが取得できている場合にのみプロフィールを返す。
func (m *Manager) CurrentProfile() *model.Profile {
	s := m.Snapshot()
	if s.Phase != PhaseAuthenticated || s.Session == nil {
		return nil
	}
	return s.Profile
}

// Watch は次の状態遷移で閉じられるチャネルを返す。
func (m *Manager) Watch() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// WaitSettled は起動処理やサインイン処理が終わり、状態が確定するまで待つ。
func (m *Manager) WaitSettled(ctx context.Context) (Snapshot, error) {
	if err := m.waitFor(ctx, func(s Snapshot) bool { return !s.IsLoading }); err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Close はイベント購読を解除し、進行中のプロフィール取得を中断する。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.sub.Unsubscribe()
	m.cancel()
}

func (m *Manager) handleEvent(e identity.Event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	switch e.Type {
	case identity.EventSignedIn:
		if e.Session == nil {
			return
		}
		m.set(Snapshot{Phase: PhaseAuthenticating, IsLoading: true})
		profile := m.hydrate(m.ctx, e.Session)

		m.mu.Lock()
		m.signedIn = e.Session.ID
		m.apply(Snapshot{Phase: PhaseAuthenticated, Session: e.Session, Profile: profile})
		m.mu.Unlock()
	case identity.EventSignedOut:
		m.set(Snapshot{Phase: PhaseAnonymous})
	}
}

func (m *Manager) hydrate(ctx context.Context, session *model.Session) *model.Profile {
	profile, err := m.profiles.FindByID(ctx, session.UserID)
	if err != nil {
		m.logger.Warn("failed to load profile, continuing without it",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if profile == nil {
		m.logger.Warn("profile not found for session", slog.String("user_id", session.UserID))
	}
	return profile
}

// begin は資格情報の送信前に認証中へ遷移する。
func (m *Manager) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedIn = ""
	m.apply(Snapshot{Phase: PhaseAuthenticating, IsLoading: true})
}

func (m *Manager) set(next Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(next)
}

// transitionFrom は現在の状態がfromの場合のみ遷移する。
// 起動処理中に届いたイベントの結果を上書きしないために使う。
func (m *Manager) transitionFrom(from Phase, next Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != from {
		return
	}
	m.apply(next)
}

func (m *Manager) apply(next Snapshot) {
	prev := m.state.Phase
	m.state = next
	close(m.changed)
	m.changed = make(chan struct{})

	if prev != next.Phase {
		m.logger.Debug("session phase changed",
			slog.String("from", prev.String()),
			slog.String("to", next.Phase.String()),
		)
	}
}

func (m *Manager) waitFor(ctx context.Context, done func(Snapshot) bool) error {
	return m.waitUntil(ctx, func() bool { return done(m.state) })
}

// waitSignedIn はsessionのSIGNED_INイベントの処理が終わるまで待つ。
func (m *Manager) waitSignedIn(ctx context.Context, session *model.Session) error {
	if session == nil {
		return m.waitFor(ctx, func(s Snapshot) bool { return s.Phase == PhaseAuthenticated })
	}
	return m.waitUntil(ctx, func() bool { return m.signedIn == session.ID })
}

// waitUntil はロックを保持した状態でcondを評価し、真になるまで待つ。
func (m *Manager) waitUntil(ctx context.Context, cond func() bool) error {
	for {
		m.mu.Lock()
		ok := cond()
		changed := m.changed
		m.mu.Unlock()

		if ok {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func toAuthError(err error) error {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return model.NewAuthError(model.AuthReasonProvider, err)
}
