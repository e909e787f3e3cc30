// Package identity はIDプロバイダー（パスワード認証、トークン発行、セッション失効）と、
// クライアント側から見たゲートウェイを提供する。
//
// ゲートウェイはサインイン・サインアウトの結果を呼び出しの戻り値とは別に
// 非同期イベントとして通知する。イベントは発行順に配送される。
package identity

import (
	"context"

	"github.com/hitoshi/lostfound/internal/model"
)

// EventType は認証状態変化イベントの種別。
type EventType string

const (
	// EventSignedIn はセッションが確立されたことを表す。
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut はセッションが破棄・失効したことを表す。
	EventSignedOut EventType = "SIGNED_OUT"
)

// Event は認証状態変化の通知。SIGNED_OUTでは直前のセッションまたはnil。
type Event struct {
	Type    EventType
	Session *model.Session
}

// Listener はイベントの受信関数。配送用goroutineから1件ずつ呼ばれる。
type Listener func(Event)

// SignUpResult はサインアップの結果。
// ConfirmationRequiredがtrueの場合はSessionがnilで、認証済みにはならない。
type SignUpResult struct {
	UserID               string
	Session              *model.Session
	ConfirmationRequired bool
}

// Gateway はクライアントから利用するIDプロバイダーの窓口。
type Gateway interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignInWithOAuth は外部IDプロバイダーの認可コードでサインインする。
	SignInWithOAuth(ctx context.Context, code string) (*model.Session, error)
	SignOut(ctx context.Context) error
	// GetSession は保持中のセッションを検証して返す。セッションがない場合はnilを返す。
	GetSession(ctx context.Context) (*model.Session, error)
	// Subscribe はイベントの購読を開始する。戻り値のUnsubscribeで解除する。
	Subscribe(l Listener) *Subscription
}
