// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/lostfound/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
)

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
// 無効なトークンは*model.AuthErrorを返す。identity.Providerが実装する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はAuthorizationヘッダーのBearerトークン、
// またはHTTP Only Cookieからセッショントークンを読み取り、有効性を検証するミドルウェアを返す。
// 認証済みのユーザーIDとセッションをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := authenticate(r, verifier)
			if err != nil {
				var authErr *model.AuthError
				if !errors.As(err, &authErr) {
					slog.Error("failed to verify session",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあればコンテキストに注入し、
// なければ未認証のまま次のハンドラーに渡すミドルウェアを返す。
// 閲覧系のエンドポイントで編集可否のヒントを返すために使う。
func NewOptionalSessionMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := authenticate(r, verifier)
			if err != nil {
				var authErr *model.AuthError
				if !errors.As(err, &authErr) {
					slog.Warn("failed to verify optional session",
						slog.String("error", err.Error()),
					)
				}
			}
			if session != nil {
				r = r.WithContext(ContextWithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate はリクエストのトークンを検証する。トークンがない場合はnil, nilを返す。
func authenticate(r *http.Request, verifier TokenVerifier) (*model.Session, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	return verifier.Verify(r.Context(), token)
}

// TokenFromRequest はBearerトークン、なければセッションCookieの値を返す。
func TokenFromRequest(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。未認証の場合はnil。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにセッションとそのユーザーIDを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return ContextWithUserID(ctx, session.UserID)
}
