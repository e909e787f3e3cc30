// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/lostfound/internal/identity"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするIDプロバイダーのインターフェース。
// identity.Providerが実装する。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	Authenticate(ctx context.Context, email, password string) (*model.Session, error)
	SignInExternal(ctx context.Context, ext *identity.ExternalIdentity) (*model.Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID string) error
}

const oauthStateCookie = "oauth_state"

// AuthRecorder は認証イベントのメトリクスを記録するインターフェース。
type AuthRecorder interface {
	RecordAuthEvent(event string)
	RecordSignInFailure()
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string // Googleサインイン完了後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインアップ・サインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service     AuthServiceInterface
	userService UserServiceInterface
	recorder    AuthRecorder
	oauth       identity.OAuthExchanger
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderとoauthはnilでもよい。
// oauthがnilの場合、Googleサインインのエンドポイントは404を返す。
func NewAuthHandler(service AuthServiceInterface, userService UserServiceInterface, recorder AuthRecorder, oauth identity.OAuthExchanger, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:     service,
		userService: userService,
		recorder:    recorder,
		oauth:       oauth,
		config:      config,
	}
}

// credentialsRequest はサインアップ・サインインのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse は発行したセッションのレスポンス。
// CLIはtokenをBearerトークンとして使う。
type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// signUpResponse はサインアップのレスポンス。
type signUpResponse struct {
	UserID               string           `json:"user_id"`
	ConfirmationRequired bool             `json:"confirmation_required"`
	Session              *sessionResponse `json:"session,omitempty"`
}

// meResponse は現在のログインユーザーのプロフィール。
type meResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	IsAdmin   bool   `json:"is_admin"`
}

// SignUp はアカウントを作成する。確認不要の場合はセッションCookieも設定する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := signUpResponse{
		UserID:               result.UserID,
		ConfirmationRequired: result.ConfirmationRequired,
	}
	if result.Session != nil {
		h.setSessionCookie(w, result.Session.Token, h.config.SessionMaxAge)
		resp.Session = toSessionResponse(result.Session)
	}
	h.recordEvent("sign_up")

	writeJSON(w, http.StatusCreated, resp)
}

// SignIn はメールアドレスとパスワードで認証し、セッションを発行する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.recordSignInFailure()
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.Token, h.config.SessionMaxAge)
	h.recordEvent("sign_in")

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// GoogleLogin はGoogleサインインを開始する。stateをCookieに保存して認可画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.NotFound(w, r)
		return
	}

	state, err := identity.GenerateState()
	if err != nil {
		handleServiceError(w, fmt.Errorf("failed to generate oauth state: %w", err))
		return
	}

	h.setStateCookie(w, state, 600)
	http.Redirect(w, r, h.oauth.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はGoogleからのコールバックを処理し、セッションCookieを設定してBaseURLへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.Bool("has_cookie", err == nil))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateが一致しません。もう一度サインインしてください"))
		return
	}
	h.setStateCookie(w, "", -1)

	if reason := query.Get("error"); reason != "" {
		h.recordSignInFailure()
		slog.Info("google sign-in was not completed", slog.String("reason", reason))
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeAuthFailed,
			Message:  "Googleでのサインインが完了しませんでした。",
			Category: "auth",
			Action:   "もう一度お試しください。",
		})
		return
	}
	code := query.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	ext, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.recordSignInFailure()
		handleServiceError(w, model.NewAuthError(model.AuthReasonProvider, err))
		return
	}
	session, err := h.service.SignInExternal(r.Context(), ext)
	if err != nil {
		h.recordSignInFailure()
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.Token, h.config.SessionMaxAge)
	h.recordEvent("sign_in_google")

	redirect := h.config.BaseURL
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

// SignOut はセッションを失効させ、Cookieをクリアする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.service.Revoke(r.Context(), token); err != nil {
			// 失効に失敗してもCookieはクリアする
			slog.Error("failed to revoke session", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(w, "", -1)
	h.recordEvent("sign_out")

	w.WriteHeader(http.StatusNoContent)
}

// SignOutAll はログインユーザーのすべてのセッションを失効させる。
// POST /auth/signout-all
func (h *AuthHandler) SignOutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.RevokeAll(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, "", -1)
	h.recordEvent("sign_out_all")

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザーのプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	profile, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMeResponse(profile))
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, state string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) recordSignInFailure() {
	if h.recorder != nil {
		h.recorder.RecordSignInFailure()
	}
}

func (h *AuthHandler) recordEvent(event string) {
	if h.recorder != nil {
		h.recorder.RecordAuthEvent(event)
	}
}

// decodeCredentials はリクエストボディを読み取る。失敗時はレスポンスを書き込みfalseを返す。
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSON形式で email と password を指定してください"))
		return req, false
	}
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email と password は必須です"))
		return req, false
	}
	return req, true
}

func toSessionResponse(s *model.Session) *sessionResponse {
	return &sessionResponse{
		UserID:    s.UserID,
		Email:     s.Email,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	}
}

func toMeResponse(p *model.Profile) meResponse {
	return meResponse{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		AvatarURL: p.AvatarURL,
		IsAdmin:   p.IsAdmin,
	}
}
