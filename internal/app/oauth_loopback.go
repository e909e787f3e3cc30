package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lostfound/internal/identity"
)

// oauthCallbackTimeout はブラウザでの同意を待つ上限。
const oauthCallbackTimeout = 5 * time.Minute

type callbackResult struct {
	code string
	err  error
}

// receiveOAuthCode はlnでコールバックを1回だけ受け付け、stateが一致した場合に認可コードを返す。
// stateの不一致や同意画面でのキャンセルはエラーとして返す。
func receiveOAuthCode(ctx context.Context, ln net.Listener, callbackPath, state string) (string, error) {
	results := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	r := chi.NewRouter()
	r.Get(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		switch {
		case subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(state)) != 1:
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("oauth state mismatch")})
		case q.Get("error") != "":
			io.WriteString(w, "Sign-in was cancelled. You can close this window.\n")
			deliver(callbackResult{err: fmt.Errorf("google sign-in was not completed: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("missing authorization code")})
		default:
			io.WriteString(w, "Signed in. You can close this window and return to the terminal.\n")
			deliver(callbackResult{code: q.Get("code")})
		}
	})

	server := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(callbackResult{err: fmt.Errorf("callback listener failed: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to stop oauth callback listener", slog.String("error", err.Error()))
		}
	}()

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SignInWithGoogle はGoogleの認可画面のURLをannounceで利用者に示し、
// ループバックのコールバックで受け取った認可コードでサインインする。
func (c *Client) SignInWithGoogle(ctx context.Context, announce func(loginURL string) error) error {
	if c.oauthRedirect == "" {
		return identity.ErrOAuthNotConfigured
	}
	redirect, err := url.Parse(c.oauthRedirect)
	if err != nil {
		return fmt.Errorf("invalid google redirect url: %w", err)
	}

	state, err := identity.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate oauth state: %w", err)
	}
	loginURL, err := c.gateway.OAuthLoginURL(state)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	if err := announce(loginURL); err != nil {
		ln.Close()
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, oauthCallbackTimeout)
	defer cancel()
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	code, err := receiveOAuthCode(waitCtx, ln, callbackPath, state)
	if err != nil {
		return err
	}
	return c.Session.SignInWithOAuth(ctx, code)
}
