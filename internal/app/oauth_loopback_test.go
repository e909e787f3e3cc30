package app

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/lostfound/internal/identity"
)

// browserCallback はブラウザの代わりにコールバックURLへアクセスする。待ち受け開始まで再試行する。
func browserCallback(t *testing.T, callbackURL string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(callbackURL)
		if err == nil {
			resp.Body.Close()
			return resp
		}
		if time.Now().After(deadline) {
			t.Errorf("callback request failed: %v", err)
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestReceiveOAuthCode(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		wantCode   string
		wantErr    string
		wantStatus int
	}{
		{"認可コードを受け取る", url.Values{"state": {"st"}, "code": {"auth-code"}}, "auth-code", "", http.StatusOK},
		{"state不一致", url.Values{"state": {"other"}, "code": {"auth-code"}}, "", "state mismatch", http.StatusBadRequest},
		{"同意画面でキャンセル", url.Values{"state": {"st"}, "error": {"access_denied"}}, "", "access_denied", http.StatusOK},
		{"認可コードなし", url.Values{"state": {"st"}}, "", "missing authorization code", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)

			statusCh := make(chan int, 1)
			go func() {
				resp := browserCallback(t, "http://"+ln.Addr().String()+"/cb?"+tt.query.Encode())
				if resp != nil {
					statusCh <- resp.StatusCode
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			code, err := receiveOAuthCode(ctx, ln, "/cb", "st")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, <-statusCh)
		})
	}
}

func TestReceiveOAuthCode_ContextCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = receiveOAuthCode(ctx, ln, "/cb", "st")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// fakeGoogle は同意画面の代わりに、ログインURLの生成時にコールバックへアクセスする。
type fakeGoogle struct {
	t        *testing.T
	redirect string
	email    string
}

func (f *fakeGoogle) LoginURL(state string) string {
	callback := f.redirect + "?" + url.Values{"state": {state}, "code": {"auth-code"}}.Encode()
	go browserCallback(f.t, callback)
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeGoogle) ExchangeCode(_ context.Context, code string) (*identity.ExternalIdentity, error) {
	if code != "auth-code" {
		f.t.Errorf("code = %q, want auth-code", code)
	}
	return &identity.ExternalIdentity{Provider: "google", Subject: "sub-1", Email: f.email, EmailVerified: true, Name: "Bob"}, nil
}

func TestCLI_Login_Google(t *testing.T) {
	env := newCLIEnv(t)
	env.googleRedirect = "http://" + freeLoopbackAddr(t) + "/auth/google/callback"
	env.google = &fakeGoogle{t: t, redirect: env.googleRedirect, email: "bob@example.com"}

	out, err := env.run(t, "", "login", "--google")
	require.NoError(t, err)
	assert.Contains(t, out, "https://accounts.example.com/auth?state=")
	assert.Contains(t, out, "signed in as bob@example.com")

	// 次回の起動でもセッションが引き継がれる
	assert.Contains(t, env.mustRun(t, "whoami"), "bob@example.com")
}

func TestCLI_Login_GoogleNotConfigured(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "login", "--google")
	assert.ErrorIs(t, err, identity.ErrOAuthNotConfigured)

	_, err = env.run(t, "", "login", "--google", "--email", "a@example.com")
	assert.Error(t, err)
}
