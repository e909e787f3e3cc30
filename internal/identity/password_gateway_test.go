package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

func newTestGateway(t *testing.T) (*PasswordGateway, *Provider, *TokenFile, <-chan Event) {
	t.Helper()
	p, _ := newTestProvider(t, true)
	cache := NewTokenFile(filepath.Join(t.TempDir(), "session"))
	g := NewPasswordGateway(p, cache, nil)
	t.Cleanup(g.Close)

	events := make(chan Event, 16)
	g.Subscribe(func(e Event) { events <- e })
	return g, p, cache, events
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPasswordGateway_SignUpEmitsSignedIn(t *testing.T) {
	g, _, cache, events := newTestGateway(t)
	ctx := context.Background()

	result, err := g.SignUp(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	e := waitEvent(t, events)
	if e.Type != EventSignedIn || e.Session == nil || e.Session.UserID != result.UserID {
		t.Errorf("unexpected event: %+v", e)
	}

	token, _ := cache.Load()
	if token != result.Session.Token {
		t.Error("token should be persisted to cache")
	}
}

func TestPasswordGateway_SignInFailureEmitsNothing(t *testing.T) {
	g, p, cache, events := newTestGateway(t)
	ctx := context.Background()
	if _, err := p.Register(ctx, "a@example.com", "secret1"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := g.SignInWithPassword(ctx, "a@example.com", "wrong")
	if authReason(err) != model.AuthReasonInvalidCredentials {
		t.Fatalf("reason = %q, want invalid_credentials", authReason(err))
	}
	assertNoEvent(t, events)

	if token, _ := cache.Load(); token != "" {
		t.Error("cache should stay empty on failed sign in")
	}
}

func TestPasswordGateway_SignInThenGetSession(t *testing.T) {
	g, p, _, events := newTestGateway(t)
	ctx := context.Background()
	if _, err := p.Register(ctx, "a@example.com", "secret1"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	session, err := g.SignInWithPassword(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}
	if e := waitEvent(t, events); e.Type != EventSignedIn {
		t.Fatalf("event = %s, want SIGNED_IN", e.Type)
	}

	got, err := g.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.ID != session.ID {
		t.Errorf("GetSession = %+v, want session %s", got, session.ID)
	}
}

func TestPasswordGateway_GetSessionFromCache(t *testing.T) {
	p, _ := newTestProvider(t, true)
	ctx := context.Background()
	result, err := p.Register(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "session")
	cache := NewTokenFile(path)
	if err := cache.Store(result.Session.Token); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// 新しいプロセスを想定し、キャッシュのみからセッションを復元する
	g := NewPasswordGateway(p, NewTokenFile(path), nil)
	defer g.Close()

	got, err := g.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.UserID != result.UserID {
		t.Errorf("GetSession = %+v, want user %s", got, result.UserID)
	}
}

func TestPasswordGateway_GetSessionRevokedEmitsSignedOut(t *testing.T) {
	g, p, cache, events := newTestGateway(t)
	ctx := context.Background()

	result, err := g.SignUp(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	waitEvent(t, events)

	if err := p.RevokeAll(ctx, result.UserID); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}

	got, err := g.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("revoked session should not be returned")
	}
	if e := waitEvent(t, events); e.Type != EventSignedOut {
		t.Errorf("event = %s, want SIGNED_OUT", e.Type)
	}
	if token, _ := cache.Load(); token != "" {
		t.Error("revoked token should be cleared from cache")
	}
}

func TestPasswordGateway_GetSessionWithoutToken(t *testing.T) {
	g, _, _, events := newTestGateway(t)

	got, err := g.GetSession(context.Background())
	if err != nil || got != nil {
		t.Errorf("GetSession = (%v, %v), want (nil, nil)", got, err)
	}
	assertNoEvent(t, events)
}

func TestPasswordGateway_SignOut(t *testing.T) {
	g, p, cache, events := newTestGateway(t)
	ctx := context.Background()

	result, err := g.SignUp(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	waitEvent(t, events)

	if err := g.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	e := waitEvent(t, events)
	if e.Type != EventSignedOut || e.Session == nil || e.Session.ID != result.Session.ID {
		t.Errorf("unexpected event: %+v", e)
	}

	if _, err := os.Stat(cache.path); !os.IsNotExist(err) {
		t.Error("token file should be removed")
	}
	if _, err := p.Verify(ctx, result.Session.Token); authReason(err) != model.AuthReasonSessionRevoked {
		t.Error("server session should be revoked")
	}
}

func TestPasswordGateway_SignOutWhenAlreadyRevoked(t *testing.T) {
	g, p, _, events := newTestGateway(t)
	ctx := context.Background()

	result, err := g.SignUp(ctx, "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	waitEvent(t, events)
	if err := p.Revoke(ctx, result.Session.Token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if err := g.SignOut(ctx); err != nil {
		t.Errorf("SignOut should tolerate an already revoked session: %v", err)
	}
	if e := waitEvent(t, events); e.Type != EventSignedOut {
		t.Errorf("event = %s, want SIGNED_OUT", e.Type)
	}
}

func TestPasswordGateway_SignInWithOAuthEmitsSignedIn(t *testing.T) {
	g, p, cache, events := newTestGateway(t)
	g.WithOAuth(newTestGoogleProvider(t, map[string]any{
		"sub":            "google-sub-1",
		"email":          "Finder@Example.com",
		"email_verified": true,
		"name":           "Finder",
	}))
	ctx := context.Background()

	loginURL, err := g.OAuthLoginURL("st")
	if err != nil || loginURL == "" {
		t.Fatalf("OAuthLoginURL = %q, %v", loginURL, err)
	}

	session, err := g.SignInWithOAuth(ctx, "test-auth-code")
	if err != nil {
		t.Fatalf("SignInWithOAuth failed: %v", err)
	}
	if session.Email != "finder@example.com" {
		t.Errorf("email = %q, want normalized", session.Email)
	}

	e := waitEvent(t, events)
	if e.Type != EventSignedIn || e.Session.ID != session.ID {
		t.Errorf("unexpected event: %+v", e)
	}
	if token, _ := cache.Load(); token != session.Token {
		t.Error("token should be persisted to cache")
	}
	if _, err := p.Verify(ctx, session.Token); err != nil {
		t.Errorf("issued session should verify: %v", err)
	}
}

func TestPasswordGateway_SignInWithOAuthFailures(t *testing.T) {
	t.Run("未設定", func(t *testing.T) {
		g, _, _, events := newTestGateway(t)
		if _, err := g.SignInWithOAuth(context.Background(), "code"); authReason(err) != model.AuthReasonProvider {
			t.Errorf("reason = %q, want provider_error", authReason(err))
		}
		if _, err := g.OAuthLoginURL("st"); err == nil {
			t.Error("OAuthLoginURL should fail without configuration")
		}
		assertNoEvent(t, events)
	})

	t.Run("認可コードの交換失敗", func(t *testing.T) {
		g, _, cache, events := newTestGateway(t)
		g.WithOAuth(newTestGoogleProvider(t, map[string]any{"sub": "s", "email": "a@example.com", "email_verified": true}))
		if _, err := g.SignInWithOAuth(context.Background(), "wrong-code"); authReason(err) != model.AuthReasonProvider {
			t.Errorf("reason = %q, want provider_error", authReason(err))
		}
		assertNoEvent(t, events)
		if token, _ := cache.Load(); token != "" {
			t.Error("cache should stay empty")
		}
	})
}
