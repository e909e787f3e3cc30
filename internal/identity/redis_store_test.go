package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hitoshi/lostfound/internal/model"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}

func TestRedisStore_SaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	session := &model.Session{ID: "sess-1", UserID: "user-1", Email: "a@example.com", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.UserID != "user-1" || got.Email != "a@example.com" || !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestRedisStore_LookupMissing(t *testing.T) {
	store, _ := setupTestRedis(t)

	got, err := store.Lookup(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestRedisStore_ExpiresWithTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	now := time.Now()
	if err := store.Save(ctx, &model.Session{ID: "sess-1", UserID: "user-1", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	got, err := store.Lookup(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired session to be gone")
	}
}

func TestRedisStore_SaveRejectsExpired(t *testing.T) {
	store, _ := setupTestRedis(t)
	past := time.Now().Add(-time.Minute)
	if err := store.Save(context.Background(), &model.Session{ID: "s", UserID: "u", ExpiresAt: past}); err == nil {
		t.Error("expected error for already expired session")
	}
}

func TestRedisStore_RevokeAndRevokeAll(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, &model.Session{ID: id, UserID: "user-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, &model.Session{ID: "other", UserID: "user-2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got, _ := store.Lookup(ctx, "s1"); got != nil {
		t.Error("s1 should be revoked")
	}

	if err := store.RevokeAll(ctx, "user-1"); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	for _, id := range []string{"s2", "s3"} {
		if got, _ := store.Lookup(ctx, id); got != nil {
			t.Errorf("%s should be revoked", id)
		}
	}
	if got, _ := store.Lookup(ctx, "other"); got == nil {
		t.Error("other user's session must survive RevokeAll")
	}
}
