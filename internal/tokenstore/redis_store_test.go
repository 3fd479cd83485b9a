package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"peertutor/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	account := store.Account{ID: "acc_1", Name: "Tia", Email: "tia@example.com", Role: store.RoleTutor}

	if err := s.SaveAccountSession(ctx, "hash-1", account, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveAccountSession failed: %v", err)
	}
	got, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != account.ID || got.Name != account.Name || got.Role != store.RoleTutor {
		t.Fatalf("unexpected account: %+v", got)
	}

	if err := s.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after revoke, got %v", err)
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()
	if err := s.SaveAccountSession(ctx, "hash-2", store.Account{ID: "acc_2"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveAccountSession failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRevokedAccessTokens(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh jti revoked=%v err=%v", revoked, err)
	}
	if err := s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	if revoked, _ := s.IsAccessTokenRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("expected jti to be revoked")
	}
	mr.FastForward(11 * time.Minute)
	if revoked, _ := s.IsAccessTokenRevoked(ctx, "jti-1"); revoked {
		t.Fatal("revocation should lapse with the token")
	}
}
