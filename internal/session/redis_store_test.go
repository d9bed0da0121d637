package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url", time.Hour); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.Save(ctx, "hash-1", TokenData{
		Subject:   "did:privy:user-1",
		SessionID: "sess-1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if data.Subject != "did:privy:user-1" || data.SessionID != "sess-1" {
		t.Errorf("unexpected token data: %+v", data)
	}
	if data.CachedAt.IsZero() {
		t.Error("expected CachedAt to be set")
	}
}

func TestSaveCapsTTL(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, "hash-ttl", TokenData{Subject: "u", ExpiresAt: time.Now().Add(24 * time.Hour)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ttl := s.TTL("token:hash-ttl"); ttl > time.Minute || ttl <= 0 {
		t.Fatalf("expected ttl capped at one minute, got %s", ttl)
	}

	s.FastForward(2 * time.Minute)
	if _, err := store.Lookup(ctx, "hash-ttl"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached after ttl, got %v", err)
	}
}

func TestSaveSkipsExpiredToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-old", TokenData{Subject: "u", ExpiresAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.Exists("token:hash-old") {
		t.Fatal("expired token should not be cached")
	}
}

func TestLookupMissing(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
}
