package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, ttl, time.Minute), mr
}

func TestRedisCache_StorePublished_Success(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, 10*time.Second)

	ctx := context.Background()
	posts := []PublishedPost{
		{TargetID: 1, Platform: "facebook", PostID: "fb_123"},
		{TargetID: 2, Platform: "linkedin", PostID: "li_456"},
	}
	publishedAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StorePublished(ctx, 42, posts, publishedAt); err != nil {
		t.Fatalf("StorePublished() error: %v", err)
	}

	key := "content:42:published"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got publishedValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if len(got.Posts) != 2 || got.Posts[1].PostID != "li_456" {
		t.Fatalf("unexpected posts %+v", got.Posts)
	}
	if !got.PublishedAt.Equal(publishedAt) {
		t.Fatalf("expected PublishedAt %v, got %v", publishedAt, got.PublishedAt)
	}

	cached, ok, err := cache.Published(ctx, 42)
	if err != nil || !ok || len(cached) != 2 {
		t.Fatalf("Published() = %v, %v, %v", cached, ok, err)
	}
}

func TestRedisCache_Published_Miss(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Minute)

	posts, ok, err := cache.Published(context.Background(), 7)
	if err != nil || ok || posts != nil {
		t.Fatalf("expected a clean miss, got %v %v %v", posts, ok, err)
	}
}

func TestRedisCache_StorePublished_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	// First write
	if err := cache.StorePublished(ctx, 1, []PublishedPost{{TargetID: 1, PostID: "first"}}, time.Now()); err != nil {
		t.Fatalf("first StorePublished() error: %v", err)
	}

	// Second write should overwrite
	if err := cache.StorePublished(ctx, 1, []PublishedPost{{TargetID: 1, PostID: "second"}}, time.Now()); err != nil {
		t.Fatalf("second StorePublished() error: %v", err)
	}

	raw, err := mr.Get("content:1:published")
	if err != nil {
		t.Fatalf("failed to get key: %v", err)
	}

	var got publishedValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.Posts[0].PostID != "second" {
		t.Fatalf("expected overwritten post id %q, got %q", "second", got.Posts[0].PostID)
	}
}

func TestRedisCache_StorePublished_ContextCanceled(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.StorePublished(ctx, 1, nil, time.Now())
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestRedisCache_Lock(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	unlock, err := cache.Lock(ctx, 5)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if ttl := mr.TTL("content:5:lock"); ttl <= 0 {
		t.Fatalf("expected lock TTL, got %v", ttl)
	}

	if _, err := cache.Lock(ctx, 5); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	unlockOther, err := cache.Lock(ctx, 6)
	if err != nil {
		t.Fatalf("other content must not be locked: %v", err)
	}
	defer func() { _ = unlockOther(ctx) }()

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if mr.Exists("content:5:lock") {
		t.Fatal("expected lock key to be deleted")
	}
	if _, err := cache.Lock(ctx, 5); err != nil {
		t.Fatalf("expected lock to be free again: %v", err)
	}
}

func TestRedisCache_Unlock_DoesNotStealExpiredLock(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	unlock, err := cache.Lock(ctx, 9)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := cache.Lock(ctx, 9); err != nil {
		t.Fatalf("expired lock should be free: %v", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if !mr.Exists("content:9:lock") {
		t.Fatal("stale unlock must not release the new holder's lock")
	}
}

func TestRedisCache_Lock_RenewsLeaseWhileHeld(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	lockTTL := 300 * time.Millisecond
	cache := NewRedisCache(rdb, time.Minute, lockTTL)
	ctx := context.Background()
	key := "content:11:lock"

	unlock, err := cache.Lock(ctx, 11)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	// Each round leaves the lease close to expiry and waits for a renewal.
	for i := 0; i < 3; i++ {
		mr.FastForward(lockTTL - 50*time.Millisecond)
		if !mr.Exists(key) {
			t.Fatalf("round %d: lock expired while held", i)
		}
		deadline := time.Now().Add(2 * time.Second)
		for mr.TTL(key) <= 100*time.Millisecond {
			if time.Now().After(deadline) {
				t.Fatalf("round %d: lease was not renewed, ttl %v", i, mr.TTL(key))
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if _, err := cache.Lock(ctx, 11); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked after renewals, got %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("expected lock key to be deleted")
	}
}

func TestRedisCache_Lock_StopsRenewingLostLease(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	lockTTL := 300 * time.Millisecond
	cache := NewRedisCache(rdb, time.Minute, lockTTL)
	ctx := context.Background()
	key := "content:12:lock"

	unlock, err := cache.Lock(ctx, 12)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	mr.Set(key, "someone-else")
	mr.SetTTL(key, time.Hour)

	time.Sleep(3 * lockTTL / 2)
	if ttl := mr.TTL(key); ttl <= lockTTL {
		t.Fatalf("lease of another holder was touched, ttl %v", ttl)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if got, _ := mr.Get(key); got != "someone-else" {
		t.Fatalf("unlock released another holder's lock: %q", got)
	}
}
