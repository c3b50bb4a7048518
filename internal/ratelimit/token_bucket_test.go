package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, "ratelimit:generate:", capacity, refill, time.Hour)
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "user-1")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "user-1")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "user-1")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}
}

func TestTokenBucketIsPerUser(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1, 0.001)

	if allowed, _, _ := bucket.Allow(ctx, "user-1"); !allowed {
		t.Fatalf("user-1 first request should pass")
	}
	if allowed, _, _ := bucket.Allow(ctx, "user-1"); allowed {
		t.Fatalf("user-1 should be out of tokens")
	}
	if allowed, _, _ := bucket.Allow(ctx, "user-2"); !allowed {
		t.Fatalf("user-2 has its own bucket")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1, 1)
	clock := time.Now()
	bucket.now = func() time.Time { return clock }

	if allowed, _, _ := bucket.Allow(ctx, "user-1"); !allowed {
		t.Fatalf("expected first token allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "user-1"); allowed {
		t.Fatalf("expected bucket empty")
	}
	clock = clock.Add(1500 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, "user-1"); !allowed {
		t.Fatalf("expected a token after refill")
	}
}
