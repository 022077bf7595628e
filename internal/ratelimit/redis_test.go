package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter requires a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewRedisLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisLimiter_Window(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 2, Window: 30 * time.Second}

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "window", rule)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "window", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected 3rd request to be limited")
	}

	ttl, err := l.client.TTL(ctx, rule.Key+"window").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > rule.Window {
		t.Errorf("expected ttl in (0,%s], got %s", rule.Window, ttl)
	}

	if err := l.Reset(ctx, "window", rule); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if ok, _ := l.Allow(ctx, "window", rule); !ok {
		t.Fatal("expected allowed after reset")
	}
}
