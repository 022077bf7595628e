package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTimeout is how long an unused bucket is kept before cleanup.
const idleTimeout = 3 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per rule and identifier. A rule
// of Limit per Window refills at Limit/Window and bursts up to Limit.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLocalLimiter creates an empty LocalLimiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket)}
}

// Allow never fails.
func (l *LocalLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(rule.Window / time.Duration(rule.Limit))
		b = &bucket{limiter: rate.NewLimiter(every, rule.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1), nil
}

// Reset drops the bucket for identifier.
func (l *LocalLimiter) Reset(_ context.Context, identifier string, rule Rule) error {
	l.mu.Lock()
	delete(l.buckets, rule.Key+identifier)
	l.mu.Unlock()
	return nil
}

// Cleanup drops buckets idle for longer than idleTimeout until ctx is done.
func (l *LocalLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

func (l *LocalLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTimeout {
			delete(l.buckets, key)
		}
	}
}
