package ratelimit

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the INCR + EXPIRE fixed window algorithm.
type RedisLimiter struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisLimiter creates a RedisLimiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, log *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, log: log}
}

// Allow increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("ratelimit incr failed, failing open", "key", key, "error", err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("ratelimit expire failed, failing open", "key", key, "error", err)
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Reset deletes the counter for identifier.
func (l *RedisLimiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return l.client.Del(ctx, rule.Key+identifier).Err()
}
