// Package ratelimit throttles per-session actions. Two implementations share
// the Limiter interface: a Redis-backed fixed window shared by every relay
// instance, and an in-process token bucket for single-instance deployments.
package ratelimit

import (
	"context"
	"time"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 5 chat messages per 10 seconds per session.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

// Limiter decides whether identifier may perform one more action under rule.
// Reset forgets identifier, so a closed session leaves nothing behind.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
	Reset(ctx context.Context, identifier string, rule Rule) error
}
