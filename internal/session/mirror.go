package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MirrorPrefix is the Redis key prefix for mirrored session hashes.
	MirrorPrefix = "relaysession:"

	// MirrorTTL bounds how long a mirrored session outlives a relay that
	// crashed before closing it.
	MirrorTTL = 1 * time.Hour
)

// Record is the attribution data mirrored to Redis for moderation tooling
// running outside the relay process. Read it back with HGETALL and Scan.
type Record struct {
	ID            string `redis:"id"`
	RemoteAddress string `redis:"remote_address"`
	Agent         string `redis:"agent"`
	Server        string `redis:"server"`    // which relay instance owns the session
	OpenedAt      int64  `redis:"opened_at"` // unix timestamp
}

// Mirror copies session attribution into Redis. The Registry stays the
// source of truth; the mirror is written by the transport outside the
// registry lock.
type Mirror struct {
	client     *redis.Client
	serverName string
}

// NewMirror creates a Mirror connected to Redis.
func NewMirror(redisAddr string, serverName string) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewMirrorWithClient(client, serverName), nil
}

// NewMirrorWithClient creates a Mirror on an existing Redis client.
func NewMirrorWithClient(client *redis.Client, serverName string) *Mirror {
	return &Mirror{client: client, serverName: serverName}
}

// Save writes the session hash and sets its TTL.
func (m *Mirror) Save(ctx context.Context, sessionID string, sc Context) error {
	key := MirrorPrefix + sessionID

	record := Record{
		ID:            sessionID,
		RemoteAddress: sc.RemoteAddress,
		Agent:         sc.Agent,
		Server:        m.serverName,
		OpenedAt:      time.Now().Unix(),
	}

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, MirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: mirror save %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a mirrored session. Deleting a missing key is not an error.
func (m *Mirror) Delete(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, MirrorPrefix+sessionID).Err()
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}

// Client returns the underlying Redis client so other packages can share
// the connection pool.
func (m *Mirror) Client() *redis.Client {
	return m.client
}
