package messaging

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chat-relay/internal/feed"
)

var _ feed.Sink = (*UpdateSink)(nil)

// newTestClient requires a running NATS server on localhost:4222.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	client, err := NewNATSClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestUpdateSubject(t *testing.T) {
	require.Equal(t, "relay.update.chat_room", UpdateSubject(feed.ItemName))
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	require.Equal(t, nats.DefaultURL, cfg.URL)
	require.Equal(t, -1, cfg.MaxReconnects)
	require.Empty(t, cfg.User)
}

func TestUpdateSink_RoundTrip(t *testing.T) {
	client := newTestClient(t)

	received := make(chan Update, 1)
	require.NoError(t, client.SubscribeUpdates(feed.ItemName, func(u Update) {
		received <- u
	}))
	require.NoError(t, client.Flush())

	sink := NewUpdateSink(client)
	sink.Update(feed.ItemName, map[string]string{"message": "hello"}, false)

	select {
	case u := <-received:
		require.Equal(t, feed.ItemName, u.Item)
		require.Equal(t, "hello", u.Fields["message"])
		require.False(t, u.Snapshot)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	require.NoError(t, client.Unsubscribe(UpdateSubject(feed.ItemName)))
	require.Error(t, client.Unsubscribe(UpdateSubject(feed.ItemName)))
}
