// Package relay coordinates the chat relay: it registers sessions, validates
// and attributes user messages, and pushes them through the chat room feed.
// A transport drives it through the MetadataProvider and DataProvider
// interfaces and receives updates through the registered feed.Sink.
package relay

import (
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/session"
)

// MetadataProvider is the session and user-action side of the relay.
type MetadataProvider interface {
	Initialize(params map[string]string) error
	NotifyNewSession(user, sessionID string, ctx session.Context) error
	NotifySessionClose(sessionID string) error
	NotifyUserMessage(user, sessionID, message string) error
}

// DataProvider is the item subscription side of the relay.
type DataProvider interface {
	Initialize(params map[string]string) error
	SetListener(sink feed.Sink)
	Subscribe(item string) error
	Unsubscribe(item string) error
	IsSnapshotAvailable(item string) bool
}

var (
	_ MetadataProvider = (*Relay)(nil)
	_ DataProvider     = (*Relay)(nil)
)
