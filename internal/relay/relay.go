package relay

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/metrics"
	"github.com/whisper/chat-relay/internal/session"
)

// Relay implements both provider interfaces on top of a session registry
// and the chat room feed. It owns neither; callers may share them.
type Relay struct {
	log      *slog.Logger
	sessions *session.Registry
	feed     *feed.Feed
	now      func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithClock overrides the wall clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a Relay over the given registry and feed.
func New(log *slog.Logger, sessions *session.Registry, f *feed.Feed, opts ...Option) *Relay {
	r := &Relay{
		log:      log,
		sessions: sessions,
		feed:     f,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize is shared by both provider sides and only reports readiness.
func (r *Relay) Initialize(params map[string]string) error {
	r.log.Info("chat relay ready", "params", len(params), "item", feed.ItemName)
	return nil
}

// NotifyNewSession registers the session context.
func (r *Relay) NotifyNewSession(user, sessionID string, ctx session.Context) error {
	r.sessions.Open(sessionID, ctx)
	metrics.SessionsActive.Set(float64(r.sessions.Len()))

	r.log.Debug("session opened",
		"session", sessionID, "user", user, "remote_address", ctx.RemoteAddress)
	return nil
}

// NotifySessionClose discards the session. Unknown sessions are ignored so
// that duplicate or late close notifications are harmless.
func (r *Relay) NotifySessionClose(sessionID string) error {
	r.sessions.Close(sessionID)
	metrics.SessionsActive.Set(float64(r.sessions.Len()))

	r.log.Debug("session closed", "session", sessionID)
	return nil
}

// NotifyUserMessage validates a "CHAT|<text>" message, attributes it to the
// sending session and broadcasts it. Refusals are returned as
// *NotificationError; a message with no subscriber is silently dropped.
func (r *Relay) NotifyUserMessage(user, sessionID, message string) error {
	timer := prometheus.NewTimer(metrics.MessageLatency)
	defer timer.ObserveDuration()

	text, err := chat.Parse(message)
	if err != nil {
		r.log.Warn("message rejected", "session", sessionID, "reason", err.Error())
		metrics.MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return notificationError(err)
	}

	sc, ok := r.sessions.Lookup(sessionID)
	if !ok {
		r.log.Warn("message from unknown session", "session", sessionID, "user", user)
		metrics.MessagesTotal.WithLabelValues(metrics.ResultSessionLost).Inc()
		return notificationError(ErrSessionLost)
	}

	msg := chat.NewMessage(sc.RemoteAddress, sc.Agent, text, r.now())
	r.log.Debug("new message",
		"timestamp", msg.TimestampHuman,
		"remote_address", msg.SenderAddress,
		"agent", msg.SenderAgent,
		"message", msg.Text)

	if r.feed.Emit(msg.Event()) {
		metrics.MessagesTotal.WithLabelValues(metrics.ResultDelivered).Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues(metrics.ResultDropped).Inc()
	}
	return nil
}

// SetListener registers the sink that receives chat room updates.
func (r *Relay) SetListener(sink feed.Sink) {
	r.feed.SetSink(sink)
}

// Subscribe starts the chat room item. Any other item is refused with a
// *SubscribeError.
func (r *Relay) Subscribe(item string) error {
	if err := r.feed.Subscribe(item); err != nil {
		r.log.Warn("subscription refused", "item", item)
		return &SubscribeError{Item: item, Reason: err.Error(), Err: err}
	}
	metrics.FeedSubscribed.Set(1)
	return nil
}

// Unsubscribe stops the chat room item.
func (r *Relay) Unsubscribe(item string) error {
	r.feed.Unsubscribe(item)
	metrics.FeedSubscribed.Set(0)
	return nil
}

// IsSnapshotAvailable is always false.
func (r *Relay) IsSnapshotAvailable(item string) bool {
	return r.feed.IsSnapshotAvailable(item)
}
