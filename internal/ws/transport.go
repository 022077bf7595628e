package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/metrics"
	"github.com/whisper/chat-relay/internal/protocol"
	"github.com/whisper/chat-relay/internal/ratelimit"
	"github.com/whisper/chat-relay/internal/relay"
	"github.com/whisper/chat-relay/internal/session"
)

// backendTimeout bounds each mirror or limiter round trip.
const backendTimeout = 3 * time.Second

// Provider is the relay as seen by the transport.
type Provider interface {
	relay.MetadataProvider
	relay.DataProvider
}

// SessionMirror receives a copy of session attribution. Implemented by
// *session.Mirror.
type SessionMirror interface {
	Save(ctx context.Context, sessionID string, sc session.Context) error
	Delete(ctx context.Context, sessionID string) error
}

// Transport connects WebSocket clients to a Provider: every connection is a
// session, client frames become provider notifications and provider updates
// become frames on the subscribed connections. It implements feed.Sink.
type Transport struct {
	log        *slog.Logger
	provider   Provider
	server     *Server
	dispatcher *MessageDispatcher
	subs       *Subscriptions
	mirror     SessionMirror
	limiter    ratelimit.Limiter
	rule       ratelimit.Rule
}

var _ feed.Sink = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithMirror copies session attribution to m on open and removes it on close.
func WithMirror(m SessionMirror) TransportOption {
	return func(t *Transport) { t.mirror = m }
}

// WithLimiter throttles chat messages per session under rule.
func WithLimiter(l ratelimit.Limiter, rule ratelimit.Rule) TransportOption {
	return func(t *Transport) {
		t.limiter = l
		t.rule = rule
	}
}

// NewTransport builds the server and registers the frame handlers. The
// caller still has to route provider updates here, directly or through a
// feed.Fanout, with provider.SetListener.
func NewTransport(config ServerConfig, log *slog.Logger, provider Provider, opts ...TransportOption) *Transport {
	t := &Transport{
		log:      log,
		provider: provider,
		subs:     NewSubscriptions(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.dispatcher = NewMessageDispatcher(log, func(c *Connection, data []byte) error {
		return t.server.write(c, data)
	})
	t.server = NewServer(config, log, t.dispatcher.Dispatch)
	t.server.SetOnConnect(t.openSession)
	t.server.SetOnDisconnect(t.closeSession)

	t.dispatcher.Register(protocol.TypeSubscribe, t.handleSubscribe)
	t.dispatcher.Register(protocol.TypeUnsubscribe, t.handleUnsubscribe)
	t.dispatcher.Register(protocol.TypeMessage, t.handleMessage)
	return t
}

// Server exposes the underlying WebSocket server.
func (t *Transport) Server() *Server {
	return t.server
}

// Start serves clients on the configured address until Shutdown.
func (t *Transport) Start() error {
	return t.server.Start()
}

// Serve serves clients on l until Shutdown.
func (t *Transport) Serve(l net.Listener) error {
	return t.server.Serve(l)
}

// Shutdown closes every session and stops the server.
func (t *Transport) Shutdown(ctx context.Context) error {
	return t.server.Shutdown(ctx)
}

func (t *Transport) openSession(c *Connection) error {
	sc := session.Context{RemoteAddress: c.RemoteAddress, Agent: c.Agent}
	if err := t.provider.NotifyNewSession("", c.ID, sc); err != nil {
		return err
	}

	if t.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		if err := t.mirror.Save(ctx, c.ID, sc); err != nil {
			t.log.Warn("session mirror save failed", "session", c.ID, "error", err)
		}
	}
	return nil
}

func (t *Transport) closeSession(c *Connection) {
	items := t.subs.Items(c.ID)
	if err := t.subs.ReleaseAll(c.ID, t.provider.Unsubscribe); err != nil {
		t.log.Warn("release subscriptions failed", "session", c.ID, "error", err)
	}
	for _, item := range items {
		t.setSubscriberGauge(item)
	}

	if err := t.provider.NotifySessionClose(c.ID); err != nil {
		t.log.Warn("session close failed", "session", c.ID, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if t.limiter != nil {
		if err := t.limiter.Reset(ctx, c.ID, t.rule); err != nil {
			t.log.Warn("rate limit reset failed", "session", c.ID, "error", err)
		}
	}
	if t.mirror != nil {
		if err := t.mirror.Delete(ctx, c.ID); err != nil {
			t.log.Warn("session mirror delete failed", "session", c.ID, "error", err)
		}
	}
}

func (t *Transport) handleSubscribe(c *Connection, msg interface{}) {
	m := msg.(protocol.SubscribeMsg)

	if err := t.subs.Acquire(c.ID, m.Item, t.provider.Subscribe); err != nil {
		t.dispatcher.reply(c, protocol.TypeError, protocol.ErrorMsg{
			Code:    errorCode(err),
			Message: err.Error(),
		})
		return
	}
	t.setSubscriberGauge(m.Item)

	t.dispatcher.reply(c, protocol.TypeSubscribed, protocol.SubscribedMsg{
		Item:     m.Item,
		Snapshot: t.provider.IsSnapshotAvailable(m.Item),
	})
}

func (t *Transport) handleUnsubscribe(c *Connection, msg interface{}) {
	m := msg.(protocol.UnsubscribeMsg)

	held := slices.Contains(t.subs.Items(c.ID), m.Item)
	if err := t.subs.Release(c.ID, m.Item, t.provider.Unsubscribe); err != nil {
		t.log.Warn("unsubscribe failed", "item", m.Item, "session", c.ID, "error", err)
	}
	if held {
		t.setSubscriberGauge(m.Item)
	}

	t.dispatcher.reply(c, protocol.TypeUnsubscribed, protocol.UnsubscribedMsg{Item: m.Item})
}

func (t *Transport) handleMessage(c *Connection, msg interface{}) {
	m := msg.(protocol.ChatMsg)

	if t.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		allowed, err := t.limiter.Allow(ctx, c.ID, t.rule)
		cancel()
		if err != nil {
			t.log.Debug("rate limiter error", "session", c.ID, "error", err)
		}
		if !allowed {
			metrics.MessagesTotal.WithLabelValues(metrics.ResultRateLimited).Inc()
			t.dispatcher.reply(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(t.rule.Window / time.Second),
			})
			return
		}
	}

	if err := t.provider.NotifyUserMessage("", c.ID, m.Message); err != nil {
		t.dispatcher.reply(c, protocol.TypeError, protocol.ErrorMsg{
			Code:    errorCode(err),
			Message: err.Error(),
		})
	}
}

// Update pushes an item event to every connection subscribed to item.
func (t *Transport) Update(item string, event map[string]string, isSnapshot bool) {
	ids := t.subs.Subscribers(item)
	if len(ids) == 0 {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUpdate, protocol.UpdateMsg{
		Item:     item,
		Fields:   event,
		Snapshot: isSnapshot,
	})
	if err != nil {
		t.log.Error("build update failed", "item", item, "error", err)
		return
	}

	for _, id := range ids {
		if err := t.server.SendMessage(id, data); err != nil {
			t.log.Debug("update not delivered", "item", item, "session", id, "error", err)
		}
	}
}

func (t *Transport) setSubscriberGauge(item string) {
	metrics.ItemSubscribers.WithLabelValues(item).Set(float64(len(t.subs.Subscribers(item))))
}

// errorCode maps provider errors to protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyOrMissing):
		return protocol.CodeEmptyOrMissing
	case errors.Is(err, chat.ErrMalformedFormat):
		return protocol.CodeMalformedFormat
	case errors.Is(err, chat.ErrWrongTag):
		return protocol.CodeWrongTag
	case errors.Is(err, relay.ErrSessionLost):
		return protocol.CodeSessionLost
	case errors.Is(err, feed.ErrNoSuchItem):
		return protocol.CodeNoSuchItem
	default:
		return protocol.CodeBadRequest
	}
}
