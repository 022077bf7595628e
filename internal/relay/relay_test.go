package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/session"
	"github.com/whisper/chat-relay/mocks"
)

var fixedNow = time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)

type update struct {
	item       string
	event      map[string]string
	isSnapshot bool
}

// recordingSink keeps every update it receives.
type recordingSink struct {
	mu      sync.Mutex
	updates []update
}

func (s *recordingSink) Update(item string, event map[string]string, isSnapshot bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update{item: item, event: event, isSnapshot: isSnapshot})
}

func (s *recordingSink) all() []update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]update(nil), s.updates...)
}

func newTestRelay(t *testing.T) (*Relay, *recordingSink) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(log, session.NewRegistry(), feed.New(log), WithClock(func() time.Time { return fixedNow }))
	sink := &recordingSink{}
	r.SetListener(sink)
	require.NoError(t, r.Initialize(nil))
	return r, sink
}

func TestRelay_MessageDelivered(t *testing.T) {
	req := require.New(t)
	r, sink := newTestRelay(t)

	req.NoError(r.NotifyNewSession("", "S1", session.Context{RemoteAddress: "1.2.3.4", Agent: "UA1"}))
	req.NoError(r.Subscribe(feed.ItemName))
	req.NoError(r.NotifyUserMessage("", "S1", "CHAT|hello"))

	updates := sink.all()
	req.Len(updates, 1)
	req.Equal(feed.ItemName, updates[0].item)
	req.False(updates[0].isSnapshot)
	req.Equal(map[string]string{
		chat.FieldOriginAddress:        "1.2.3.4",
		chat.FieldSenderAgent:          "UA1",
		chat.FieldMessage:              "hello",
		chat.FieldTimestampHuman:       "17:04:05",
		chat.FieldTimestampEpochMillis: fmt.Sprint(fixedNow.UnixMilli()),
	}, updates[0].event)
}

func TestRelay_UnknownSessionIsLost(t *testing.T) {
	req := require.New(t)
	r, sink := newTestRelay(t)
	req.NoError(r.Subscribe(feed.ItemName))

	err := r.NotifyUserMessage("", "S2", "CHAT|hi")

	req.ErrorIs(err, ErrSessionLost)
	var notifErr *NotificationError
	req.True(errors.As(err, &notifErr))
	req.NotEmpty(notifErr.Reason)
	req.Empty(sink.all())
}

func TestRelay_ClosedSessionIsLost(t *testing.T) {
	req := require.New(t)
	r, sink := newTestRelay(t)

	req.NoError(r.NotifyNewSession("", "S1", session.Context{RemoteAddress: "1.2.3.4", Agent: "UA1"}))
	req.NoError(r.Subscribe(feed.ItemName))
	req.NoError(r.NotifySessionClose("S1"))

	err := r.NotifyUserMessage("", "S1", "CHAT|hello")
	req.ErrorIs(err, ErrSessionLost)
	req.Empty(sink.all())
}

func TestRelay_CloseUnknownSession(t *testing.T) {
	r, _ := newTestRelay(t)

	require.NoError(t, r.NotifySessionClose("never-opened"))
	require.NoError(t, r.NotifySessionClose("never-opened"))
}

func TestRelay_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr error
	}{
		{"empty", "", chat.ErrEmptyOrMissing},
		{"malformed", "CHAT|a|b", chat.ErrMalformedFormat},
		{"no separator", "hello", chat.ErrMalformedFormat},
		{"wrong tag", "SHOUT|hi", chat.ErrWrongTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r, sink := newTestRelay(t)
			req.NoError(r.NotifyNewSession("", "S1", session.Context{RemoteAddress: "1.2.3.4", Agent: "UA1"}))
			req.NoError(r.Subscribe(feed.ItemName))

			err := r.NotifyUserMessage("", "S1", tt.message)

			req.ErrorIs(err, tt.wantErr)
			req.NotErrorIs(err, ErrSessionLost)
			req.Empty(sink.all())
		})
	}
}

func TestRelay_ValidationBeforeSessionLookup(t *testing.T) {
	r, _ := newTestRelay(t)

	// Unknown session and bad input: the input error wins.
	err := r.NotifyUserMessage("", "ghost", "SHOUT|hi")
	require.ErrorIs(t, err, chat.ErrWrongTag)
}

func TestRelay_MessageWithoutSubscriberIsDropped(t *testing.T) {
	req := require.New(t)
	r, sink := newTestRelay(t)
	req.NoError(r.NotifyNewSession("", "S1", session.Context{RemoteAddress: "1.2.3.4", Agent: "UA1"}))

	// No subscription: broadcast is dropped, sender sees no failure.
	req.NoError(r.NotifyUserMessage("", "S1", "CHAT|anyone?"))
	req.Empty(sink.all())

	req.NoError(r.Subscribe(feed.ItemName))
	req.NoError(r.Unsubscribe(feed.ItemName))
	req.NoError(r.NotifyUserMessage("", "S1", "CHAT|still nobody"))
	req.Empty(sink.all())
}

func TestRelay_SubscribeUnknownItem(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay(t)

	err := r.Subscribe("other_item")

	req.ErrorIs(err, feed.ErrNoSuchItem)
	var subErr *SubscribeError
	req.True(errors.As(err, &subErr))
	req.Equal("other_item", subErr.Item)
}

func TestRelay_NoSnapshot(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay(t)

	req.False(r.IsSnapshotAvailable(feed.ItemName))
	req.NoError(r.Subscribe(feed.ItemName))
	req.False(r.IsSnapshotAvailable(feed.ItemName))
}

func TestRelay_SinkReceivesExactlyOneUpdate(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(log, session.NewRegistry(), feed.New(log))
	r.SetListener(sink)

	sink.EXPECT().
		Update(feed.ItemName, gomock.Any(), false).
		Do(func(_ string, event map[string]string, _ bool) {
			req.Equal("hello", event[chat.FieldMessage])
			req.Equal("1.2.3.4", event[chat.FieldOriginAddress])
			req.Equal("UA1", event[chat.FieldSenderAgent])
		}).
		Times(1)

	req.NoError(r.NotifyNewSession("", "S1", session.Context{RemoteAddress: "1.2.3.4", Agent: "UA1"}))
	req.NoError(r.Subscribe(feed.ItemName))
	req.NoError(r.NotifyUserMessage("", "S1", "CHAT|hello"))
}

func TestRelay_ConcurrentSessionsAndMessages(t *testing.T) {
	r, sink := newTestRelay(t)
	require.NoError(t, r.Subscribe(feed.ItemName))

	goroutines := 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("S%d", g)
			_ = r.NotifyNewSession("", id, session.Context{
				RemoteAddress: fmt.Sprintf("10.0.0.%d", g),
				Agent:         id,
			})
			if err := r.NotifyUserMessage("", id, "CHAT|from "+id); err != nil {
				t.Errorf("%s: unexpected error: %v", id, err)
			}
			_ = r.NotifySessionClose(id)
		}(g)
	}
	wg.Wait()

	updates := sink.all()
	require.Len(t, updates, goroutines)
	for _, u := range updates {
		require.Equal(t, "from "+u.event[chat.FieldSenderAgent], u.event[chat.FieldMessage])
	}
}
