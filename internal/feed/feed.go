// Package feed implements the single broadcastable chat room item. It holds
// the subscription state and forwards events to the registered Sink.
package feed

import (
	"errors"
	"log/slog"
	"sync"
)

// ItemName is the only item the feed serves.
const ItemName = "chat_room"

// ErrNoSuchItem is returned when subscribing to any item but ItemName.
var ErrNoSuchItem = errors.New("no such item")

// Feed is the chat room item. It is safe for concurrent use; Emit reads a
// consistent view of the subscription and calls the sink outside the lock.
type Feed struct {
	log *slog.Logger

	mu         sync.Mutex
	subscribed string // item name while subscribed, empty otherwise
	sink       Sink
}

// New creates an unsubscribed Feed with no sink.
func New(log *slog.Logger) *Feed {
	return &Feed{log: log}
}

// SetSink registers the listener that receives emitted events.
func (f *Feed) SetSink(sink Sink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

// Subscribe starts the item. Subscribing again while subscribed succeeds.
func (f *Feed) Subscribe(item string) error {
	if item != ItemName {
		return ErrNoSuchItem
	}

	f.mu.Lock()
	f.subscribed = item
	f.mu.Unlock()

	f.log.Debug("feed subscribed", "item", item)
	return nil
}

// Unsubscribe stops the item. It never fails, whatever the current state.
func (f *Feed) Unsubscribe(item string) {
	f.mu.Lock()
	f.subscribed = ""
	f.mu.Unlock()

	f.log.Debug("feed unsubscribed", "item", item)
}

// Subscribed reports whether the item is currently subscribed.
func (f *Feed) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed != ""
}

// IsSnapshotAvailable is always false: late subscribers only see future
// events.
func (f *Feed) IsSnapshotAvailable(string) bool {
	return false
}

// Emit delivers event to the sink once, as an incremental update. When
// nothing is subscribed the event is dropped and Emit returns false.
func (f *Feed) Emit(event map[string]string) bool {
	f.mu.Lock()
	item, sink := f.subscribed, f.sink
	f.mu.Unlock()

	if item == "" || sink == nil {
		f.log.Debug("feed event dropped, no subscriber")
		return false
	}

	sink.Update(item, event, false)
	return true
}
