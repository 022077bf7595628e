package ws

import (
	"sync"

	"github.com/samber/lo"
)

// Subscriptions tracks which connections follow which items. The provider
// sees a single logical subscription per item: start runs when the first
// connection subscribes and stop when the last one leaves.
type Subscriptions struct {
	mu     sync.RWMutex
	byItem map[string]map[string]struct{} // item -> connection IDs
	byConn map[string]map[string]struct{} // connection ID -> items
}

// NewSubscriptions creates an empty tracker.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		byItem: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Acquire subscribes connID to item. When connID is the item's first
// subscriber, start is called under the tracker lock; if it fails nothing is
// recorded and its error is returned. Subscribing twice is a no-op.
func (s *Subscriptions) Acquire(connID, item string, start func(item string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, active := s.byItem[item]
	if active {
		if _, ok := conns[connID]; ok {
			return nil
		}
	} else {
		if err := start(item); err != nil {
			return err
		}
		conns = make(map[string]struct{})
		s.byItem[item] = conns
	}

	conns[connID] = struct{}{}
	items, ok := s.byConn[connID]
	if !ok {
		items = make(map[string]struct{})
		s.byConn[connID] = items
	}
	items[item] = struct{}{}
	return nil
}

// Release unsubscribes connID from item, calling stop if it was the last
// subscriber. Releasing an item the connection does not hold is a no-op.
func (s *Subscriptions) Release(connID, item string, stop func(item string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release(connID, item, stop)
}

// ReleaseAll drops every subscription held by connID.
func (s *Subscriptions) ReleaseAll(connID string, stop func(item string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for item := range s.byConn[connID] {
		if err := s.release(connID, item, stop); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Subscriptions) release(connID, item string, stop func(item string) error) error {
	conns, ok := s.byItem[item]
	if !ok {
		return nil
	}
	if _, ok := conns[connID]; !ok {
		return nil
	}

	delete(conns, connID)
	if items := s.byConn[connID]; items != nil {
		delete(items, item)
		if len(items) == 0 {
			delete(s.byConn, connID)
		}
	}

	if len(conns) > 0 {
		return nil
	}
	delete(s.byItem, item)
	return stop(item)
}

// Subscribers returns the IDs of the connections subscribed to item.
func (s *Subscriptions) Subscribers(item string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.byItem[item])
}

// Items returns the items connID is subscribed to.
func (s *Subscriptions) Items(connID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.byConn[connID])
}
