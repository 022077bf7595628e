//go:build !linux

package ws

import (
	"errors"
	"net"
)

// errNoFD is returned for every connection: without epoll all connections
// are read by a goroutine each.
var errNoFD = errors.New("ws: epoll not supported on this platform")

// Epoll is a placeholder on platforms without epoll. Add always fails, so
// the server falls back to one read goroutine per connection.
type Epoll struct {
	done chan struct{}
}

// NewEpoll returns an Epoll whose Wait blocks until Close.
func NewEpoll() (*Epoll, error) {
	return &Epoll{done: make(chan struct{})}, nil
}

// Add always fails with errNoFD.
func (e *Epoll) Add(net.Conn) error { return errNoFD }

// Remove always fails with errNoFD.
func (e *Epoll) Remove(net.Conn) error { return errNoFD }

// Wait blocks until Close and then reports net.ErrClosed.
func (e *Epoll) Wait() ([]net.Conn, error) {
	<-e.done
	return nil, net.ErrClosed
}

// Close releases Wait.
func (e *Epoll) Close() error {
	close(e.done)
	return nil
}

func socketFD(net.Conn) int { return -1 }

func isEINTR(error) bool { return false }
