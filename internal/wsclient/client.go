// Package wsclient is a small relay client used by the command line tools.
// It speaks the same frames as internal/ws over gobwas/ws and waits for the
// session_created handshake before returning from Dial.
package wsclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/protocol"
)

// ErrClosed is returned once the connection has been closed.
var ErrClosed = errors.New("wsclient: connection closed")

// Client is one relay session.
type Client struct {
	conn      net.Conn
	src       io.Reader // conn, preceded by bytes buffered during the handshake
	sessionID string
	writeMu   sync.Mutex
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

type frame struct {
	msgType string
	msg     interface{}
	err     error
}

// Dial connects to a relay WebSocket URL (ws:// or wss://) and waits for
// the server to assign a session.
func Dial(ctx context.Context, url, agent string) (*Client, error) {
	dialer := ws.Dialer{}
	if agent != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{"User-Agent": {agent}})
	}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		src:    handshakeReader(conn, br),
		frames: make(chan frame, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	msgType, msg, err := c.Next(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	created, ok := msg.(protocol.SessionCreatedMsg)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("wsclient: expected %s, got %s", protocol.TypeSessionCreated, msgType)
	}
	c.sessionID = created.SessionID
	return c, nil
}

// handshakeReader returns a reader over conn that first yields whatever the
// dialer buffered after the upgrade response. The server sends
// session_created right after the upgrade, so br is usually not empty.
func handshakeReader(conn net.Conn, br *bufio.Reader) io.Reader {
	if br == nil {
		return conn
	}
	buffered, _ := br.Peek(br.Buffered())
	pending := bytes.Clone(buffered)
	ws.PutReader(br)
	return io.MultiReader(bytes.NewReader(pending), conn)
}

// SessionID returns the id the server assigned.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Subscribe asks for item updates and waits for the confirmation.
func (c *Client) Subscribe(ctx context.Context, item string) error {
	if err := c.send(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, Item: item}); err != nil {
		return err
	}
	return c.await(ctx, protocol.TypeSubscribed)
}

// Unsubscribe stops item updates and waits for the confirmation.
func (c *Client) Unsubscribe(ctx context.Context, item string) error {
	if err := c.send(protocol.UnsubscribeMsg{Type: protocol.TypeUnsubscribe, Item: item}); err != nil {
		return err
	}
	return c.await(ctx, protocol.TypeUnsubscribed)
}

// Say sends text as a chat message. Refusals arrive later as error frames.
func (c *Client) Say(text string) error {
	return c.SendRaw(chat.Format(text))
}

// SendRaw sends message as-is, without adding the CHAT tag.
func (c *Client) SendRaw(message string) error {
	return c.send(protocol.ChatMsg{Type: protocol.TypeMessage, Message: message})
}

// Next returns the next server frame.
func (c *Client) Next(ctx context.Context) (string, interface{}, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case f, ok := <-c.frames:
		if !ok {
			return "", nil, ErrClosed
		}
		return f.msgType, f.msg, f.err
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(payload interface{}) error {
	data, err := protocol.NewClientMessage(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// await skips frames until msgType arrives. An error frame ends the wait.
func (c *Client) await(ctx context.Context, msgType string) error {
	for {
		got, msg, err := c.Next(ctx)
		if err != nil {
			return err
		}
		switch got {
		case msgType:
			return nil
		case protocol.TypeError:
			e := msg.(protocol.ErrorMsg)
			return fmt.Errorf("wsclient: %s: %s", e.Code, e.Message)
		}
	}
}

// readLoop decodes frames until the connection fails. Unknown frame types
// are passed on with their decode error.
func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		data, err := wsutil.ReadServerText(pongWriter{c})
		if err != nil {
			return
		}
		msgType, msg, err := protocol.ParseServerMessage(data)
		select {
		case c.frames <- frame{msgType: msgType, msg: msg, err: err}:
		case <-c.done:
			return
		}
	}
}

// pongWriter serializes the automatic pong replies made while reading with
// frames written by send.
type pongWriter struct{ c *Client }

func (w pongWriter) Read(p []byte) (int, error) { return w.c.src.Read(p) }

func (w pongWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}
