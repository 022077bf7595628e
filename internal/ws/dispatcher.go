package ws

import (
	"log/slog"

	"github.com/whisper/chat-relay/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.SubscribeMsg, protocol.ChatMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by type.
// Ping is answered internally; malformed or unsupported frames get an error
// frame back.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	send     func(conn *Connection, data []byte) error
	log      *slog.Logger
}

// NewMessageDispatcher creates a dispatcher that replies through send.
func NewMessageDispatcher(log *slog.Logger, send func(conn *Connection, data []byte) error) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		send:     send,
		log:      log,
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("dispatch parse error", "session", conn.ID, "error", err)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeBadRequest,
			Message: "invalid message format",
		})
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", "type", msgType, "session", conn.ID)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeBadRequest,
			Message: "unsupported message type",
		})
		return
	}

	handler(conn, msg)
}

// reply sends a server frame. Failures are logged, not propagated.
func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error("build server message failed", "type", msgType, "session", conn.ID, "error", err)
		return
	}
	if err := d.send(conn, data); err != nil {
		d.log.Debug("send failed", "type", msgType, "session", conn.ID, "error", err)
	}
}
