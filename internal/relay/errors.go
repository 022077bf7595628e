package relay

import "errors"

// ErrSessionLost means a message arrived for a session the relay does not
// know, usually because it already closed. The client should reconnect.
var ErrSessionLost = errors.New("session lost, please reconnect")

// NotificationError refuses a user action. Err is one of the chat
// validation errors or ErrSessionLost.
type NotificationError struct {
	Reason string
	Err    error
}

func (e *NotificationError) Error() string { return e.Reason }

func (e *NotificationError) Unwrap() error { return e.Err }

// SubscribeError refuses an item subscription.
type SubscribeError struct {
	Item   string
	Reason string
	Err    error
}

func (e *SubscribeError) Error() string { return e.Reason + ": " + e.Item }

func (e *SubscribeError) Unwrap() error { return e.Err }

func notificationError(err error) *NotificationError {
	return &NotificationError{Reason: err.Error(), Err: err}
}
