package chat

import (
	"errors"
	"strings"
)

const (
	// Tag is the only accepted leading token of a chat message.
	Tag = "CHAT"

	// Separator splits the tag from the message body.
	Separator = "|"
)

// Rejection reasons returned by Parse, in priority order.
var (
	ErrEmptyOrMissing  = errors.New("empty or missing message")
	ErrMalformedFormat = errors.New("wrong message received")
	ErrWrongTag        = errors.New("unknown message tag")
)

// Parse validates a raw "CHAT|<text>" payload and returns <text> verbatim.
// The payload must split into exactly two parts on the separator, so any
// further '|' in the body makes it malformed.
func Parse(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptyOrMissing
	}

	tokens := strings.Split(raw, Separator)
	if len(tokens) != 2 {
		return "", ErrMalformedFormat
	}
	if tokens[0] != Tag {
		return "", ErrWrongTag
	}
	if tokens[1] == "" {
		return "", ErrEmptyOrMissing
	}
	return tokens[1], nil
}

// Format builds the wire payload for text. It is the inverse of Parse for
// any text without a separator.
func Format(text string) string {
	return Tag + Separator + text
}
