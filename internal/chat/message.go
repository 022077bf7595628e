// Package chat defines the chat wire convention and the attributed message
// that is broadcast to subscribers of the chat room.
package chat

import (
	"strconv"
	"time"
)

// HumanTimeLayout is the 24-hour clock format used for TimestampHuman.
const HumanTimeLayout = "15:04:05"

// Outbound event field names.
const (
	FieldOriginAddress        = "origin_address"
	FieldSenderAgent          = "sender_agent"
	FieldMessage              = "message"
	FieldTimestampHuman       = "timestamp_human"
	FieldTimestampEpochMillis = "timestamp_epoch_millis"
)

// Message is a validated chat line attributed to the session that sent it.
// It only lives for the duration of one emission.
type Message struct {
	SenderAddress        string
	SenderAgent          string
	Text                 string
	TimestampHuman       string
	TimestampEpochMillis string
}

// NewMessage stamps text with both representations of now.
func NewMessage(address, agent, text string, now time.Time) Message {
	return Message{
		SenderAddress:        address,
		SenderAgent:          agent,
		Text:                 text,
		TimestampHuman:       now.Format(HumanTimeLayout),
		TimestampEpochMillis: strconv.FormatInt(now.UnixMilli(), 10),
	}
}

// Event returns the field mapping pushed to the feed sink.
func (m Message) Event() map[string]string {
	return map[string]string{
		FieldOriginAddress:        m.SenderAddress,
		FieldSenderAgent:          m.SenderAgent,
		FieldMessage:              m.Text,
		FieldTimestampHuman:       m.TimestampHuman,
		FieldTimestampEpochMillis: m.TimestampEpochMillis,
	}
}
