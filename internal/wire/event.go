// Package wire defines the event envelope exchanged between hubs, connection
// actors and client sockets.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags an Event with its meaning on the wire.
type Kind string

const (
	KindJoin         Kind = "JOIN"
	KindLeave        Kind = "LEAVE"
	KindText         Kind = "TEXT"
	KindInit         Kind = "INIT"
	KindDisconnected Kind = "DISCONNECTED"
	KindChatDeleted  Kind = "CHAT_DELETED"
	KindChatCreated  Kind = "CHAT_CREATED"
	KindChatRemoved  Kind = "CHAT_REMOVED"
)

// DateFormat is the fixed timestamp layout used on the wire, always UTC.
const DateFormat = "2006-01-02 15:04:05"

// Event is a flat envelope. Origin is the sending user's id and may be null;
// every other field is always present.
type Event struct {
	Type   Kind   `json:"message_type"`
	Body   string `json:"message"`
	Origin *int64 `json:"id"`
	Date   string `json:"date"`
}

var validKinds = map[Kind]struct{}{
	KindJoin:         {},
	KindLeave:        {},
	KindText:         {},
	KindInit:         {},
	KindDisconnected: {},
	KindChatDeleted:  {},
	KindChatCreated:  {},
	KindChatRemoved:  {},
}

// New builds an event stamped with the current UTC time.
func New(kind Kind, body string, origin *int64) Event {
	return Event{
		Type:   kind,
		Body:   body,
		Origin: origin,
		Date:   FormatDate(time.Now()),
	}
}

// From is a convenience for events that carry an originating user id.
func From(kind Kind, body string, origin int64) Event {
	return New(kind, body, &origin)
}

// FormatDate renders t in the wire timestamp layout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// Encode serializes the event to its JSON wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire frame strictly; unknown kinds are rejected.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if _, ok := validKinds[e.Type]; !ok {
		return Event{}, fmt.Errorf("decode event: unknown kind %q", e.Type)
	}
	return e, nil
}

// ParseText interprets an inbound client frame leniently. A frame that decodes
// as an envelope contributes its body; anything else is taken verbatim as the
// message content. The result is always a TEXT event, so malformed input can
// never break the connection.
func ParseText(raw []byte) Event {
	if e, err := Decode(raw); err == nil {
		return New(KindText, e.Body, nil)
	}
	return New(KindText, string(raw), nil)
}
