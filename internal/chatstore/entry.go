package chatstore

import (
	"time"

	"tubechat/internal/protocol"
)

// Entry is one line of a channel's local message list. It is exactly one of
// Pending, Confirmed or Failed.
type Entry interface {
	// Message returns the message as it should be displayed.
	Message() protocol.Message
	entry()
}

// Pending is an optimistic local send the server has not echoed yet.
type Pending struct {
	TempID string
	Msg    protocol.Message
	SentAt time.Time
}

// Confirmed is a message carrying its durable id.
type Confirmed struct {
	Msg protocol.Message
}

// Failed is a local send that was rejected or never echoed in time. A late
// echo still confirms it.
type Failed struct {
	TempID string
	Msg    protocol.Message
	SentAt time.Time
	Reason string
}

func (p Pending) Message() protocol.Message   { return p.Msg }
func (c Confirmed) Message() protocol.Message { return c.Msg }
func (f Failed) Message() protocol.Message    { return f.Msg }

func (Pending) entry()   {}
func (Confirmed) entry() {}
func (Failed) entry()    {}

// unconfirmed returns the fields shared by local entries waiting on an echo.
func unconfirmed(e Entry) (tempID string, msg protocol.Message, sentAt time.Time, ok bool) {
	switch v := e.(type) {
	case Pending:
		return v.TempID, v.Msg, v.SentAt, true
	case Failed:
		return v.TempID, v.Msg, v.SentAt, true
	default:
		return "", protocol.Message{}, time.Time{}, false
	}
}
