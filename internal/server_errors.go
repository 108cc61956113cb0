package internal

import (
	"context"
	"errors"
	"fmt"

	"tubechat/internal/protocol"
	"tubechat/internal/storage"
)

// EventError is a failed client request. It is reported to the originating
// connection only and never ends the connection.
type EventError struct {
	Op      string
	Kind    protocol.ErrorKind
	Message string
	Err     error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EventError) Unwrap() error { return e.Err }

func newEventError(op string, kind protocol.ErrorKind, message string) *EventError {
	return &EventError{Op: op, Kind: kind, Message: message}
}

// storeError maps a persistence error onto the client-facing taxonomy.
func storeError(op string, err error) *EventError {
	var eventErr *EventError
	switch {
	case errors.As(err, &eventErr):
		return eventErr
	case errors.Is(err, storage.ErrNotFound):
		return &EventError{Op: op, Kind: protocol.KindNotFound, Message: "not found", Err: err}
	case errors.Is(err, storage.ErrVoiceChannel):
		return &EventError{Op: op, Kind: protocol.KindValidation, Message: "voice channels do not accept text messages", Err: err}
	case errors.Is(err, storage.ErrVersionConflict):
		return &EventError{Op: op, Kind: protocol.KindConflict, Message: "message was changed by someone else", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &EventError{Op: op, Kind: protocol.KindPersistence, Message: "store timed out", Err: err}
	default:
		return &EventError{Op: op, Kind: protocol.KindPersistence, Message: "store unavailable", Err: err}
	}
}

// payload builds the error event body.
func (e *EventError) payload() protocol.ErrorPayload {
	return protocol.ErrorPayload{Op: e.Op, Kind: e.Kind, Message: e.Message}
}
