// Package protocol defines the realtime wire contract shared by the community
// chat server and its clients: event names, the JSON envelope every frame is
// wrapped in, and the payload types carried inside it.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Client to server events.
const (
	EventAuthenticate   = "authenticate"
	EventJoinCommunity  = "join_community"
	EventLeaveCommunity = "leave_community"
	EventJoinChannel    = "join_channel"
	EventLeaveChannel   = "leave_channel"
	EventSendMessage    = "send_message"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventJoinVoice      = "join_voice"
	EventLeaveVoice     = "leave_voice"
)

// Server to client events.
const (
	EventReceiveMessage     = "receive_message"
	EventMessageUpdated     = "message_updated"
	EventMessageDeleted     = "message_deleted"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventOnlineUsersUpdated = "online_users_updated"
	EventVoiceUsersUpdated  = "voice_users_updated"
	EventError              = "error"
)

// ErrEmptyEvent is returned when a frame decodes but names no event.
var ErrEmptyEvent = errors.New("protocol: frame has no event name")

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope for the named event.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a raw frame into an envelope. The payload is left raw so the
// receiver can bind it to the type the event implies.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// Bind decodes the envelope payload into out.
func (e Envelope) Bind(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: bind payload: %w", e.Event, err)
	}
	return nil
}

// BindString decodes payloads that are either a bare JSON string or an object
// with the given field, e.g. join_community sends "c1" or {"communityId":"c1"}.
func (e Envelope) BindString(field string) (string, error) {
	if len(e.Data) == 0 {
		return "", fmt.Errorf("%s: missing payload", e.Event)
	}
	var value string
	if err := json.Unmarshal(e.Data, &value); err == nil {
		return strings.TrimSpace(value), nil
	}
	var object map[string]any
	if err := json.Unmarshal(e.Data, &object); err != nil {
		return "", fmt.Errorf("%s: bind payload: %w", e.Event, err)
	}
	if raw, ok := object[field].(string); ok {
		return strings.TrimSpace(raw), nil
	}
	return "", fmt.Errorf("%s: payload has no %q", e.Event, field)
}
