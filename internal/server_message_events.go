package internal

import (
	"context"
	"errors"
	"strings"

	"tubechat/internal/protocol"
)

func kindOf(err error) string {
	var eventErr *EventError
	if errors.As(err, &eventErr) {
		return string(eventErr.Kind)
	}
	return string(protocol.KindPersistence)
}

func (h *Hub) handleSend(conn *Connection, env protocol.Envelope) {
	const op = protocol.EventSendMessage
	var req protocol.SendMessage
	if err := env.Bind(&req); err != nil {
		h.reject(conn.ID, &EventError{Op: op, Kind: protocol.KindValidation, Message: "malformed message", Err: err}, errorRef{})
		return
	}
	ref := errorRef{channelID: req.Channel, tempID: req.TempID}
	if conn.identity == nil {
		h.metrics.MessageOp(op, string(protocol.KindAuthorization))
		h.reject(conn.ID, newEventError(op, protocol.KindAuthorization, "authenticate before sending messages"), ref)
		return
	}
	if !h.allow(conn, op, ref) {
		return
	}
	connID := conn.ID
	sender := *conn.identity
	h.persist(laneKey(req.Channel, connID), func(ctx context.Context) func() {
		msg, err := h.messages.Create(ctx, sender, req)
		return func() {
			if err != nil {
				h.metrics.MessageOp(op, kindOf(err))
				h.reject(connID, err, ref)
				return
			}
			h.metrics.MessageOp(op, "")
			room := ChannelRoom(msg.Channel)
			h.fanout.ToRoom(room, protocol.EventReceiveMessage, msg)
			h.fanout.ToRoomExceptSender(room, protocol.EventUserStoppedTyping,
				protocol.Typing{ChannelID: msg.Channel, User: sender}, connID)
		}
	})
}

func (h *Hub) handleEdit(conn *Connection, env protocol.Envelope) {
	const op = protocol.EventEditMessage
	var req protocol.EditMessage
	if err := env.Bind(&req); err != nil {
		h.reject(conn.ID, &EventError{Op: op, Kind: protocol.KindValidation, Message: "malformed edit", Err: err}, errorRef{})
		return
	}
	ref := errorRef{channelID: req.ChannelID, messageID: req.MessageID}
	if conn.identity == nil {
		h.metrics.MessageOp(op, string(protocol.KindAuthorization))
		h.reject(conn.ID, newEventError(op, protocol.KindAuthorization, "authenticate before editing messages"), ref)
		return
	}
	// edits and deletes share the lane of the channel's creates
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		h.reject(conn.ID, newEventError(op, protocol.KindValidation, "channelId is required"), ref)
		return
	}
	if !h.allow(conn, op, ref) {
		return
	}
	connID := conn.ID
	requester := *conn.identity
	h.persist(channelID, func(ctx context.Context) func() {
		msg, err := h.messages.Edit(ctx, requester, req)
		return func() {
			if err != nil {
				h.metrics.MessageOp(op, kindOf(err))
				h.reject(connID, err, ref)
				return
			}
			h.metrics.MessageOp(op, "")
			h.fanout.ToRoom(ChannelRoom(msg.Channel), protocol.EventMessageUpdated, msg)
		}
	})
}

func (h *Hub) handleDelete(conn *Connection, env protocol.Envelope) {
	const op = protocol.EventDeleteMessage
	var req protocol.MessageRef
	if err := env.Bind(&req); err != nil {
		h.reject(conn.ID, &EventError{Op: op, Kind: protocol.KindValidation, Message: "malformed delete", Err: err}, errorRef{})
		return
	}
	ref := errorRef{channelID: req.ChannelID, messageID: req.MessageID}
	if conn.identity == nil {
		h.metrics.MessageOp(op, string(protocol.KindAuthorization))
		h.reject(conn.ID, newEventError(op, protocol.KindAuthorization, "authenticate before deleting messages"), ref)
		return
	}
	// edits and deletes share the lane of the channel's creates
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		h.reject(conn.ID, newEventError(op, protocol.KindValidation, "channelId is required"), ref)
		return
	}
	connID := conn.ID
	requester := *conn.identity
	h.persist(channelID, func(ctx context.Context) func() {
		deleted, err := h.messages.Delete(ctx, requester, req)
		return func() {
			if err != nil {
				h.metrics.MessageOp(op, kindOf(err))
				h.reject(connID, err, ref)
				return
			}
			h.metrics.MessageOp(op, "")
			h.fanout.ToRoom(ChannelRoom(deleted.ChannelID), protocol.EventMessageDeleted, deleted)
		}
	})
}
