package internal

import (
	"context"
	"strings"

	"tubechat/internal/protocol"
)

// MessageStore persists channel messages. storage.Store implements it.
type MessageStore interface {
	CreateMessage(ctx context.Context, channelID string, sender protocol.Identity, text string) (*protocol.Message, error)
	GetMessage(ctx context.Context, id string) (*protocol.Message, error)
	UpdateMessageText(ctx context.Context, id, text string, expectedVersion int64) (*protocol.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// ChannelDirectory resolves channels and communities. storage.Store implements it.
type ChannelDirectory interface {
	GetChannel(ctx context.Context, id string) (*protocol.Channel, error)
	GetCommunity(ctx context.Context, id string) (*protocol.Community, error)
}

// MessageHandler validates, authorizes and persists message operations. It
// holds no connection state; the Hub broadcasts whatever it returns.
type MessageHandler struct {
	store     MessageStore
	directory ChannelDirectory
}

func NewMessageHandler(store MessageStore, directory ChannelDirectory) *MessageHandler {
	return &MessageHandler{store: store, directory: directory}
}

// Create stores a new message from sender. Voice channels are rejected
// before anything is written.
func (m *MessageHandler) Create(ctx context.Context, sender protocol.Identity, req protocol.SendMessage) (*protocol.Message, error) {
	const op = protocol.EventSendMessage
	text := strings.TrimSpace(req.Text)
	channelID := strings.TrimSpace(req.Channel)
	switch {
	case !sender.Valid():
		return nil, newEventError(op, protocol.KindAuthorization, "authenticate before sending messages")
	case channelID == "":
		return nil, newEventError(op, protocol.KindValidation, "channel is required")
	case text == "":
		return nil, newEventError(op, protocol.KindValidation, "message text is required")
	}
	channel, err := m.directory.GetChannel(ctx, channelID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if !channel.Kind.CarriesMessages() {
		return nil, newEventError(op, protocol.KindValidation, "voice channels do not accept text messages")
	}
	msg, err := m.store.CreateMessage(ctx, channel.ID, sender, text)
	if err != nil {
		return nil, storeError(op, err)
	}
	return msg, nil
}

// Edit replaces the text of a message. Only the original sender may edit.
func (m *MessageHandler) Edit(ctx context.Context, requester protocol.Identity, req protocol.EditMessage) (*protocol.Message, error) {
	const op = protocol.EventEditMessage
	text := strings.TrimSpace(req.Text)
	switch {
	case !requester.Valid():
		return nil, newEventError(op, protocol.KindAuthorization, "authenticate before editing messages")
	case req.MessageID == "":
		return nil, newEventError(op, protocol.KindValidation, "messageId is required")
	case strings.TrimSpace(req.ChannelID) == "":
		return nil, newEventError(op, protocol.KindValidation, "channelId is required")
	case text == "":
		return nil, newEventError(op, protocol.KindValidation, "message text is required")
	}
	existing, err := m.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if existing.Channel != strings.TrimSpace(req.ChannelID) {
		return nil, newEventError(op, protocol.KindValidation, "message does not belong to this channel")
	}
	if existing.Sender.ID != requester.ID {
		return nil, newEventError(op, protocol.KindAuthorization, "only the sender can edit this message")
	}
	updated, err := m.store.UpdateMessageText(ctx, existing.ID, text, req.Version)
	if err != nil {
		return nil, storeError(op, err)
	}
	return updated, nil
}

// Delete removes a message. The sender or the owner of the community the
// message's channel belongs to may delete it.
func (m *MessageHandler) Delete(ctx context.Context, requester protocol.Identity, req protocol.MessageRef) (protocol.MessageRef, error) {
	const op = protocol.EventDeleteMessage
	switch {
	case !requester.Valid():
		return protocol.MessageRef{}, newEventError(op, protocol.KindAuthorization, "authenticate before deleting messages")
	case req.MessageID == "":
		return protocol.MessageRef{}, newEventError(op, protocol.KindValidation, "messageId is required")
	case strings.TrimSpace(req.ChannelID) == "":
		return protocol.MessageRef{}, newEventError(op, protocol.KindValidation, "channelId is required")
	}
	existing, err := m.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return protocol.MessageRef{}, storeError(op, err)
	}
	if existing.Channel != strings.TrimSpace(req.ChannelID) {
		return protocol.MessageRef{}, newEventError(op, protocol.KindValidation, "message does not belong to this channel")
	}
	if existing.Sender.ID != requester.ID {
		owner, err := m.communityOwner(ctx, existing.Channel)
		if err != nil {
			return protocol.MessageRef{}, storeError(op, err)
		}
		if owner != requester.ID {
			return protocol.MessageRef{}, newEventError(op, protocol.KindAuthorization, "only the sender or the community owner can delete this message")
		}
	}
	if err := m.store.DeleteMessage(ctx, existing.ID); err != nil {
		return protocol.MessageRef{}, storeError(op, err)
	}
	return protocol.MessageRef{MessageID: existing.ID, ChannelID: existing.Channel}, nil
}

func (m *MessageHandler) communityOwner(ctx context.Context, channelID string) (string, error) {
	channel, err := m.directory.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	community, err := m.directory.GetCommunity(ctx, channel.CommunityID)
	if err != nil {
		return "", err
	}
	return community.OwnerID, nil
}
