package internal

import (
	"context"

	"tubechat/internal/protocol"
)

// Voice membership is separate from channel room membership: a connection
// may watch a voice channel's room without being connected to its stream.
// A connection is in at most one voice channel.

func (h *Hub) handleJoinVoice(conn *Connection, env protocol.Envelope) {
	const op = protocol.EventJoinVoice
	var req protocol.VoiceRef
	if err := env.Bind(&req); err != nil || req.ChannelID == "" {
		h.reject(conn.ID, &EventError{Op: op, Kind: protocol.KindValidation, Message: "channelId is required", Err: err}, errorRef{})
		return
	}
	ref := errorRef{channelID: req.ChannelID}
	if conn.identity == nil {
		h.reject(conn.ID, newEventError(op, protocol.KindAuthorization, "authenticate before joining voice"), ref)
		return
	}
	connID := conn.ID
	h.persist(req.ChannelID, func(ctx context.Context) func() {
		channel, err := h.directory.GetChannel(ctx, req.ChannelID)
		return func() {
			if err != nil {
				h.reject(connID, storeError(op, err), ref)
				return
			}
			if channel.Kind != protocol.ChannelVoice {
				h.reject(connID, newEventError(op, protocol.KindValidation, "not a voice channel"), ref)
				return
			}
			current := h.registry.Get(connID)
			if current == nil || current.voiceChannel == channel.ID {
				return
			}
			previous, previousCommunity := current.voiceChannel, current.voiceCommunity
			current.voiceChannel = channel.ID
			current.voiceCommunity = channel.CommunityID
			if previous != "" {
				h.broadcastVoice(previous, previousCommunity)
			}
			h.broadcastVoice(channel.ID, channel.CommunityID)
		}
	})
}

func (h *Hub) handleLeaveVoice(conn *Connection, env protocol.Envelope) {
	var req protocol.VoiceRef
	// An empty payload leaves whatever voice channel the connection is in.
	_ = env.Bind(&req)
	if conn.voiceChannel == "" || (req.ChannelID != "" && req.ChannelID != conn.voiceChannel) {
		return
	}
	channelID, communityID := conn.voiceChannel, conn.voiceCommunity
	conn.voiceChannel, conn.voiceCommunity = "", ""
	h.broadcastVoice(channelID, communityID)
}

// voiceUsers lists the distinct users connected to a voice channel.
func (h *Hub) voiceUsers(channelID string) []protocol.Identity {
	var members []*Connection
	for _, conn := range h.registry.All() {
		if conn.voiceChannel == channelID {
			members = append(members, conn)
		}
	}
	return dedupeIdentities(members)
}

func (h *Hub) broadcastVoice(channelID, communityID string) {
	h.fanout.ToRoom(CommunityRoom(communityID), protocol.EventVoiceUsersUpdated,
		protocol.VoiceRoster{ChannelID: channelID, Users: h.voiceUsers(channelID)})
}
