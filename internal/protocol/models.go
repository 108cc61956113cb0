package protocol

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Identity is the user snapshot a connection attaches with authenticate. It is
// trusted as-is; verification belongs to the auth layer in front of the server.
type Identity struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Valid reports whether the identity carries a user id.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.ID) != ""
}

// UnmarshalJSON accepts both "_id" and "id" for the user id.
func (i *Identity) UnmarshalJSON(data []byte) error {
	type plain Identity
	var raw struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Identity(raw.plain)
	if i.ID == "" {
		i.ID = raw.AltID
	}
	i.ID = strings.TrimSpace(i.ID)
	return nil
}

// ChannelKind classifies a community channel.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
	ChannelVideo ChannelKind = "video"
)

// CarriesMessages reports whether channels of this kind keep text history.
func (k ChannelKind) CarriesMessages() bool {
	return k == ChannelText || k == ChannelVideo
}

// Community is a chat space owned by one user.
type Community struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel belongs to exactly one community.
type Channel struct {
	ID          string      `json:"_id"`
	CommunityID string      `json:"community"`
	Name        string      `json:"name"`
	Kind        ChannelKind `json:"type"`
	LinkedVideo string      `json:"linkedVideo,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Message is a persisted channel message with its sender profile populated.
type Message struct {
	ID        string    `json:"_id"`
	Channel   string    `json:"channel"`
	Sender    Identity  `json:"sender"`
	Text      string    `json:"text"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SendMessage is the send_message payload. Sender is informational only; the
// server uses the identity attached to the connection.
type SendMessage struct {
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Sender    *Identity `json:"sender,omitempty"`
	TempID    string    `json:"_id,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// EditMessage is the edit_message payload. Version, when non-zero, must match
// the stored version for the edit to apply.
type EditMessage struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
	Version   int64  `json:"version,omitempty"`
}

// MessageRef identifies a message in a channel; it is the delete_message
// request and the message_deleted notice.
type MessageRef struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

// Typing is carried by typing_start/typing_stop and user_typing/user_stopped_typing.
type Typing struct {
	ChannelID string   `json:"channelId"`
	User      Identity `json:"user"`
}

// VoiceRef is the join_voice/leave_voice payload.
type VoiceRef struct {
	ChannelID string `json:"channelId"`
}

// VoiceRoster is the voice_users_updated payload.
type VoiceRoster struct {
	ChannelID string     `json:"channelId"`
	Users     []Identity `json:"users"`
}

// ErrorKind classifies failures reported back to an originating connection.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindPersistence   ErrorKind = "persistence"
	KindConflict      ErrorKind = "conflict"
	KindRateLimited   ErrorKind = "rate_limited"
)

// ErrorPayload is sent only to the connection whose request failed.
type ErrorPayload struct {
	Op        string    `json:"op"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	ChannelID string    `json:"channelId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	TempID    string    `json:"tempId,omitempty"`
}

// Pagination accompanies history pages served over HTTP.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// HistoryPage is a page of channel history in chronological order.
type HistoryPage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}
