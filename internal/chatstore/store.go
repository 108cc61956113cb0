// Package chatstore is the client-side view of channel messages, typing
// indicators and online users. Local sends are shown immediately as Pending
// entries and reconciled against the server's echo:
//
//  1. an entry with the same durable id is the same message;
//  2. otherwise a Pending (or Failed) entry from the same sender with exactly
//     the same text, created within DedupWindow of the echo, is its
//     confirmation and is replaced in place;
//  3. otherwise the echo is a new message and is appended.
//
// Rule 2 is a best-effort heuristic: two identical texts sent within the
// window may be matched to each other's echoes, which only swaps ids.
package chatstore

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubechat/internal/protocol"
)

const (
	DefaultDedupWindow     = 5 * time.Second
	DefaultPendingTimeout  = 30 * time.Second
	DefaultTypingTimeout   = 2 * time.Second
	DefaultRemoteTypingTTL = 10 * time.Second
)

var (
	// ErrNoIdentity is returned by Send before the local user is known.
	ErrNoIdentity = errors.New("chatstore: no local identity")
	// ErrEmptyText is returned by Send for blank messages.
	ErrEmptyText = errors.New("chatstore: empty message")
)

// Emitter sends an event to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any) error

func (f EmitterFunc) Emit(event string, payload any) error { return f(event, payload) }

// Config tunes reconciliation. Zero durations take the defaults, except
// PendingTimeout where a negative value disables expiry.
type Config struct {
	Self            protocol.Identity
	DedupWindow     time.Duration
	PendingTimeout  time.Duration
	TypingTimeout   time.Duration
	RemoteTypingTTL time.Duration
	Now             func() time.Time
	NewTempID       func() string
}

type typingUser struct {
	user    protocol.Identity
	expires time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	cfg  Config
	emit Emitter

	channels map[string][]Entry
	typing   map[string][]typingUser
	online   []protocol.Identity
	voice    map[string][]protocol.Identity

	// localTyping maps channel id to the last local keystroke.
	localTyping map[string]time.Time
}

type emission struct {
	event   string
	payload any
}

func New(cfg Config, emit Emitter) *Store {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	switch {
	case cfg.PendingTimeout == 0:
		cfg.PendingTimeout = DefaultPendingTimeout
	case cfg.PendingTimeout < 0:
		cfg.PendingTimeout = 0
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.RemoteTypingTTL <= 0 {
		cfg.RemoteTypingTTL = DefaultRemoteTypingTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTempID == nil {
		cfg.NewTempID = func() string { return "temp-" + uuid.NewString() }
	}
	if emit == nil {
		emit = EmitterFunc(func(string, any) error { return nil })
	}
	return &Store{
		cfg:         cfg,
		emit:        emit,
		channels:    make(map[string][]Entry),
		typing:      make(map[string][]typingUser),
		voice:       make(map[string][]protocol.Identity),
		localTyping: make(map[string]time.Time),
	}
}

// SetSelf replaces the local identity, e.g. after re-authentication.
func (s *Store) SetSelf(self protocol.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Self = self
}

func (s *Store) Self() protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Self
}

// Track starts keeping a message list for a channel. Echoes for channels that
// are not tracked are ignored.
func (s *Store) Track(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		s.channels[channelID] = []Entry{}
	}
}

// Untrack forgets a channel's messages and typing state.
func (s *Store) Untrack(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
	delete(s.typing, channelID)
	delete(s.localTyping, channelID)
}

// LoadHistory merges a history page into a channel. The page becomes the
// confirmed prefix of the list. Confirmed entries missing from the page are
// kept when they are newer than its last message, since they arrived live
// after the page was read. Unconfirmed entries that the page already holds
// (same sender and text within DedupWindow) are dropped; the rest stay.
func (s *Store) LoadHistory(channelID string, history []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(history)+len(s.channels[channelID]))
	inPage := make(map[string]bool, len(history))
	for _, msg := range history {
		entries = append(entries, Confirmed{Msg: msg})
		inPage[msg.ID] = true
	}
	claimed := make(map[string]bool)
	for _, existing := range s.channels[channelID] {
		if c, ok := existing.(Confirmed); ok {
			if !inPage[c.Msg.ID] && (len(history) == 0 || newerThan(c.Msg, history[len(history)-1])) {
				entries = append(entries, c)
			}
			continue
		}
		_, local, sentAt, ok := unconfirmed(existing)
		if !ok {
			continue
		}
		if match := s.matchConfirmed(history, claimed, local, sentAt); match != "" {
			claimed[match] = true
			continue
		}
		entries = append(entries, existing)
	}
	s.channels[channelID] = entries
}

// matchConfirmed returns the id of the first unclaimed message in history that
// confirms a local send, or "".
func (s *Store) matchConfirmed(history []protocol.Message, claimed map[string]bool, local protocol.Message, sentAt time.Time) string {
	for _, msg := range history {
		if claimed[msg.ID] {
			continue
		}
		if msg.Sender.ID == local.Sender.ID && msg.Text == local.Text && within(sentAt, msg.CreatedAt, s.cfg.DedupWindow) {
			return msg.ID
		}
	}
	return ""
}

// newerThan orders messages by creation time, then by id. Durable ids are
// ULIDs, so the id order matches creation order.
func newerThan(a, b protocol.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Send appends a Pending entry and emits send_message. It returns the
// temporary id. If the emit fails the entry is marked Failed.
func (s *Store) Send(channelID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	s.mu.Lock()
	self := s.cfg.Self
	if !self.Valid() {
		s.mu.Unlock()
		return "", ErrNoIdentity
	}
	now := s.cfg.Now()
	tempID := s.cfg.NewTempID()
	pending := Pending{
		TempID: tempID,
		SentAt: now,
		Msg: protocol.Message{
			ID:        tempID,
			Channel:   channelID,
			Sender:    self,
			Text:      text,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.channels[channelID] = append(s.channels[channelID], pending)
	_, wasTyping := s.localTyping[channelID]
	delete(s.localTyping, channelID)
	s.mu.Unlock()

	// the server only relays a stop after a successful create
	if wasTyping {
		_ = s.emit.Emit(protocol.EventTypingStop, protocol.Typing{ChannelID: channelID, User: self})
	}
	err := s.emit.Emit(protocol.EventSendMessage, protocol.SendMessage{
		Channel:   channelID,
		Text:      text,
		Sender:    &self,
		TempID:    tempID,
		CreatedAt: now,
	})
	if err != nil {
		s.fail(channelID, tempID, err.Error())
		return tempID, err
	}
	return tempID, nil
}

// Edit asks the server to change one of the local user's messages. The list
// is updated only when message_updated arrives.
func (s *Store) Edit(channelID, messageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	s.mu.Lock()
	var version int64
	for _, e := range s.channels[channelID] {
		if c, ok := e.(Confirmed); ok && c.Msg.ID == messageID {
			version = c.Msg.Version
			break
		}
	}
	s.mu.Unlock()
	return s.emit.Emit(protocol.EventEditMessage, protocol.EditMessage{
		MessageID: messageID,
		ChannelID: channelID,
		Text:      text,
		Version:   version,
	})
}

// Delete asks the server to remove a message.
func (s *Store) Delete(channelID, messageID string) error {
	return s.emit.Emit(protocol.EventDeleteMessage, protocol.MessageRef{MessageID: messageID, ChannelID: channelID})
}

// ApplyReceive reconciles a receive_message echo. It reports whether the
// channel list changed.
func (s *Store) ApplyReceive(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTyping(msg.Channel, msg.Sender.ID)

	entries, tracked := s.channels[msg.Channel]
	if !tracked {
		return false
	}
	for _, e := range entries {
		if c, ok := e.(Confirmed); ok && c.Msg.ID == msg.ID {
			return false
		}
	}
	for i, e := range entries {
		_, local, sentAt, ok := unconfirmed(e)
		if !ok {
			continue
		}
		if local.Sender.ID == msg.Sender.ID && local.Text == msg.Text && within(sentAt, msg.CreatedAt, s.cfg.DedupWindow) {
			entries[i] = Confirmed{Msg: msg}
			return true
		}
	}
	s.channels[msg.Channel] = append(entries, Confirmed{Msg: msg})
	return true
}

// ApplyUpdate replaces the text of a known message. Unknown ids and echoes
// older than the held version are dropped.
func (s *Store) ApplyUpdate(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.channels[msg.Channel]
	for i, e := range entries {
		c, ok := e.(Confirmed)
		if !ok || c.Msg.ID != msg.ID {
			continue
		}
		if msg.Version != 0 && msg.Version < c.Msg.Version {
			return false
		}
		entries[i] = Confirmed{Msg: msg}
		return true
	}
	return false
}

// ApplyDelete removes a known message. Unknown ids are dropped.
func (s *Store) ApplyDelete(ref protocol.MessageRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.channels[ref.ChannelID]
	for i, e := range entries {
		if c, ok := e.(Confirmed); ok && c.Msg.ID == ref.MessageID {
			s.channels[ref.ChannelID] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyError marks the Pending entry named by the error's tempId as Failed.
func (s *Store) ApplyError(payload protocol.ErrorPayload) bool {
	if payload.TempID == "" {
		return false
	}
	return s.fail(payload.ChannelID, payload.TempID, payload.Message)
}

func (s *Store) fail(channelID, tempID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, entries := range s.channels {
		if channelID != "" && ch != channelID {
			continue
		}
		for i, e := range entries {
			if p, ok := e.(Pending); ok && p.TempID == tempID {
				entries[i] = Failed{TempID: p.TempID, Msg: p.Msg, SentAt: p.SentAt, Reason: reason}
				return true
			}
		}
	}
	return false
}

// ExpirePending fails Pending entries older than PendingTimeout and returns
// how many changed.
func (s *Store) ExpirePending(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expirePending(now)
}

func (s *Store) expirePending(now time.Time) int {
	if s.cfg.PendingTimeout <= 0 {
		return 0
	}
	expired := 0
	for _, entries := range s.channels {
		for i, e := range entries {
			p, ok := e.(Pending)
			if ok && now.Sub(p.SentAt) >= s.cfg.PendingTimeout {
				entries[i] = Failed{TempID: p.TempID, Msg: p.Msg, SentAt: p.SentAt, Reason: "no confirmation from server"}
				expired++
			}
		}
	}
	return expired
}

// ApplyTyping records a remote user as typing. The local user is ignored.
func (s *Store) ApplyTyping(t protocol.Typing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.User.Valid() || t.User.ID == s.cfg.Self.ID {
		return false
	}
	expires := s.cfg.Now().Add(s.cfg.RemoteTypingTTL)
	users := s.typing[t.ChannelID]
	for i := range users {
		if users[i].user.ID == t.User.ID {
			users[i] = typingUser{user: t.User, expires: expires}
			return false
		}
	}
	s.typing[t.ChannelID] = append(users, typingUser{user: t.User, expires: expires})
	return true
}

func (s *Store) ApplyStoppedTyping(t protocol.Typing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeTyping(t.ChannelID, t.User.ID)
}

func (s *Store) removeTyping(channelID, userID string) bool {
	users := s.typing[channelID]
	for i := range users {
		if users[i].user.ID == userID {
			users = append(users[:i:i], users[i+1:]...)
			if len(users) == 0 {
				delete(s.typing, channelID)
			} else {
				s.typing[channelID] = users
			}
			return true
		}
	}
	return false
}

// ApplyOnlineUsers replaces the online list wholesale.
func (s *Store) ApplyOnlineUsers(users []protocol.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append([]protocol.Identity(nil), users...)
}

// ApplyVoiceUsers replaces the roster of one voice channel.
func (s *Store) ApplyVoiceUsers(roster protocol.VoiceRoster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(roster.Users) == 0 {
		delete(s.voice, roster.ChannelID)
		return
	}
	s.voice[roster.ChannelID] = append([]protocol.Identity(nil), roster.Users...)
}

// KeyPress notes local typing in a channel and emits typing_start when the
// user was not already typing there.
func (s *Store) KeyPress(channelID string) error {
	s.mu.Lock()
	self := s.cfg.Self
	_, typing := s.localTyping[channelID]
	s.localTyping[channelID] = s.cfg.Now()
	s.mu.Unlock()
	if typing || !self.Valid() {
		return nil
	}
	return s.emit.Emit(protocol.EventTypingStart, protocol.Typing{ChannelID: channelID, User: self})
}

// Tick runs the timers: typing_stop after TypingTimeout of local silence,
// expiry of remote typing entries and of Pending sends. It reports whether
// anything visible changed.
func (s *Store) Tick(now time.Time) bool {
	s.mu.Lock()
	var out []emission
	self := s.cfg.Self
	for channelID, last := range s.localTyping {
		if now.Sub(last) >= s.cfg.TypingTimeout {
			delete(s.localTyping, channelID)
			out = append(out, emission{protocol.EventTypingStop, protocol.Typing{ChannelID: channelID, User: self}})
		}
	}
	changed := false
	for channelID, users := range s.typing {
		kept := users[:0]
		for _, u := range users {
			if now.Before(u.expires) {
				kept = append(kept, u)
			}
		}
		if len(kept) != len(users) {
			changed = true
		}
		if len(kept) == 0 {
			delete(s.typing, channelID)
		} else {
			s.typing[channelID] = kept
		}
	}
	if s.expirePending(now) > 0 {
		changed = true
	}
	s.mu.Unlock()

	for _, e := range out {
		_ = s.emit.Emit(e.event, e.payload)
	}
	return changed
}

// Apply routes a server event to the matching Apply method. Events the store
// does not project are ignored.
func (s *Store) Apply(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventReceiveMessage:
		var msg protocol.Message
		if err := env.Bind(&msg); err != nil {
			return err
		}
		s.ApplyReceive(msg)
	case protocol.EventMessageUpdated:
		var msg protocol.Message
		if err := env.Bind(&msg); err != nil {
			return err
		}
		s.ApplyUpdate(msg)
	case protocol.EventMessageDeleted:
		var ref protocol.MessageRef
		if err := env.Bind(&ref); err != nil {
			return err
		}
		s.ApplyDelete(ref)
	case protocol.EventUserTyping, protocol.EventUserStoppedTyping:
		var t protocol.Typing
		if err := env.Bind(&t); err != nil {
			return err
		}
		if env.Event == protocol.EventUserTyping {
			s.ApplyTyping(t)
		} else {
			s.ApplyStoppedTyping(t)
		}
	case protocol.EventOnlineUsersUpdated:
		var users []protocol.Identity
		if err := env.Bind(&users); err != nil {
			return err
		}
		s.ApplyOnlineUsers(users)
	case protocol.EventVoiceUsersUpdated:
		var roster protocol.VoiceRoster
		if err := env.Bind(&roster); err != nil {
			return err
		}
		s.ApplyVoiceUsers(roster)
	case protocol.EventError:
		var payload protocol.ErrorPayload
		if err := env.Bind(&payload); err != nil {
			return err
		}
		s.ApplyError(payload)
	}
	return nil
}

// Messages returns a copy of a channel's entries in display order.
func (s *Store) Messages(channelID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.channels[channelID]...)
}

// Typing returns the users currently typing in a channel.
func (s *Store) Typing(channelID string) []protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[channelID]
	out := make([]protocol.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u.user)
	}
	return out
}

func (s *Store) Online() []protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Identity(nil), s.online...)
}

func (s *Store) VoiceUsers(channelID string) []protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Identity(nil), s.voice[channelID]...)
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
