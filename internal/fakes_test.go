package internal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tubechat/internal/protocol"
	"tubechat/internal/storage"
)

var (
	owner    = protocol.Identity{ID: "owner", Username: "olivia"}
	alice    = protocol.Identity{ID: "alice", Username: "alice"}
	bob      = protocol.Identity{ID: "bob", Username: "bob"}
	testTime = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
)

// fakeStore is an in-memory MessageStore and ChannelDirectory.
type fakeStore struct {
	mu          sync.Mutex
	channels    map[string]protocol.Channel
	communities map[string]protocol.Community
	messages    map[string]protocol.Message
	createErr   error
	creates     int
	updates     int
	seq         int
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		channels:    make(map[string]protocol.Channel),
		communities: make(map[string]protocol.Community),
		messages:    make(map[string]protocol.Message),
	}
	f.communities["c1"] = protocol.Community{ID: "c1", Name: "Olivia TV", OwnerID: owner.ID}
	f.channels["general"] = protocol.Channel{ID: "general", CommunityID: "c1", Name: "general", Kind: protocol.ChannelText}
	f.channels["voice"] = protocol.Channel{ID: "voice", CommunityID: "c1", Name: "voice-study", Kind: protocol.ChannelVoice}
	f.channels["video"] = protocol.Channel{ID: "video", CommunityID: "c1", Name: "video-v1", Kind: protocol.ChannelVideo, LinkedVideo: "v1"}
	return f
}

func (f *fakeStore) seed(id, channelID string, sender protocol.Identity, text string) protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := protocol.Message{ID: id, Channel: channelID, Sender: sender, Text: text, Version: 1, CreatedAt: testTime}
	f.messages[id] = msg
	return msg
}

func (f *fakeStore) text(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id].Text
}

func (f *fakeStore) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeStore) CreateMessage(_ context.Context, channelID string, sender protocol.Identity, text string) (*protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !ch.Kind.CarriesMessages() {
		return nil, storage.ErrVoiceChannel
	}
	f.creates++
	f.seq++
	msg := protocol.Message{
		ID:        fmt.Sprintf("m%d", 100+f.seq-1),
		Channel:   channelID,
		Sender:    sender,
		Text:      text,
		Version:   1,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
	f.messages[msg.ID] = msg
	return &msg, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &msg, nil
}

func (f *fakeStore) UpdateMessageText(_ context.Context, id, text string, expectedVersion int64) (*protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if expectedVersion > 0 && expectedVersion != msg.Version {
		return nil, storage.ErrVersionConflict
	}
	f.updates++
	msg.Text = text
	msg.Version++
	f.messages[id] = msg
	return &msg, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (*protocol.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ch, nil
}

func (f *fakeStore) GetCommunity(_ context.Context, id string) (*protocol.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.communities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// recorded is one frame read from a connection's send queue.
type recorded struct {
	protocol.Envelope
	closed bool
}

// drain reads everything currently queued without blocking.
func drain(t *testing.T, send chan []byte) []recorded {
	t.Helper()
	var out []recorded
	for {
		select {
		case frame, ok := <-send:
			if !ok {
				return append(out, recorded{closed: true})
			}
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			out = append(out, recorded{Envelope: env})
		default:
			return out
		}
	}
}

func eventsNamed(frames []recorded, event string) []recorded {
	var out []recorded
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// next waits for the next frame on send.
func next(t *testing.T, send chan []byte) protocol.Envelope {
	t.Helper()
	select {
	case frame, ok := <-send:
		require.True(t, ok, "send queue closed")
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

// nextEvent skips frames until one named event arrives.
func nextEvent(t *testing.T, send chan []byte, event string) protocol.Envelope {
	t.Helper()
	for {
		env := next(t, send)
		if env.Event == event {
			return env
		}
	}
}

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}
