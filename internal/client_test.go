package internal

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubechat/internal/chatstore"
	"tubechat/internal/protocol"
)

var testChannels = []protocol.Channel{
	{ID: "voice", CommunityID: "c1", Name: "voice-study", Kind: protocol.ChannelVoice},
	{ID: "general", CommunityID: "c1", Name: "general", Kind: protocol.ChannelText},
	{ID: "video", CommunityID: "c1", Name: "video-v1", Kind: protocol.ChannelVideo},
}

type emitted struct {
	event   string
	payload any
}

type emitRecorder struct {
	events []emitted
	err    error
}

func (r *emitRecorder) emit(event string, payload any) error {
	r.events = append(r.events, emitted{event: event, payload: payload})
	return r.err
}

func (r *emitRecorder) names() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func (r *emitRecorder) last() emitted {
	if len(r.events) == 0 {
		return emitted{}
	}
	return r.events[len(r.events)-1]
}

func (r *emitRecorder) reset() { r.events = nil }

func newTestModel(t *testing.T) (*TUIModel, *emitRecorder) {
	t.Helper()
	seq := 0
	model := NewTUIModel(ClientOptions{
		ServerURL:   "ws://127.0.0.1:1/join",
		Identity:    alice,
		CommunityID: "c1",
		Store: chatstore.Config{
			Now: func() time.Time { return testTime },
			NewTempID: func() string {
				seq++
				return fmt.Sprintf("temp-%d", seq)
			},
		},
	})
	recorder := &emitRecorder{}
	model.emit = recorder.emit
	require.Equal(t, modeChat, model.mode)
	model.start()
	model.Update(channelsMsg{channels: testChannels})
	return model, recorder
}

func typeAndSubmit(model *TUIModel, text string) {
	model.textInput.SetValue(text)
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func incoming(t *testing.T, model *TUIModel, event string, payload any) {
	t.Helper()
	model.Update(incomingMsg{conn: model.websocketConn, env: envelope(t, event, payload)})
}

func TestClientSelectsFirstTextChannel(t *testing.T) {
	model, recorder := newTestModel(t)
	assert.Equal(t, "general", model.channelID)
	assert.Equal(t, []string{protocol.EventJoinChannel}, recorder.names())

	_, cmd := model.Update(historyMsg{channelID: "general", messages: []protocol.Message{
		{ID: "m0", Channel: "general", Sender: owner, Text: "Welcome", Version: 1, CreatedAt: testTime},
	}})
	assert.Nil(t, cmd)
	require.Len(t, model.store.Messages("general"), 1)
	assert.Contains(t, model.View(), "Welcome")
}

func TestClientAnnouncesOnConnect(t *testing.T) {
	model, recorder := newTestModel(t)
	recorder.reset()

	model.Update(connectedMsg{})
	assert.True(t, model.isConnected)
	assert.Equal(t, []string{
		protocol.EventAuthenticate,
		protocol.EventJoinCommunity,
		protocol.EventJoinChannel,
	}, recorder.names())
	assert.Equal(t, alice, recorder.events[0].payload)
}

func TestClientSendIsReconciledWithEcho(t *testing.T) {
	model, recorder := newTestModel(t)
	recorder.reset()

	typeAndSubmit(model, "hello")
	assert.Empty(t, model.textInput.Value())
	require.Equal(t, protocol.EventSendMessage, recorder.last().event)
	entries := model.store.Messages("general")
	require.Len(t, entries, 1)
	assert.IsType(t, chatstore.Pending{}, entries[0])
	assert.Contains(t, model.View(), "sending")

	incoming(t, model, protocol.EventReceiveMessage, protocol.Message{
		ID: "m1", Channel: "general", Sender: alice, Text: "hello", Version: 1, CreatedAt: testTime,
	})
	entries = model.store.Messages("general")
	require.Len(t, entries, 1)
	confirmed, ok := entries[0].(chatstore.Confirmed)
	require.True(t, ok)
	assert.Equal(t, "m1", confirmed.Msg.ID)
}

func TestClientEditAndDeleteCommands(t *testing.T) {
	model, recorder := newTestModel(t)
	model.Update(historyMsg{channelID: "general", messages: []protocol.Message{
		{ID: "m1", Channel: "general", Sender: alice, Text: "typo", Version: 3, CreatedAt: testTime},
	}})
	recorder.reset()

	typeAndSubmit(model, "/edit 1 fixed")
	require.Equal(t, protocol.EventEditMessage, recorder.last().event)
	assert.Equal(t, protocol.EditMessage{MessageID: "m1", ChannelID: "general", Text: "fixed", Version: 3}, recorder.last().payload)

	typeAndSubmit(model, "/delete 1")
	assert.Equal(t, protocol.MessageRef{MessageID: "m1", ChannelID: "general"}, recorder.last().payload)

	recorder.reset()
	typeAndSubmit(model, "/delete 7")
	assert.Empty(t, recorder.events)
	assert.Contains(t, strings.Join(model.notices, "\n"), "no message #7")

	typeAndSubmit(model, "hi")
	typeAndSubmit(model, "/edit 2 changed")
	assert.Contains(t, model.notices[len(model.notices)-1], "not confirmed")
}

func TestClientErrorEventFailsPendingSend(t *testing.T) {
	model, _ := newTestModel(t)
	typeAndSubmit(model, "too fast")

	incoming(t, model, protocol.EventError, protocol.ErrorPayload{
		Op: protocol.EventSendMessage, Kind: protocol.KindRateLimited, Message: "slow down",
		ChannelID: "general", TempID: "temp-1",
	})
	entries := model.store.Messages("general")
	require.Len(t, entries, 1)
	assert.IsType(t, chatstore.Failed{}, entries[0])
	assert.Contains(t, model.notices, "send_message failed: slow down")
}

func TestClientTypingStartAndStop(t *testing.T) {
	model, recorder := newTestModel(t)
	recorder.reset()

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	assert.Equal(t, []string{protocol.EventTypingStart}, recorder.names())

	model.Update(tickMsg(testTime.Add(3 * time.Second)))
	assert.Equal(t, []string{protocol.EventTypingStart, protocol.EventTypingStop}, recorder.names())

	incoming(t, model, protocol.EventUserTyping, protocol.Typing{ChannelID: "general", User: bob})
	assert.Contains(t, model.View(), "bob is typing")
}

func TestClientVoiceChannel(t *testing.T) {
	model, recorder := newTestModel(t)
	recorder.reset()

	typeAndSubmit(model, "/join voice-study")
	assert.Equal(t, "voice", model.channelID)
	assert.Equal(t, []string{protocol.EventLeaveChannel, protocol.EventJoinChannel}, recorder.names())

	typeAndSubmit(model, "can you hear me")
	assert.Equal(t, protocol.EventJoinChannel, recorder.last().event)
	assert.Contains(t, model.notices[len(model.notices)-1], "Voice channels have no messages")

	typeAndSubmit(model, "/voice")
	assert.Equal(t, emitted{event: protocol.EventJoinVoice, payload: protocol.VoiceRef{ChannelID: "voice"}}, recorder.last())
	incoming(t, model, protocol.EventVoiceUsersUpdated, protocol.VoiceRoster{ChannelID: "voice", Users: []protocol.Identity{alice}})
	assert.Contains(t, model.View(), "You are connected")

	typeAndSubmit(model, "/voice")
	assert.Equal(t, protocol.EventLeaveVoice, recorder.last().event)
	assert.Empty(t, model.voiceChannel)
}

func TestClientTabCyclesChannels(t *testing.T) {
	model, _ := newTestModel(t)
	model.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "video", model.channelID)
	model.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "voice", model.channelID)
}

func TestClientPromptsForMissingSettings(t *testing.T) {
	model := NewTUIModel(ClientOptions{ServerURL: "ws://127.0.0.1:1/join"})
	model.emit = (&emitRecorder{}).emit
	require.Equal(t, modeNamePrompt, model.mode)

	typeAndSubmit(model, "carol")
	assert.Equal(t, modeCommunityPrompt, model.mode)
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	typeAndSubmit(model, "c9")
	assert.Equal(t, modeChat, model.mode)
	assert.Equal(t, "c9", model.communityID)
	assert.Equal(t, protocol.Identity{ID: "carol", Username: "carol"}, model.store.Self())
}

func TestJoinURLHelpers(t *testing.T) {
	base, err := httpBaseFromJoinURL("wss://chat.example.com/join?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", base)

	assert.NoError(t, validateJoinURL("ws://localhost:8080/join"))
	assert.Error(t, validateJoinURL("http://localhost:8080/join"))
	_, err = httpBaseFromJoinURL("ftp://x")
	assert.Error(t, err)
}

func TestClientFetchesFromServer(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	created := createCommunity(t, ts)

	model := NewTUIModel(ClientOptions{
		ServerURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/join",
		Identity:    alice,
		CommunityID: created.Community.ID,
	})
	msg := model.fetchChannelsCmd()()
	channels, ok := msg.(channelsMsg)
	require.True(t, ok)
	require.NoError(t, channels.err)
	require.Len(t, channels.channels, 2)

	history, ok := model.fetchHistoryCmd(channels.channels[0].ID)().(historyMsg)
	require.True(t, ok)
	require.NoError(t, history.err)
	require.Len(t, history.messages, 1)
	assert.Equal(t, "Welcome to olivia's community!", history.messages[0].Text)
}
