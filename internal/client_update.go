package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tubechat/internal/chatstore"
	"tubechat/internal/protocol"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Any mode should respect Ctrl+C or Esc so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			model.closeConn()
			return model, tea.Quit
		}
		switch model.mode {
		case modeNamePrompt:
			if typedMessage.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(model.textInput.Value())
				if trimmed == "" {
					model.notice("Display name cannot be empty.")
					return model, nil
				}
				model.identity.Username = trimmed
				model.textInput.SetValue("")
				if model.communityID == "" {
					model.setMode(modeCommunityPrompt)
					return model, nil
				}
				model.setMode(modeChat)
				return model, model.start()
			}
		case modeCommunityPrompt:
			if typedMessage.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(model.textInput.Value())
				if trimmed == "" {
					return model, nil
				}
				model.communityID = trimmed
				model.textInput.SetValue("")
				model.setMode(modeChat)
				return model, model.start()
			}
		case modeChat:
			switch typedMessage.Type {
			case tea.KeyEnter:
				return model, model.submit(model.textInput.Value())
			case tea.KeyTab:
				return model, model.cycleChannel()
			}
			var command tea.Cmd
			model.textInput, command = model.textInput.Update(typedMessage)
			model.noteTyping(typedMessage)
			return model, command
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typedMessage)
		return model, cmd

	case connectedMsg:
		model.setConn(typedMessage.conn)
		model.isConnected = true
		model.connectionError = nil
		model.announce()
		return model, model.readOnceCmd(typedMessage.conn)

	case incomingMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.handleEvent(typedMessage.env)
		return model, model.readOnceCmd(typedMessage.conn)

	case disconnectedMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.setConn(nil)
		model.isConnected = false
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case tickMsg:
		model.store.Tick(time.Time(typedMessage))
		return model, tickCmd()

	case channelsMsg:
		if typedMessage.err != nil {
			model.notice(fmt.Sprintf("Error loading channels: %v", typedMessage.err))
			return model, nil
		}
		model.channels = typedMessage.channels
		if model.channelID != "" {
			return model, nil
		}
		for _, ch := range model.channels {
			if ch.Kind.CarriesMessages() {
				return model, model.selectChannel(ch.ID)
			}
		}
		if len(model.channels) > 0 {
			return model, model.selectChannel(model.channels[0].ID)
		}
		model.notice("This community has no channels.")
		return model, nil

	case historyMsg:
		if typedMessage.err != nil {
			model.notice(fmt.Sprintf("Error loading history: %v", typedMessage.err))
			return model, nil
		}
		if typedMessage.channelID == model.channelID {
			model.store.LoadHistory(typedMessage.channelID, typedMessage.messages)
		}
		return model, nil
	}
	return model, nil
}

// announce attaches the identity and rejoins rooms after (re)connecting.
func (model *TUIModel) announce() {
	_ = model.emit(protocol.EventAuthenticate, model.identity)
	_ = model.emit(protocol.EventJoinCommunity, map[string]string{"communityId": model.communityID})
	if model.channelID != "" {
		_ = model.emit(protocol.EventJoinChannel, map[string]string{"channelId": model.channelID})
	}
	if model.voiceChannel != "" {
		_ = model.emit(protocol.EventJoinVoice, protocol.VoiceRef{ChannelID: model.voiceChannel})
	}
}

func (model *TUIModel) handleEvent(env protocol.Envelope) {
	if env.Event == protocol.EventError {
		var payload protocol.ErrorPayload
		if err := env.Bind(&payload); err == nil {
			model.notice(fmt.Sprintf("%s failed: %s", payload.Op, payload.Message))
			if payload.Op == protocol.EventJoinVoice && payload.ChannelID == model.voiceChannel {
				model.voiceChannel = ""
			}
		}
	}
	if err := model.store.Apply(env); err != nil {
		model.notice(fmt.Sprintf("Dropped malformed %s event", env.Event))
	}
}

// noteTyping reports local keystrokes in a text channel to the store, which
// emits typing_start and later typing_stop.
func (model *TUIModel) noteTyping(key tea.KeyMsg) {
	if key.Type != tea.KeyRunes && key.Type != tea.KeySpace {
		return
	}
	if strings.HasPrefix(model.textInput.Value(), "/") {
		return
	}
	if ch, ok := model.currentChannel(); ok && ch.Kind.CarriesMessages() {
		_ = model.store.KeyPress(ch.ID)
	}
}

func (model *TUIModel) selectChannel(channelID string) tea.Cmd {
	if channelID == "" || channelID == model.channelID {
		return nil
	}
	if previous := model.channelID; previous != "" {
		_ = model.emit(protocol.EventLeaveChannel, map[string]string{"channelId": previous})
		model.store.Untrack(previous)
	}
	model.channelID = channelID
	model.store.Track(channelID)
	_ = model.emit(protocol.EventJoinChannel, map[string]string{"channelId": channelID})
	if ch, ok := model.currentChannel(); ok && ch.Kind.CarriesMessages() {
		return model.fetchHistoryCmd(channelID)
	}
	return nil
}

func (model *TUIModel) cycleChannel() tea.Cmd {
	if len(model.channels) == 0 {
		return nil
	}
	next := 0
	for idx, ch := range model.channels {
		if ch.ID == model.channelID {
			next = (idx + 1) % len(model.channels)
			break
		}
	}
	return model.selectChannel(model.channels[next].ID)
}

func (model *TUIModel) submit(value string) tea.Cmd {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	model.textInput.SetValue("")
	if strings.HasPrefix(trimmed, "/") {
		return model.runCommand(trimmed)
	}
	ch, ok := model.currentChannel()
	if !ok {
		model.notice("Pick a channel first (/channels).")
		return nil
	}
	if !ch.Kind.CarriesMessages() {
		model.notice("Voice channels have no messages. Use /voice to connect.")
		return nil
	}
	if _, err := model.store.Send(ch.ID, trimmed); err != nil {
		model.notice(fmt.Sprintf("Could not send: %v", err))
	}
	return nil
}

func (model *TUIModel) runCommand(input string) tea.Cmd {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/quit", "/exit":
		model.closeConn()
		return tea.Quit
	case "/channels":
		if len(model.channels) == 0 {
			model.notice("No channels loaded.")
			return nil
		}
		names := make([]string, 0, len(model.channels))
		for idx, ch := range model.channels {
			names = append(names, fmt.Sprintf("%d) %s", idx+1, channelLabel(ch)))
		}
		model.notice("Channels: " + strings.Join(names, "  "))
	case "/join":
		ch, ok := model.lookupChannel(rest)
		if !ok {
			model.notice(fmt.Sprintf("No channel %q.", rest))
			return nil
		}
		return model.selectChannel(ch.ID)
	case "/edit":
		indexText, text, _ := strings.Cut(rest, " ")
		msg, err := model.messageAt(indexText)
		if err != nil {
			model.notice(err.Error())
			return nil
		}
		if err := model.store.Edit(model.channelID, msg.ID, text); err != nil {
			model.notice(fmt.Sprintf("Could not edit: %v", err))
		}
	case "/delete":
		msg, err := model.messageAt(rest)
		if err != nil {
			model.notice(err.Error())
			return nil
		}
		if err := model.store.Delete(model.channelID, msg.ID); err != nil {
			model.notice(fmt.Sprintf("Could not delete: %v", err))
		}
	case "/voice":
		model.toggleVoice()
	default:
		model.notice(fmt.Sprintf("Unknown command %s.", name))
	}
	return nil
}

func (model *TUIModel) toggleVoice() {
	if model.voiceChannel != "" {
		_ = model.emit(protocol.EventLeaveVoice, protocol.VoiceRef{ChannelID: model.voiceChannel})
		model.voiceChannel = ""
		return
	}
	ch, ok := model.currentChannel()
	if !ok || ch.Kind != protocol.ChannelVoice {
		model.notice("Switch to a voice channel first.")
		return
	}
	model.voiceChannel = ch.ID
	if err := model.emit(protocol.EventJoinVoice, protocol.VoiceRef{ChannelID: ch.ID}); err != nil {
		model.notice(fmt.Sprintf("Could not join voice: %v", err))
	}
}

// lookupChannel accepts a 1-based index or a channel name.
func (model *TUIModel) lookupChannel(ref string) (protocol.Channel, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(model.channels) {
			return model.channels[n-1], true
		}
		return protocol.Channel{}, false
	}
	for _, ch := range model.channels {
		if strings.EqualFold(ch.Name, ref) {
			return ch, true
		}
	}
	return protocol.Channel{}, false
}

// messageAt resolves the 1-based message number shown in the chat view to a
// confirmed message.
func (model *TUIModel) messageAt(indexText string) (protocol.Message, error) {
	n, err := strconv.Atoi(strings.TrimSpace(indexText))
	if err != nil {
		return protocol.Message{}, fmt.Errorf("usage: /edit <n> <text> or /delete <n>")
	}
	entries := model.store.Messages(model.channelID)
	if n < 1 || n > len(entries) {
		return protocol.Message{}, fmt.Errorf("no message #%d", n)
	}
	confirmed, ok := entries[n-1].(chatstore.Confirmed)
	if !ok {
		return protocol.Message{}, fmt.Errorf("message #%d is not confirmed yet", n)
	}
	return confirmed.Msg, nil
}
