package internal

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"tubechat/internal/chatstore"
	"tubechat/internal/protocol"
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	// ServerURL is the websocket join URL, e.g. ws://localhost:8080/join.
	ServerURL   string
	Identity    protocol.Identity
	CommunityID string
	Store       chatstore.Config
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	serverJoinURL   string
	identity        protocol.Identity
	communityID     string
	store           *chatstore.Store
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	emit            func(event string, payload any) error
	isConnected     bool
	connectionError error
	mode            appMode
	channels        []protocol.Channel
	channelID       string
	voiceChannel    string
	notices         []string
}

type appMode int

const (
	modeNamePrompt appMode = iota
	modeCommunityPrompt
	modeChat
)

const maxNotices = 5

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 2000
	input.Focus()
	input.Prompt = "> "

	identity := opts.Identity
	identity.Username = strings.TrimSpace(identity.Username)
	if identity.Username == "" {
		identity.Username = defaultUsername()
	}

	model := &TUIModel{
		textInput:     input,
		serverJoinURL: opts.ServerURL,
		identity:      identity,
		communityID:   strings.TrimSpace(opts.CommunityID),
	}
	model.emit = model.writeEvent
	model.store = chatstore.New(opts.Store, chatstore.EmitterFunc(func(event string, payload any) error {
		return model.emit(event, payload)
	}))

	switch {
	case opts.Identity.Username == "":
		model.setMode(modeNamePrompt)
		model.textInput.SetValue(identity.Username)
	case model.communityID == "":
		model.setMode(modeCommunityPrompt)
	default:
		model.setMode(modeChat)
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("TUBECHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) setMode(mode appMode) {
	model.mode = mode
	switch mode {
	case modeNamePrompt:
		model.textInput.Placeholder = "Enter display name…"
		model.textInput.Prompt = "name> "
	case modeCommunityPrompt:
		model.textInput.Placeholder = "Enter community id…"
		model.textInput.Prompt = "community> "
	default:
		model.textInput.Placeholder = "Type a message…"
		model.textInput.Prompt = "> "
	}
}

// start attaches the identity to the store and kicks off the connection and
// the channel list fetch.
func (model *TUIModel) start() tea.Cmd {
	if model.identity.ID == "" {
		model.identity.ID = model.identity.Username
	}
	model.store.SetSelf(model.identity)
	return tea.Batch(model.connectCmd(), model.fetchChannelsCmd(), tickCmd())
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return tea.Batch(textinput.Blink, model.start())
	}
	return textinput.Blink
}

func (model *TUIModel) notice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func (model *TUIModel) currentChannel() (protocol.Channel, bool) {
	for _, ch := range model.channels {
		if ch.ID == model.channelID {
			return ch, true
		}
	}
	return protocol.Channel{}, false
}
