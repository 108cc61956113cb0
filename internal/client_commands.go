package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"tubechat/internal/protocol"
	"tubechat/internal/storage"
)

const tickInterval = 500 * time.Millisecond

var errNotConnected = errors.New("websocket not connected")

// bubbletea messages for asynchronous events
type (
	connectedMsg     struct{ conn *websocket.Conn }
	incomingMsg      struct {
		conn *websocket.Conn
		env  protocol.Envelope
	}
	disconnectedMsg struct {
		conn *websocket.Conn
		err  error
	}
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	tickMsg          time.Time
	channelsMsg      struct {
		channels []protocol.Channel
		err      error
	}
	historyMsg struct {
		channelID string
		messages  []protocol.Message
		err       error
	}
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(now time.Time) tea.Msg {
		return tickMsg(now)
	})
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	joinURL := model.serverJoinURL
	return func() tea.Msg {
		if err := validateJoinURL(joinURL); err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd blocks for the next server frame. Frames that do not decode are
// skipped.
func (model *TUIModel) readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{conn: conn, err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			env, err := protocol.Decode(payload)
			if err != nil {
				continue
			}
			return incomingMsg{conn: conn, env: env}
		}
	}
}

// writeEvent encodes and writes one event. It is the chat store's emitter.
func (model *TUIModel) writeEvent(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn == nil {
		return errNotConnected
	}
	_ = model.websocketConn.SetWriteDeadline(time.Now().Add(writeWait))
	return model.websocketConn.WriteMessage(websocket.TextMessage, frame)
}

func (model *TUIModel) setConn(conn *websocket.Conn) {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn != nil && model.websocketConn != conn {
		_ = model.websocketConn.Close()
	}
	model.websocketConn = conn
}

func (model *TUIModel) closeConn() {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn != nil {
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client quit"))
		_ = model.websocketConn.Close()
		model.websocketConn = nil
	}
}

func (model *TUIModel) fetchChannelsCmd() tea.Cmd {
	joinURL, communityID := model.serverJoinURL, model.communityID
	return func() tea.Msg {
		api, err := newAPIClient(joinURL)
		if err != nil {
			return channelsMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		channels, err := api.channels(ctx, communityID)
		return channelsMsg{channels: channels, err: err}
	}
}

func (model *TUIModel) fetchHistoryCmd(channelID string) tea.Cmd {
	joinURL := model.serverJoinURL
	return func() tea.Msg {
		api, err := newAPIClient(joinURL)
		if err != nil {
			return historyMsg{channelID: channelID, err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		page, err := api.history(ctx, channelID, 1, storage.DefaultPageSize)
		if err != nil {
			return historyMsg{channelID: channelID, err: err}
		}
		return historyMsg{channelID: channelID, messages: page.Messages}
	}
}

// RunClient is the entry for bubbletea.
func RunClient(opts ClientOptions) error {
	if err := validateJoinURL(opts.ServerURL); err != nil {
		return err
	}
	model := NewTUIModel(opts)
	defer model.closeConn()
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func validateJoinURL(joinURL string) error {
	parsed, err := url.Parse(joinURL)
	if err != nil {
		return err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return nil
}
