package internal

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tubechat/internal/logging"
	"tubechat/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client pumps frames between one websocket and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte
}

// ServeWS upgrades the request and registers the connection with the hub.
// Identity is attached later by an authenticate event.
func ServeWS(hub *Hub, writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	client := &Client{
		hub:  hub,
		conn: websocketConn,
		id:   uuid.NewString(),
		send: make(chan []byte, hub.cfg.SendBuffer),
	}
	if !hub.Register(client.id, client.send) {
		_ = websocketConn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (client *Client) readPump() {
	defer func() {
		client.hub.Disconnect(client.id)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("conn", client.id).Msg("read error")
			}
			return
		}
		env, err := protocol.Decode(payload)
		if err != nil {
			logging.Debug().Err(err).Str("conn", client.id).Msg("dropping undecodable frame")
			continue
		}
		if !client.hub.Dispatch(client.id, env) {
			return
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
