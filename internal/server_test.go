package internal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubechat/internal/protocol"
	"tubechat/internal/storage"
)

type testServer struct {
	*httptest.Server
	hub   *Hub
	store *storage.Store
}

func newTestServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	hub := NewHub(HubConfig{}, store, store, NewMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	srv := httptest.NewServer(NewServer(hub, store, opts).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = store.Close()
	})
	return &testServer{Server: srv, hub: hub, store: store}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/join"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func await(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

func createCommunity(t *testing.T, ts *testServer) createCommunityResponse {
	t.Helper()
	var created createCommunityResponse
	status := ts.postJSON(t, "/api/communities", map[string]string{
		"name":     "Olivia TV",
		"ownerId":  owner.ID,
		"username": owner.Username,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, created.Channels, 2)
	return created
}

func TestWebsocketChatRoundTrip(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	created := createCommunity(t, ts)
	communityID := created.Community.ID
	general := created.Channels[0].ID

	enter := func(identity protocol.Identity) *websocket.Conn {
		conn := ts.dial(t)
		emit(t, conn, protocol.EventAuthenticate, identity)
		emit(t, conn, protocol.EventJoinCommunity, map[string]string{"communityId": communityID})
		emit(t, conn, protocol.EventJoinChannel, map[string]string{"channelId": general})
		return conn
	}

	a := enter(alice)
	var online []protocol.Identity
	require.NoError(t, await(t, a, protocol.EventOnlineUsersUpdated).Bind(&online))
	assert.Equal(t, []string{"alice"}, usernames(online))

	b := enter(bob)
	require.NoError(t, await(t, a, protocol.EventOnlineUsersUpdated).Bind(&online))
	assert.Equal(t, []string{"alice", "bob"}, usernames(online))
	await(t, b, protocol.EventOnlineUsersUpdated)

	emit(t, a, protocol.EventSendMessage, protocol.SendMessage{Channel: general, Text: "hello from alice", TempID: "temp-1"})
	var fromA, fromB protocol.Message
	require.NoError(t, await(t, a, protocol.EventReceiveMessage).Bind(&fromA))
	require.NoError(t, await(t, b, protocol.EventReceiveMessage).Bind(&fromB))
	assert.Equal(t, fromA.ID, fromB.ID)
	assert.Equal(t, "alice", fromB.Sender.ID)

	var page protocol.HistoryPage
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/channels/"+general+"/messages", &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "Welcome to olivia's community!", page.Messages[0].Text)
	assert.Equal(t, fromA.ID, page.Messages[1].ID)
	assert.Equal(t, protocol.Pagination{Total: 2, Page: 1, Limit: storage.DefaultPageSize, Pages: 1}, page.Pagination)

	var users []protocol.Identity
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/communities/"+communityID+"/online", &users))
	assert.Equal(t, []string{"alice", "bob"}, usernames(users))

	require.NoError(t, b.Close())
	require.NoError(t, await(t, a, protocol.EventOnlineUsersUpdated).Bind(&online))
	assert.Equal(t, []string{"alice"}, usernames(online))
}

func TestWebsocketVoiceChannelRejectsText(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	created := createCommunity(t, ts)
	voice := created.Channels[1].ID

	a := ts.dial(t)
	emit(t, a, protocol.EventAuthenticate, alice)
	emit(t, a, protocol.EventJoinChannel, voice)
	emit(t, a, protocol.EventSendMessage, protocol.SendMessage{Channel: voice, Text: "anyone?", TempID: "temp-7"})

	var payload protocol.ErrorPayload
	require.NoError(t, await(t, a, protocol.EventError).Bind(&payload))
	assert.Equal(t, protocol.KindValidation, payload.Kind)
	assert.Equal(t, "temp-7", payload.TempID)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, ts.getJSON(t, "/api/channels/"+voice+"/messages", &body))
}

func TestHTTPCommunityAPI(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	created := createCommunity(t, ts)
	communityID := created.Community.ID

	var body map[string]string
	assert.Equal(t, http.StatusConflict, ts.postJSON(t, "/api/communities", map[string]string{
		"name": "Again", "ownerId": owner.ID, "username": owner.Username,
	}, &body))
	assert.Equal(t, http.StatusBadRequest, ts.postJSON(t, "/api/communities", map[string]string{
		"ownerId": "someone", "username": "someone",
	}, &body))

	path := "/api/communities/" + communityID + "/video-channels"
	assert.Equal(t, http.StatusForbidden, ts.postJSON(t, path, map[string]string{
		"videoId": "v1", "requesterId": bob.ID,
	}, &body))

	var channel protocol.Channel
	require.Equal(t, http.StatusCreated, ts.postJSON(t, path, map[string]string{
		"videoId": "v1", "requesterId": owner.ID,
	}, &channel))
	assert.Equal(t, protocol.ChannelVideo, channel.Kind)
	assert.Equal(t, "video-v1", channel.Name)
	assert.Equal(t, http.StatusConflict, ts.postJSON(t, path, map[string]string{
		"videoId": "v1", "requesterId": owner.ID,
	}, &body))

	var channels []protocol.Channel
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/communities/"+communityID+"/channels", &channels))
	assert.Len(t, channels, 3)

	assert.Equal(t, http.StatusNotFound, ts.getJSON(t, "/api/channels/missing/messages", &body))

	var health map[string]any
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.NotNil(t, health["build"])
}

func TestHTTPRejectsBlankFields(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	created := createCommunity(t, ts)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, ts.postJSON(t, "/api/communities", map[string]string{
		"name": "   ", "ownerId": "someone", "username": "someone",
	}, &body))
	assert.Contains(t, body["error"], "name")

	path := "/api/communities/" + created.Community.ID + "/video-channels"
	assert.Equal(t, http.StatusBadRequest, ts.postJSON(t, path, map[string]string{
		"videoId": "  ", "requesterId": owner.ID,
	}, &body))
	assert.Contains(t, body["error"], "videoid")
}

func TestHTTPRateLimit(t *testing.T) {
	ts := newTestServer(t, ServerOptions{HTTPRateLimit: 2})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.getJSON(t, "/api/communities/c1/online", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, ts.getJSON(t, "/api/communities/c1/online", nil))
}
