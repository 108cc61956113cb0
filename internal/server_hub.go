package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tubechat/internal/logging"
	"tubechat/internal/protocol"
)

const (
	defaultSendBuffer     = 256
	defaultPersistTimeout = 10 * time.Second
	hubEventBuffer        = 1024
)

// HubConfig tunes the realtime hub.
type HubConfig struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// PersistTimeout bounds each store call made for a client request.
	PersistTimeout time.Duration
	// MessageRate and MessageBurst throttle send/edit per connection.
	// A non-positive rate disables throttling.
	MessageRate  float64
	MessageBurst int
}

// Hub owns every piece of realtime state: the connection registry, presence
// and voice rosters. All of it is touched from the single goroutine running
// RunWithContext. Store calls run on per-channel lanes and post their results
// back through the same event queue, so broadcasts for one channel leave in
// the order the requests were processed.
type Hub struct {
	cfg HubConfig

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
	runCtx    context.Context

	registry  *Registry
	state     *PresenceState
	presence  *PresenceCoordinator
	fanout    *Fanout
	messages  *MessageHandler
	directory ChannelDirectory
	limiter   *RateLimiter
	lanes     *lanes
	metrics   *Metrics
	log       zerolog.Logger
}

func NewHub(cfg HubConfig, store MessageStore, directory ChannelDirectory, metrics *Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	h := &Hub{
		cfg:       cfg,
		events:    make(chan func(), hubEventBuffer),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		state:     NewPresenceState(),
		messages:  NewMessageHandler(store, directory),
		directory: directory,
		limiter:   NewRateLimiter(cfg.MessageRate, cfg.MessageBurst),
		lanes:     newLanes(),
		metrics:   metrics,
		log:       logging.With().Str("component", "hub").Logger(),
	}
	h.registry = NewRegistry(func(communityID string) { h.presence.Recompute(communityID) })
	h.fanout = NewFanout(h.registry, metrics, h.disconnect)
	h.presence = NewPresenceCoordinator(h.registry, h.state, h.fanout, metrics)
	return h
}

// Presence exposes the online lists for read-only consumers such as HTTP.
func (h *Hub) Presence() *PresenceState { return h.state }

// Metrics returns the hub's metric set.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// RunWithContext processes events until ctx is cancelled, then closes every
// connection and clears presence.
func (h *Hub) RunWithContext(ctx context.Context) error {
	select {
	case <-h.done:
		return errors.New("hub already stopped")
	default:
	}
	h.runCtx = ctx
	h.log.Info().Msg("hub started")
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-h.events:
			fn()
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
	closed := h.registry.Clear()
	h.state.Reset()
	h.lanes.wait()
	h.log.Info().Int("connections", closed).Msg("hub stopped")
}

// post queues fn for the hub goroutine. It returns false once the hub stopped.
func (h *Hub) post(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Call runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) Call(fn func()) bool {
	finished := make(chan struct{})
	if !h.post(func() {
		fn()
		close(finished)
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Register adds a connection whose outbound frames go to send.
func (h *Hub) Register(connID string, send chan []byte) bool {
	return h.post(func() {
		if h.registry.Get(connID) != nil {
			return
		}
		h.registry.Register(connID, send)
		h.metrics.IncConn()
		h.log.Debug().Str("conn", connID).Msg("connection registered")
	})
}

// Dispatch hands an inbound frame to the hub.
func (h *Hub) Dispatch(connID string, env protocol.Envelope) bool {
	return h.post(func() { h.dispatch(connID, env) })
}

// Disconnect disposes the connection. Safe to call more than once.
func (h *Hub) Disconnect(connID string) bool {
	return h.post(func() { h.disconnect(connID) })
}

func (h *Hub) disconnect(connID string) {
	conn := h.registry.Dispose(connID)
	if conn == nil {
		return
	}
	h.metrics.DecConn()
	h.limiter.Forget(connID)
	if conn.voiceChannel != "" {
		h.broadcastVoice(conn.voiceChannel, conn.voiceCommunity)
	}
	h.log.Debug().Str("conn", connID).Msg("connection disposed")
}

func (h *Hub) dispatch(connID string, env protocol.Envelope) {
	conn := h.registry.Get(connID)
	if conn == nil {
		return
	}
	h.metrics.InboundEvent(env.Event)
	switch env.Event {
	case protocol.EventAuthenticate:
		var identity protocol.Identity
		if err := env.Bind(&identity); err != nil {
			h.log.Warn().Err(err).Str("conn", connID).Msg("malformed identity")
			return
		}
		h.registry.AttachIdentity(connID, identity)
	case protocol.EventJoinCommunity:
		if communityID, ok := h.bindID(conn, env, "communityId"); ok {
			h.joinCommunity(conn, communityID)
		}
	case protocol.EventLeaveCommunity:
		if communityID, ok := h.bindID(conn, env, "communityId"); ok {
			h.registry.LeaveCommunity(connID, communityID)
		}
	case protocol.EventJoinChannel:
		if channelID, ok := h.bindID(conn, env, "channelId"); ok {
			h.registry.JoinChannelRoom(connID, channelID)
		}
	case protocol.EventLeaveChannel:
		if channelID, ok := h.bindID(conn, env, "channelId"); ok {
			h.registry.LeaveChannelRoom(connID, channelID)
		}
	case protocol.EventSendMessage:
		h.handleSend(conn, env)
	case protocol.EventEditMessage:
		h.handleEdit(conn, env)
	case protocol.EventDeleteMessage:
		h.handleDelete(conn, env)
	case protocol.EventTypingStart:
		h.relayTyping(conn, env, protocol.EventUserTyping)
	case protocol.EventTypingStop:
		h.relayTyping(conn, env, protocol.EventUserStoppedTyping)
	case protocol.EventJoinVoice:
		h.handleJoinVoice(conn, env)
	case protocol.EventLeaveVoice:
		h.handleLeaveVoice(conn, env)
	default:
		h.log.Debug().Str("conn", connID).Str("event", env.Event).Msg("unknown event")
	}
}

func (h *Hub) bindID(conn *Connection, env protocol.Envelope, field string) (string, bool) {
	id, err := env.BindString(field)
	if err != nil || id == "" {
		h.reject(conn.ID, &EventError{Op: env.Event, Kind: protocol.KindValidation, Message: field + " is required", Err: err}, errorRef{})
		return "", false
	}
	return id, true
}

func (h *Hub) joinCommunity(conn *Connection, communityID string) {
	h.registry.JoinCommunity(conn.ID, communityID)
	if conn.identity == nil {
		// Observers get the current list even though they do not change it.
		h.fanout.ToConnection(conn.ID, protocol.EventOnlineUsersUpdated, h.presence.Online(communityID))
	}
}

func (h *Hub) relayTyping(conn *Connection, env protocol.Envelope, event string) {
	var typing protocol.Typing
	if err := env.Bind(&typing); err != nil || typing.ChannelID == "" {
		h.log.Debug().Str("conn", conn.ID).Str("event", env.Event).Msg("dropping malformed typing event")
		return
	}
	if conn.identity == nil {
		h.log.Debug().Str("conn", conn.ID).Msg("dropping typing event from unauthenticated connection")
		return
	}
	h.fanout.ToRoomExceptSender(ChannelRoom(typing.ChannelID), event,
		protocol.Typing{ChannelID: typing.ChannelID, User: *conn.identity}, conn.ID)
}

// errorRef carries the request identifiers echoed back in an error event.
type errorRef struct {
	channelID string
	messageID string
	tempID    string
}

func (h *Hub) reject(connID string, err error, ref errorRef) {
	var eventErr *EventError
	if !errors.As(err, &eventErr) {
		eventErr = &EventError{Op: "unknown", Kind: protocol.KindPersistence, Message: "internal error", Err: err}
	}
	entry := h.log.Debug()
	if eventErr.Kind == protocol.KindPersistence {
		entry = h.log.Error()
	}
	entry.Err(eventErr.Err).Str("conn", connID).Str("op", eventErr.Op).Str("kind", string(eventErr.Kind)).Msg(eventErr.Message)

	payload := eventErr.payload()
	payload.ChannelID = ref.channelID
	payload.MessageID = ref.messageID
	payload.TempID = ref.tempID
	h.fanout.ToConnection(connID, protocol.EventError, payload)
}

// persist runs work on the lane for key with a bounded context and posts the
// returned completion back to the hub goroutine.
func (h *Hub) persist(key string, work func(ctx context.Context) func()) {
	parent := h.runCtx
	timeout := h.cfg.PersistTimeout
	h.lanes.submit(key, func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		complete := work(ctx)
		cancel()
		if complete != nil {
			h.post(complete)
		}
	})
}

func (h *Hub) allow(conn *Connection, op string, ref errorRef) bool {
	if h.limiter.Allow(conn.ID) {
		return true
	}
	h.metrics.MessageOp(op, string(protocol.KindRateLimited))
	h.reject(conn.ID, newEventError(op, protocol.KindRateLimited, "slow down"), ref)
	return false
}

func laneKey(channelID, fallback string) string {
	if channelID = strings.TrimSpace(channelID); channelID != "" {
		return channelID
	}
	return fallback
}
