package internal

import (
	"tubechat/internal/logging"
	"tubechat/internal/protocol"
)

// Fanout delivers encoded events to room members. A member whose send queue
// is full is evicted once the delivery loop is done.
type Fanout struct {
	registry *Registry
	metrics  *Metrics
	evict    func(connID string)
}

func NewFanout(registry *Registry, metrics *Metrics, evict func(connID string)) *Fanout {
	return &Fanout{registry: registry, metrics: metrics, evict: evict}
}

// ToRoom sends to every member, the originator included.
func (f *Fanout) ToRoom(room, event string, payload any) {
	f.deliver(room, event, payload, "")
}

// ToRoomExceptSender skips the originating connection.
func (f *Fanout) ToRoomExceptSender(room, event string, payload any, senderID string) {
	f.deliver(room, event, payload, senderID)
}

// ToConnection sends to one connection if it is still registered.
func (f *Fanout) ToConnection(connID, event string, payload any) {
	conn := f.registry.Get(connID)
	if conn == nil {
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	if !f.offer(conn, frame) {
		f.drop([]string{conn.ID})
	}
}

func (f *Fanout) deliver(room, event string, payload any, skip string) {
	members := f.registry.Members(room)
	if len(members) == 0 {
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Str("room", room).Msg("encode event")
		return
	}
	var slow []string
	for _, conn := range members {
		if conn.ID == skip {
			continue
		}
		if !f.offer(conn, frame) {
			slow = append(slow, conn.ID)
		}
	}
	f.metrics.Broadcast(event)
	f.drop(slow)
}

func (f *Fanout) offer(conn *Connection, frame []byte) bool {
	select {
	case conn.send <- frame:
		return true
	default:
		return false
	}
}

func (f *Fanout) drop(ids []string) {
	for _, id := range ids {
		logging.Warn().Str("conn", id).Msg("evicting slow consumer")
		f.metrics.SlowConsumerEvicted()
		if f.evict != nil {
			f.evict(id)
		}
	}
}
