package internal

import (
	"sort"

	"tubechat/internal/logging"
	"tubechat/internal/protocol"
)

// CommunityRoom and ChannelRoom name the broadcast rooms.
func CommunityRoom(communityID string) string { return "community:" + communityID }
func ChannelRoom(channelID string) string     { return "channel:" + channelID }

// Connection is the server-side record of one open socket. It is owned by the
// Hub goroutine; nothing else reads or writes it.
type Connection struct {
	ID string

	send        chan []byte
	seq         uint64
	identity    *protocol.Identity
	identitySeq uint64
	community   string
	channels    map[string]struct{}

	voiceChannel   string
	voiceCommunity string
}

// Identity returns the attached identity, or nil before authenticate.
func (c *Connection) Identity() *protocol.Identity { return c.identity }

// Community returns the joined community id, or "".
func (c *Connection) Community() string { return c.community }

// Registry tracks live connections and the rooms they joined.
type Registry struct {
	conns    map[string]*Connection
	rooms    map[string]map[string]*Connection
	seq      uint64
	identity uint64

	// onPresence is called with a community id whenever its online set may change.
	onPresence func(communityID string)
}

func NewRegistry(onPresence func(communityID string)) *Registry {
	if onPresence == nil {
		onPresence = func(string) {}
	}
	return &Registry{
		conns:      make(map[string]*Connection),
		rooms:      make(map[string]map[string]*Connection),
		onPresence: onPresence,
	}
}

// Register creates an empty connection record. Registering a known id
// returns the existing record.
func (r *Registry) Register(id string, send chan []byte) *Connection {
	if conn, ok := r.conns[id]; ok {
		return conn
	}
	r.seq++
	conn := &Connection{
		ID:       id,
		send:     send,
		seq:      r.seq,
		channels: make(map[string]struct{}),
	}
	r.conns[id] = conn
	return conn
}

// Get returns the connection or nil.
func (r *Registry) Get(id string) *Connection {
	return r.conns[id]
}

// Len reports the number of live connections.
func (r *Registry) Len() int { return len(r.conns) }

// AttachIdentity sets or replaces the identity of a connection. An identity
// without a user id is logged and ignored.
func (r *Registry) AttachIdentity(id string, identity protocol.Identity) bool {
	conn := r.conns[id]
	if conn == nil {
		return false
	}
	if !identity.Valid() {
		logging.Warn().Str("conn", id).Str("username", identity.Username).Msg("ignoring identity without user id")
		return false
	}
	r.identity++
	copied := identity
	conn.identity = &copied
	conn.identitySeq = r.identity
	if conn.community != "" {
		r.onPresence(conn.community)
	}
	return true
}

// JoinCommunity moves the connection into the community room, leaving any
// previously joined community. It reports whether membership changed.
func (r *Registry) JoinCommunity(id, communityID string) bool {
	conn := r.conns[id]
	if conn == nil || communityID == "" || conn.community == communityID {
		return false
	}
	previous := conn.community
	if previous != "" {
		r.removeFromRoom(CommunityRoom(previous), conn)
	}
	conn.community = communityID
	r.addToRoom(CommunityRoom(communityID), conn)
	if conn.identity != nil {
		if previous != "" {
			r.onPresence(previous)
		}
		r.onPresence(communityID)
	}
	return true
}

// LeaveCommunity removes membership if the connection belonged to communityID.
func (r *Registry) LeaveCommunity(id, communityID string) bool {
	conn := r.conns[id]
	if conn == nil || conn.community == "" || conn.community != communityID {
		return false
	}
	r.removeFromRoom(CommunityRoom(communityID), conn)
	conn.community = ""
	r.onPresence(communityID)
	return true
}

func (r *Registry) JoinChannelRoom(id, channelID string) bool {
	conn := r.conns[id]
	if conn == nil || channelID == "" {
		return false
	}
	conn.channels[channelID] = struct{}{}
	r.addToRoom(ChannelRoom(channelID), conn)
	return true
}

func (r *Registry) LeaveChannelRoom(id, channelID string) bool {
	conn := r.conns[id]
	if conn == nil {
		return false
	}
	if _, ok := conn.channels[channelID]; !ok {
		return false
	}
	delete(conn.channels, channelID)
	r.removeFromRoom(ChannelRoom(channelID), conn)
	return true
}

// Dispose drops every trace of the connection and closes its send queue.
// A second call for the same id does nothing and returns nil.
func (r *Registry) Dispose(id string) *Connection {
	conn := r.conns[id]
	if conn == nil {
		return nil
	}
	delete(r.conns, id)
	for channelID := range conn.channels {
		r.removeFromRoom(ChannelRoom(channelID), conn)
	}
	community := conn.community
	if community != "" {
		r.removeFromRoom(CommunityRoom(community), conn)
		conn.community = ""
	}
	conn.channels = nil
	close(conn.send)
	if community != "" {
		r.onPresence(community)
	}
	return conn
}

// Clear closes every connection without presence side effects and returns
// how many there were. Used on shutdown.
func (r *Registry) Clear() int {
	count := len(r.conns)
	for _, conn := range r.conns {
		close(conn.send)
	}
	r.conns = make(map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	return count
}

// Members returns the connections in a room ordered by registration.
func (r *Registry) Members(room string) []*Connection {
	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// All returns every live connection ordered by registration.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) addToRoom(room string, conn *Connection) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[conn.ID] = conn
}

func (r *Registry) removeFromRoom(room string, conn *Connection) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, conn.ID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
