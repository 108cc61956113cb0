package internal

import (
	"sync"

	"tubechat/internal/protocol"
)

// PresenceState holds the last computed online list per community. The Hub
// writes it; HTTP handlers read it, hence the lock.
type PresenceState struct {
	mu     sync.RWMutex
	online map[string][]protocol.Identity
}

func NewPresenceState() *PresenceState {
	return &PresenceState{online: make(map[string][]protocol.Identity)}
}

// Snapshot returns a copy of the online users for a community.
func (p *PresenceState) Snapshot(communityID string) []protocol.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := p.online[communityID]
	out := make([]protocol.Identity, len(users))
	copy(out, users)
	return out
}

// ActiveCount reports how many communities have someone online.
func (p *PresenceState) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

func (p *PresenceState) set(communityID string, users []protocol.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(users) == 0 {
		delete(p.online, communityID)
		return
	}
	p.online[communityID] = users
}

// Reset forgets all communities; used on shutdown.
func (p *PresenceState) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string][]protocol.Identity)
}

// PresenceCoordinator derives per-community online lists from the registry
// and broadcasts the full list to the community room.
type PresenceCoordinator struct {
	registry *Registry
	state    *PresenceState
	fanout   *Fanout
	metrics  *Metrics
}

func NewPresenceCoordinator(registry *Registry, state *PresenceState, fanout *Fanout, metrics *Metrics) *PresenceCoordinator {
	return &PresenceCoordinator{registry: registry, state: state, fanout: fanout, metrics: metrics}
}

// Online computes the deduplicated online list without broadcasting it.
func (pc *PresenceCoordinator) Online(communityID string) []protocol.Identity {
	return dedupeIdentities(pc.registry.Members(CommunityRoom(communityID)))
}

// Recompute refreshes the stored list and sends it to every room member.
func (pc *PresenceCoordinator) Recompute(communityID string) []protocol.Identity {
	users := pc.Online(communityID)
	pc.state.set(communityID, users)
	pc.metrics.PresenceRecomputed()
	pc.fanout.ToRoom(CommunityRoom(communityID), protocol.EventOnlineUsersUpdated, users)
	return users
}

// dedupeIdentities lists each user once in order of first appearance. When a
// user holds several connections the most recently attached profile wins.
// Connections without a usable identity are skipped.
func dedupeIdentities(conns []*Connection) []protocol.Identity {
	users := make([]protocol.Identity, 0, len(conns))
	index := make(map[string]int, len(conns))
	attached := make(map[string]uint64, len(conns))
	for _, conn := range conns {
		if conn.identity == nil || !conn.identity.Valid() {
			continue
		}
		id := conn.identity.ID
		pos, seen := index[id]
		if !seen {
			index[id] = len(users)
			attached[id] = conn.identitySeq
			users = append(users, *conn.identity)
			continue
		}
		if conn.identitySeq > attached[id] {
			attached[id] = conn.identitySeq
			users[pos] = *conn.identity
		}
	}
	return users
}
