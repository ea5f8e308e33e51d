package s2s

import (
	"sync"

	"github.com/brudvik/hugin-ircd/internal/identity"
)

// PeerLink is one directly or transitively known server in the mesh.
type PeerLink struct {
	SID      identity.ServerID
	ViaSID   identity.ServerID // the directly-connected neighbour this peer is reached through; equals SID if direct
	HopCount int
}

// Topology is the hop-by-hop routing table: which directly connected
// neighbour to forward a message to in order to reach a given SID, and
// the cascade of servers lost when a link to a neighbour drops (SQUIT).
type Topology struct {
	mu    sync.RWMutex
	peers map[string]PeerLink // keyed by SID.SID
}

// NewTopology returns an empty routing table.
func NewTopology() *Topology {
	return &Topology{peers: map[string]PeerLink{}}
}

// AddDirect registers a directly connected peer.
func (t *Topology) AddDirect(sid identity.ServerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[sid.SID] = PeerLink{SID: sid, ViaSID: sid, HopCount: 1}
}

// AddIndirect registers a peer reached transitively through via, at
// hopCount hops, as introduced by that peer's own SID burst line.
func (t *Topology) AddIndirect(sid, via identity.ServerID, hopCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[sid.SID] = PeerLink{SID: sid, ViaSID: via, HopCount: hopCount}
}

// NextHop returns the directly connected neighbour to forward a message
// toward sid through, or false if sid is unknown.
func (t *Topology) NextHop(sid identity.ServerID) (identity.ServerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	link, ok := t.peers[sid.SID]
	if !ok {
		return identity.ServerID{}, false
	}
	return link.ViaSID, true
}

// Remove drops sid from the table.
func (t *Topology) Remove(sid identity.ServerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, sid.SID)
}

// Cascade returns every peer (including lostNeighbour itself) that is
// reached via lostNeighbour, the set that must be torn down when the
// direct link to lostNeighbour drops — the netsplit fan-out mirroring
// serverSplitCleanUp's closure over "servers reached via this link".
func (t *Topology) Cascade(lostNeighbour identity.ServerID) []identity.ServerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []identity.ServerID
	for _, link := range t.peers {
		if link.ViaSID.SID == lostNeighbour.SID {
			out = append(out, link.SID)
		}
	}
	return out
}

// RemoveCascade removes lostNeighbour and every peer reached through it
// from the table, returning the removed set for the caller to use when
// emitting QUITs for every user on those servers.
func (t *Topology) RemoveCascade(lostNeighbour identity.ServerID) []identity.ServerID {
	lost := t.Cascade(lostNeighbour)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sid := range lost {
		delete(t.peers, sid.SID)
	}
	return lost
}

// Known reports whether sid is in the routing table.
func (t *Topology) Known(sid identity.ServerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[sid.SID]
	return ok
}
