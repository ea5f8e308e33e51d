package s2s

import (
	"testing"
	"time"

	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSequenceOrdering(t *testing.T) {
	h := NewHandshake(identity.ServerID{SID: "001", Name: "irc.example.org"})

	err := h.HandleCAPAB([]string{"QS ENCAP EUID TB"})
	require.Error(t, err, "CAPAB before PASS must fail")

	_, _, err = h.HandlePASS([]string{"sekrit", "TS", "6", "002"})
	require.NoError(t, err)
	assert.Equal(t, PhaseGotPASS, h.Phase)

	_, _, err = h.HandlePASS([]string{"sekrit", "TS", "6", "002"})
	require.Error(t, err, "double PASS must fail")
}

func TestHandshakeRequiresCapabs(t *testing.T) {
	h := NewHandshake(identity.ServerID{SID: "001", Name: "irc.example.org"})
	_, _, _ = h.HandlePASS([]string{"sekrit", "TS", "6", "002"})

	err := h.HandleCAPAB([]string{"QS ENCAP"})
	require.Error(t, err)

	err = h.HandleCAPAB([]string{"QS ENCAP EUID TB"})
	require.NoError(t, err)
	assert.Equal(t, PhaseGotCAPAB, h.Phase)
}

func TestHandshakeFullSequence(t *testing.T) {
	h := NewHandshake(identity.ServerID{SID: "001", Name: "irc.example.org"})
	_, _, _ = h.HandlePASS([]string{"sekrit", "TS", "6", "002"})
	require.NoError(t, h.HandleCAPAB([]string{"QS ENCAP EUID TB"}))
	require.NoError(t, h.HandleSERVER([]string{"peer.example.org", "1", "a peer"}))
	assert.Equal(t, PhaseGotSERVER, h.Phase)

	require.NoError(t, h.HandleSVINFO([]string{"6", "6", "0", "1234567890"}))
	assert.Equal(t, PhaseBursting, h.Phase)
	assert.True(t, h.Bursting)

	h.FinishBurst()
	assert.Equal(t, PhaseLinked, h.Phase)
	assert.False(t, h.Bursting)
}

func TestSendIntroProducesPassCapabServer(t *testing.T) {
	msgs := SendIntro(identity.ServerID{SID: "001", Name: "irc.example.org"}, "irc.example.org", "sekrit", "test server", 0)
	require.Len(t, msgs, 3)
	assert.Equal(t, "PASS", msgs[0].Command)
	assert.Equal(t, "CAPAB", msgs[1].Command)
	assert.Equal(t, "SERVER", msgs[2].Command)
}

func TestResolveNickCollisionOlderWins(t *testing.T) {
	assert.Equal(t, KillIncoming, ResolveNickCollision(100, 200))
	assert.Equal(t, KillExisting, ResolveNickCollision(200, 100))
	assert.Equal(t, KillBoth, ResolveNickCollision(100, 100))
}

func TestResolveChannelCollision(t *testing.T) {
	assert.Equal(t, KeepExistingModes, ResolveChannelCollision(100, 200))
	assert.Equal(t, KeepIncomingModes, ResolveChannelCollision(200, 100))
	assert.Equal(t, MergeModes, ResolveChannelCollision(100, 100))
}

func TestTopologyCascadeOnNetsplit(t *testing.T) {
	top := NewTopology()
	hub := identity.ServerID{SID: "002", Name: "hub.example.org"}
	leaf1 := identity.ServerID{SID: "003", Name: "leaf1.example.org"}
	leaf2 := identity.ServerID{SID: "004", Name: "leaf2.example.org"}

	top.AddDirect(hub)
	top.AddIndirect(leaf1, hub, 2)
	top.AddIndirect(leaf2, hub, 2)

	lost := top.RemoveCascade(hub)
	assert.ElementsMatch(t, []identity.ServerID{hub, leaf1, leaf2}, lost)
	assert.False(t, top.Known(hub))
	assert.False(t, top.Known(leaf1))
}

func TestTopologyNextHop(t *testing.T) {
	top := NewTopology()
	hub := identity.ServerID{SID: "002", Name: "hub.example.org"}
	leaf := identity.ServerID{SID: "003", Name: "leaf.example.org"}
	top.AddDirect(hub)
	top.AddIndirect(leaf, hub, 2)

	via, ok := top.NextHop(leaf)
	require.True(t, ok)
	assert.Equal(t, hub, via)

	_, ok = top.NextHop(identity.ServerID{SID: "999"})
	assert.False(t, ok)
}

func TestBuildBurstEmitsEUIDAndSJOIN(t *testing.T) {
	users := []BurstUser{{UID: "001AAAAAA", Nick: "alice", NickTS: time.Now().Unix(), Username: "a", DisplayHost: "h", RealHost: "h", IP: "0", ModeString: "i", RealName: "Alice"}}
	channels := []BurstChannel{{Name: "#lobby", TS: time.Now().Unix(), ModeString: "nt", Members: map[graph.UID]string{"001AAAAAA": "@"}}}

	msgs := BuildBurst("001", users, channels)
	require.Len(t, msgs, 2)
	assert.Equal(t, "EUID", msgs[0].Command)
	assert.Equal(t, "SJOIN", msgs[1].Command)
}
