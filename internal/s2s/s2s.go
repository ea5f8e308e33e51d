// Package s2s implements the TS6-style server-to-server link: the
// PASS/CAPAB/SERVER/SVINFO handshake, burst message construction, and
// nick/channel collision resolution. It mirrors the handshake and burst
// sequence of local_server.go/local_client.go, generalized onto the
// identity.ServerID/graph.UID value types instead of ad hoc string SIDs.
package s2s

import (
	"fmt"
	"strings"
	"time"

	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
)

// TSVersion is the TS protocol version this implementation speaks, sent in
// PASS and SVINFO.
const TSVersion = 6

// Phase is a step in the server-link handshake state machine.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseGotPASS
	PhaseGotCAPAB
	PhaseGotSERVER
	PhaseBursting
	PhaseLinked
)

// Handshake tracks one in-progress or completed server link negotiation,
// for either the initiating or the accepting side.
type Handshake struct {
	Phase Phase

	LocalSID   identity.ServerID
	PeerSID    identity.ServerID
	PeerName   string
	PeerHop    int
	PeerDesc   string
	PeerCapabs map[string]struct{}

	SentPASS   bool
	SentCAPAB  bool
	SentSERVER bool
	SentSVINFO bool

	GotPASS   bool
	GotCAPAB  bool
	GotSERVER bool
	GotSVINFO bool

	Bursting bool
}

// NewHandshake starts a fresh handshake for a link where we are the local
// server identified by localSID.
func NewHandshake(localSID identity.ServerID) *Handshake {
	return &Handshake{Phase: PhaseNone, LocalSID: localSID, PeerCapabs: map[string]struct{}{}}
}

// RequiredCapabs lists the CAPAB tokens this implementation requires of a
// peer to link, mirroring the teacher's intersection check in
// capabCommand (QS, ENCAP, EX, IE, KNOCK-like tokens vary by server
// software; this set is the minimum TS6 needs to route correctly).
var RequiredCapabs = []string{"QS", "ENCAP", "EUID", "TB"}

// SendIntro builds the outbound PASS/CAPAB/SERVER triplet to start a link,
// mirroring sendServerIntro.
func SendIntro(localSID identity.ServerID, serverName, password, description string, hopCount int) []ircmsg.Message {
	return []ircmsg.Message{
		{Command: "PASS", Params: []string{password, "TS", fmt.Sprintf("%d", TSVersion), localSID.SID}},
		{Command: "CAPAB", Params: []string{joinCapabs(RequiredCapabs)}},
		{Command: "SERVER", Params: []string{serverName, fmt.Sprintf("%d", hopCount), description}},
	}
}

// SendSVINFO builds the SVINFO line sent once SERVER has been exchanged.
func SendSVINFO(now time.Time) ircmsg.Message {
	return ircmsg.Message{
		Command: "SVINFO",
		Params:  []string{fmt.Sprintf("%d", TSVersion), fmt.Sprintf("%d", TSVersion), "0", fmt.Sprintf("%d", now.Unix())},
	}
}

func joinCapabs(capabs []string) string {
	return strings.Join(capabs, " ")
}

// HandlePASS processes an inbound PASS line during handshake. It returns
// the negotiated password/SID fields or an error if the format is wrong
// or PASS arrived twice (mirrors passCommand's "Double PASS" rejection).
func (h *Handshake) HandlePASS(params []string) (password string, peerSID identity.ServerID, err error) {
	if h.GotPASS {
		return "", identity.ServerID{}, fmt.Errorf("double PASS")
	}
	if len(params) < 4 {
		return "", identity.ServerID{}, fmt.Errorf("PASS: not enough parameters")
	}
	if params[1] != "TS" {
		return "", identity.ServerID{}, fmt.Errorf("PASS: unexpected format: %s", params[1])
	}
	// ServerID validation requires a name with a dot; the peer SID
	// arrives before its name does, so a placeholder name is used and only
	// the SID shape is validated here. HandleSERVER records the peer's
	// real name in PeerName.
	sid, err := identity.ParseServerID(params[3], "pending.peer")
	if err != nil {
		return "", identity.ServerID{}, fmt.Errorf("PASS: %v", err)
	}
	h.GotPASS = true
	h.Phase = PhaseGotPASS
	h.PeerSID = sid
	return params[0], sid, nil
}

// HandleCAPAB processes an inbound CAPAB line, requiring PASS to have
// already arrived (mirrors capabCommand's "PASS first" ordering rule).
func (h *Handshake) HandleCAPAB(params []string) error {
	if !h.GotPASS {
		return fmt.Errorf("CAPAB before PASS")
	}
	if len(params) < 1 {
		return fmt.Errorf("CAPAB: not enough parameters")
	}
	h.PeerCapabs = map[string]struct{}{}
	for _, tok := range strings.Fields(params[0]) {
		h.PeerCapabs[tok] = struct{}{}
	}
	for _, req := range RequiredCapabs {
		if _, ok := h.PeerCapabs[req]; !ok {
			return fmt.Errorf("peer missing required capability %s", req)
		}
	}
	h.GotCAPAB = true
	h.Phase = PhaseGotCAPAB
	return nil
}

// HandleSERVER processes an inbound SERVER line, requiring CAPAB first.
func (h *Handshake) HandleSERVER(params []string) error {
	if !h.GotCAPAB {
		return fmt.Errorf("SERVER before CAPAB")
	}
	if len(params) < 3 {
		return fmt.Errorf("SERVER: not enough parameters")
	}
	h.PeerName = params[0]
	hop := 0
	fmt.Sscanf(params[1], "%d", &hop)
	h.PeerHop = hop
	h.PeerDesc = params[2]
	h.GotSERVER = true
	h.Phase = PhaseGotSERVER
	return nil
}

// HandleSVINFO marks the handshake as ready to burst, the final step
// before sendBurst fires, mirroring the teacher's svinfoCommand.
func (h *Handshake) HandleSVINFO(params []string) error {
	if !h.GotSERVER {
		return fmt.Errorf("SVINFO before SERVER")
	}
	if len(params) < 4 {
		return fmt.Errorf("SVINFO: not enough parameters")
	}
	h.GotSVINFO = true
	h.Bursting = true
	h.Phase = PhaseBursting
	return nil
}

// FinishBurst transitions a bursting handshake into the steady Linked
// state, mirroring pingCommand's end-of-burst detection (a server expects
// a PING from its peer as the burst-end signal).
func (h *Handshake) FinishBurst() {
	h.Bursting = false
	h.Phase = PhaseLinked
}
