package main

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/brudvik/hugin-ircd/internal/config"
	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/brudvik/hugin-ircd/internal/s2s"
)

// serverLink tracks one in-progress or established peer connection,
// separate from connState's client-registration bookkeeping. A
// connection only becomes a serverLink once its first line is a
// TS6-shaped PASS, mirroring the teacher's single listening port
// disambiguating clients from servers by their opening command.
type serverLink struct {
	connID    string
	name      string
	handshake *s2s.Handshake
}

// isServerIntro reports whether msg looks like the opening PASS of a
// TS6 server link rather than a client command.
func isServerIntro(msg ircmsg.Message) bool {
	return msg.Command == "PASS" && len(msg.Params) >= 4 && msg.Params[1] == "TS"
}

// onServerLine drives one peer connection's handshake and burst
// handling, mirroring passCommand/capabCommand/serverCommand/
// svinfoCommand/sendBurst's responsibilities but collapsed into a
// single dispatch switch over internal/s2s's pure state machine.
func (h *Hub) onServerLine(link *serverLink, msg ircmsg.Message) {
	st := h.conns[link.connID]
	if st == nil {
		return
	}

	switch msg.Command {
	case "PASS":
		if _, _, err := link.handshake.HandlePASS(msg.Params); err != nil {
			h.rejectLink(link, err)
			return
		}
	case "CAPAB":
		if err := link.handshake.HandleCAPAB(msg.Params); err != nil {
			h.rejectLink(link, err)
			return
		}
	case "SERVER":
		if err := link.handshake.HandleSERVER(msg.Params); err != nil {
			h.rejectLink(link, err)
			return
		}
		link.name = link.handshake.PeerName
	case "SVINFO":
		if err := link.handshake.HandleSVINFO(msg.Params); err != nil {
			h.rejectLink(link, err)
			return
		}
		for _, m := range h.localBurst() {
			st.conn.Enqueue(m)
		}
	case "EUID":
		h.applyEUID(link, msg)
	case "SJOIN":
		h.applySJOIN(link, msg)
	case "PING":
		if link.handshake.Bursting {
			link.handshake.FinishBurst()
			h.Topology.AddDirect(link.handshake.PeerSID)
			h.Log.WithField("peer", link.name).Info("server link established")
		}
		st.conn.Enqueue(ircmsg.Message{Command: "PONG", Params: []string{h.Config.ServerName}})
	case "SQUIT":
		h.handleSquit(link)
	}
}

func (h *Hub) rejectLink(link *serverLink, err error) {
	st := h.conns[link.connID]
	if st != nil {
		st.conn.Enqueue(ircmsg.Message{Command: "ERROR", Params: []string{err.Error()}})
	}
	h.onDead(link.connID, err)
	delete(h.serverLinks, link.connID)
}

// localBurst renders every currently-known local user as an EUID line for
// a newly linked peer. Channels are not included: no SJOIN lines are sent.
func (h *Hub) localBurst() []ircmsg.Message {
	var users []s2s.BurstUser
	for _, st := range h.conns {
		if st.user == nil {
			continue
		}
		u := st.user
		users = append(users, s2s.BurstUser{
			UID:         u.UID,
			Nick:        u.Nick.String(),
			NickTS:      u.NickTS,
			Username:    u.Username,
			DisplayHost: u.DisplayHost,
			RealHost:    u.RealHost,
			IP:          u.IP,
			Account:     u.Account,
			RealName:    u.RealName,
			OnServerSID: h.Config.TS6SID,
		})
	}
	return s2s.BuildBurst(h.Config.TS6SID, users, nil)
}

// applyEUID admits a remote user announced by a peer's burst into the
// shared graph, mirroring uidCommand/euidCommand's user-creation path. A
// nick already in use is resolved here with ResolveNickCollision, and the
// losing side is removed from the graph. The user is recorded as hosted by
// the server named in the message source.
func (h *Hub) applyEUID(link *serverLink, msg ircmsg.Message) {
	if len(msg.Params) < 10 {
		return
	}
	nick, err := identity.ParseNickname(msg.Params[0])
	if err != nil {
		return
	}
	nickTS, _ := strconv.ParseInt(msg.Params[2], 10, 64)

	u := &graph.User{
		UID:         graph.UID(msg.Params[7]),
		Nick:        nick,
		NickTS:      nickTS,
		Username:    msg.Params[4],
		DisplayHost: msg.Params[5],
		RealHost:    msg.Params[8],
		IP:          msg.Params[6],
		Account:     msg.Params[9],
		RealName:    msg.Params[len(msg.Params)-1],
		ServerSID:   msg.Source,
	}

	if existing := h.Graph.UserByNick(nick); existing != nil {
		switch s2s.ResolveNickCollision(existing.NickTS, u.NickTS) {
		case s2s.KillExisting:
			h.Graph.Quit(existing.UID)
		case s2s.KillBoth:
			h.Graph.Quit(existing.UID)
			return
		case s2s.KillIncoming:
			return
		}
	}
	_ = h.Graph.AddUser(u)
}

// applySJOIN admits the members listed in a peer's SJOIN to the named
// channel through Graph.Join, the membership half of sjoinCommand. The
// channel-TS comparison result is not acted on: the SJOIN's modes and the
// members' status prefixes are discarded, and a channel not yet known
// locally is created with the local time as its TS.
func (h *Hub) applySJOIN(link *serverLink, msg ircmsg.Message) {
	if len(msg.Params) < 4 {
		return
	}
	name, err := identity.ParseChannelName(msg.Params[1])
	if err != nil {
		return
	}
	incomingTS, _ := strconv.ParseInt(msg.Params[0], 10, 64)

	existing := h.Graph.Channel(name)
	if existing != nil {
		s2s.ResolveChannelCollision(existing.TS, incomingTS)
	}

	for _, tok := range strings.Fields(msg.Params[len(msg.Params)-1]) {
		uid := tok
		for len(uid) > 0 && (uid[0] == '@' || uid[0] == '+' || uid[0] == '%' || uid[0] == '&' || uid[0] == '~') {
			uid = uid[1:]
		}
		u := h.Graph.UserByUID(graph.UID(uid))
		if u == nil {
			continue
		}
		_, _, _, _ = h.Graph.Join(u, name, graph.JoinOptions{})
	}
}

// handleSquit tears down every user the split partitioned away from us:
// each cascaded SID's locally-hosted-but-remote users are removed from the
// graph and their channel co-members notified with a netsplit QUIT, mirroring
// how a real link drop is visible to clients as a wave of QUITs rather than
// a silent disappearance.
func (h *Hub) handleSquit(link *serverLink) {
	lost := h.Topology.RemoveCascade(link.handshake.PeerSID)
	h.Log.WithField("peer", link.name).WithField("cascade", len(lost)).Warn("server link split")

	for _, sid := range lost {
		for _, u := range h.Graph.UsersOnServer(sid.SID) {
			folds := h.Graph.Quit(u.UID)
			h.notifyQuit(u, folds, "*.net *.split")
			delete(h.uidConn, u.UID)
		}
	}

	delete(h.serverLinks, link.connID)
}

// ConnectLinks dials every auto-connect peer configured in cfg.Links and
// starts its handshake, mirroring the teacher's active-connect side of
// server linking.
func (h *Hub) ConnectLinks() {
	for name, link := range h.Config.Links {
		if !link.AutoConnect {
			continue
		}
		go h.dialLink(name, link)
	}
}

func (h *Hub) dialLink(name string, link config.LinkConfig) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(link.Hostname, link.Port), 10*time.Second)
	if err != nil {
		h.Log.WithError(err).WithField("link", name).Warn("failed to connect to peer")
		return
	}
	h.events <- hubEvent{kind: eventNewConn, conn: conn}
	intro := s2s.SendIntro(identity.ServerID{SID: h.Config.TS6SID}, h.Config.ServerName, link.SendPass, h.Config.ServerInfo, 1)
	for _, m := range intro {
		_, _ = conn.Write([]byte(m.Encode()))
	}
}
