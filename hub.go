package main

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brudvik/hugin-ircd/internal/broker"
	"github.com/brudvik/hugin-ircd/internal/capability"
	"github.com/brudvik/hugin-ircd/internal/cloak"
	"github.com/brudvik/hugin-ircd/internal/config"
	"github.com/brudvik/hugin-ircd/internal/connio"
	"github.com/brudvik/hugin-ircd/internal/dispatch"
	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/brudvik/hugin-ircd/internal/metrics"
	"github.com/brudvik/hugin-ircd/internal/ratelimit"
	"github.com/brudvik/hugin-ircd/internal/s2s"
	"github.com/brudvik/hugin-ircd/internal/store"
	"github.com/sirupsen/logrus"
)

// connState is the per-connection registration-phase state machine,
// generalizing the teacher's LocalClient/LocalUser split into one struct
// that tracks where a connection is between accept and full registration.
type connState struct {
	id       string
	conn     *connio.Conn
	remoteIP net.IP
	caps     *capability.Set
	sasl     *capability.Session
	limiter  *ratelimit.CommandLimiter

	gotNick bool
	gotUser bool
	capNeg  bool
	user    *graph.User

	// pendingNick/pendingUsername/pendingRealName accumulate across
	// separate NICK/USER lines until both halves are present; account
	// accumulates an AUTHENTICATE success that may arrive before
	// registration completes, to be applied to the User once constructed.
	pendingNick     string
	pendingUsername string
	pendingRealName string
	account         string

	lastActivity time.Time
	lastErr      error
}

func (c *connState) registered() bool { return c.gotNick && c.gotUser && c.user != nil }

// hubEvent is the single shape fed into the event loop, mirroring the
// teacher's Event{Type, Client, Message} union, generalized to carry
// either a new connection, a dead connection, a parsed line, or a timer
// tick.
type hubEvent struct {
	kind   eventKind
	connID string
	conn   net.Conn
	msg    ircmsg.Message
	err    error
}

type eventKind int

const (
	eventNewConn eventKind = iota
	eventLine
	eventDead
	eventTick
)

// Hub owns every piece of shared mutable state and is the only goroutine
// allowed to touch it, mirroring the teacher's single-event-loop-owns-
// everything design (ircd.go's start() select loop, generalized with a
// typed event union instead of four separate channels).
type Hub struct {
	Config *config.Config
	Log    *logrus.Entry

	Graph       *graph.Graph
	Broker      *broker.Broker
	Registry    *dispatch.Registry
	Store       store.Store
	Cloaker     *cloak.Cloaker
	Metrics     metrics.Sink
	Topology    *s2s.Topology
	ConnLimiter *ratelimit.ConnectionLimiter

	conns       map[string]*connState
	serverLinks map[string]*serverLink
	uidConn     map[graph.UID]string

	events chan hubEvent

	WG           sync.WaitGroup
	ShutdownChan chan struct{}

	nextID uint64
	idMu   sync.Mutex
}

// NewHub constructs a Hub ready to Start, wiring every internal package
// with a dependency on shared config.
func NewHub(cfg *config.Config, log *logrus.Entry, st store.Store, sink metrics.Sink) *Hub {
	registry := dispatch.NewRegistry()
	dispatch.RegisterBuiltins(registry)

	return &Hub{
		Config:       cfg,
		Log:          log,
		Graph:        graph.New(),
		Broker:       broker.New(),
		Registry:     registry,
		Store:        st,
		Cloaker:      cloak.New([]byte(cfg.CloakSecret), cfg.CloakSuffix),
		Metrics:      sink,
		Topology:     s2s.NewTopology(),
		ConnLimiter:  ratelimit.NewConnectionLimiter(ratelimit.Config{RatePerSecond: 1, Burst: 5}),
		conns:        map[string]*connState{},
		serverLinks:  map[string]*serverLink{},
		uidConn:      map[graph.UID]string{},
		events:       make(chan hubEvent, 256),
		ShutdownChan: make(chan struct{}),
	}
}

func (h *Hub) nextConnID() string {
	h.idMu.Lock()
	defer h.idMu.Unlock()
	h.nextID++
	return "c" + itoa64(h.nextID)
}

// nextUID mints a TS6 user id: the server's own SID followed by six
// base-36 characters from an ever-increasing counter, unique network-wide
// as long as no other server reuses this server's SID.
func (h *Hub) nextUID() graph.UID {
	h.idMu.Lock()
	defer h.idMu.Unlock()
	h.nextID++
	return graph.UID(h.Config.TS6SID + uidSuffix(h.nextID))
}

const uidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func uidSuffix(n uint64) string {
	buf := [6]byte{'A', 'A', 'A', 'A', 'A', 'A'}
	for i := 5; i >= 0 && n > 0; i-- {
		buf[i] = uidAlphabet[n%uint64(len(uidAlphabet))]
		n /= uint64(len(uidAlphabet))
	}
	return string(buf[:])
}

// resolveRecipient maps a graph.UID to the broker.Recipient needed to reach
// it, for handlers building their own channel fan-out lists. Only local
// connections resolve; remote users (known only via EUID burst) have no
// local connio.Conn to enqueue onto.
func (h *Hub) resolveRecipient(uid graph.UID) (broker.Recipient, bool) {
	connID, ok := h.uidConn[uid]
	if !ok {
		return broker.Recipient{}, false
	}
	st, ok := h.conns[connID]
	if !ok {
		return broker.Recipient{}, false
	}
	return broker.Recipient{
		ConnID:         connID,
		HasServerTime:  st.caps.Has(capability.ServerTime),
		HasEchoMessage: st.caps.Has(capability.EchoMessage),
	}, true
}

// bindAccount records a completed SASL login on the connection and, once a
// User exists, on the graph and broker account index too.
func (h *Hub) bindAccount(st *connState, account string) {
	st.account = account
	if st.user != nil {
		st.user.Account = account
		h.Broker.BindAccount(account, st.id)
	}
}

func itoa64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Listen starts accepting TCP connections on the configured host/port.
func (h *Hub) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(h.Config.ListenHost, h.Config.ListenPort))
	if err != nil {
		return err
	}
	h.WG.Add(1)
	go h.acceptLoop(ln)
	return nil
}

func (h *Hub) acceptLoop(ln net.Listener) {
	defer h.WG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.ShutdownChan:
				return
			default:
				h.Log.WithError(err).Warn("accept failed")
				continue
			}
		}
		h.events <- hubEvent{kind: eventNewConn, conn: conn}
	}
}

// Run is the single owning goroutine for all shared state. It must be
// called on its own goroutine; every mutation of Graph/Broker/conns
// happens here and nowhere else.
func (h *Hub) Run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)
		case <-ticker.C:
			h.checkIdleConnections()
		case <-h.ShutdownChan:
			return
		}
	}
}

func (h *Hub) handleEvent(ev hubEvent) {
	switch ev.kind {
	case eventNewConn:
		h.onNewConn(ev.conn)
	case eventLine:
		h.onLine(ev.connID, ev.msg)
	case eventDead:
		h.onDead(ev.connID, ev.err)
	}
}

func (h *Hub) onNewConn(conn net.Conn) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	ip := net.IPv4zero
	if ok {
		ip = tcpAddr.IP
	}
	if !h.ConnLimiter.Allow(ip.String()) {
		_ = conn.Close()
		h.Metrics.IncRateLimitDrops()
		return
	}

	id := h.nextConnID()
	c := connio.New(id, conn, h.Config.Limits.PingTimeout, h.Log,
		func(connID string, msg ircmsg.Message) { h.events <- hubEvent{kind: eventLine, connID: connID, msg: msg} },
		func(connID string, err error) { h.events <- hubEvent{kind: eventDead, connID: connID, err: err} },
	)
	st := &connState{
		id:           id,
		conn:         c,
		remoteIP:     ip,
		caps:         capability.NewSet(),
		limiter:      ratelimit.NewCommandLimiter(ratelimit.Config{RatePerSecond: 2, Burst: 10}, ratelimit.DefaultFloodPolicy),
		lastActivity: time.Now(),
	}
	h.conns[id] = st
	h.Broker.Register(id, c)
	h.Metrics.IncConnections()
	c.Start(h.ShutdownChan)
}

func (h *Hub) onDead(connID string, err error) {
	st, ok := h.conns[connID]
	if !ok {
		return
	}
	st.lastErr = err
	if st.user != nil {
		reason := h.errorToQuitMessage(st.lastErr)
		folds := h.Graph.Quit(st.user.UID)
		h.notifyQuit(st.user, folds, reason)
		delete(h.uidConn, st.user.UID)
		h.Log.WithField("nick", st.user.Nick.String()).Info(reason)
	}
	delete(h.conns, connID)
	delete(h.serverLinks, connID)
	h.Broker.Unregister(connID)
	h.Metrics.DecConnections()
}

// notifyQuit fans a QUIT out to every local connection still sharing a
// channel with u, for a disconnect or netsplit-cascade removal. folds is
// the set u's removal from the graph returned; any channel already
// destroyed as a result (because u was its last member) naturally yields
// no recipients when looked up, since nobody else is left to notify.
func (h *Hub) notifyQuit(u *graph.User, folds []string, reason string) {
	quitMsg := ircmsg.Message{Source: u.NickUhost(), Command: "QUIT", Params: []string{reason}}
	notified := map[graph.UID]struct{}{}
	for _, fold := range folds {
		ch := h.Graph.ChannelByFold(fold)
		if ch == nil {
			continue
		}
		for _, m := range h.Graph.Members(ch) {
			if _, dup := notified[m.UID]; dup {
				continue
			}
			notified[m.UID] = struct{}{}
			if r, ok := h.resolveRecipient(m.UID); ok {
				h.Broker.SendToConnection(r.ConnID, quitMsg)
			}
		}
	}
}

// errorToQuitMessage turns a connection's terminal I/O error into the
// reason reported in its QUIT, mirroring the teacher's distinction
// between an ordinary timeout, a reset, and an unclassified I/O error.
func (h *Hub) errorToQuitMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "I/O error"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"):
		return "Ping timeout: " + itoa64(uint64(h.Config.Limits.PingTimeout/time.Second)) + " seconds"
	case strings.Contains(msg, "connection reset by peer"):
		return "Connection reset by peer"
	default:
		return msg
	}
}

func (h *Hub) onLine(connID string, msg ircmsg.Message) {
	st, ok := h.conns[connID]
	if !ok {
		return
	}
	st.lastActivity = time.Now()

	if link, linked := h.serverLinks[connID]; linked {
		h.onServerLine(link, msg)
		return
	}
	if !st.registered() && isServerIntro(msg) {
		link := &serverLink{connID: connID, handshake: s2s.NewHandshake(identity.ServerID{SID: h.Config.TS6SID})}
		h.serverLinks[connID] = link
		h.onServerLine(link, msg)
		return
	}

	ctx := &dispatch.Context{
		Graph:          h.Graph,
		Broker:         h.Broker,
		Caps:           st.caps,
		ConnID:         connID,
		ServerName:     h.Config.ServerName,
		ServerInfo:     h.Config.ServerInfo,
		Network:        h.Config.Network,
		Version:        h.Config.Version,
		MOTD:           h.Config.MOTD,
		User:           st.user,
		Registered:     st.registered(),
		Resolve:        h.resolveRecipient,
		SASLSession:    st.sasl,
		SASLStore:      h.Store,
		SetSASLSession: func(s *capability.Session) { st.sasl = s },
		BindAccount:    func(account string) { h.bindAccount(st, account) },
	}
	if st.user != nil {
		ctx.IsOperator = st.user.IsOperator()
	}

	replies, err := dispatch.Dispatch(h.Registry, st.limiter, ctx, msg, time.Now())
	if err != nil {
		if ne, ok := err.(*dispatch.NumericError); ok {
			st.conn.Enqueue(ircmsg.Message{Source: h.Config.ServerName, Command: itoa64(uint64(ne.Numeric)), Params: []string{"*", ne.Text}})
		}
		return
	}
	h.Metrics.IncCommandsDispatched(msg.Command)

	for _, r := range replies {
		st.conn.Enqueue(r)
	}

	h.maybeCompleteRegistration(st, ctx, msg)
}

// maybeCompleteRegistration promotes a connection to Registered once NICK
// and USER have both been seen and any in-progress CAP negotiation has
// ended, mirroring §4.C's registration-phase state machine. The pending
// nick/username/realname a handler stashed on ctx this call are persisted
// onto the connection's longer-lived state, since a fresh Context is built
// for every line.
func (h *Hub) maybeCompleteRegistration(st *connState, ctx *dispatch.Context, msg ircmsg.Message) {
	if ctx.PendingNick != "" {
		st.pendingNick = ctx.PendingNick
	}
	if ctx.PendingUsername != "" {
		st.pendingUsername = ctx.PendingUsername
		st.pendingRealName = ctx.PendingRealName
	}

	switch msg.Command {
	case "NICK":
		st.gotNick = true
	case "USER":
		st.gotUser = true
	case "CAP":
		if len(msg.Params) > 0 {
			switch strings.ToUpper(msg.Params[0]) {
			case "LS", "LIST", "REQ":
				st.capNeg = true
			case "END":
				st.capNeg = false
			}
		}
	}

	if st.user != nil || !st.gotNick || !st.gotUser || st.capNeg {
		return
	}
	if st.pendingNick == "" || st.pendingUsername == "" {
		return
	}

	nick, err := identity.ParseNickname(st.pendingNick)
	if err != nil {
		return
	}

	u := &graph.User{
		UID:          h.nextUID(),
		Nick:         nick,
		NickTS:       time.Now().Unix(),
		Username:     st.pendingUsername,
		RealName:     st.pendingRealName,
		RealHost:     st.remoteIP.String(),
		DisplayHost:  h.Cloaker.CloakIP(st.remoteIP),
		IP:           st.remoteIP.String(),
		Account:      st.account,
		Local:        true,
		ServerSID:    h.Config.TS6SID,
		LastActivity: time.Now(),
	}
	if err := h.Graph.AddUser(u); err != nil {
		ne, ok := err.(*graph.NumericError)
		if ok {
			st.conn.Enqueue(ircmsg.Message{Source: h.Config.ServerName, Command: strconv.Itoa(ne.Numeric), Params: []string{"*", st.pendingNick, ne.Text}})
		}
		st.gotNick = false
		st.pendingNick = ""
		return
	}
	st.user = u
	h.uidConn[u.UID] = st.id
	if st.account != "" {
		h.Broker.BindAccount(st.account, st.id)
	}
	h.sendWelcome(st)
}

// sendWelcome enqueues the full registration-complete numeric burst onto a
// newly admitted connection.
func (h *Hub) sendWelcome(st *connState) {
	ctx := &dispatch.Context{
		Graph:      h.Graph,
		ServerName: h.Config.ServerName,
		Network:    h.Config.Network,
		Version:    h.Config.Version,
		MOTD:       h.Config.MOTD,
		User:       st.user,
	}
	for _, m := range dispatch.WelcomeBurst(ctx) {
		st.conn.Enqueue(m)
	}
}

func (h *Hub) checkIdleConnections() {
	now := time.Now()
	for _, st := range h.conns {
		idle := now.Sub(st.lastActivity)
		if idle > h.Config.Limits.PingTimeout {
			st.conn.Enqueue(ircmsg.Message{Command: "PING", Params: []string{h.Config.ServerName}})
		}
	}
}

// Shutdown stops the accept loop and every connection goroutine, then
// waits for them to finish.
func (h *Hub) Shutdown() {
	close(h.ShutdownChan)
	h.WG.Wait()
}
