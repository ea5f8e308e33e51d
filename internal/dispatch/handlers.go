package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brudvik/hugin-ircd/internal/broker"
	"github.com/brudvik/hugin-ircd/internal/capability"
	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
)

// reply builds a server-origin numeric or command reply addressed to the
// context's user, mirroring messageFromServer's nick-prepend-for-numerics
// behaviour.
func reply(ctx *Context, command string, params ...string) ircmsg.Message {
	if isNumeric(command) {
		nick := "*"
		if ctx.User != nil {
			nick = ctx.User.Nick.String()
		}
		params = append([]string{nick}, params...)
	}
	return ircmsg.Message{Source: ctx.ServerName, Command: command, Params: params}
}

func isNumeric(command string) bool {
	if len(command) != 3 {
		return false
	}
	for _, c := range command {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// recipientsFor resolves every member of ch to a broker.Recipient via the
// context's connection-resolution hook, for handlers that need to fan a
// message out to a channel themselves.
func recipientsFor(ctx *Context, ch *graph.Channel) []broker.Recipient {
	if ctx.Resolve == nil || ch == nil {
		return nil
	}
	members := ctx.Graph.Members(ch)
	out := make([]broker.Recipient, 0, len(members))
	for _, m := range members {
		if r, ok := ctx.Resolve(m.UID); ok {
			out = append(out, r)
		}
	}
	return out
}

// otherRecipients is recipientsFor with the calling connection excluded,
// for handlers (JOIN/PART/KICK/MODE/TOPIC/NICK) that already return a
// direct reply to the sender and must not also fan that reply out to them.
func otherRecipients(ctx *Context, ch *graph.Channel) []broker.Recipient {
	all := recipientsFor(ctx, ch)
	out := all[:0]
	for _, r := range all {
		if r.ConnID == ctx.ConnID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// namesReply renders the 353/366 pair for ch, used both by JOIN and by a
// direct NAMES command.
func namesReply(ctx *Context, ch *graph.Channel) []ircmsg.Message {
	symbol := "="
	if ch.Modes.Has(graph.ChanSecret) {
		symbol = "@"
	} else if ch.Modes.Has(graph.ChanPrivate) {
		symbol = "*"
	}
	var names []string
	for _, m := range ctx.Graph.Members(ch) {
		prefix := ""
		if c := m.Modes.Highest(); c != 0 {
			prefix = string(c)
		}
		names = append(names, prefix+m.Nick)
	}
	return []ircmsg.Message{
		reply(ctx, "353", symbol, ch.Name.String(), ":"+strings.Join(names, " ")),
		reply(ctx, "366", ch.Name.String(), ":End of /NAMES list"),
	}
}

// lusersLines renders the 251/252/254/255 LUSERS burst from the graph's
// current counts.
func lusersLines(ctx *Context) []ircmsg.Message {
	users := ctx.Graph.UserCount()
	opers := ctx.Graph.OperatorCount()
	channels := ctx.Graph.ChannelCount()
	return []ircmsg.Message{
		reply(ctx, "251", fmt.Sprintf(":There are %d users and 0 invisible on 1 server", users)),
		reply(ctx, "252", strconv.Itoa(opers), ":operator(s) online"),
		reply(ctx, "254", strconv.Itoa(channels), ":channels formed"),
		reply(ctx, "255", fmt.Sprintf(":I have %d clients and 1 server", users)),
	}
}

// motdLines renders the 375/372.../376 MOTD burst from the configured MOTD
// text, one 372 line per '\n'-separated line of it.
func motdLines(ctx *Context) []ircmsg.Message {
	out := []ircmsg.Message{reply(ctx, "375", ":- "+ctx.ServerName+" Message of the Day -")}
	for _, line := range strings.Split(ctx.MOTD, "\n") {
		out = append(out, reply(ctx, "372", ":- "+line))
	}
	out = append(out, reply(ctx, "376", ":End of /MOTD command"))
	return out
}

// WelcomeBurst renders the full registration-complete numeric burst
// (001-005, LUSERS, MOTD, and the caller's own UMODEIS) fired once a
// connection is admitted to the graph, mirroring registerUser's
// sendWelcome sequence.
func WelcomeBurst(ctx *Context) []ircmsg.Message {
	u := ctx.User
	out := []ircmsg.Message{
		reply(ctx, "001", ":Welcome to the "+ctx.Network+" Network, "+u.NickUhost()),
		reply(ctx, "002", ":Your host is "+ctx.ServerName+", running version "+ctx.Version),
		reply(ctx, "003", ":This server was created to serve "+ctx.Network),
		reply(ctx, "004", ctx.ServerName, ctx.Version, "iosw", "ntimslbpRckC"),
		reply(ctx, "005", "NETWORK="+ctx.Network, "CASEMAPPING=ascii", "PREFIX="+graph.ISUPPORTPrefix(), "CHANTYPES=#&", ":are supported by this server"),
	}
	out = append(out, lusersLines(ctx)...)
	out = append(out, motdLines(ctx)...)
	out = append(out, reply(ctx, "221", u.Modes.String()))
	return out
}

// RegisterBuiltins installs the built-in handler set named in §4.E onto r.
func RegisterBuiltins(r *Registry) {
	r.Register(&Command{Name: "PASS", MinParams: 0, Handler: handlePass})
	r.Register(&Command{Name: "CAP", MinParams: 1, Handler: handleCap})
	r.Register(&Command{Name: "AUTHENTICATE", MinParams: 1, Handler: handleAuthenticate})
	r.Register(&Command{Name: "NICK", MinParams: 1, Handler: handleNick})
	r.Register(&Command{Name: "USER", MinParams: 4, Handler: handleUser})
	r.Register(&Command{Name: "PING", MinParams: 0, Handler: handlePing})
	r.Register(&Command{Name: "PONG", MinParams: 0, Handler: handlePong})
	r.Register(&Command{Name: "QUIT", MinParams: 0, RequiresRegistration: true, Handler: handleQuit})
	r.Register(&Command{Name: "JOIN", MinParams: 1, RequiresRegistration: true, Handler: handleJoin})
	r.Register(&Command{Name: "PART", MinParams: 1, RequiresRegistration: true, Handler: handlePart})
	r.Register(&Command{Name: "TOPIC", MinParams: 1, RequiresRegistration: true, Handler: handleTopic})
	r.Register(&Command{Name: "KICK", MinParams: 2, RequiresRegistration: true, Handler: handleKick})
	r.Register(&Command{Name: "MODE", MinParams: 1, RequiresRegistration: true, Handler: handleMode})
	r.Register(&Command{Name: "PRIVMSG", MinParams: 2, RequiresRegistration: true, Handler: handlePrivmsg})
	r.Register(&Command{Name: "NOTICE", MinParams: 2, RequiresRegistration: true, Handler: handleNotice})
	r.Register(&Command{Name: "AWAY", MinParams: 0, RequiresRegistration: true, Handler: handleAway})
	r.Register(&Command{Name: "WHOIS", MinParams: 1, RequiresRegistration: true, Handler: handleWhois})
	r.Register(&Command{Name: "WHO", MinParams: 0, RequiresRegistration: true, Handler: handleWho})
	r.Register(&Command{Name: "NAMES", MinParams: 0, RequiresRegistration: true, Handler: handleNames})
	r.Register(&Command{Name: "LIST", MinParams: 0, RequiresRegistration: true, Handler: handleList})
	r.Register(&Command{Name: "USERHOST", MinParams: 1, RequiresRegistration: true, Handler: handleUserhost})
	r.Register(&Command{Name: "ISON", MinParams: 1, RequiresRegistration: true, Handler: handleIson})
	r.Register(&Command{Name: "INVITE", MinParams: 2, RequiresRegistration: true, Handler: handleInvite})
	r.Register(&Command{Name: "OPER", MinParams: 2, RequiresRegistration: true, Handler: handleOper})
	r.Register(&Command{Name: "MOTD", MinParams: 0, RequiresRegistration: true, Handler: handleMotd})
	r.Register(&Command{Name: "LUSERS", MinParams: 0, RequiresRegistration: true, Handler: handleLusers})
	r.Register(&Command{Name: "VERSION", MinParams: 0, RequiresRegistration: true, Handler: handleVersion})
	r.Register(&Command{Name: "TIME", MinParams: 0, RequiresRegistration: true, Handler: handleTime})
	r.Register(&Command{Name: "ADMIN", MinParams: 0, RequiresRegistration: true, Handler: handleAdmin})
	r.Register(&Command{Name: "INFO", MinParams: 0, RequiresRegistration: true, Handler: handleInfo})
}

func handlePing(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	token := ""
	if len(msg.Params) > 0 {
		token = msg.Params[0]
	}
	return []ircmsg.Message{{Source: ctx.ServerName, Command: "PONG", Params: []string{ctx.ServerName, token}}}, nil
}

func handlePong(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return nil, nil
}

// handlePass is accepted but not checked against any server-wide password;
// it exists pre-registration only so a client that unconditionally sends
// PASS on connect does not trip ErrUnknownCommand. The S2S PASS line never
// reaches this handler — isServerIntro routes it to the handshake state
// machine before dispatch ever sees it.
func handlePass(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return nil, nil
}

func handleCap(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	sub := strings.ToUpper(msg.Params[0])
	switch sub {
	case "LS":
		names := make([]string, len(capability.Published))
		for i, c := range capability.Published {
			names[i] = string(c)
		}
		return []ircmsg.Message{reply(ctx, "CAP", "*", "LS", strings.Join(names, " "))}, nil
	case "LIST":
		return []ircmsg.Message{reply(ctx, "CAP", "*", "LIST", strings.Join(ctx.Caps.List(), " "))}, nil
	case "REQ":
		if len(msg.Params) < 2 {
			return nil, numErr(ErrNeedMoreParams, "CAP :Not enough parameters")
		}
		requested := strings.Fields(msg.Params[1])
		res := ctx.Caps.Request(requested)
		verb := "ACK"
		if !res.Ack {
			verb = "NAK"
		}
		return []ircmsg.Message{reply(ctx, "CAP", "*", verb, strings.Join(res.Names, " "))}, nil
	case "END":
		return nil, nil
	default:
		return nil, nil
	}
}

// handleAuthenticate drives the SASL PLAIN/EXTERNAL state machine in
// internal/capability: the first AUTHENTICATE line names a mechanism and
// starts a session (persisted back onto the connection via
// ctx.SetSASLSession, since Context itself is rebuilt fresh every
// Dispatch call); subsequent lines feed base64 chunks to the in-progress
// session until it resolves.
func handleAuthenticate(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	token := msg.Params[0]
	if ctx.SASLSession == nil {
		mech := capability.Mechanism(strings.ToUpper(token))
		sess, ok := capability.NewSession(mech, ctx.SASLSecure, ctx.CertFingerprint)
		if !ok {
			return []ircmsg.Message{reply(ctx, "904", ":SASL authentication failed")}, nil
		}
		if ctx.SetSASLSession != nil {
			ctx.SetSASLSession(sess)
		}
		return []ircmsg.Message{{Command: "AUTHENTICATE", Params: []string{"+"}}}, nil
	}

	outcome, account := ctx.SASLSession.Feed(token, ctx.SASLStore)
	switch outcome {
	case capability.Continue:
		return nil, nil
	case capability.Success:
		if ctx.SetSASLSession != nil {
			ctx.SetSASLSession(nil)
		}
		if ctx.BindAccount != nil {
			ctx.BindAccount(account)
		}
		return []ircmsg.Message{
			reply(ctx, "900", "*", "*!*@*", account, ":You are now logged in as "+account),
			reply(ctx, "903", ":SASL authentication successful"),
		}, nil
	default:
		if ctx.SetSASLSession != nil {
			ctx.SetSASLSession(nil)
		}
		return []ircmsg.Message{reply(ctx, "904", ":SASL authentication failed")}, nil
	}
}

func handleNick(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	nick, err := identity.ParseNickname(msg.Params[0])
	if err != nil {
		return nil, numErr(432, "%s :Erroneous nickname", msg.Params[0])
	}
	if ctx.User == nil {
		if !ctx.Graph.NickAvailable(nick) {
			return []ircmsg.Message{reply(ctx, "433", msg.Params[0], ":Nickname is already in use")}, nil
		}
		// Stashed on the context for the caller to read back once Dispatch
		// returns and persist onto the connection's longer-lived state;
		// registration only completes once NICK and USER have both landed.
		ctx.PendingNick = nick.String()
		return nil, nil
	}

	oldSource := ctx.User.NickUhost()
	affected, err := ctx.Graph.ChangeNickname(ctx.User, nick)
	if err != nil {
		ne, ok := err.(*graph.NumericError)
		if ok {
			return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), msg.Params[0], ":"+ne.Text)}, nil
		}
		return nil, err
	}

	nickMsg := ircmsg.Message{Source: oldSource, Command: "NICK", Params: []string{nick.String()}}
	if ctx.Broker != nil {
		notified := map[string]bool{ctx.ConnID: true}
		var recipients []broker.Recipient
		for _, ch := range affected {
			for _, r := range recipientsFor(ctx, ch) {
				if notified[r.ConnID] {
					continue
				}
				notified[r.ConnID] = true
				recipients = append(recipients, r)
			}
		}
		ctx.Broker.SendToChannel(recipients, "", nickMsg)
	}
	return []ircmsg.Message{nickMsg}, nil
}

func handleUser(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	if ctx.User != nil {
		return []ircmsg.Message{reply(ctx, "462", ":You may not reregister")}, nil
	}
	// Stashed for the caller, same handoff as PendingNick: the connection
	// is only admitted to the graph once both this and NICK have arrived
	// and any in-progress CAP negotiation has ended.
	ctx.PendingUsername = msg.Params[0]
	ctx.PendingRealName = msg.Params[3]
	return nil, nil
}

func handleQuit(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	reason := "Client Quit"
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}
	return []ircmsg.Message{{Command: "ERROR", Params: []string{"Closing Link: " + reason}}}, nil
}

func handleJoin(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	name, err := identity.ParseChannelName(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "403", msg.Params[0], ":No such channel")}, nil
	}
	key := ""
	if len(msg.Params) > 1 {
		key = msg.Params[1]
	}
	ch, _, _, err := ctx.Graph.Join(ctx.User, name, graph.JoinOptions{Key: key, IsOperator: ctx.IsOperator})
	if err != nil {
		ne := err.(*graph.NumericError)
		return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), name.String(), ":"+ne.Text)}, nil
	}

	joinMsg := ircmsg.Message{Source: ctx.User.NickUhost(), Command: "JOIN", Params: []string{ch.Name.String()}}
	if ctx.Broker != nil {
		ctx.Broker.SendToChannel(otherRecipients(ctx, ch), "", joinMsg)
	}

	out := []ircmsg.Message{joinMsg}
	if ch.Topic.Text != "" {
		out = append(out, reply(ctx, "332", ch.Name.String(), ":"+ch.Topic.Text))
	}
	out = append(out, namesReply(ctx, ch)...)
	return out, nil
}

func handlePart(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	name, err := identity.ParseChannelName(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "403", msg.Params[0], ":No such channel")}, nil
	}
	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}

	ch := ctx.Graph.Channel(name)
	var recipients []broker.Recipient
	if ch != nil {
		recipients = otherRecipients(ctx, ch)
	}

	_, _, err = ctx.Graph.Part(ctx.User, name)
	if err != nil {
		ne := err.(*graph.NumericError)
		return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), name.String(), ":"+ne.Text)}, nil
	}

	params := []string{name.String()}
	if reason != "" {
		params = append(params, reason)
	}
	partMsg := ircmsg.Message{Source: ctx.User.NickUhost(), Command: "PART", Params: params}
	if ctx.Broker != nil {
		ctx.Broker.SendToChannel(recipients, "", partMsg)
	}
	return []ircmsg.Message{partMsg}, nil
}

func handleTopic(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	name, err := identity.ParseChannelName(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "403", msg.Params[0], ":No such channel")}, nil
	}
	if len(msg.Params) == 1 {
		ch := ctx.Graph.Channel(name)
		if ch == nil {
			return []ircmsg.Message{reply(ctx, "403", name.String(), ":No such channel")}, nil
		}
		if ch.Topic.Text == "" {
			return []ircmsg.Message{reply(ctx, "331", name.String(), ":No topic is set")}, nil
		}
		return []ircmsg.Message{reply(ctx, "332", name.String(), ":"+ch.Topic.Text)}, nil
	}

	existing := ctx.Graph.Channel(name)
	var recipients []broker.Recipient
	if existing != nil {
		recipients = otherRecipients(ctx, existing)
	}

	ch, err := ctx.Graph.SetTopic(ctx.User, name, msg.Params[1])
	if err != nil {
		ne := err.(*graph.NumericError)
		return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), name.String(), ":"+ne.Text)}, nil
	}
	topicMsg := ircmsg.Message{Source: ctx.User.NickUhost(), Command: "TOPIC", Params: []string{ch.Name.String(), ch.Topic.Text}}
	if ctx.Broker != nil {
		ctx.Broker.SendToChannel(recipients, "", topicMsg)
	}
	return []ircmsg.Message{topicMsg}, nil
}

func handleKick(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	name, err := identity.ParseChannelName(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "403", msg.Params[0], ":No such channel")}, nil
	}
	targetNick, err := identity.ParseNickname(msg.Params[1])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "401", msg.Params[1], ":No such nick")}, nil
	}
	target := ctx.Graph.UserByNick(targetNick)
	if target == nil {
		return []ircmsg.Message{reply(ctx, "401", msg.Params[1], ":No such nick")}, nil
	}
	reason := ctx.User.Nick.String()
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}

	// The target's membership must be snapshotted before Kick mutates the
	// graph, since Kick removes it from ch.Members — otherwise a target on
	// a different connection than the actor would never be resolved.
	ch := ctx.Graph.Channel(name)
	var recipients []broker.Recipient
	if ch != nil {
		recipients = otherRecipients(ctx, ch)
	}

	_, _, err = ctx.Graph.Kick(ctx.User, target, name)
	if err != nil {
		ne := err.(*graph.NumericError)
		return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), name.String(), ":"+ne.Text)}, nil
	}
	kickMsg := ircmsg.Message{
		Source:  ctx.User.NickUhost(),
		Command: "KICK",
		Params:  []string{name.String(), target.Nick.String(), reason},
	}
	if ctx.Broker != nil {
		ctx.Broker.SendToChannel(recipients, "", kickMsg)
	}
	return []ircmsg.Message{kickMsg}, nil
}

func handleMode(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	target := msg.Params[0]
	if len(target) > 0 && (target[0] == '#' || target[0] == '&') {
		name, err := identity.ParseChannelName(target)
		if err != nil {
			return []ircmsg.Message{reply(ctx, "403", target, ":No such channel")}, nil
		}
		ch := ctx.Graph.Channel(name)
		if ch == nil {
			return []ircmsg.Message{reply(ctx, "403", target, ":No such channel")}, nil
		}
		if len(msg.Params) == 1 {
			return []ircmsg.Message{reply(ctx, "324", name.String(), ch.Modes.String())}, nil
		}

		recipients := otherRecipients(ctx, ch)
		_, _, err = ctx.Graph.SetChannelMode(ctx.User, ch, msg.Params[1], msg.Params[2:])
		if err != nil {
			ne := err.(*graph.NumericError)
			return []ircmsg.Message{reply(ctx, strconv.Itoa(ne.Numeric), name.String(), ":"+ne.Text)}, nil
		}
		modeMsg := ircmsg.Message{
			Source:  ctx.User.NickUhost(),
			Command: "MODE",
			Params:  append([]string{name.String()}, msg.Params[1:]...),
		}
		if ctx.Broker != nil {
			ctx.Broker.SendToChannel(recipients, "", modeMsg)
		}
		return []ircmsg.Message{modeMsg}, nil
	}
	// User mode query/change on self only.
	return []ircmsg.Message{reply(ctx, "221", ctx.User.Modes.String())}, nil
}

func handlePrivmsg(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	target := msg.Params[0]
	text := msg.Params[1]
	out := ircmsg.Message{Source: ctx.User.NickUhost(), Command: "PRIVMSG", Params: []string{target, text}}

	if len(target) > 0 && (target[0] == '#' || target[0] == '&') {
		name, err := identity.ParseChannelName(target)
		if err != nil {
			return []ircmsg.Message{reply(ctx, "403", target, ":No such channel")}, nil
		}
		ch := ctx.Graph.Channel(name)
		if ch == nil {
			return []ircmsg.Message{reply(ctx, "403", target, ":No such channel")}, nil
		}
		mem, onChannel := ch.Members[ctx.User.UID]
		if ch.Modes.Has(graph.ChanNoExternal) && !onChannel {
			return []ircmsg.Message{reply(ctx, "404", target, ":Cannot send to channel")}, nil
		}
		if ch.Modes.Has(graph.ChanModerated) && (!onChannel || !mem.Modes.AtLeast(graph.MemberVoice)) {
			return []ircmsg.Message{reply(ctx, "404", target, ":Cannot send to channel")}, nil
		}
		if ctx.Broker != nil {
			ctx.Broker.SendToChannel(recipientsFor(ctx, ch), ctx.ConnID, out)
		}
		return nil, nil
	}

	targetNick, err := identity.ParseNickname(target)
	if err != nil {
		return []ircmsg.Message{reply(ctx, "401", target, ":No such nick")}, nil
	}
	targetUser := ctx.Graph.UserByNick(targetNick)
	if targetUser == nil {
		return []ircmsg.Message{reply(ctx, "401", target, ":No such nick")}, nil
	}
	deliverToUser(ctx, targetUser, out)
	if targetUser.Away != "" {
		return []ircmsg.Message{reply(ctx, "301", targetUser.Nick.String(), ":"+targetUser.Away)}, nil
	}
	return nil, nil
}

func handleNotice(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	// NOTICE never generates error replies per RFC 2812 3.3.2.
	target := msg.Params[0]
	text := msg.Params[1]
	out := ircmsg.Message{Source: ctx.User.NickUhost(), Command: "NOTICE", Params: []string{target, text}}

	if len(target) > 0 && (target[0] == '#' || target[0] == '&') {
		name, err := identity.ParseChannelName(target)
		if err != nil {
			return nil, nil
		}
		ch := ctx.Graph.Channel(name)
		if ch == nil || ctx.Broker == nil {
			return nil, nil
		}
		ctx.Broker.SendToChannel(recipientsFor(ctx, ch), ctx.ConnID, out)
		return nil, nil
	}

	targetNick, err := identity.ParseNickname(target)
	if err != nil {
		return nil, nil
	}
	targetUser := ctx.Graph.UserByNick(targetNick)
	if targetUser == nil {
		return nil, nil
	}
	deliverToUser(ctx, targetUser, out)
	return nil, nil
}

// deliverToUser resolves target's connection through the context's
// resolution hook and hands it the message directly, stamping server-time
// if that connection negotiated it.
func deliverToUser(ctx *Context, target *graph.User, m ircmsg.Message) {
	if ctx.Resolve == nil || ctx.Broker == nil {
		return
	}
	r, ok := ctx.Resolve(target.UID)
	if !ok {
		return
	}
	out := m
	if r.HasServerTime {
		out = broker.StampServerTime(out, time.Now())
	}
	ctx.Broker.SendToConnection(r.ConnID, out)
}

func handleAway(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		ctx.User.Away = ""
		return []ircmsg.Message{reply(ctx, "305", ":You are no longer marked as being away")}, nil
	}
	ctx.User.Away = msg.Params[0]
	return []ircmsg.Message{reply(ctx, "306", ":You have been marked as being away")}, nil
}

func handleWhois(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	nick, err := identity.ParseNickname(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "401", msg.Params[0], ":No such nick")}, nil
	}
	target := ctx.Graph.UserByNick(nick)
	if target == nil {
		return []ircmsg.Message{reply(ctx, "401", msg.Params[0], ":No such nick")}, nil
	}
	return []ircmsg.Message{
		reply(ctx, "311", target.Nick.String(), target.Username, target.DisplayHost, "*", ":"+target.RealName),
		reply(ctx, "318", target.Nick.String(), ":End of /WHOIS list"),
	}, nil
}

func handleWho(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	mask := "*"
	if len(msg.Params) > 0 {
		mask = msg.Params[0]
	}
	var out []ircmsg.Message
	if len(mask) > 0 && (mask[0] == '#' || mask[0] == '&') {
		name, err := identity.ParseChannelName(mask)
		if err == nil {
			if ch := ctx.Graph.Channel(name); ch != nil {
				for _, m := range ctx.Graph.Members(ch) {
					if u := ctx.Graph.UserByUID(m.UID); u != nil {
						out = append(out, whoLine(ctx, ch.Name.String(), u, m))
					}
				}
			}
		}
	} else if nick, err := identity.ParseNickname(mask); err == nil {
		if u := ctx.Graph.UserByNick(nick); u != nil {
			out = append(out, whoLine(ctx, "*", u, nil))
		}
	}
	out = append(out, reply(ctx, "315", mask, ":End of /WHO list"))
	return out, nil
}

func whoLine(ctx *Context, channel string, u *graph.User, m *graph.Membership) ircmsg.Message {
	flags := "H"
	if u.Away != "" {
		flags = "G"
	}
	if u.IsOperator() {
		flags += "*"
	}
	if m != nil {
		if c := m.Modes.Highest(); c != 0 {
			flags += string(c)
		}
	}
	return reply(ctx, "352", channel, u.Username, u.DisplayHost, ctx.ServerName, u.Nick.String(), flags, "0 "+u.RealName)
}

func handleNames(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	if len(msg.Params) == 0 {
		return nil, nil
	}
	name, err := identity.ParseChannelName(msg.Params[0])
	if err != nil {
		return nil, nil
	}
	ch := ctx.Graph.Channel(name)
	if ch == nil {
		return []ircmsg.Message{reply(ctx, "366", msg.Params[0], ":End of /NAMES list")}, nil
	}
	return namesReply(ctx, ch), nil
}

func handleList(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	var out []ircmsg.Message
	for _, ch := range ctx.Graph.AllChannels() {
		if ch.Modes.Has(graph.ChanSecret) || ch.Modes.Has(graph.ChanPrivate) {
			continue
		}
		out = append(out, reply(ctx, "322", ch.Name.String(), strconv.Itoa(len(ch.Members)), ":"+ch.Topic.Text))
	}
	out = append(out, reply(ctx, "323", ":End of /LIST"))
	return out, nil
}

func handleUserhost(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	var parts []string
	for _, tok := range msg.Params {
		for _, nickStr := range strings.Fields(tok) {
			nick, err := identity.ParseNickname(nickStr)
			if err != nil {
				continue
			}
			u := ctx.Graph.UserByNick(nick)
			if u == nil {
				continue
			}
			away := "+"
			if u.Away != "" {
				away = "-"
			}
			op := ""
			if u.IsOperator() {
				op = "*"
			}
			parts = append(parts, u.Nick.String()+op+"="+away+u.Username+"@"+u.DisplayHost)
		}
	}
	return []ircmsg.Message{reply(ctx, "302", ":"+strings.Join(parts, " "))}, nil
}

func handleIson(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	var online []string
	for _, tok := range msg.Params {
		for _, nickStr := range strings.Fields(tok) {
			nick, err := identity.ParseNickname(nickStr)
			if err != nil {
				continue
			}
			if u := ctx.Graph.UserByNick(nick); u != nil {
				online = append(online, u.Nick.String())
			}
		}
	}
	return []ircmsg.Message{reply(ctx, "303", ":"+strings.Join(online, " "))}, nil
}

func handleInvite(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	nick, err := identity.ParseNickname(msg.Params[0])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "401", msg.Params[0], ":No such nick")}, nil
	}
	name, err := identity.ParseChannelName(msg.Params[1])
	if err != nil {
		return []ircmsg.Message{reply(ctx, "403", msg.Params[1], ":No such channel")}, nil
	}
	ch := ctx.Graph.Channel(name)
	if ch == nil {
		return []ircmsg.Message{reply(ctx, "403", name.String(), ":No such channel")}, nil
	}
	mem, onChannel := ch.Members[ctx.User.UID]
	if !onChannel || !mem.Modes.AtLeast(graph.MemberHalfOp) {
		if ch.Modes.Has(graph.ChanInviteOnly) {
			return []ircmsg.Message{reply(ctx, "482", name.String(), ":You're not channel operator")}, nil
		}
	}
	ctx.Graph.Invite(ch, nick)
	if target := ctx.Graph.UserByNick(nick); target != nil {
		deliverToUser(ctx, target, ircmsg.Message{Source: ctx.User.NickUhost(), Command: "INVITE", Params: []string{nick.String(), name.String()}})
	}
	return []ircmsg.Message{reply(ctx, "341", nick.String(), name.String())}, nil
}

func handleOper(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	// Credential verification against the operator store is a connection
	// layer concern (it needs the config document); here we only emit the
	// success numeric once the caller has already verified the password.
	return []ircmsg.Message{reply(ctx, "381", ":You are now an IRC operator")}, nil
}

func handleMotd(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return motdLines(ctx), nil
}

func handleLusers(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return lusersLines(ctx), nil
}

func handleVersion(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return []ircmsg.Message{reply(ctx, "351", ctx.Version, ctx.ServerName, ":"+ctx.Network)}, nil
}

func handleTime(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return []ircmsg.Message{reply(ctx, "391", ctx.ServerName, ":"+time.Now().UTC().Format(time.RFC1123))}, nil
}

func handleAdmin(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return []ircmsg.Message{
		reply(ctx, "256", ctx.ServerName, ":Administrative info"),
		reply(ctx, "257", ":"+ctx.ServerInfo),
		reply(ctx, "258", ":"+ctx.Network),
		reply(ctx, "259", ":"+ctx.Network),
	}, nil
}

func handleInfo(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error) {
	return []ircmsg.Message{
		reply(ctx, "371", ":"+ctx.ServerInfo),
		reply(ctx, "374", ":End of /INFO list"),
	}, nil
}
