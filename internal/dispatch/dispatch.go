// Package dispatch implements the command registry and the gating
// pipeline every inbound client message passes through: rate limit,
// registration gate, operator gate, minimum-parameter check, handler
// invocation, and labeled-response batch wrapping of the replies a
// handler produced.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/brudvik/hugin-ircd/internal/broker"
	"github.com/brudvik/hugin-ircd/internal/capability"
	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/brudvik/hugin-ircd/internal/ratelimit"
	"github.com/pkg/errors"
)

// Numeric replies the dispatcher itself is responsible for emitting;
// handler-level numerics (channel/nick errors) live in package graph.
const (
	ErrUnknownCommand = 421
	ErrNeedMoreParams = 461
	ErrNotRegistered  = 451
	ErrNoPrivileges   = 481
)

// NumericError is a protocol-level rejection the dispatcher raises before
// a handler ever runs.
type NumericError struct {
	Numeric int
	Text    string
}

func (e *NumericError) Error() string { return e.Text }

func numErr(numeric int, format string, args ...interface{}) error {
	return &NumericError{Numeric: numeric, Text: fmt.Sprintf(format, args...)}
}

// Context is handed to every handler: references to the shared graph, the
// broker, the negotiated capability set, and the identity of the
// connection and server the command arrived on. Handlers must not reach
// for global state outside this context.
type Context struct {
	Graph      *graph.Graph
	Broker     *broker.Broker
	Caps       *capability.Set
	ConnID     string
	ServerName string
	ServerInfo string
	Network    string
	Version    string
	MOTD       string
	User       *graph.User
	Registered bool
	IsOperator bool

	// Resolve maps a channel member's UID to the broker.Recipient needed to
	// reach its connection, so handlers can build their own fan-out lists
	// via the graph without reaching for hub-internal state. nil on
	// contexts with no local connection table to resolve against.
	Resolve func(uid graph.UID) (Recipient, bool)

	// PendingNick/PendingUsername/PendingRealName are the registration
	// handoff: set by handleNick/handleUser as they see each half of the
	// NICK/USER pair, read back by the caller once Dispatch returns so it
	// can persist them onto the connection's longer-lived state and decide
	// whether to admit the user to the graph. A fresh Context is built for
	// every line, so these only ever carry the current call's output.
	PendingNick     string
	PendingUsername string
	PendingRealName string

	// SASL state, threaded in from the connection's longer-lived session by
	// the caller and fed by handleAuthenticate.
	SASLSession     *capability.Session
	SASLStore       capability.AccountStore
	SASLSecure      bool
	CertFingerprint string

	// SetSASLSession lets handleAuthenticate persist a freshly started (or
	// completed, as nil) session back onto the connection.
	SetSASLSession func(*capability.Session)

	// BindAccount is called once SASL completes, to record the account on
	// both the in-progress connection and the broker's account index.
	BindAccount func(account string)
}

// Recipient is the subset of broker.Recipient handlers need; it is a
// type alias so handlers can build broker.Recipient values directly while
// Context stays decoupled from importing broker for anything beyond this.
type Recipient = broker.Recipient

// Handler executes one command and returns the messages to send back to
// the originating connection (the dispatcher handles labeled-response
// wrapping and fan-out elsewhere for anything besides the direct reply).
type Handler func(ctx *Context, msg ircmsg.Message) ([]ircmsg.Message, error)

// Command is one registered handler and its gating requirements.
type Command struct {
	Name                 string
	MinParams            int
	RequiresRegistration bool
	RequiresOperator     bool
	Handler              Handler
}

// Registry is a case-insensitive lookup table of commands.
type Registry struct {
	commands map[string]*Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: map[string]*Command{}}
}

// Register adds cmd to the registry, keyed by its upper-cased name.
func (r *Registry) Register(cmd *Command) {
	r.commands[strings.ToUpper(cmd.Name)] = cmd
}

// Lookup returns the command registered for name, case-insensitively.
func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.commands[strings.ToUpper(name)]
	return c, ok
}

// Dispatch runs msg through the gating pipeline and, if admitted, the
// matched handler. limiter may be nil to skip rate limiting (used for
// server-origin synthetic messages). now is injected for testability.
// A panic inside the handler is recovered and returned as an error.
func Dispatch(r *Registry, limiter *ratelimit.CommandLimiter, ctx *Context, msg ircmsg.Message, now time.Time) (out []ircmsg.Message, err error) {
	cmd, ok := r.Lookup(msg.Command)
	if !ok {
		return nil, numErr(ErrUnknownCommand, "%s :Unknown command", msg.Command)
	}

	if limiter != nil {
		switch limiter.Submit(now) {
		case ratelimit.Dropped, ratelimit.Flooded:
			return nil, errors.Errorf("rate limit exceeded for command %s", cmd.Name)
		}
	}

	if cmd.RequiresRegistration && !ctx.Registered {
		return nil, numErr(ErrNotRegistered, ":You have not registered")
	}
	if cmd.RequiresOperator && !ctx.IsOperator {
		return nil, numErr(ErrNoPrivileges, ":Permission Denied- You're not an IRC operator")
	}
	if len(msg.Params) < cmd.MinParams {
		return nil, numErr(ErrNeedMoreParams, "%s :Not enough parameters", cmd.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, errors.Errorf("panic handling %s: %v", cmd.Name, p)
		}
	}()

	replies, err := cmd.Handler(ctx, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "handling %s", cmd.Name)
	}

	return applyLabel(msg, ctx.Caps, replies), nil
}

// applyLabel wraps replies in a labeled-response batch if msg carried a
// label tag and the connection negotiated labeled-response.
func applyLabel(msg ircmsg.Message, caps *capability.Set, replies []ircmsg.Message) []ircmsg.Message {
	label := tagValue(msg, "label")
	if label == "" || len(replies) == 0 || caps == nil || !caps.Has(capability.LabeledResponse) {
		return replies
	}
	hasBatch := caps != nil && caps.Has(capability.Batch)
	return broker.WrapInLabeledBatch(label, replies, hasBatch)
}

func tagValue(m ircmsg.Message, key string) string {
	for _, t := range m.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}
