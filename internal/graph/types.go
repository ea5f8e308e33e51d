// Package graph holds the authoritative in-memory user/channel state graph
// and the operations that mutate it: join/part/kick/quit, mode changes,
// topic changes, nickname changes, and ban evaluation. Message fan-out is
// done by the callers, through package broker.
//
// The graph is the only process-wide mutable state (per the single-writer
// discipline the top-level server goroutine enforces); callers serialize
// access to it the same way the teacher's event loop does, by running all
// mutating operations on one goroutine. Graph itself additionally guards
// its maps with a mutex so read-only snapshot operations (LUSERS, WHO,
// admin/observability reads) can run concurrently with that goroutine.
package graph

import (
	"time"

	"github.com/brudvik/hugin-ircd/internal/identity"
)

// UID is a TS6 user id: a 3-character SID followed by 6 further characters,
// unique across the whole network. Local users are assigned one same as
// remote users, so routing code never needs to special-case locality by id
// shape.
type UID string

// User is a network-wide entity: either hosted on this server (Local true)
// or known only by way of a burst/UID line from a peer.
type User struct {
	UID      UID
	Nick     identity.Nickname
	NickTS   int64
	Username string
	RealName string

	RealHost    string
	DisplayHost string
	IP          string

	Account string
	Modes   UserMode
	Away    string

	// Channels is the set of channel fold-names this user currently has a
	// membership in. Channel objects are never referenced directly; every
	// cross-reference is resolved through the Graph's Channels map, so
	// removing a User or Channel is always safe and local (see DESIGN.md).
	Channels map[string]struct{}

	Caps map[string]struct{}

	Local     bool
	ServerSID string

	LastActivity time.Time
	LastPing     time.Time
}

// NickUhost renders the nick!user@host form used as a message source.
func (u *User) NickUhost() string {
	return u.Nick.String() + "!" + u.Username + "@" + u.DisplayHost
}

// IsOperator reports whether the user has the 'o' user mode set.
func (u *User) IsOperator() bool { return u.Modes.Has(UserOperator) }

// OnChannel reports whether the user has a membership in the channel with
// the given fold-name.
func (u *User) OnChannel(foldName string) bool {
	_, ok := u.Channels[foldName]
	return ok
}

// TopicInfo records a channel's topic text plus who set it and when.
type TopicInfo struct {
	Text   string
	Setter string
	SetAt  time.Time
}

// BanEntry is one mask-pattern list entry (ban, ban-exception, or
// invite-exception), all of which share the same shape.
type BanEntry struct {
	Pattern string
	Setter  string
	SetAt   time.Time
}

// Membership is one user's attachment to one channel: a snapshot of their
// nickname at join time (for display before the first NICK change is
// observed locally), their privilege bits, and when they joined.
type Membership struct {
	UID      UID
	Nick     string
	Modes    MemberMode
	JoinedAt time.Time
}

// Channel is the authoritative state for one channel.
type Channel struct {
	Name      identity.ChannelName
	CreatedAt time.Time
	TS        int64

	Topic TopicInfo
	Modes ChannelMode
	Key   string
	Limit int

	Members map[UID]*Membership

	Bans             []BanEntry
	BanExceptions    []BanEntry
	InviteExceptions []BanEntry
	Invited          map[string]struct{} // nick fold-name -> invited

	// Registered marks a channel persisted externally (ChanServ-style
	// registration); an empty Registered channel is kept, an empty
	// unregistered one is destroyed (per the data-model invariant).
	Registered bool
}

func newChannel(name identity.ChannelName, ts int64) *Channel {
	return &Channel{
		Name:      name,
		CreatedAt: time.Now(),
		TS:        ts,
		Modes:     ChanNoExternal | ChanTopicLock,
		Members:   map[UID]*Membership{},
		Invited:   map[string]struct{}{},
	}
}

// IsEmpty reports whether the channel has no local-or-remote members.
func (c *Channel) IsEmpty() bool { return len(c.Members) == 0 }
