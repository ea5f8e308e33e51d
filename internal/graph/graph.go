package graph

import (
	"sync"
	"time"

	"github.com/brudvik/hugin-ircd/internal/identity"
)

// Graph is the authoritative user/channel state. All cross-references are
// resolved through its maps (by UID or channel fold-name) rather than held
// as long-lived pointers, so removal is always safe (see DESIGN.md).
type Graph struct {
	mu sync.RWMutex

	Users    map[UID]*User
	nicks    map[string]UID // fold(nick) -> UID
	Channels map[string]*Channel // fold(name) -> Channel
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		Users:    map[UID]*User{},
		nicks:    map[string]UID{},
		Channels: map[string]*Channel{},
	}
}

// NickAvailable reports whether nick is free network-wide.
func (g *Graph) NickAvailable(nick identity.Nickname) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, taken := g.nicks[nick.Fold()]
	return !taken
}

// UserByNick resolves a nickname to its User, or nil if none.
func (g *Graph) UserByNick(nick identity.Nickname) *User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	uid, ok := g.nicks[nick.Fold()]
	if !ok {
		return nil
	}
	return g.Users[uid]
}

// AddUser admits a fully-registered user into the graph. It fails with
// ErrNicknameInUse if the nickname is already taken; the caller (for local
// registration) is expected to have already re-checked availability
// immediately before calling this, closing the race window the teacher's
// registerUser also closes by rechecking at completion time rather than at
// NICK-received time.
func (g *Graph) AddUser(u *User) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	fold := u.Nick.Fold()
	if _, taken := g.nicks[fold]; taken {
		return numErr(ErrNicknameInUse, "%s :Nickname is already in use", u.Nick)
	}
	if u.Channels == nil {
		u.Channels = map[string]struct{}{}
	}
	g.Users[u.UID] = u
	g.nicks[fold] = u.UID
	return nil
}

// RemoveUser deletes u from the graph and every channel membership it
// held, destroying any channel left empty and unregistered. It returns the
// set of channel fold-names the user was a member of, so the caller can
// fan out QUIT to the remaining co-members of those channels after this
// call.
func (g *Graph) RemoveUser(uid UID) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeUserLocked(uid)
}

func (g *Graph) removeUserLocked(uid UID) []string {
	u, ok := g.Users[uid]
	if !ok {
		return nil
	}
	var folds []string
	for fold := range u.Channels {
		folds = append(folds, fold)
		if ch, ok := g.Channels[fold]; ok {
			delete(ch.Members, uid)
			if ch.IsEmpty() && !ch.Registered {
				delete(g.Channels, fold)
			}
		}
	}
	delete(g.nicks, u.Nick.Fold())
	delete(g.Users, uid)
	return folds
}

// ChannelsOf returns the Channel objects uid is currently a member of.
func (g *Graph) ChannelsOf(uid UID) []*Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.Users[uid]
	if !ok {
		return nil
	}
	chans := make([]*Channel, 0, len(u.Channels))
	for fold := range u.Channels {
		if ch, ok := g.Channels[fold]; ok {
			chans = append(chans, ch)
		}
	}
	return chans
}

// Channel looks up a channel by name, or nil if it does not exist.
func (g *Graph) Channel(name identity.ChannelName) *Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Channels[name.Fold()]
}

// JoinOptions carries the context a join policy check needs beyond the
// channel's own state.
type JoinOptions struct {
	Key           string
	Invited       bool
	Authenticated bool
	IsOperator    bool
}

// Join admits u to the channel named name, creating it if absent. A
// repeat join by a member already present is a silent no-op (testable
// property: "Joining a channel one already belongs to is a no-op").
func (g *Graph) Join(u *User, name identity.ChannelName, opts JoinOptions) (ch *Channel, mem *Membership, created bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fold := name.Fold()
	ch, exists := g.Channels[fold]

	if exists {
		if m, already := ch.Members[u.UID]; already {
			return ch, m, false, nil
		}
	}

	if !exists {
		ch = newChannel(name, time.Now().Unix())
	} else if !opts.IsOperator {
		if err := g.checkJoinPolicy(ch, u, opts); err != nil {
			return nil, nil, false, err
		}
	}

	mm := MemberNone
	if !exists {
		mm = MemberOp
	}
	mem = &Membership{UID: u.UID, Nick: u.Nick.String(), Modes: mm, JoinedAt: time.Now()}
	ch.Members[u.UID] = mem
	if !exists {
		g.Channels[fold] = ch
	}
	u.Channels[fold] = struct{}{}
	delete(ch.Invited, u.Nick.Fold())

	return ch, mem, !exists, nil
}

func (g *Graph) checkJoinPolicy(ch *Channel, u *User, opts JoinOptions) error {
	_, invited := ch.Invited[u.Nick.Fold()]
	if ch.Modes.Has(ChanInviteOnly) && !opts.Invited && !invited {
		return numErr(ErrInviteOnlyChan, "%s :Cannot join channel (+i)", ch.Name)
	}
	if ch.Key != "" && ch.Key != opts.Key {
		return numErr(ErrBadChannelKey, "%s :Cannot join channel (+k)", ch.Name)
	}
	if ch.Limit > 0 && len(ch.Members) >= ch.Limit {
		return numErr(ErrChannelIsFull, "%s :Cannot join channel (+l)", ch.Name)
	}
	if g.isBannedLocked(ch, u.NickUhost()) {
		return numErr(ErrBannedFromChan, "%s :Cannot join channel (+b)", ch.Name)
	}
	if ch.Modes.Has(ChanRegisteredOnly) && !opts.Authenticated {
		return numErr(ErrNeedRegNick, "%s :Cannot join channel (+R)", ch.Name)
	}
	return nil
}

// Part removes u's membership in the named channel. It returns the
// channel (possibly already destroyed from g.Channels, but still usable by
// the caller to enumerate the members to notify) and whether the channel
// was destroyed as a result.
func (g *Graph) Part(u *User, name identity.ChannelName) (ch *Channel, destroyed bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fold := name.Fold()
	ch, ok := g.Channels[fold]
	if !ok {
		return nil, false, numErr(ErrNotOnChannel, "%s :You're not on that channel", name)
	}
	if _, member := ch.Members[u.UID]; !member {
		return nil, false, numErr(ErrNotOnChannel, "%s :You're not on that channel", name)
	}

	delete(ch.Members, u.UID)
	delete(u.Channels, fold)

	if ch.IsEmpty() && !ch.Registered {
		delete(g.Channels, fold)
		destroyed = true
	}
	return ch, destroyed, nil
}

// Kick is Part performed by an actor against target, with an actor
// privilege check (HalfOp+).
func (g *Graph) Kick(actor *User, target *User, name identity.ChannelName) (ch *Channel, destroyed bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fold := name.Fold()
	ch, ok := g.Channels[fold]
	if !ok {
		return nil, false, numErr(ErrNoSuchChannel, "%s :No such channel", name)
	}
	am, isMember := ch.Members[actor.UID]
	if !isMember {
		return nil, false, numErr(ErrNotOnChannel, "%s :You're not on that channel", name)
	}
	if !am.Modes.AtLeast(MemberHalfOp) {
		return nil, false, numErr(ErrChanOpPrivsNeeded, "%s :You're not a channel operator", name)
	}
	if _, targetMember := ch.Members[target.UID]; !targetMember {
		return nil, false, numErr(ErrUserNotInChannel, "%s %s :They aren't on that channel", target.Nick, name)
	}

	delete(ch.Members, target.UID)
	delete(target.Channels, fold)

	if ch.IsEmpty() && !ch.Registered {
		delete(g.Channels, fold)
		destroyed = true
	}
	return ch, destroyed, nil
}

// Quit removes u entirely from the graph (all channels). It is the
// multi-channel analogue of Part, used for QUIT/KILL/netsplit.
func (g *Graph) Quit(uid UID) []string {
	return g.RemoveUser(uid)
}

// SetTopic updates a channel's topic if actor is permitted (member always
// when the channel is not +t, HalfOp+ when it is).
func (g *Graph) SetTopic(actor *User, name identity.ChannelName, topic string) (*Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fold := name.Fold()
	ch, ok := g.Channels[fold]
	if !ok {
		return nil, numErr(ErrNoSuchChannel, "%s :No such channel", name)
	}
	mem, isMember := ch.Members[actor.UID]
	if !isMember {
		return nil, numErr(ErrNotOnChannel, "%s :You're not on that channel", name)
	}
	if ch.Modes.Has(ChanTopicLock) && !mem.Modes.AtLeast(MemberHalfOp) {
		return nil, numErr(ErrChanOpPrivsNeeded, "%s :You're not a channel operator", name)
	}

	ch.Topic = TopicInfo{Text: topic, Setter: actor.NickUhost(), SetAt: time.Now()}
	return ch, nil
}

// ChangeNickname renames u, re-keying the nick index and every
// membership's nick snapshot. It returns every channel u is a member of
// so the caller can broadcast the NICK change.
func (g *Graph) ChangeNickname(u *User, newNick identity.Nickname) ([]*Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	newFold := newNick.Fold()
	if existingUID, taken := g.nicks[newFold]; taken && existingUID != u.UID {
		return nil, numErr(ErrNicknameInUse, "%s :Nickname is already in use", newNick)
	}

	delete(g.nicks, u.Nick.Fold())
	g.nicks[newFold] = u.UID
	u.Nick = newNick
	u.NickTS = time.Now().Unix()

	var chans []*Channel
	for fold := range u.Channels {
		if ch, ok := g.Channels[fold]; ok {
			if mem, ok := ch.Members[u.UID]; ok {
				mem.Nick = newNick.String()
			}
			chans = append(chans, ch)
		}
	}
	return chans, nil
}

// IsBanned reports whether hostmask is banned from ch and not
// ban-excepted; exceptions dominate.
func (g *Graph) IsBanned(ch *Channel, hostmask string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isBannedLocked(ch, hostmask)
}

func (g *Graph) isBannedLocked(ch *Channel, hostmask string) bool {
	banned := false
	for _, b := range ch.Bans {
		if identity.GlobMatch(b.Pattern, hostmask) {
			banned = true
			break
		}
	}
	if !banned {
		return false
	}
	for _, e := range ch.BanExceptions {
		if identity.GlobMatch(e.Pattern, hostmask) {
			return false
		}
	}
	return true
}

// AddBan appends a ban pattern, deduplicating on exact pattern text
// (matching the "ban then unban restores original set" testable property).
func (g *Graph) AddBan(ch *Channel, pattern, setter string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch.Bans = appendBanIfAbsent(ch.Bans, pattern, setter)
}

// RemoveBan removes a ban pattern by exact text match.
func (g *Graph) RemoveBan(ch *Channel, pattern string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch.Bans = removeBanByPattern(ch.Bans, pattern)
}

// UserByUID resolves uid to its User, or nil if not present.
func (g *Graph) UserByUID(uid UID) *User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Users[uid]
}

// Members returns a snapshot of ch's memberships. The slice is safe to
// range over while the caller sends messages, since it is a copy of the
// map values at the time of the call.
func (g *Graph) Members(ch *Channel) []*Membership {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Membership, 0, len(ch.Members))
	for _, m := range ch.Members {
		out = append(out, m)
	}
	return out
}

// Invite records that nick may bypass +i for ch until they join.
func (g *Graph) Invite(ch *Channel, nick identity.Nickname) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch.Invited[nick.Fold()] = struct{}{}
}

// ChannelByFold looks up a channel by its already-folded name, for callers
// (QUIT fan-out, netsplit cascade) that only have the fold-name strings
// RemoveUser returned rather than a parsed identity.ChannelName.
func (g *Graph) ChannelByFold(fold string) *Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Channels[fold]
}

// UserCount returns the number of users currently in the graph, for LUSERS.
func (g *Graph) UserCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Users)
}

// OperatorCount returns the number of users currently holding operator
// status, for LUSERS' "N operators online" line.
func (g *Graph) OperatorCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, u := range g.Users {
		if u.IsOperator() {
			n++
		}
	}
	return n
}

// ChannelCount returns the number of channels currently in the graph, for
// LUSERS.
func (g *Graph) ChannelCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Channels)
}

// AllChannels returns a snapshot of every channel, for LIST.
func (g *Graph) AllChannels() []*Channel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		out = append(out, ch)
	}
	return out
}

// UsersOnServer returns every user whose ServerSID matches sid, for the
// netsplit cascade to enumerate which users a lost remote server hosted.
func (g *Graph) UsersOnServer(sid string) []*User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*User
	for _, u := range g.Users {
		if u.ServerSID == sid {
			out = append(out, u)
		}
	}
	return out
}
