package graph

import (
	"strconv"
	"time"

	"github.com/brudvik/hugin-ircd/internal/identity"
)

// ModeChange is one applied "±mode [arg]" item, reported back to the
// caller so it can be echoed on the wire as a single MODE line.
type ModeChange struct {
	Add  bool
	Char byte
	Arg  string
}

// SetChannelMode applies modeString (e.g. "+o-v") against ch on actor's
// behalf, consuming args left to right according to each mode's parameter
// type (list/always/on-set/none, per RFC 2812). Member-privilege modes
// (q/a/o/h/v) always take a nickname argument and are resolved against
// ch's current membership. Unknown letters are returned in skipped rather
// than applied, so the caller can emit 472 once per unknown letter without
// this package needing to know the numeric-reply wire format.
func (g *Graph) SetChannelMode(actor *User, ch *Channel, modeString string, args []string) (applied []ModeChange, skipped []byte, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	am, isMember := ch.Members[actor.UID]
	if !isMember && !actor.IsOperator() {
		return nil, nil, numErr(ErrNotOnChannel, "%s :You're not on that channel", ch.Name)
	}
	if !actor.IsOperator() && !am.Modes.AtLeast(MemberHalfOp) {
		return nil, nil, numErr(ErrChanOpPrivsNeeded, "%s :You're not a channel operator", ch.Name)
	}

	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		a := args[argIdx]
		argIdx++
		return a, true
	}

	add := true
	for i := 0; i < len(modeString); i++ {
		c := modeString[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		if bit, ok := MemberModeByChar(c); ok {
			arg, has := nextArg()
			if !has {
				skipped = append(skipped, c)
				continue
			}
			nick, err := identity.ParseNickname(arg)
			if err != nil {
				skipped = append(skipped, c)
				continue
			}
			targetUID := g.nicks[nick.Fold()]
			targetMem, ok := ch.Members[targetUID]
			if !ok {
				skipped = append(skipped, c)
				continue
			}
			if add {
				targetMem.Modes |= bit
			} else {
				targetMem.Modes &^= bit
			}
			applied = append(applied, ModeChange{Add: add, Char: c, Arg: arg})
			continue
		}

		if bit, ok := channelModeByChar(c); ok {
			if add {
				ch.Modes |= bit
			} else {
				ch.Modes &^= bit
			}
			applied = append(applied, ModeChange{Add: add, Char: c})
			continue
		}

		switch c {
		case modeKey:
			if add {
				arg, has := nextArg()
				if !has {
					skipped = append(skipped, c)
					continue
				}
				ch.Key = arg
				applied = append(applied, ModeChange{Add: true, Char: c, Arg: arg})
			} else {
				arg, _ := nextArg()
				ch.Key = ""
				applied = append(applied, ModeChange{Add: false, Char: c, Arg: arg})
			}
		case modeLimit:
			if add {
				arg, has := nextArg()
				if !has {
					skipped = append(skipped, c)
					continue
				}
				n, err := strconv.Atoi(arg)
				if err != nil || n < 0 {
					skipped = append(skipped, c)
					continue
				}
				ch.Limit = n
				applied = append(applied, ModeChange{Add: true, Char: c, Arg: arg})
			} else {
				ch.Limit = 0
				applied = append(applied, ModeChange{Add: false, Char: c})
			}
		case modeBan:
			arg, has := nextArg()
			if !has {
				skipped = append(skipped, c)
				continue
			}
			if add {
				ch.Bans = appendBanIfAbsent(ch.Bans, arg, actor.NickUhost())
			} else {
				ch.Bans = removeBanByPattern(ch.Bans, arg)
			}
			applied = append(applied, ModeChange{Add: add, Char: c, Arg: arg})
		case modeBanEx:
			arg, has := nextArg()
			if !has {
				skipped = append(skipped, c)
				continue
			}
			if add {
				ch.BanExceptions = appendBanIfAbsent(ch.BanExceptions, arg, actor.NickUhost())
			} else {
				ch.BanExceptions = removeBanByPattern(ch.BanExceptions, arg)
			}
			applied = append(applied, ModeChange{Add: add, Char: c, Arg: arg})
		case modeInvEx:
			arg, has := nextArg()
			if !has {
				skipped = append(skipped, c)
				continue
			}
			if add {
				ch.InviteExceptions = appendBanIfAbsent(ch.InviteExceptions, arg, actor.NickUhost())
			} else {
				ch.InviteExceptions = removeBanByPattern(ch.InviteExceptions, arg)
			}
			applied = append(applied, ModeChange{Add: add, Char: c, Arg: arg})
		default:
			skipped = append(skipped, c)
		}
	}

	return applied, skipped, nil
}

func appendBanIfAbsent(list []BanEntry, pattern, setter string) []BanEntry {
	for _, b := range list {
		if b.Pattern == pattern {
			return list
		}
	}
	return append(list, BanEntry{Pattern: pattern, Setter: setter, SetAt: time.Now()})
}

func removeBanByPattern(list []BanEntry, pattern string) []BanEntry {
	for i, b := range list {
		if b.Pattern == pattern {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
