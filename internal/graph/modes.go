package graph

import "strings"

// MemberMode is a channel membership privilege bitset. Bits form a strict
// dominance order: Owner > Admin > Op > HalfOp > Voice > None. The
// character -> bit and prefix -> bit tables below are the single source of
// truth; ISUPPORT's PREFIX token is derived from them, never hand-kept in
// sync separately.
type MemberMode uint8

// Membership privilege bits, lowest dominance first.
const (
	MemberNone    MemberMode = 0
	MemberVoice   MemberMode = 1 << iota
	MemberHalfOp
	MemberOp
	MemberAdmin
	MemberOwner
)

type memberModeEntry struct {
	Char   byte
	Prefix byte
	Bit    MemberMode
}

// memberModeTable is ordered by descending dominance; it is the only place
// the mode/prefix character mapping is written down.
var memberModeTable = []memberModeEntry{
	{'q', '~', MemberOwner},
	{'a', '&', MemberAdmin},
	{'o', '@', MemberOp},
	{'h', '%', MemberHalfOp},
	{'v', '+', MemberVoice},
}

// MemberModeByChar looks up the bit for a mode character such as 'o'.
func MemberModeByChar(c byte) (MemberMode, bool) {
	for _, e := range memberModeTable {
		if e.Char == c {
			return e.Bit, true
		}
	}
	return 0, false
}

// Highest returns the prefix character for the highest privilege bit set in
// m, or 0 if m is MemberNone.
func (m MemberMode) Highest() byte {
	for _, e := range memberModeTable {
		if m&e.Bit != 0 {
			return e.Prefix
		}
	}
	return 0
}

// AtLeast reports whether m dominates or equals other under the strict
// dominance order (used for "actor must be HalfOp or higher" checks).
func (m MemberMode) AtLeast(other MemberMode) bool {
	return rank(m) >= rank(other)
}

func rank(m MemberMode) int {
	for i, e := range memberModeTable {
		if m&e.Bit != 0 {
			return len(memberModeTable) - i
		}
	}
	return 0
}

// ISUPPORTPrefix renders the ISUPPORT PREFIX=(qaohv)~&@%+ token derived
// from memberModeTable.
func ISUPPORTPrefix() string {
	var chars, prefixes strings.Builder
	for _, e := range memberModeTable {
		chars.WriteByte(e.Char)
		prefixes.WriteByte(e.Prefix)
	}
	return "(" + chars.String() + ")" + prefixes.String()
}

// ModeParamType classifies how a channel mode letter consumes arguments,
// per RFC 2812's mode type grammar (Type A/B/C/D).
type ModeParamType int

const (
	// ParamList: always takes a parameter; the mode represents a list (ban,
	// exception, invite-exception) rather than a single bit.
	ParamList ModeParamType = iota
	// ParamAlways: takes a parameter on both + and -.
	ParamAlways
	// ParamOnSet: takes a parameter only when being set (+), not unset (-).
	ParamOnSet
	// ParamNone: never takes a parameter.
	ParamNone
)

// ChannelMode is a channel-wide bitset for boolean (Type D) modes.
type ChannelMode uint32

const (
	ChanNoExternal ChannelMode = 1 << iota // n
	ChanTopicLock                          // t
	ChanInviteOnly                         // i
	ChanModerated                          // m
	ChanSecret                             // s
	ChanPrivate                            // p
	ChanRegisteredOnly                     // R
	ChanStripColor                         // c
	ChanNoCTCP                             // C
	ChanStripFormatting                    // S
)

type channelModeEntry struct {
	Char  byte
	Bit   ChannelMode
	Param ModeParamType
}

var channelModeTable = []channelModeEntry{
	{'n', ChanNoExternal, ParamNone},
	{'t', ChanTopicLock, ParamNone},
	{'i', ChanInviteOnly, ParamNone},
	{'m', ChanModerated, ParamNone},
	{'s', ChanSecret, ParamNone},
	{'p', ChanPrivate, ParamNone},
	{'R', ChanRegisteredOnly, ParamNone},
	{'c', ChanStripColor, ParamNone},
	{'C', ChanNoCTCP, ParamNone},
	{'S', ChanStripFormatting, ParamNone},
}

// channelListModes and channelParamModes are handled outside the bitset
// since they carry values (key, limit) or are unbounded lists (bans).
const (
	modeKey   = 'k' // ParamAlways
	modeLimit = 'l' // ParamOnSet
	modeBan   = 'b' // ParamList
	modeBanEx = 'e' // ParamList
	modeInvEx = 'I' // ParamList
)

func channelModeByChar(c byte) (ChannelMode, bool) {
	for _, e := range channelModeTable {
		if e.Char == c {
			return e.Bit, true
		}
	}
	return 0, false
}

// Has reports whether bit is set.
func (m ChannelMode) Has(bit ChannelMode) bool { return m&bit != 0 }

// String renders the set bits as "+xyz" in table order, omitting list/param
// modes which are rendered separately by the caller with their arguments.
func (m ChannelMode) String() string {
	var b strings.Builder
	b.WriteByte('+')
	for _, e := range channelModeTable {
		if m.Has(e.Bit) {
			b.WriteByte(e.Char)
		}
	}
	return b.String()
}

// UserMode is a per-user bitset (i, o, w, s).
type UserMode uint16

const (
	UserInvisible UserMode = 1 << iota
	UserOperator
	UserWallops
	UserServerNotices
)

var userModeTable = []struct {
	Char byte
	Bit  UserMode
}{
	{'i', UserInvisible},
	{'o', UserOperator},
	{'w', UserWallops},
	{'s', UserServerNotices},
}

func userModeByChar(c byte) (UserMode, bool) {
	for _, e := range userModeTable {
		if e.Char == c {
			return e.Bit, true
		}
	}
	return 0, false
}

// Has reports whether bit is set.
func (m UserMode) Has(bit UserMode) bool { return m&bit != 0 }

// String renders the set bits as "+xyz" in table order.
func (m UserMode) String() string {
	var b strings.Builder
	b.WriteByte('+')
	for _, e := range userModeTable {
		if m.Has(e.Bit) {
			b.WriteByte(e.Char)
		}
	}
	return b.String()
}
