// Package identity implements the validated value types that identify
// network entities: nicknames, channel names, hostmasks, and server ids.
// Equality and hashing on the case-folding types are ASCII case-insensitive,
// matching the network's case-mapping rules.
package identity

import (
	"fmt"
	"strings"
)

// MaxNickLength is the maximum number of characters in a nickname.
const MaxNickLength = 30

// MaxChannelLength is the maximum number of characters in a channel name.
const MaxChannelLength = 50

const nickSpecial = `_\[\]^{}|` + "`"

// Nickname is a validated, case-folded nickname.
type Nickname struct {
	raw string
}

// ParseNickname validates s against the network grammar and returns a
// Nickname preserving the original casing for display.
//
// Grammar: first character is a letter, underscore, or one of
// []\^{}|`; subsequent characters may additionally be digits or '-'.
// May not start with a digit or contain '.'.
func ParseNickname(s string) (Nickname, error) {
	if len(s) == 0 || len(s) > MaxNickLength {
		return Nickname{}, fmt.Errorf("nickname length out of range: %d", len(s))
	}
	if strings.ContainsRune(s, '.') {
		return Nickname{}, fmt.Errorf("nickname may not contain '.'")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isNickChar(c, i == 0) {
			return Nickname{}, fmt.Errorf("invalid character in nickname: %q", c)
		}
	}
	return Nickname{raw: s}, nil
}

func isNickChar(c byte, first bool) bool {
	if isLetter(c) || strings.IndexByte(nickSpecial, c) != -1 {
		return true
	}
	if first {
		return false
	}
	return isDigit(c) || c == '-'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// String returns the nickname as originally cased.
func (n Nickname) String() string { return n.raw }

// Fold returns the ASCII-lower-cased form used for uniqueness comparisons
// and map keys.
func (n Nickname) Fold() string { return strings.ToLower(n.raw) }

// Equal reports whether two nicknames are the same under ASCII
// case-insensitive comparison.
func (n Nickname) Equal(other Nickname) bool { return n.Fold() == other.Fold() }

// ChannelName is a validated, case-folded channel name.
type ChannelName struct {
	raw string
}

// ParseChannelName validates s: first character must be '#' or '&', length
// 2-50, no space, NUL, BEL, or comma.
func ParseChannelName(s string) (ChannelName, error) {
	if len(s) < 2 || len(s) > MaxChannelLength {
		return ChannelName{}, fmt.Errorf("channel name length out of range: %d", len(s))
	}
	if s[0] != '#' && s[0] != '&' {
		return ChannelName{}, fmt.Errorf("channel name must start with # or &")
	}
	if strings.ContainsAny(s, " \x00\x07,") {
		return ChannelName{}, fmt.Errorf("channel name contains an invalid character")
	}
	return ChannelName{raw: s}, nil
}

// String returns the channel name as originally cased.
func (c ChannelName) String() string { return c.raw }

// Fold returns the ASCII-lower-cased form used for map keys.
func (c ChannelName) Fold() string { return strings.ToLower(c.raw) }

// Equal reports case-insensitive equality.
func (c ChannelName) Equal(other ChannelName) bool { return c.Fold() == other.Fold() }

// ServerID is a 3-character TS6 SID paired with the server's FQDN.
type ServerID struct {
	SID  string
	Name string
}

// ParseServerID validates sid ([0-9][0-9A-Z]{2}) and name (lower-case,
// contains a dot).
func ParseServerID(sid, name string) (ServerID, error) {
	if len(sid) != 3 || !isDigit(sid[0]) {
		return ServerID{}, fmt.Errorf("sid must be 3 characters starting with a digit")
	}
	for i := 1; i < 3; i++ {
		c := sid[i]
		if !isDigit(c) && !(c >= 'A' && c <= 'Z') {
			return ServerID{}, fmt.Errorf("sid characters must be [0-9A-Z]")
		}
	}
	if !strings.Contains(name, ".") {
		return ServerID{}, fmt.Errorf("server name must contain a dot")
	}
	return ServerID{SID: sid, Name: strings.ToLower(name)}, nil
}
