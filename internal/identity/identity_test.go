package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNicknameBoundaries(t *testing.T) {
	ok := strings.Repeat("a", MaxNickLength)
	_, err := ParseNickname(ok)
	require.NoError(t, err)

	tooLong := strings.Repeat("a", MaxNickLength+1)
	_, err = ParseNickname(tooLong)
	require.Error(t, err)
}

func TestParseNicknameRejectsLeadingDigit(t *testing.T) {
	_, err := ParseNickname("1abc")
	require.Error(t, err)
}

func TestParseNicknameRejectsDot(t *testing.T) {
	_, err := ParseNickname("a.b")
	require.Error(t, err)
}

func TestParseNicknameAllowsSpecials(t *testing.T) {
	n, err := ParseNickname(`[alice]_\{x}|^`)
	require.NoError(t, err)
	assert.Equal(t, `[alice]_\{x}|^`, n.String())
}

func TestNicknameFoldEquality(t *testing.T) {
	a, _ := ParseNickname("Alice")
	b, _ := ParseNickname("alice")
	assert.True(t, a.Equal(b))
}

func TestParseChannelNameBoundaries(t *testing.T) {
	ok := "#" + strings.Repeat("a", MaxChannelLength-1)
	_, err := ParseChannelName(ok)
	require.NoError(t, err)

	tooLong := "#" + strings.Repeat("a", MaxChannelLength)
	_, err = ParseChannelName(tooLong)
	require.Error(t, err)
}

func TestParseChannelNamePrefix(t *testing.T) {
	_, err := ParseChannelName("lobby")
	require.Error(t, err)

	_, err = ParseChannelName("&local")
	require.NoError(t, err)
}

func TestParseChannelNameRejectsComma(t *testing.T) {
	_, err := ParseChannelName("#a,b")
	require.Error(t, err)
}

func TestParseServerID(t *testing.T) {
	_, err := ParseServerID("001", "irc.example.org")
	require.NoError(t, err)

	_, err = ParseServerID("XYZ", "irc.example.org")
	require.Error(t, err)

	_, err = ParseServerID("001", "noDotHere")
	require.Error(t, err)
}

func TestParseHostmask(t *testing.T) {
	h := ParseHostmask("alice!auser@host.example.org")
	assert.Equal(t, "alice", h.Nick)
	assert.Equal(t, "auser", h.User)
	assert.Equal(t, "host.example.org", h.Host)
}

func TestGlobMatchWildcards(t *testing.T) {
	assert.True(t, GlobMatch("*!*@evil.example", "bad!u@evil.example"))
	assert.False(t, GlobMatch("*!*@evil.example", "bad!u@good.example"))
	assert.True(t, GlobMatch("a?c", "abc"))
	assert.False(t, GlobMatch("a?c", "abbc"))
	assert.True(t, GlobMatch("*", "anything"))
}

func TestGlobMatchCaseInsensitive(t *testing.T) {
	assert.True(t, GlobMatch("*!*@EVIL.example", "bad!u@evil.EXAMPLE"))
}

func TestGlobMatchPathologicalPatternIsLinear(t *testing.T) {
	pattern := strings.Repeat("a*", 1000) + "b"
	s := strings.Repeat("a", 999)
	assert.False(t, GlobMatch(pattern, s))
}
