package ircmsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	m, err := Parse(":alice!a@host PRIVMSG #lobby :hi there")
	require.NoError(t, err)
	assert.Equal(t, "alice!a@host", m.Source)
	assert.Equal(t, "PRIVMSG", m.Command)
	assert.Equal(t, []string{"#lobby", "hi there"}, m.Params)
}

func TestParseNoPrefixNoParams(t *testing.T) {
	m, err := Parse("PING")
	require.NoError(t, err)
	assert.Equal(t, "", m.Source)
	assert.Equal(t, "PING", m.Command)
	assert.Nil(t, m.Params)
}

func TestParseUppercasesCommand(t *testing.T) {
	m, err := Parse("nick join #x")
	require.NoError(t, err)
	assert.Equal(t, "NICK", m.Command)
}

func TestParseEmptyTrailingParam(t *testing.T) {
	m, err := Parse("TOPIC #lobby :")
	require.NoError(t, err)
	require.Len(t, m.Params, 2)
	assert.Equal(t, "", m.Params[1])
}

func TestParseTooManyParams(t *testing.T) {
	line := "CMD a b c d e f g h i j k l m n o p"
	_, err := Parse(line)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrKindTooManyParams, pe.Kind)
}

func TestParseOversizedLine(t *testing.T) {
	huge := make([]byte, MaxLineLength+50)
	for i := range huge {
		huge[i] = 'a'
	}
	line := "PRIVMSG #x :" + string(huge)
	_, err := Parse(line)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrKindOversized, pe.Kind)
}

func TestParseEmptyCommand(t *testing.T) {
	_, err := Parse(" ")
	require.Error(t, err)
}

func TestParseTags(t *testing.T) {
	m, err := Parse("@id=123;time=2021-01-01T00:00:00Z :server.example NOTICE * :hi")
	require.NoError(t, err)
	require.Len(t, m.Tags, 2)
	assert.Equal(t, "id", m.Tags[0].Key)
	assert.Equal(t, "123", m.Tags[0].Value)
	assert.Equal(t, "server.example", m.Source)
}

func TestParseTagEscaping(t *testing.T) {
	m, err := Parse(`@note=hello\sworld;semi=a\:b PRIVMSG #x :hi`)
	require.NoError(t, err)
	assert.Equal(t, "hello world", m.Tags[0].Value)
	assert.Equal(t, "a;b", m.Tags[1].Value)
}

func TestEncodeRoundTrip(t *testing.T) {
	cases := []string{
		":alice!a@host PRIVMSG #lobby :hi there\r\n",
		"PING server.example\r\n",
		"NICK alice\r\n",
		"TOPIC #lobby :\r\n",
	}
	for _, line := range cases {
		m, err := Parse(strings.TrimSuffix(line, "\r\n"))
		require.NoError(t, err)
		assert.Equal(t, line, m.Encode())
	}
}

func TestEncodeQuotesTrailingWithSpaceOrColon(t *testing.T) {
	m := Message{Command: "PRIVMSG", Params: []string{"#x", "has space"}}
	assert.Equal(t, "PRIVMSG #x :has space\r\n", m.Encode())

	m2 := Message{Command: "PRIVMSG", Params: []string{"#x", ":startswithcolon"}}
	assert.Equal(t, "PRIVMSG #x ::startswithcolon\r\n", m2.Encode())
}

func TestSourceNick(t *testing.T) {
	assert.Equal(t, "alice", SourceNick("alice!a@host"))
	assert.Equal(t, "server.example", SourceNick("server.example"))
}

func TestLFOnlyLeniency(t *testing.T) {
	advance, token, err := SplitLines([]byte("PING\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, advance)
	assert.Equal(t, "PING", string(token))
}

func TestCRLFSplit(t *testing.T) {
	advance, token, err := SplitLines([]byte("PING\r\nPONG\r\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 6, advance)
	assert.Equal(t, "PING", string(token))
}
