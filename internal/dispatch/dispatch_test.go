package dispatch

import (
	"testing"
	"time"

	"github.com/brudvik/hugin-ircd/internal/capability"
	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/identity"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCtx(t *testing.T, registered bool) (*Context, *graph.Graph) {
	t.Helper()
	g := graph.New()
	var u *graph.User
	if registered {
		nick, err := identity.ParseNickname("alice")
		require.NoError(t, err)
		u = &graph.User{UID: "001AAAAAA", Nick: nick, Username: "a", DisplayHost: "h", Channels: map[string]struct{}{}}
		require.NoError(t, g.AddUser(u))
	}
	return &Context{
		Graph:      g,
		Caps:       capability.NewSet(),
		ServerName: "irc.example.org",
		User:       u,
		Registered: registered,
	}, g
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newCtx(t, true)
	_, err := Dispatch(r, nil, ctx, ircmsg.Message{Command: "BOGUS"}, time.Now())
	require.Error(t, err)
	assert.Equal(t, ErrUnknownCommand, err.(*NumericError).Numeric)
}

func TestDispatchRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx, _ := newCtx(t, false)
	_, err := Dispatch(r, nil, ctx, ircmsg.Message{Command: "JOIN", Params: []string{"#lobby"}}, time.Now())
	require.Error(t, err)
	assert.Equal(t, ErrNotRegistered, err.(*NumericError).Numeric)
}

func TestDispatchRequiresMinParams(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx, _ := newCtx(t, true)
	_, err := Dispatch(r, nil, ctx, ircmsg.Message{Command: "JOIN"}, time.Now())
	require.Error(t, err)
	assert.Equal(t, ErrNeedMoreParams, err.(*NumericError).Numeric)
}

func TestDispatchJoinSucceeds(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx, _ := newCtx(t, true)
	out, err := Dispatch(r, nil, ctx, ircmsg.Message{Command: "JOIN", Params: []string{"#lobby"}}, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 3) // JOIN + 353 (NAMES) + 366 (end of NAMES)
	assert.Equal(t, "JOIN", out[0].Command)
	assert.Equal(t, "353", out[1].Command)
	assert.Equal(t, "366", out[2].Command)
}

func TestDispatchLabeledResponseWrapsWithBatch(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx, _ := newCtx(t, true)
	ctx.Caps.Add(capability.Batch)
	ctx.Caps.Add(capability.LabeledResponse)

	msg := ircmsg.Message{
		Tags:    []ircmsg.Tag{{Key: "label", Value: "l1", HasValue: true}},
		Command: "WHOIS",
		Params:  []string{"alice"},
	}
	out, err := Dispatch(r, nil, ctx, msg, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 4) // BATCH open + 311 + 318 + BATCH close
	assert.Equal(t, "BATCH", out[0].Command)
	assert.Equal(t, "BATCH", out[3].Command)
}

func TestDispatchCapReqAtomicNak(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	ctx, _ := newCtx(t, false)
	out, err := Dispatch(r, nil, ctx, ircmsg.Message{Command: "CAP", Params: []string{"REQ", "sasl bogus-cap"}}, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Params, "NAK")
}
