package broker

import (
	"testing"

	"github.com/brudvik/hugin-ircd/internal/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	received []ircmsg.Message
	reject   bool
}

func (f *fakeSender) Enqueue(m ircmsg.Message) bool {
	if f.reject {
		return false
	}
	f.received = append(f.received, m)
	return true
}

func TestSendToConnectionUnknownReturnsFalse(t *testing.T) {
	b := New()
	assert.False(t, b.SendToConnection("nope", ircmsg.Message{Command: "PRIVMSG"}))
}

func TestSendToConnectionDelivers(t *testing.T) {
	b := New()
	s := &fakeSender{}
	b.Register("conn1", s)
	ok := b.SendToConnection("conn1", ircmsg.Message{Command: "PRIVMSG"})
	require.True(t, ok)
	require.Len(t, s.received, 1)
}

func TestUnregisterRemovesConnectionAndAccountBinding(t *testing.T) {
	b := New()
	s := &fakeSender{}
	b.Register("conn1", s)
	b.BindAccount("alice", "conn1")
	b.Unregister("conn1")

	assert.False(t, b.SendToConnection("conn1", ircmsg.Message{Command: "PING"}))
	b.SendToAccount("alice", ircmsg.Message{Command: "PING"})
	assert.Empty(t, s.received)
}

func TestSendToChannelSkipsSenderWithoutEcho(t *testing.T) {
	b := New()
	sender := &fakeSender{}
	other := &fakeSender{}
	b.Register("sender-conn", sender)
	b.Register("other-conn", other)

	recipients := []Recipient{
		{ConnID: "sender-conn"},
		{ConnID: "other-conn"},
	}
	b.SendToChannel(recipients, "sender-conn", ircmsg.Message{Command: "PRIVMSG"})

	assert.Empty(t, sender.received)
	require.Len(t, other.received, 1)
}

func TestSendToChannelEchoesWhenNegotiated(t *testing.T) {
	b := New()
	sender := &fakeSender{}
	b.Register("sender-conn", sender)

	recipients := []Recipient{{ConnID: "sender-conn", HasEchoMessage: true}}
	b.SendToChannel(recipients, "sender-conn", ircmsg.Message{Command: "PRIVMSG"})

	require.Len(t, sender.received, 1)
}

func TestSendToChannelStampsServerTime(t *testing.T) {
	b := New()
	s := &fakeSender{}
	b.Register("conn1", s)

	recipients := []Recipient{{ConnID: "conn1", HasServerTime: true}}
	b.SendToChannel(recipients, "", ircmsg.Message{Command: "PRIVMSG"})

	require.Len(t, s.received, 1)
	found := false
	for _, tag := range s.received[0].Tags {
		if tag.Key == "time" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSendToAccountFansOutToAllBoundConnections(t *testing.T) {
	b := New()
	a := &fakeSender{}
	bConn := &fakeSender{}
	b.Register("conn-a", a)
	b.Register("conn-b", bConn)
	b.BindAccount("alice", "conn-a")
	b.BindAccount("alice", "conn-b")

	b.SendToAccount("alice", ircmsg.Message{Command: "NOTICE"})
	assert.Len(t, a.received, 1)
	assert.Len(t, bConn.received, 1)
}

func TestWrapInLabeledBatchWithoutBatchCapability(t *testing.T) {
	msgs := []ircmsg.Message{{Command: "PRIVMSG"}, {Command: "PRIVMSG"}}
	out := WrapInLabeledBatch("l1", msgs, false)
	require.Len(t, out, 2)
	for _, m := range out {
		assert.Equal(t, "l1", tagValue(m, "label"))
	}
}

func TestWrapInLabeledBatchWithBatchCapability(t *testing.T) {
	msgs := []ircmsg.Message{{Command: "PRIVMSG"}}
	out := WrapInLabeledBatch("l1", msgs, true)
	require.Len(t, out, 3)
	assert.Equal(t, "BATCH", out[0].Command)
	assert.Equal(t, "PRIVMSG", out[1].Command)
	assert.Equal(t, "BATCH", out[2].Command)
	assert.Equal(t, "l1", tagValue(out[0], "label"))
}

func tagValue(m ircmsg.Message, key string) string {
	for _, t := range m.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}
