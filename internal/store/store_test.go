package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountAndVerifyPassword(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount("alice", "hunter2"))

	account, ok := s.VerifyPassword("alice", "hunter2")
	require.True(t, ok)
	assert.Equal(t, "alice", account)

	_, ok = s.VerifyPassword("alice", "wrong")
	assert.False(t, ok)
}

func TestAccountByFingerprintUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, ok := s.AccountByFingerprint("deadbeef")
	assert.False(t, ok)
}

func TestRegisterAndLookupChannel(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.RegisterChannel("#lobby", "alice"))

	ch, ok := s.LookupRegisteredChannel("#lobby")
	require.True(t, ok)
	assert.Equal(t, "alice", ch.Founder)

	_, ok = s.LookupRegisteredChannel("#nope")
	assert.False(t, ok)
}

func TestRecordMessageAssignsIDWhenMissing(t *testing.T) {
	s := NewMemoryStore()
	s.RecordMessage(StoredMessage{Target: "#lobby", Sender: "alice", Text: "hi", Timestamp: time.Now()})

	msgs := s.LatestMessages("#lobby", 10)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestLatestMessagesOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.RecordMessage(StoredMessage{Target: "#lobby", Text: "msg", Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	msgs := s.LatestMessages("#lobby", 3)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Timestamp.After(msgs[1].Timestamp))
}

func TestMessagesBeforeFiltersByTimestamp(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.RecordMessage(StoredMessage{Target: "#lobby", Text: "old", Timestamp: base.Add(-time.Hour)})
	s.RecordMessage(StoredMessage{Target: "#lobby", Text: "new", Timestamp: base})

	msgs := s.MessagesBefore("#lobby", base.Add(-time.Minute), 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "old", msgs[0].Text)
}
