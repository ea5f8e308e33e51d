package capability

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRequestIsAtomicOnUnknownCapability(t *testing.T) {
	s := NewSet()
	res := s.Request([]string{"sasl", "not-a-real-cap"})
	assert.False(t, res.Ack)
	assert.False(t, s.Has(SASL))
}

func TestRequestAcksKnownCapabilities(t *testing.T) {
	s := NewSet()
	res := s.Request([]string{"sasl", "server-time"})
	assert.True(t, res.Ack)
	assert.True(t, s.Has(SASL))
	assert.True(t, s.Has(ServerTime))
}

func TestRequestRemoval(t *testing.T) {
	s := NewSet()
	s.Request([]string{"sasl"})
	res := s.Request([]string{"-sasl"})
	assert.True(t, res.Ack)
	assert.False(t, s.Has(SASL))
}

func TestIsPublishedCoversRequiredMinimumSet(t *testing.T) {
	for _, c := range []Capability{MessageTags, ServerTime, AccountTag, AccountNotify, AwayNotify, ChgHost, InviteNotify, ExtendedJoin, MultiPrefix, UserhostInNames, CapNotify, EchoMessage, Batch, LabeledResponse, SASL, ChatHistory} {
		assert.True(t, IsPublished(c), c)
	}
}

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestSASLPlainSuccess(t *testing.T) {
	store := &BcryptStore{Passwords: map[string]string{"alice": hashPassword(t, "pw")}}
	sess, ok := NewSession(MechPlain, false, "")
	require.True(t, ok)

	payload := "\x00alice\x00pw"
	chunk := base64.StdEncoding.EncodeToString([]byte(payload))
	outcome, account := sess.Feed(chunk, store)
	assert.Equal(t, Success, outcome)
	assert.Equal(t, "alice", account)
}

func TestSASLPlainWrongPasswordFails(t *testing.T) {
	store := &BcryptStore{Passwords: map[string]string{"alice": hashPassword(t, "pw")}}
	sess, _ := NewSession(MechPlain, false, "")

	payload := "\x00alice\x00wrong"
	chunk := base64.StdEncoding.EncodeToString([]byte(payload))
	outcome, _ := sess.Feed(chunk, store)
	assert.Equal(t, Failure, outcome)
}

func TestSASLPlainAuthzidOverridesBind(t *testing.T) {
	store := &BcryptStore{Passwords: map[string]string{"alice": hashPassword(t, "pw")}}
	sess, _ := NewSession(MechPlain, false, "")

	payload := "bob\x00alice\x00pw"
	chunk := base64.StdEncoding.EncodeToString([]byte(payload))
	outcome, account := sess.Feed(chunk, store)
	assert.Equal(t, Success, outcome)
	assert.Equal(t, "bob", account)
}

func TestSASLExternalRequiresTLS(t *testing.T) {
	_, ok := NewSession(MechExternal, false, "fp")
	assert.False(t, ok)

	sess, ok := NewSession(MechExternal, true, "fp")
	require.True(t, ok)
	store := &BcryptStore{Fingerprints: map[string]string{"fp": "alice"}}
	outcome, account := sess.Feed("+", store)
	assert.Equal(t, Success, outcome)
	assert.Equal(t, "alice", account)
}

func TestSASLExternalUnknownFingerprintFails(t *testing.T) {
	sess, _ := NewSession(MechExternal, true, "unknown-fp")
	store := &BcryptStore{Fingerprints: map[string]string{"fp": "alice"}}
	outcome, _ := sess.Feed("+", store)
	assert.Equal(t, Failure, outcome)
}

func TestSASLUnknownMechanismRejected(t *testing.T) {
	_, ok := NewSession(Mechanism("GSSAPI"), true, "")
	assert.False(t, ok)
}
