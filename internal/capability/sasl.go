package capability

import (
	"bytes"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Mechanism is a supported SASL mechanism name.
type Mechanism string

const (
	MechPlain    Mechanism = "PLAIN"
	MechExternal Mechanism = "EXTERNAL"
)

// MaxChunkLength is the maximum size of one base64-encoded AUTHENTICATE
// line; longer payloads must be split by the client across multiple lines.
const MaxChunkLength = 400

// AccountStore is the subset of the persistence contract SASL needs:
// password verification and certificate-fingerprint lookup.
type AccountStore interface {
	// VerifyPassword returns true if password hashes to the stored hash for
	// authcid, and the resolved account name to bind to.
	VerifyPassword(authcid, password string) (account string, ok bool)
	// AccountByFingerprint resolves a TLS client certificate fingerprint to
	// an account name.
	AccountByFingerprint(fingerprint string) (account string, ok bool)
}

// BcryptStore adapts a map of authcid->bcrypt-hash and a map of
// fingerprint->account into an AccountStore, the shape the in-memory test
// persistence implementation in internal/store exposes.
type BcryptStore struct {
	Passwords    map[string]string // authcid -> bcrypt hash
	Fingerprints map[string]string // fingerprint -> account
}

// VerifyPassword implements AccountStore.
func (b *BcryptStore) VerifyPassword(authcid, password string) (string, bool) {
	hash, ok := b.Passwords[authcid]
	if !ok {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", false
	}
	return authcid, true
}

// AccountByFingerprint implements AccountStore.
func (b *BcryptStore) AccountByFingerprint(fp string) (string, bool) {
	acct, ok := b.Fingerprints[fp]
	return acct, ok
}

// Session is the scratch state for one in-progress SASL exchange.
type Session struct {
	Mechanism Mechanism
	buf       bytes.Buffer
	secure    bool
	peerCertFingerprint string
}

// NewSession starts a session for mech. secure reports whether the
// underlying connection is TLS-protected, required for mechanisms that
// declare requiresTls (EXTERNAL always does).
func NewSession(mech Mechanism, secure bool, peerCertFingerprint string) (*Session, bool) {
	switch mech {
	case MechPlain:
		return &Session{Mechanism: mech, secure: secure}, true
	case MechExternal:
		if !secure {
			return nil, false
		}
		return &Session{Mechanism: mech, secure: secure, peerCertFingerprint: peerCertFingerprint}, true
	default:
		return nil, false
	}
}

// Outcome is the terminal result of feeding a chunk to a Session.
type Outcome int

const (
	// Continue means more AUTHENTICATE chunks are expected.
	Continue Outcome = iota
	// Success means authentication completed; Account is populated.
	Success
	// Failure means authentication was rejected.
	Failure
)

// Feed appends one base64 chunk (already stripped of the leading
// "AUTHENTICATE " token) to the session buffer. A chunk of exactly "+"
// denotes an empty continuation. A chunk shorter than MaxChunkLength ends
// the payload and triggers verification.
func (s *Session) Feed(chunk string, store AccountStore) (Outcome, string) {
	if chunk != "+" {
		decoded, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return Failure, ""
		}
		s.buf.Write(decoded)
	}

	if len(chunk) == MaxChunkLength {
		return Continue, ""
	}

	payload := s.buf.Bytes()
	s.buf.Reset()

	switch s.Mechanism {
	case MechPlain:
		return s.finishPlain(payload, store)
	case MechExternal:
		return s.finishExternal(payload, store)
	default:
		return Failure, ""
	}
}

func (s *Session) finishPlain(payload []byte, store AccountStore) (Outcome, string) {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	if len(parts) != 3 {
		return Failure, ""
	}
	authzid, authcid, password := string(parts[0]), string(parts[1]), string(parts[2])

	account, ok := store.VerifyPassword(authcid, password)
	if !ok {
		return Failure, ""
	}
	if authzid != "" && !strings.EqualFold(authzid, account) {
		account = authzid
	}
	return Success, account
}

func (s *Session) finishExternal(payload []byte, store AccountStore) (Outcome, string) {
	authzid := string(payload)
	account, ok := store.AccountByFingerprint(s.peerCertFingerprint)
	if !ok {
		return Failure, ""
	}
	if authzid != "" && !strings.EqualFold(authzid, account) {
		return Failure, ""
	}
	return Success, account
}
