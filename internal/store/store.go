// Package store defines the persistence contract the core depends on
// (accounts, registered channels, and chathistory messages) without
// committing to a database. SPEC_FULL.md treats the SQL schema as an
// external collaborator; this package is the Go-side boundary plus an
// in-memory implementation used by tests and by the capability package's
// SASL verification.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Account is a registered NickServ-style account.
type Account struct {
	Name           string
	PasswordHash   string
	CertFingerprints []string
}

// RegisteredChannel is a ChanServ-style persisted channel record.
type RegisteredChannel struct {
	Name      string
	Founder   string
	Topic     string
	Modes     string
	CreatedAt time.Time
}

// StoredMessage is one chathistory-eligible message, identified by a
// UUID rather than a monotonic integer so history can be merged across
// servers without collision.
type StoredMessage struct {
	ID        string
	Target    string // channel name or account name
	Sender    string
	Command   string
	Text      string
	Timestamp time.Time
}

// Store is the full persistence contract.
type Store interface {
	// Accounts
	VerifyPassword(authcid, password string) (account string, ok bool)
	AccountByFingerprint(fingerprint string) (account string, ok bool)
	CreateAccount(name, password string) error

	// Registered channels
	RegisterChannel(name, founder string) error
	LookupRegisteredChannel(name string) (RegisteredChannel, bool)

	// Chathistory
	RecordMessage(m StoredMessage)
	LatestMessages(target string, limit int) []StoredMessage
	MessagesBefore(target string, before time.Time, limit int) []StoredMessage
}

// MemoryStore is an in-memory Store, the test/dev implementation. It
// satisfies capability.AccountStore directly so it can back SASL in
// tests without an adapter.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	channels map[string]RegisteredChannel
	messages map[string][]StoredMessage
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*Account{},
		channels: map[string]RegisteredChannel{},
		messages: map[string][]StoredMessage{},
	}
}

// CreateAccount hashes password with bcrypt and stores the account.
func (m *MemoryStore) CreateAccount(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[name] = &Account{Name: name, PasswordHash: string(hash)}
	return nil
}

// VerifyPassword implements capability.AccountStore.
func (m *MemoryStore) VerifyPassword(authcid, password string) (string, bool) {
	m.mu.RLock()
	acct, ok := m.accounts[authcid]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return "", false
	}
	return acct.Name, true
}

// AccountByFingerprint implements capability.AccountStore.
func (m *MemoryStore) AccountByFingerprint(fingerprint string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acct := range m.accounts {
		for _, fp := range acct.CertFingerprints {
			if fp == fingerprint {
				return acct.Name, true
			}
		}
	}
	return "", false
}

// RegisterChannel implements Store.
func (m *MemoryStore) RegisterChannel(name, founder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = RegisteredChannel{Name: name, Founder: founder, CreatedAt: time.Now()}
	return nil
}

// LookupRegisteredChannel implements Store.
func (m *MemoryStore) LookupRegisteredChannel(name string) (RegisteredChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// RecordMessage implements Store. A message with an empty ID is stamped
// with uuid.NewString() before it is stored.
func (m *MemoryStore) RecordMessage(msg StoredMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.Target] = append(m.messages[msg.Target], msg)
}

// LatestMessages implements Store, returning up to limit messages newest
// first.
func (m *MemoryStore) LatestMessages(target string, limit int) []StoredMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[target]
	out := make([]StoredMessage, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MessagesBefore implements Store, for chathistory's "before" query type.
func (m *MemoryStore) MessagesBefore(target string, before time.Time, limit int) []StoredMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StoredMessage
	for _, msg := range m.messages[target] {
		if msg.Timestamp.Before(before) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
