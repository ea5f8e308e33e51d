// Package broker owns the outbound fan-out operations: single connection
// sends, channel fan-out, account fan-out, and labeled-response batch
// wrapping. It has no network-wide broadcast and forwards nothing to peer
// servers. It is deliberately decoupled from the
// graph (package graph) — callers resolve recipients via the graph and
// pass UIDs/connections in — matching the design note to inject the
// broker as an explicit parameter rather than reach for it as a singleton.
package broker

import (
	"strconv"
	"sync"
	"time"

	"github.com/brudvik/hugin-ircd/internal/ircmsg"
)

// Sender is anything the broker can hand a message to for eventual
// delivery to one connection: a bounded, non-blocking outbound queue. It
// mirrors the teacher's maybeQueueMessage pattern (local_client.go):
// Enqueue never blocks the caller; it reports whether the message was
// accepted so the broker can track sendq-exceeded state per connection.
type Sender interface {
	Enqueue(m ircmsg.Message) (accepted bool)
}

// Broker fans messages out to connections, channels, and accounts.
type Broker struct {
	mu          sync.RWMutex
	connections map[string]Sender
	accounts    map[string]map[string]struct{} // account -> set of connection ids
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{
		connections: map[string]Sender{},
		accounts:    map[string]map[string]struct{}{},
	}
}

// Register adds a connection id -> Sender mapping.
func (b *Broker) Register(connID string, s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[connID] = s
}

// Unregister removes a connection and detaches it from any account it was
// bound to.
func (b *Broker) Unregister(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, connID)
	for acct, ids := range b.accounts {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(b.accounts, acct)
		}
	}
}

// BindAccount associates connID with account, for sendToAccount fan-out.
func (b *Broker) BindAccount(account, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids, ok := b.accounts[account]
	if !ok {
		ids = map[string]struct{}{}
		b.accounts[account] = ids
	}
	ids[connID] = struct{}{}
}

// SendToConnection delivers m to the single connection connID. It reports
// whether the connection was known and accepted the message.
func (b *Broker) SendToConnection(connID string, m ircmsg.Message) bool {
	b.mu.RLock()
	s, ok := b.connections[connID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Enqueue(m)
}

// Recipient pairs a connection id with the capability set relevant to
// fan-out decisions (echo-message, server-time, labeled-response).
type Recipient struct {
	ConnID         string
	HasServerTime  bool
	HasEchoMessage bool
}

// SendToChannel fans m out to every recipient in recipients, skipping the
// sender's own connection unless it negotiated echo-message. senderConnID
// is empty for server-originated messages (no sender to exclude).
func (b *Broker) SendToChannel(recipients []Recipient, senderConnID string, m ircmsg.Message) {
	for _, r := range recipients {
		if r.ConnID == senderConnID && !r.HasEchoMessage {
			continue
		}
		out := m
		if r.HasServerTime {
			out = StampServerTime(out, time.Now())
		}
		b.SendToConnection(r.ConnID, out)
	}
}

// SendToAccount delivers m to every connection bound to account.
func (b *Broker) SendToAccount(account string, m ircmsg.Message) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.accounts[account]))
	for id := range b.accounts[account] {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	for _, id := range ids {
		b.SendToConnection(id, m)
	}
}

// StampServerTime attaches the IRCv3 server-time tag with an RFC3339Nano
// (truncated to milliseconds) UTC timestamp.
func StampServerTime(m ircmsg.Message, t time.Time) ircmsg.Message {
	tagged := m
	tagged.Tags = append(append([]ircmsg.Tag{}, m.Tags...), ircmsg.Tag{
		Key:      "time",
		Value:    t.UTC().Format("2006-01-02T15:04:05.000Z"),
		HasValue: true,
	})
	return tagged
}

// batchCounter mints unique-enough batch reference tokens without relying
// on process-wide shared mutable state beyond this one atomic-by-mutex
// counter.
var (
	batchMu      sync.Mutex
	batchCounter int64
)

func nextBatchToken() string {
	batchMu.Lock()
	batchCounter++
	n := batchCounter
	batchMu.Unlock()
	return "b" + strconv.FormatInt(n, 36)
}

// WrapInLabeledBatch wraps messages in a BATCH +<token> labeled-response
// pair tagged with label on every constituent message, per §4.I. If the
// recipient did not negotiate batch, the label tag is still applied to
// each message individually and no BATCH wrapper is emitted.
func WrapInLabeledBatch(label string, messages []ircmsg.Message, recipientHasBatch bool) []ircmsg.Message {
	labeled := make([]ircmsg.Message, len(messages))
	for i, m := range messages {
		labeled[i] = withLabelTag(m, label)
	}
	if !recipientHasBatch {
		return labeled
	}

	token := nextBatchToken()
	open := ircmsg.Message{Command: "BATCH", Params: []string{"+" + token, "labeled-response"}}
	close := ircmsg.Message{Command: "BATCH", Params: []string{"-" + token}}

	out := make([]ircmsg.Message, 0, len(labeled)+2)
	out = append(out, withLabelTag(open, label))
	out = append(out, labeled...)
	out = append(out, close)
	return out
}

func withLabelTag(m ircmsg.Message, label string) ircmsg.Message {
	tagged := m
	tagged.Tags = append(append([]ircmsg.Tag{}, m.Tags...), ircmsg.Tag{Key: "label", Value: label, HasValue: true})
	return tagged
}
