// Package ratelimit implements the two token buckets the server admits
// traffic through: a per-source-IP connection bucket and a per-connection
// command bucket, both backed by golang.org/x/time/rate, plus the "excess
// flood" escalation policy layered on top of the command bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config carries the refill rate and burst capacity for one bucket kind.
type Config struct {
	// RatePerSecond is the steady-state refill rate.
	RatePerSecond float64
	// Burst is the bucket capacity (maximum tokens that can accumulate).
	Burst int
}

// ConnectionLimiter admits TCP accepts per source IP. A new accept consumes
// one token; when the bucket is empty the caller should close the
// connection immediately.
type ConnectionLimiter struct {
	cfg Config

	mu       sync.Mutex
	byHost   map[string]*rate.Limiter
}

// NewConnectionLimiter constructs a ConnectionLimiter from cfg.
func NewConnectionLimiter(cfg Config) *ConnectionLimiter {
	return &ConnectionLimiter{cfg: cfg, byHost: map[string]*rate.Limiter{}}
}

// Allow consumes one token for host, creating its bucket on first use.
func (c *ConnectionLimiter) Allow(host string) bool {
	c.mu.Lock()
	l, ok := c.byHost[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.Burst)
		c.byHost[host] = l
	}
	c.mu.Unlock()
	return l.Allow()
}

// Forget drops the bucket for host, e.g. once its last connection closes,
// so idle hosts do not leak memory indefinitely.
func (c *ConnectionLimiter) Forget(host string) {
	c.mu.Lock()
	delete(c.byHost, host)
	c.mu.Unlock()
}

// FloodPolicy escalates repeated command-bucket starvation into a
// disconnect: FloodThreshold consecutive drops inside FloodWindow trips it.
type FloodPolicy struct {
	Threshold int
	Window    time.Duration
}

// DefaultFloodPolicy matches catbox-era IRCds: 10 consecutive drops inside
// 10 seconds disconnects with "Excess Flood".
var DefaultFloodPolicy = FloodPolicy{Threshold: 10, Window: 10 * time.Second}

// CommandLimiter gates a single connection's command throughput and tracks
// the flood-escalation window.
type CommandLimiter struct {
	limiter *rate.Limiter
	policy  FloodPolicy

	mu            sync.Mutex
	consecutive   int
	windowStarted time.Time
}

// NewCommandLimiter constructs a CommandLimiter from cfg using policy for
// flood escalation.
func NewCommandLimiter(cfg Config, policy FloodPolicy) *CommandLimiter {
	return &CommandLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		policy:  policy,
	}
}

// Result is the outcome of submitting one command to the limiter.
type Result int

const (
	// Admitted means the command consumed a token and should be handled.
	Admitted Result = iota
	// Dropped means the bucket was empty; the command should be discarded
	// and rate_limit_hits{type=command} incremented.
	Dropped
	// Flooded means Dropped has now happened Threshold times inside Window;
	// the caller should disconnect with "Excess Flood".
	Flooded
)

// Submit consumes one token if available and returns the outcome.
func (c *CommandLimiter) Submit(now time.Time) Result {
	if c.limiter.AllowN(now, 1) {
		c.mu.Lock()
		c.consecutive = 0
		c.mu.Unlock()
		return Admitted
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStarted.IsZero() || now.Sub(c.windowStarted) > c.policy.Window {
		c.windowStarted = now
		c.consecutive = 0
	}
	c.consecutive++

	if c.consecutive >= c.policy.Threshold {
		return Flooded
	}
	return Dropped
}
