// Package metrics exposes a small Sink interface over the runtime's
// observable counters/gauges (connections, commands dispatched, users,
// channels, S2S link state), backed by a Prometheus registry. The core
// only ever depends on the Sink interface; wiring a real exporter or a
// no-op stub is a composition-root decision.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the opaque emission contract the core server talks to.
type Sink interface {
	IncConnections()
	DecConnections()
	IncCommandsDispatched(command string)
	SetUsers(n int)
	SetChannels(n int)
	SetServerLinks(n int)
	IncRateLimitDrops()
}

// PrometheusSink backs Sink with real Prometheus collectors registered
// against reg.
type PrometheusSink struct {
	connections    prometheus.Gauge
	commands       *prometheus.CounterVec
	users          prometheus.Gauge
	channels       prometheus.Gauge
	serverLinks    prometheus.Gauge
	rateLimitDrops prometheus.Counter
}

// NewPrometheusSink constructs and registers the collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) *PrometheusSink {
	s := &PrometheusSink{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections", Help: "Currently open client connections.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_dispatched_total", Help: "Commands dispatched, by command name.",
		}, []string{"command"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "users", Help: "Currently registered users.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channels", Help: "Currently existing channels.",
		}),
		serverLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "server_links", Help: "Currently linked peer servers.",
		}),
		rateLimitDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_drops_total", Help: "Commands or connections dropped by rate limiting.",
		}),
	}
	reg.MustRegister(s.connections, s.commands, s.users, s.channels, s.serverLinks, s.rateLimitDrops)
	return s
}

func (s *PrometheusSink) IncConnections() { s.connections.Inc() }
func (s *PrometheusSink) DecConnections() { s.connections.Dec() }
func (s *PrometheusSink) IncCommandsDispatched(command string) {
	s.commands.WithLabelValues(command).Inc()
}
func (s *PrometheusSink) SetUsers(n int)       { s.users.Set(float64(n)) }
func (s *PrometheusSink) SetChannels(n int)    { s.channels.Set(float64(n)) }
func (s *PrometheusSink) SetServerLinks(n int) { s.serverLinks.Set(float64(n)) }
func (s *PrometheusSink) IncRateLimitDrops()   { s.rateLimitDrops.Inc() }

// NoopSink discards every observation; used where a Sink is required but
// no registry is wired (tests, the in-process graph unit suites).
type NoopSink struct{}

func (NoopSink) IncConnections()             {}
func (NoopSink) DecConnections()             {}
func (NoopSink) IncCommandsDispatched(string) {}
func (NoopSink) SetUsers(int)                {}
func (NoopSink) SetChannels(int)             {}
func (NoopSink) SetServerLinks(int)          {}
func (NoopSink) IncRateLimitDrops()          {}
