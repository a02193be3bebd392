// Package metrics tracks runtime statistics of a chat server.
//
// Counters live in atomics so the admin /stats endpoint can read them
// cheaply, and are mirrored into a private Prometheus registry served on
// /metrics.  All methods are safe for concurrent use.  A nil *Collector
// is a valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sockchat"

// Collector tracks runtime metrics for one server.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive    atomic.Int64
	sessionsTotal     atomic.Int64
	connectionsTotal  atomic.Int64
	handshakeFailures atomic.Int64
	commandsTotal     atomic.Int64
	deliveries        atomic.Int64
	sessionsPruned    atomic.Int64
	decodeFailures    atomic.Int64
	errorsTotal       atomic.Int64

	reg   *prometheus.Registry
	prom  promMetrics
	start time.Time

	mu           sync.RWMutex
	lastError    time.Time
	lastErrorMsg string
}

type promMetrics struct {
	sessionsActive    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	connections       *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	commands          *prometheus.CounterVec
	deliveries        prometheus.Counter
	pruned            prometheus.Counter
	decodeFailures    prometheus.Counter
	errors            prometheus.Counter
}

// New creates a collector with its own Prometheus registry, which also
// carries the Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg:   reg,
		start: time.Now(),
		prom: promMetrics{
			sessionsActive: f.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Name: "sessions_active",
				Help: "Sessions currently registered under a name.",
			}),
			sessionsTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "sessions_total",
				Help: "Sessions that completed the handshake.",
			}),
			connections: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "connections_total",
				Help: "Accepted connections by transport.",
			}, []string{"transport"}),
			handshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "handshake_failures_total",
				Help: "Rejected handshakes by stage.",
			}, []string{"stage"}),
			commands: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: "commands_total",
				Help: "Commands dispatched by kind.",
			}, []string{"command"}),
			deliveries: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "deliveries_total",
				Help: "Frames written to sessions.",
			}),
			pruned: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "sessions_pruned_total",
				Help: "Sessions dropped after a failed write.",
			}),
			decodeFailures: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "decode_failures_total",
				Help: "Frames that could not be decrypted.",
			}),
			errors: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Name: "errors_total",
				Help: "Unexpected server-side errors.",
			}),
		},
	}
}

// ── Connection and session metrics ───────────────────────────────────

// ConnectionAccepted counts an accepted connection on transport
// ("tcp" or "ws").
func (c *Collector) ConnectionAccepted(transport string) {
	if c == nil {
		return
	}
	c.connectionsTotal.Add(1)
	c.prom.connections.WithLabelValues(transport).Inc()
}

// SessionOpened records a completed handshake.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.prom.sessionsActive.Inc()
	c.prom.sessionsTotal.Inc()
}

// SessionClosed records the end of an established session.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
	c.prom.sessionsActive.Dec()
}

// ActiveSessions returns the number of established sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime count of established sessions.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// HandshakeFailed counts a rejected handshake at stage.
func (c *Collector) HandshakeFailed(stage string) {
	if c == nil {
		return
	}
	c.handshakeFailures.Add(1)
	c.prom.handshakeFailures.WithLabelValues(stage).Inc()
}

// HandshakeFailures returns the total number of rejected handshakes.
func (c *Collector) HandshakeFailures() int64 {
	if c == nil {
		return 0
	}
	return c.handshakeFailures.Load()
}

// SessionPruned counts a session dropped after a failed write.
func (c *Collector) SessionPruned() {
	if c == nil {
		return
	}
	c.sessionsPruned.Add(1)
	c.prom.pruned.Inc()
}

// PrunedSessions returns the number of pruned sessions.
func (c *Collector) PrunedSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsPruned.Load()
}

// ── Traffic metrics ──────────────────────────────────────────────────

// CommandHandled counts one dispatched command of the given kind.
func (c *Collector) CommandHandled(kind string) {
	if c == nil {
		return
	}
	c.commandsTotal.Add(1)
	c.prom.commands.WithLabelValues(kind).Inc()
}

// Commands returns the total number of dispatched commands.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commandsTotal.Load()
}

// Delivered counts n frames written to sessions.
func (c *Collector) Delivered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.deliveries.Add(int64(n))
	c.prom.deliveries.Add(float64(n))
}

// Deliveries returns the total number of frames written.
func (c *Collector) Deliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveries.Load()
}

// DecodeFailed counts a frame dropped because it did not decrypt.
func (c *Collector) DecodeFailed() {
	if c == nil {
		return
	}
	c.decodeFailures.Add(1)
	c.prom.decodeFailures.Inc()
}

// DecodeFailures returns the number of undecryptable frames.
func (c *Collector) DecodeFailures() int64 {
	if c == nil {
		return 0
	}
	return c.decodeFailures.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.prom.errors.Inc()
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Export ───────────────────────────────────────────────────────────

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry so callers can
// register additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	ConnectionsTotal  int64  `json:"connections_total"`
	HandshakeFailures int64  `json:"handshake_failures"`
	Commands          int64  `json:"commands"`
	Deliveries        int64  `json:"deliveries"`
	SessionsPruned    int64  `json:"sessions_pruned"`
	DecodeFailures    int64  `json:"decode_failures"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.start).Truncate(time.Second).String(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		HandshakeFailures: c.handshakeFailures.Load(),
		Commands:          c.commandsTotal.Load(),
		Deliveries:        c.deliveries.Load(),
		SessionsPruned:    c.sessionsPruned.Load(),
		DecodeFailures:    c.decodeFailures.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(data)
}
