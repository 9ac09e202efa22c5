// Package telemetry owns the Prometheus collectors for the session subsystem.
//
// Every recorder method is nil-safe so packages can run without metrics wired.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiond"

// Metrics groups all collectors.
type Metrics struct {
	reg *prometheus.Registry

	rotations      *prometheus.CounterVec
	issued         prometheus.Counter
	revocations    *prometheus.CounterVec
	blacklistWrite *prometheus.CounterVec
	lockouts       prometheus.Counter
	loginAttempts  *prometheus.CounterVec

	wsOpen     prometheus.Gauge
	wsEvents   *prometheus.CounterVec
	wsDropped  prometheus.Counter
	sweepFreed *prometheus.CounterVec
}

// New registers all collectors on a fresh registry (plus Go/process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "rotations_total",
			Help: "Refresh rotations by outcome.",
		}, []string{"outcome"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "issued_total",
			Help: "Sessions issued at login.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "revoked_rows_total",
			Help: "Refresh token rows moved to revoked, by reason.",
		}, []string{"reason"}),
		blacklistWrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "blacklist", Name: "writes_total",
			Help: "Access credential blacklist writes by result.",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lockout", Name: "locks_total",
			Help: "Accounts locked after repeated failures.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "login", Name: "attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		wsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "open_channels",
			Help: "Realtime channels currently registered.",
		}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_total",
			Help: "Realtime channel lifecycle events.",
		}, []string{"event"}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "dropped_frames_total",
			Help: "Outbound frames dropped under backpressure or closed peers.",
		}),
		sweepFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "rows_total",
			Help: "Rows expired or reaped by the background sweeper.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.rotations, m.issued, m.revocations, m.blacklistWrite, m.lockouts,
		m.loginAttempts, m.wsOpen, m.wsEvents, m.wsDropped, m.sweepFreed,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.reg
}

// Rotation records a refresh rotation outcome.
func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

// SessionIssued records a login issuance.
func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

// Revoked records n rows revoked for reason.
func (m *Metrics) Revoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(reason).Add(float64(n))
}

// BlacklistWrite records a blacklist write result ("ok" or "error").
func (m *Metrics) BlacklistWrite(result string) {
	if m == nil {
		return
	}
	m.blacklistWrite.WithLabelValues(result).Inc()
}

// Locked records an account lockout.
func (m *Metrics) Locked() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// LoginAttempt records a login outcome.
func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

// ChannelOpened records a channel reaching Open.
func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.wsOpen.Inc()
	m.wsEvents.WithLabelValues("open").Inc()
}

// ChannelClosed records a registered channel leaving the registry.
func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.wsOpen.Dec()
	m.wsEvents.WithLabelValues("close").Inc()
}

// ChannelEvent records a named lifecycle event (replaced, rejected, ...).
func (m *Metrics) ChannelEvent(event string) {
	if m == nil {
		return
	}
	m.wsEvents.WithLabelValues(event).Inc()
}

// FrameDropped records an outbound frame that could not be queued.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

// Swept records rows freed by the sweeper.
func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepFreed.WithLabelValues(kind).Add(float64(n))
}
