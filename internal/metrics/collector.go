package nfcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "nfcauthd"

// Label names.
const (
	labelBackend = "backend"
	labelKind    = "kind"
	labelResult  = "result"
)

// -------------------------------------------------------------------------
// Collector — Prometheus metrics for the authentication daemon
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric exported by the daemon.
//
//   - Sessions tracks currently connected client sessions.
//   - ActiveUids tracks the size of the merged active-tag set.
//   - AuthOutcomes counts WAITAUTH resolutions by result (ok, no_auth; a
//     WAITAUTH that times out is recorded as no_auth).
//   - ListenerKeepalives and ListenerDrops count per-backend liveness and
//     delivery-drop events.
//   - CredentialReloads counts credential file reload attempts by result.
//   - WriteErrors counts credential file write failures.
type Collector struct {
	Sessions           prometheus.Gauge
	ActiveUids         prometheus.Gauge
	AuthOutcomes       *prometheus.CounterVec
	ListenerKeepalives *prometheus.CounterVec
	ListenerDrops      *prometheus.CounterVec
	CredentialReloads  *prometheus.CounterVec
	WriteErrors        prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.ActiveUids,
		c.AuthOutcomes,
		c.ListenerKeepalives,
		c.ListenerDrops,
		c.CredentialReloads,
		c.WriteErrors,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of currently connected client sessions.",
		}),

		ActiveUids: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_uids",
			Help:      "Size of the merged active tag UID set.",
		}),

		AuthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "WAITAUTH resolutions by result (ok, no_auth).",
		}, []string{labelResult}),

		ListenerKeepalives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_keepalives_total",
			Help:      "Keepalive updates received per listener backend.",
		}, []string{labelBackend}),

		ListenerDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_drops_total",
			Help:      "Listener updates dropped because the Coordinator inbox was full.",
		}, []string{labelBackend}),

		CredentialReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_reloads_total",
			Help:      "Credential file reload attempts by result (reloaded, failed).",
		}, []string{labelResult}),

		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_write_errors_total",
			Help:      "Credential file write failures.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session lifecycle
// -------------------------------------------------------------------------

// SessionOpened increments the connected-sessions gauge. Called by the
// Session Handler once the Coordinator has acknowledged the new session.
func (c *Collector) SessionOpened() {
	c.Sessions.Inc()
}

// SessionClosed decrements the connected-sessions gauge.
func (c *Collector) SessionClosed() {
	c.Sessions.Dec()
}

// SetActiveUids sets the active-tag-set size gauge. Called by the daemon's
// active-set fan-out each time the Coordinator broadcasts a changed set.
func (c *Collector) SetActiveUids(n int) {
	c.ActiveUids.Set(float64(n))
}

// -------------------------------------------------------------------------
// Authentication
// -------------------------------------------------------------------------

// RecordAuthOutcome increments the outcome counter for a resolved WAITAUTH
// request. The Session Handler passes "ok" or "no_auth"; a WAITAUTH that
// times out is recorded as "no_auth".
func (c *Collector) RecordAuthOutcome(result string) {
	c.AuthOutcomes.WithLabelValues(result).Inc()
}

// -------------------------------------------------------------------------
// Listener liveness
// -------------------------------------------------------------------------

// IncListenerKeepalive increments the keepalive counter for a backend.
func (c *Collector) IncListenerKeepalive(backend string) {
	c.ListenerKeepalives.WithLabelValues(backend).Inc()
}

// IncListenerDrop increments the dropped-delivery counter for a backend.
func (c *Collector) IncListenerDrop(backend string) {
	c.ListenerDrops.WithLabelValues(backend).Inc()
}

// -------------------------------------------------------------------------
// Credential store
// -------------------------------------------------------------------------

// RecordCredentialReload increments the reload counter. result is one of
// "reloaded", "failed"; an unchanged file is not recorded.
func (c *Collector) RecordCredentialReload(result string) {
	c.CredentialReloads.WithLabelValues(result).Inc()
}

// IncWriteError increments the credential write failure counter.
func (c *Collector) IncWriteError() {
	c.WriteErrors.Inc()
}
