package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth core
type Metrics struct {
	// Authentication metrics
	LoginsTotal          *prometheus.CounterVec
	RegistrationsTotal   prometheus.Counter
	PasswordChangesTotal prometheus.Counter
	LogoutsTotal         prometheus.Counter

	// Rotation metrics
	RotationsTotal       *prometheus.CounterVec
	RotationDuration     prometheus.Histogram
	ReplaysDetectedTotal prometheus.Counter
	ChainsRevokedTotal   *prometheus.CounterVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Revocation metrics
	BlacklistSize       prometheus.Gauge
	BlacklistHitsTotal  prometheus.Counter
	SweepDeletionsTotal *prometheus.CounterVec
	SweepFailuresTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_auth_logins_total",
				Help: "Total number of login attempts",
			},
			[]string{"outcome"},
		),
		RegistrationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "driveline_auth_registrations_total",
				Help: "Total number of completed registrations",
			},
		),
		PasswordChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "driveline_auth_password_changes_total",
				Help: "Total number of completed password changes",
			},
		),
		LogoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "driveline_auth_logouts_total",
				Help: "Total number of logouts",
			},
		),
		RotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_rotation_attempts_total",
				Help: "Total number of refresh-token rotation attempts",
			},
			[]string{"outcome"},
		),
		RotationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "driveline_rotation_duration_seconds",
				Help:    "Refresh-token rotation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReplaysDetectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "driveline_rotation_replays_detected_total",
				Help: "Total number of refresh-token replays detected",
			},
		),
		ChainsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_rotation_chains_revoked_total",
				Help: "Total number of rotation chains revoked defensively",
			},
			[]string{"cause"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"decision", "reason"},
		),
		BlacklistSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "driveline_revocation_blacklist_entries",
				Help: "Current number of access-token blacklist entries",
			},
		),
		BlacklistHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "driveline_revocation_blacklist_hits_total",
				Help: "Total number of requests denied by the blacklist",
			},
		),
		SweepDeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_sweep_deletions_total",
				Help: "Total number of records removed by background sweeps",
			},
			[]string{"target"},
		),
		SweepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driveline_sweep_failures_total",
				Help: "Total number of failed background sweeps",
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.PasswordChangesTotal,
		m.LogoutsTotal,
		m.RotationsTotal,
		m.RotationDuration,
		m.ReplaysDetectedTotal,
		m.ChainsRevokedTotal,
		m.AuthzDecisionsTotal,
		m.BlacklistSize,
		m.BlacklistHitsTotal,
		m.SweepDeletionsTotal,
		m.SweepFailuresTotal,
	)

	return m
}

// NewNopMetrics creates metrics on a throwaway registry, for components
// constructed without a shared registry (mostly tests).
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RegisterMetricsEndpoint mounts the Prometheus scrape handler
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
