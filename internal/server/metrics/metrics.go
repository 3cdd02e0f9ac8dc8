// Package metrics exposes prometheus counters for the session subsystem.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tripkeeper"

// Failure reasons for RefreshFailure.
const (
	ReasonInvalid  = "invalid"
	ReasonExpired  = "expired"
	ReasonReused   = "reused"
	ReasonInternal = "internal"
)

// Stages at which reuse can be detected.
const (
	StageValidate = "validate"
	StageDetect   = "detect"
	StageRotate   = "rotate"
)

// Revocation scopes.
const (
	ScopeOne    = "one"
	ScopeFamily = "family"
	ScopeUser   = "user"
)

type Metrics struct {
	registry *prometheus.Registry

	sessionsIssued    prometheus.Counter
	sessionsRefreshed prometheus.Counter
	refreshFailures   *prometheus.CounterVec
	reuseDetected     *prometheus.CounterVec
	revocations       *prometheus.CounterVec
	sweepDeleted      prometheus.Counter
	sweepFailures     prometheus.Counter
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_issued_total",
			Help:      "Sessions started with a new token family",
		}),
		sessionsRefreshed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_refreshed_total",
			Help:      "Successful refresh token rotations",
		}),
		refreshFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Refresh attempts that did not produce a new pair",
		}, []string{"reason"}),
		reuseDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reuse_detected_total",
			Help:      "Refresh token reuse detections",
		}, []string{"stage"}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Revocation requests by scope",
		}, []string{"scope"}),
		sweepDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Refresh tokens removed by the expiry sweep",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Expiry sweeps that ended in an error",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
}

func (m *Metrics) SessionRefreshed() {
	if m == nil {
		return
	}
	m.sessionsRefreshed.Inc()
}

func (m *Metrics) RefreshFailure(reason string) {
	if m == nil {
		return
	}
	m.refreshFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReuseDetected(stage string) {
	if m == nil {
		return
	}
	m.reuseDetected.WithLabelValues(stage).Inc()
}

func (m *Metrics) Revocation(scope string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(scope).Inc()
}

func (m *Metrics) SweepCompleted(deleted int64) {
	if m == nil {
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
