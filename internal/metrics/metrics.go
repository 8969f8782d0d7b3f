// Package metrics holds the Prometheus instruments of the registry and the
// gateway. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "idregistry"

// Metrics groups every instrument exported by the service.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	Revocations     *prometheus.CounterVec
	TotalVerified   prometheus.Gauge
	RelayedEvents   *prometheus.CounterVec
	RelayFailures   *prometheus.CounterVec
	RelayCursor     prometheus.Gauge
	CheckCache      *prometheus.CounterVec
	MirrorFallbacks prometheus.Counter
}

// New registers the instruments with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration against the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Identity submissions by outcome",
		}, []string{"outcome"}),
		Revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Revocation attempts by outcome",
		}, []string{"outcome"}),
		TotalVerified: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verified_accounts",
			Help:      "Accounts currently verified",
		}),
		RelayedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Registry events delivered per sink",
		}, []string{"sink"}),
		RelayFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failures_total",
			Help:      "Failed batch deliveries per sink",
		}, []string{"sink"}),
		RelayCursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_cursor",
			Help:      "Sequence of the last event delivered to every required sink",
		}),
		CheckCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_cache_total",
			Help:      "Verification check cache lookups by result",
		}, []string{"result"}),
		MirrorFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_fallbacks_total",
			Help:      "Reads answered from the mirror because the registry was unreachable",
		}),
	}
}

// ObserveSubmission counts a submission outcome such as "ok" or "already_verified".
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// ObserveRevocation counts a revocation outcome.
func (m *Metrics) ObserveRevocation(outcome string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(outcome).Inc()
}

// SetTotalVerified publishes the registry counter.
func (m *Metrics) SetTotalVerified(n int) {
	if m == nil {
		return
	}
	m.TotalVerified.Set(float64(n))
}

// AddRelayed counts events handed to a sink.
func (m *Metrics) AddRelayed(sink string, n int) {
	if m == nil {
		return
	}
	m.RelayedEvents.WithLabelValues(sink).Add(float64(n))
}

// IncRelayFailure counts a failed delivery attempt.
func (m *Metrics) IncRelayFailure(sink string) {
	if m == nil {
		return
	}
	m.RelayFailures.WithLabelValues(sink).Inc()
}

// SetRelayCursor publishes the relay position.
func (m *Metrics) SetRelayCursor(seq uint64) {
	if m == nil {
		return
	}
	m.RelayCursor.Set(float64(seq))
}

// ObserveCheckCache counts a cache lookup, hit or miss.
func (m *Metrics) ObserveCheckCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CheckCache.WithLabelValues(result).Inc()
}

// IncMirrorFallback counts a degraded read.
func (m *Metrics) IncMirrorFallback() {
	if m == nil {
		return
	}
	m.MirrorFallbacks.Inc()
}
