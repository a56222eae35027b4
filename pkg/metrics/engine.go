package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records reconciliation activity against the upstream cart.
type EngineMetrics struct {
	fetchDuration     *prometheus.HistogramVec
	refreshPerformed  *prometheus.CounterVec
	refreshSuppressed *prometheus.CounterVec
	mutationSuccess   *prometheus.CounterVec
	mutationFailure   *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_fetch_duration_seconds",
		Help:    "Duration of upstream cart fetches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	refreshPerformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_refresh_performed",
		Help: "Cart refreshes that reached the upstream service.",
	}, []string{"trigger"})
	refreshSuppressed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_refresh_suppressed",
		Help: "Cart refresh requests dropped by the debouncer.",
	}, []string{"reason"})
	mutationSuccess := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_success",
		Help: "Successful cart mutations.",
	}, []string{"op"})
	mutationFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_failure",
		Help: "Failed cart mutations.",
	}, []string{"op"})
	reg.MustRegister(fetchDuration, refreshPerformed, refreshSuppressed, mutationSuccess, mutationFailure)
	return &EngineMetrics{
		fetchDuration:     fetchDuration,
		refreshPerformed:  refreshPerformed,
		refreshSuppressed: refreshSuppressed,
		mutationSuccess:   mutationSuccess,
		mutationFailure:   mutationFailure,
	}
}

// ObserveFetch records the duration of an upstream fetch.
func (m *EngineMetrics) ObserveFetch(outcome string, duration time.Duration) {
	if m == nil || m.fetchDuration == nil {
		return
	}
	m.fetchDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncRefreshPerformed counts a refresh that went upstream.
func (m *EngineMetrics) IncRefreshPerformed(trigger string) {
	if m == nil || m.refreshPerformed == nil {
		return
	}
	m.refreshPerformed.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// IncRefreshSuppressed counts a refresh dropped by the debouncer.
func (m *EngineMetrics) IncRefreshSuppressed(reason string) {
	if m == nil || m.refreshSuppressed == nil {
		return
	}
	m.refreshSuppressed.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncMutationSuccess increments the success counter for the named operation.
func (m *EngineMetrics) IncMutationSuccess(op string) {
	if m == nil || m.mutationSuccess == nil {
		return
	}
	m.mutationSuccess.WithLabelValues(normalizeLabel(op)).Inc()
}

// IncMutationFailure increments the failure counter for the named operation.
func (m *EngineMetrics) IncMutationFailure(op string) {
	if m == nil || m.mutationFailure == nil {
		return
	}
	m.mutationFailure.WithLabelValues(normalizeLabel(op)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
