package registry

import (
	base "sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeUpdated = "updated"
	outcomeStale   = "stale"
	outcomeFailed  = "failed"
	outcomeIgnored = "ignored"
	outcomeMissing = "missing"
)

type registryMetrics struct {
	refreshes *prometheus.CounterVec
	entries   *prometheus.GaugeVec
	lookups   *prometheus.CounterVec
}

var (
	registryMetricsOnce base.Once
	defaultMetrics      *registryMetrics
)

func newRegistryMetrics() *registryMetrics {
	return &registryMetrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendsdk",
			Subsystem: "registry",
			Name:      "account_refreshes_total",
			Help:      "Raw accounts applied to the registry by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lendsdk",
			Subsystem: "registry",
			Name:      "cached_entries",
			Help:      "Markets and positions currently held by the registry.",
		}, []string{"kind"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendsdk",
			Subsystem: "registry",
			Name:      "lookups_total",
			Help:      "Registry reads by kind and whether they were served from cache.",
		}, []string{"kind", "hit"}),
	}
}

// sharedMetrics returns the collectors registered with the default
// prometheus registerer. Every Registry in the process reports into them.
func sharedMetrics() *registryMetrics {
	registryMetricsOnce.Do(func() {
		defaultMetrics = newRegistryMetrics()
		prometheus.MustRegister(
			defaultMetrics.refreshes,
			defaultMetrics.entries,
			defaultMetrics.lookups,
		)
	})
	return defaultMetrics
}

// Collectors exposes the registry collectors for callers that serve their
// own prometheus registry.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.metrics.refreshes, r.metrics.entries, r.metrics.lookups}
}

func (m *registryMetrics) observeRefresh(protocol, outcome string) {
	m.refreshes.WithLabelValues(protocol, outcome).Inc()
}

func (m *registryMetrics) observeLookup(kind string, hit bool) {
	label := "false"
	if hit {
		label = "true"
	}
	m.lookups.WithLabelValues(kind, label).Inc()
}
