package interpose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsRegistry = prometheus.NewRegistry()

var (
	hookTransitions = promauto.With(metricsRegistry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "interpose",
		Name:      "hook_transitions_total",
		Help:      "Hook apply and revert attempts by hook kind and outcome.",
	}, []string{"hook", "op", "result"})

	dynamicSubclasses = promauto.With(metricsRegistry).NewGauge(prometheus.GaugeOpts{
		Namespace: "interpose",
		Name:      "dynamic_subclasses",
		Help:      "Per-object subclasses and shadow tables created in this process.",
	})

	waitersPending = promauto.With(metricsRegistry).NewGauge(prometheus.GaugeOpts{
		Namespace: "interpose",
		Name:      "waiters_pending",
		Help:      "Class availability waiters still waiting for their class.",
	})
)

// MetricsRegistry returns the registry holding this package's collectors,
// for hosts that want to expose them.
func MetricsRegistry() *prometheus.Registry {
	return metricsRegistry
}

func recordTransition(kind, op string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	hookTransitions.WithLabelValues(kind, op, result).Inc()
}
