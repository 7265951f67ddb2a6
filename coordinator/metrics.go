package coordinator

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is the subsystem all coordinator metrics are exposed
// under, grounded on internal/evidence/metrics.go's MetricsSubsystem.
const MetricsSubsystem = "sync_coordinator"

// Metrics contains the Prometheus gauges/counters the coordinator updates
// as it runs, grounded on internal/evidence/metrics.go's
// PrometheusMetrics/NopMetrics pair.
type Metrics struct {
	// SyncRunsTotal counts completed runs, labeled by outcome
	// (success/failure/fork).
	SyncRunsTotal metrics.Counter
	// TrustedHeight is the height of the current trust root.
	TrustedHeight metrics.Gauge
	// Halted is 1 while SyncStatus is Halted, 0 otherwise.
	Halted metrics.Gauge
}

// PrometheusMetrics returns Metrics backed by the Prometheus client library.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		SyncRunsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sync_runs_total",
			Help:      "Number of completed sync runs, labeled by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		TrustedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "trusted_height",
			Help:      "Height of the current trust root.",
		}, labels).With(labelsAndValues...),
		Halted: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "halted",
			Help:      "1 if the coordinator is halted on a detected fork, 0 otherwise.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns Metrics that discard everything, used when no
// Prometheus registry is configured.
func NopMetrics() *Metrics {
	return &Metrics{
		SyncRunsTotal: discard.NewCounter(),
		TrustedHeight: discard.NewGauge(),
		Halted:        discard.NewGauge(),
	}
}
