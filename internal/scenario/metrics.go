package scenario

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "scenario"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Wall time of a scenario run, by scenario and outcome.
	RunSeconds metrics.Histogram

	// Number of failed phases and cases, by scenario.
	Failures metrics.Counter

	// Number of probe attempts, by probe.
	ProbeAttempts metrics.Counter

	// Time until a probe converged, by probe.
	ConvergenceSeconds metrics.Histogram

	// Time between a trigger and its push notification, by channel.
	CorrelationSeconds metrics.Histogram

	// Number of processes launched, by role.
	ProcessesLaunched metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		RunSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "run_seconds",
			Help:      "Wall time of a scenario run.",
			Buckets:   stdprometheus.ExponentialBuckets(1, 2, 10),
		}, append(labels, "scenario", "outcome")).With(labelsAndValues...),
		Failures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failures",
			Help:      "Number of failed phases and cases.",
		}, append(labels, "scenario")).With(labelsAndValues...),
		ProbeAttempts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "probe_attempts",
			Help:      "Number of convergence probe attempts.",
		}, append(labels, "probe")).With(labelsAndValues...),
		ConvergenceSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "convergence_seconds",
			Help:      "Time until a convergence probe succeeded.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 2, 12),
		}, append(labels, "probe")).With(labelsAndValues...),
		CorrelationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "correlation_seconds",
			Help:      "Time between a trigger and its push notification.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 2, 14),
		}, append(labels, "channel")).With(labelsAndValues...),
		ProcessesLaunched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "processes_launched",
			Help:      "Number of external processes launched.",
		}, append(labels, "role")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RunSeconds:         discard.NewHistogram(),
		Failures:           discard.NewCounter(),
		ProbeAttempts:      discard.NewCounter(),
		ConvergenceSeconds: discard.NewHistogram(),
		CorrelationSeconds: discard.NewHistogram(),
		ProcessesLaunched:  discard.NewCounter(),
	}
}
