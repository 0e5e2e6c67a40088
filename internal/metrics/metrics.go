package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "siswrap"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	jobLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "launches_total",
			Help:      "Number of jobs spawned.",
		}, []string{"kind"},
	)
	jobLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "launch_failures_total",
			Help:      "Launch requests rejected before or during spawn.",
		}, []string{"kind"},
	)
	jobCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "completions_total",
			Help:      "First observations of a terminal job state.",
		}, []string{"kind", "state"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Time from launch until the exit was first observed.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"kind"},
	)
	jobsTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "records",
			Help:      "Records currently held by the registry.",
		}, []string{"kind"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{jobLaunches, jobLaunchFailures, jobCompletions, jobDuration, jobsTracked}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(kind string) {
	if regOK.Load() {
		jobLaunches.WithLabelValues(kind).Inc()
	}
}

func IncLaunchFailure(kind string) {
	if regOK.Load() {
		jobLaunchFailures.WithLabelValues(kind).Inc()
	}
}

func IncCompletion(kind, state string) {
	if regOK.Load() {
		jobCompletions.WithLabelValues(kind, state).Inc()
	}
}

func ObserveDuration(kind string, seconds float64) {
	if regOK.Load() {
		jobDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func AddTracked(kind string, delta int) {
	if regOK.Load() {
		jobsTracked.WithLabelValues(kind).Add(float64(delta))
	}
}
