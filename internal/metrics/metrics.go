package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sibyl",
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Number of dispatched requests by command kind.",
		}, []string{"command"},
	)
	commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sibyl",
			Subsystem: "daemon",
			Name:      "command_failures_total",
			Help:      "Number of requests answered with an error response.",
		}, []string{"command"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sibyl",
			Subsystem: "daemon",
			Name:      "request_duration_seconds",
			Help:      "Time from reading a request to writing its response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"},
	)
	connectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sibyl",
			Subsystem: "daemon",
			Name:      "connection_errors_total",
			Help:      "Connections aborted by transport or decode errors.",
		}, []string{"stage"},
	)
	spawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sibyl",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successfully spawned processes.",
		},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sibyl",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits by outcome.",
		}, []string{"outcome"},
	)
	tracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sibyl",
			Subsystem: "process",
			Name:      "tracked",
			Help:      "Number of entries in the process table.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{requests, commandFailures, requestDuration, connectionErrors, spawns, exits, tracked}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRequest(command string) {
	if regOK.Load() {
		requests.WithLabelValues(command).Inc()
	}
}

func IncCommandFailure(command string) {
	if regOK.Load() {
		commandFailures.WithLabelValues(command).Inc()
	}
}

func ObserveRequestDuration(command string, seconds float64) {
	if regOK.Load() {
		requestDuration.WithLabelValues(command).Observe(seconds)
	}
}

// IncConnectionError counts an aborted connection. stage is one of
// "accept", "read", "decode" or "write".
func IncConnectionError(stage string) {
	if regOK.Load() {
		connectionErrors.WithLabelValues(stage).Inc()
	}
}

func IncSpawn() {
	if regOK.Load() {
		spawns.Inc()
	}
}

// IncExit counts an observed exit. outcome is "code" or "signal".
func IncExit(outcome string) {
	if regOK.Load() {
		exits.WithLabelValues(outcome).Inc()
	}
}

func SetTracked(n int) {
	if regOK.Load() {
		tracked.Set(float64(n))
	}
}
