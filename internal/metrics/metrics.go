// Package metrics holds the Prometheus collectors for the sync engine.
//
// Collectors live on their own registry so several engines (and tests) can
// coexist in one process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Path labels for mutations.
const (
	PathRemote = "remote"
	PathLocal  = "local"
)

type Metrics struct {
	registry *prometheus.Registry

	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	breakerOpen    prometheus.Gauge
	mutations      *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	pushes         *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodsync_remote_calls_total",
				Help: "Remote mirror calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floodsync_remote_call_duration_seconds",
				Help:    "Latency of remote mirror calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floodsync_breaker_open",
			Help: "1 when the remote circuit breaker is open.",
		}),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodsync_mutations_total",
				Help: "Successful mutations by operation and path.",
			},
			[]string{"op", "path"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodsync_refreshes_total",
				Help: "Poller refreshes by trigger.",
			},
			[]string{"trigger"},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodsync_push_announcements_total",
				Help: "Best-effort push announcements by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.remoteCalls,
		m.remoteDuration,
		m.breakerOpen,
		m.mutations,
		m.refreshes,
		m.pushes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRemote records one remote call.
func (m *Metrics) ObserveRemote(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.remoteCalls.WithLabelValues(op, result).Inc()
	m.remoteDuration.WithLabelValues(op).Observe(seconds)
}

// SetBreakerOpen records the breaker position.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

// Mutation counts one successful mutation.
func (m *Metrics) Mutation(op, path string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, path).Inc()
}

// Refresh counts one poller refresh.
func (m *Metrics) Refresh(trigger string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(trigger).Inc()
}

// Push counts one push announcement.
func (m *Metrics) Push(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pushes.WithLabelValues(ResultError).Inc()
		return
	}
	m.pushes.WithLabelValues(ResultOK).Inc()
}
