// Package metrics exposes the proxy's Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offline_proxy"

// Fetch outcomes
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeNetwork  = "network"
	OutcomeFallback = "fallback"
	OutcomeOffline  = "offline"
)

// Metrics holds every collector
type Metrics struct {
	Fetches       *prometheus.CounterVec
	CacheWrites   *prometheus.CounterVec
	Installs      *prometheus.CounterVec
	Replays       *prometheus.CounterVec
	Notifications prometheus.Counter
	WorkerState   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Intercepted fetches by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Responses stored per partition.",
		}, []string{"partition"}),
		Installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Worker install attempts by result.",
		}, []string{"result"}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_replays_total",
			Help:      "Replayed submissions by tag and result.",
		}, []string{"tag", "result"}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_shown_total",
			Help:      "Notifications shown.",
		}),
		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_state",
			Help:      "1 for the current lifecycle state of each worker version.",
		}, []string{"version", "state"}),
	}

	if reg != nil {
		m.Fetches = registerOrReuse(reg, m.Fetches).(*prometheus.CounterVec)
		m.CacheWrites = registerOrReuse(reg, m.CacheWrites).(*prometheus.CounterVec)
		m.Installs = registerOrReuse(reg, m.Installs).(*prometheus.CounterVec)
		m.Replays = registerOrReuse(reg, m.Replays).(*prometheus.CounterVec)
		m.Notifications = registerOrReuse(reg, m.Notifications).(prometheus.Counter)
		m.WorkerState = registerOrReuse(reg, m.WorkerState).(*prometheus.GaugeVec)
	}

	return m
}

// SetState records the lifecycle state of a worker version
func (m *Metrics) SetState(version, state string) {
	m.WorkerState.DeletePartialMatch(prometheus.Labels{"version": version})
	m.WorkerState.WithLabelValues(version, state).Set(1)
}

// registerOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one.
// Panics on non-AlreadyRegisteredError failures.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
