// Package metrics defines the agent's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the agent exports. One instance is created
// at startup and shared by the interceptor, renderer and router.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheWrites      prometheus.Counter
	OfflineFallbacks prometheus.Counter
	Passthroughs     prometheus.Counter

	NotificationsRendered prometheus.Counter
	NotificationsFailed   prometheus.Counter

	ClicksRouted *prometheus.CounterVec
}

// New creates and registers the agent's collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_cache_hits_total",
			Help: "Requests answered from the shell cache without a network roundtrip.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_cache_misses_total",
			Help: "Requests that fell through to the origin.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_cache_writes_total",
			Help: "Response snapshots stored into the current cache namespace.",
		}),
		OfflineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_offline_fallbacks_total",
			Help: "Failed origin fetches degraded to the cached shell entry point.",
		}),
		Passthroughs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_passthroughs_total",
			Help: "Cross-origin requests forwarded without cache involvement.",
		}),
		NotificationsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_notifications_rendered_total",
			Help: "Push payloads rendered and displayed.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellworker_notifications_failed_total",
			Help: "Push payloads whose display call failed.",
		}),
		ClicksRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shellworker_clicks_routed_total",
			Help: "Notification clicks by routing outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheWrites,
		m.OfflineFallbacks, m.Passthroughs,
		m.NotificationsRendered, m.NotificationsFailed,
		m.ClicksRouted,
	)
	return m
}

// NewNop returns metrics registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Click routing outcomes.
const (
	OutcomeDismissed  = "dismissed"
	OutcomeFocused    = "focused"
	OutcomeOpened     = "opened"
	OutcomeUnroutable = "unroutable"
)
