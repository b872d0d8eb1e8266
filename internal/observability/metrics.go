// Package observability provides Prometheus metrics for the presentation
// session: connection counts, message fan-out, poll activity, and image
// cache behavior.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central collection of session metrics.
//
// Usage:
//
//	m := observability.NewMetrics(prometheus.DefaultRegisterer)
//	m.Viewers.Set(3)
//	m.Broadcasts.WithLabelValues("cell:update").Inc()
type Metrics struct {
	// Viewers is the current number of counted viewer connections.
	Viewers prometheus.Gauge

	// Connections is the current number of open sockets of any role.
	Connections prometheus.Gauge

	// Broadcasts counts fan-out sends by message type.
	// Labels: type (cell:update, cursor:position, ...)
	Broadcasts *prometheus.CounterVec

	// DroppedMessages counts messages dropped because a connection's
	// outbound queue was full.
	DroppedMessages prometheus.Counter

	// ChatMessages counts accepted chat messages.
	ChatMessages prometheus.Counter

	// RateLimited counts rejected chat messages by reason.
	// Labels: reason (too_fast|too_many)
	RateLimited *prometheus.CounterVec

	// PollVotes counts accepted poll votes.
	PollVotes prometheus.Counter

	// ImageCacheHits counts image cache lookups served from memory.
	ImageCacheHits prometheus.Counter

	// ImageCacheMisses counts lookups that required disk I/O or were
	// deferred to the background optimizer.
	ImageCacheMisses prometheus.Counter

	// ImageCacheEvictions counts entries removed by the LRU policy.
	ImageCacheEvictions prometheus.Counter

	// ImageOptimizations counts background/eager image optimization runs.
	ImageOptimizations prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "podium_viewers",
			Help: "Current number of counted viewer connections.",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "podium_connections",
			Help: "Current number of open websocket connections.",
		}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podium_broadcasts_total",
			Help: "Messages fanned out to all connections, by type.",
		}, []string{"type"}),
		DroppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_dropped_messages_total",
			Help: "Messages dropped due to a full per-connection queue.",
		}),
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_chat_messages_total",
			Help: "Accepted chat messages.",
		}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podium_rate_limited_total",
			Help: "Chat messages rejected by the rate limiter, by reason.",
		}, []string{"reason"}),
		PollVotes: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_poll_votes_total",
			Help: "Accepted poll votes.",
		}),
		ImageCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_image_cache_hits_total",
			Help: "Image cache lookups served from memory.",
		}),
		ImageCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_image_cache_misses_total",
			Help: "Image cache lookups that missed.",
		}),
		ImageCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_image_cache_evictions_total",
			Help: "Image cache entries evicted by the LRU policy.",
		}),
		ImageOptimizations: factory.NewCounter(prometheus.CounterOpts{
			Name: "podium_image_optimizations_total",
			Help: "Image optimization runs (background and eager).",
		}),
	}
}
