// Package metrics defines the Prometheus collectors exposed on /metrics,
// extending the teacher's cmd/server/main.go httpDuration/httpRequests
// HTTP-level pair with the domain gauges/counters/histograms spec §4.8
// names: active sessions per shard, cache hit/miss per tier, version
// conflicts, outbound queue overflows, and stream-chunk fan-out counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTPDuration and HTTPRequests mirror the teacher's httpDuration/
	// httpRequests HTTP-level histogram and counter, unchanged in shape.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chatsync_http_request_duration_seconds",
			Help: "HTTP request latencies in seconds.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// ActiveSessions tracks live (user, device_fp) sessions per connmgr
	// shard, sampled by a periodic gauge func rather than inc/dec on every
	// Accept/Remove to avoid a metrics call on the hot connect/disconnect
	// path.
	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_active_sessions",
			Help: "Live sessions per connection-manager shard.",
		},
		[]string{"shard"},
	)

	// CacheResults counts Hot/Warm tier hits and misses, incremented in
	// cache.Manager.Get.
	CacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_cache_results_total",
			Help: "Cache tier lookups by tier and outcome (hit/miss).",
		},
		[]string{"tier", "outcome"},
	)

	// VersionConflicts counts version.Arbiter.CheckAndBump rejections,
	// by component (draft/title).
	VersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_version_conflicts_total",
			Help: "Rejected version.CheckAndBump calls, by component.",
		},
		[]string{"component"},
	)

	// QueueOverflows counts connmgr.Session outbound channel overflows
	// that forced a session close.
	QueueOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_session_queue_overflows_total",
			Help: "Sessions closed due to an outbound queue overflow.",
		},
	)

	// StreamChunksDelivered counts frames connmgr.Manager.DeliverAIUpdate
	// enqueued, one per receiving session, by frame kind (stream_chunk only
	// reaches the active device; ready fans out to every session).
	StreamChunksDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ai_updates_delivered_total",
			Help: "AI update frames delivered, by kind (stream_chunk/ready).",
		},
		[]string{"kind"},
	)
)

// Register registers every collector with the default Prometheus
// registry. Called once from cmd/server/main.go, mirroring the teacher's
// package-level init() registration but made explicit so tests can
// construct a fresh registry instead of sharing the global one.
func Register() {
	prometheus.MustRegister(
		HTTPDuration,
		HTTPRequests,
		ActiveSessions,
		CacheResults,
		VersionConflicts,
		QueueOverflows,
		StreamChunksDelivered,
	)
}
