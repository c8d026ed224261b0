// Package monitoring - prometheus.go defines Prometheus collectors served at /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liteproxy_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liteproxy_http_request_duration_seconds",
			Help:    "HTTP request duration including the upstream call",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Upstream metrics
	UpstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liteproxy_upstream_failures_total",
			Help: "Failed upstream calls by kind",
		},
		[]string{"kind"}, // "upstream" (non-2xx) or "transport"
	)

	TranscodedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liteproxy_transcoded_bytes_total",
			Help: "Payload bytes before and after transcoding",
		},
		[]string{"side"}, // "upstream" or "client"
	)

	// Reference cache metrics
	MentionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liteproxy_mention_resolutions_total",
			Help: "Mention tokens seen during normalization",
		},
		[]string{"kind", "result"}, // kind: user/channel, result: hit/miss
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liteproxy_reference_cache_entries",
			Help: "Entries held in each reference cache",
		},
		[]string{"cache"},
	)

	// Bridge metrics
	BridgeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liteproxy_bridge_active_sessions",
			Help: "Open gateway bridge sessions",
		},
	)

	BridgeFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liteproxy_bridge_frames_total",
			Help: "Frames relayed by the gateway bridge",
		},
		[]string{"direction"}, // "to_upstream" or "to_client"
	)
)
