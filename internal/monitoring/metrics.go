// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes: Total and successful proxied request counts
//   - upstream/transport: Failures split by taxonomy (upstream answered vs call failed)
//   - mentions:           Reference cache resolution hits/misses
//   - bytes:              Upstream bytes read vs transcoded bytes sent (savings)
//   - bridge:             Gateway bridge sessions
//
// Prometheus collectors (prometheus.go) carry the per-route view; these feed /stats.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests        atomic.Int64
	successes       atomic.Int64
	upstreamErrors  atomic.Int64
	transportErrors atomic.Int64
	badRequests     atomic.Int64

	// Reference resolution
	mentionHits   atomic.Int64
	mentionMisses atomic.Int64

	// Transcoding savings
	upstreamBytes atomic.Int64
	clientBytes   atomic.Int64

	// Bridge
	bridgeSessions atomic.Int64
	bridgeActive   atomic.Int64
	bridgeFrames   atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a proxied request.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordUpstreamError records an upstream non-2xx response.
func (mc *MetricsCollector) RecordUpstreamError() { mc.upstreamErrors.Add(1) }

// RecordTransportError records a failed upstream call or transcoding failure.
func (mc *MetricsCollector) RecordTransportError() { mc.transportErrors.Add(1) }

// RecordBadRequest records a rejected client request.
func (mc *MetricsCollector) RecordBadRequest() { mc.badRequests.Add(1) }

// RecordMention records whether a mention token resolved from the reference caches.
func (mc *MetricsCollector) RecordMention(resolved bool) {
	if resolved {
		mc.mentionHits.Add(1)
	} else {
		mc.mentionMisses.Add(1)
	}
}

// RecordTranscode records upstream vs client payload sizes for one response.
func (mc *MetricsCollector) RecordTranscode(upstreamBytes, clientBytes int) {
	mc.upstreamBytes.Add(int64(upstreamBytes))
	mc.clientBytes.Add(int64(clientBytes))
}

// RecordBridgeOpen records a new bridge session.
func (mc *MetricsCollector) RecordBridgeOpen() {
	mc.bridgeSessions.Add(1)
	mc.bridgeActive.Add(1)
}

// RecordBridgeClose records a finished bridge session.
func (mc *MetricsCollector) RecordBridgeClose() { mc.bridgeActive.Add(-1) }

// RecordBridgeFrame records an upstream frame relayed to a bridge client.
func (mc *MetricsCollector) RecordBridgeFrame() { mc.bridgeFrames.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":         mc.requests.Load(),
		"successes":        mc.successes.Load(),
		"upstream_errors":  mc.upstreamErrors.Load(),
		"transport_errors": mc.transportErrors.Load(),
		"bad_requests":     mc.badRequests.Load(),
		"mention_hits":     mc.mentionHits.Load(),
		"mention_misses":   mc.mentionMisses.Load(),
	}
}

// SavingsStats returns transcoding byte savings.
func (mc *MetricsCollector) SavingsStats() SavingsStatsData {
	upstream := mc.upstreamBytes.Load()
	client := mc.clientBytes.Load()

	var percent float64
	if upstream > 0 {
		percent = float64(upstream-client) / float64(upstream) * 100
	}

	return SavingsStatsData{
		UpstreamBytes:  upstream,
		ClientBytes:    client,
		BytesSaved:     upstream - client,
		SavingsPercent: percent,
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats(caches ...CacheStats) StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()
	hits := mc.mentionHits.Load()
	misses := mc.mentionMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:           requests,
			Successful:      successes,
			Failed:          requests - successes,
			UpstreamErrors:  mc.upstreamErrors.Load(),
			TransportErrors: mc.transportErrors.Load(),
			BadRequests:     mc.badRequests.Load(),
		},
		Savings: mc.SavingsStats(),
		Mentions: MentionStats{
			Hits:    hits,
			Misses:  misses,
			HitRate: hitRate,
		},
		Caches: caches,
		Bridge: BridgeStats{
			Sessions:      mc.bridgeSessions.Load(),
			Active:        mc.bridgeActive.Load(),
			FramesRelayed: mc.bridgeFrames.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartedAt     string           `json:"started_at"`
	Requests      RequestStats     `json:"requests"`
	Savings       SavingsStatsData `json:"savings"`
	Mentions      MentionStats     `json:"mentions"`
	Caches        []CacheStats     `json:"caches"`
	Bridge        BridgeStats      `json:"bridge"`
	RecentErrors  []FailureEntry   `json:"recent_errors,omitempty"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total           int64 `json:"total"`
	Successful      int64 `json:"successful"`
	Failed          int64 `json:"failed"`
	UpstreamErrors  int64 `json:"upstream_errors"`
	TransportErrors int64 `json:"transport_errors"`
	BadRequests     int64 `json:"bad_requests"`
}

// SavingsStatsData holds transcoding byte savings.
type SavingsStatsData struct {
	UpstreamBytes  int64   `json:"upstream_bytes"`
	ClientBytes    int64   `json:"client_bytes"`
	BytesSaved     int64   `json:"bytes_saved"`
	SavingsPercent float64 `json:"savings_percent"`
}

// MentionStats holds reference cache resolution metrics.
type MentionStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CacheStats is a point-in-time view of one reference cache.
type CacheStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Evictions int64  `json:"evictions"`
}

// BridgeStats holds gateway bridge metrics.
type BridgeStats struct {
	Sessions      int64 `json:"sessions"`
	Active        int64 `json:"active"`
	FramesRelayed int64 `json:"frames_relayed"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
