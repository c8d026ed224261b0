// Package gateway - stats.go exposes aggregated metrics as JSON.
//
// GET /stats returns request, transcoding, cache and bridge counters plus recent failures.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
)

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) || isForwarded(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resp := g.metrics.FullStats(g.cacheStats()...)
	resp.RecentErrors = g.failures.Recent()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// isLoopback reports whether addr (host:port or bare host) is a loopback address.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isForwarded reports whether the request came through a proxy. RealIP rewrites
// RemoteAddr from these headers, so a loopback address alone is not trusted.
func isForwarded(r *http.Request) bool {
	return r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Real-IP") != "" || r.Header.Get("True-Client-IP") != ""
}
