// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - RequestEvent:  Telemetry data for each proxied request
//   - InitEvent:     Gateway startup configuration
//   - Config types:  TelemetryConfig, LoggerConfig
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// RequestEvent captures a request through the gateway.
type RequestEvent struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Method           string    `json:"method"`
	Route            string    `json:"route"`
	UpstreamMethod   string    `json:"upstream_method,omitempty"`
	UpstreamPath     string    `json:"upstream_path,omitempty"`
	ClientIP         string    `json:"client_ip"`
	Extended         bool      `json:"extended,omitempty"`
	TokenSource      string    `json:"token_source,omitempty"` // query, header, body, none
	UpstreamBytes    int       `json:"upstream_bytes"`
	ResponseBytes    int       `json:"response_bytes"`
	StatusCode       int       `json:"status_code"`
	UpstreamStatus   int       `json:"upstream_status,omitempty"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	ForwardLatencyMs int64     `json:"forward_latency_ms"`
	TotalLatencyMs   int64     `json:"total_latency_ms"`
}

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp            time.Time      `json:"timestamp"`
	Event                string         `json:"event"`
	Version              string         `json:"version"`
	ServerPort           int            `json:"server_port"`
	ServerReadTimeoutMs  int64          `json:"server_read_timeout_ms"`
	ServerWriteTimeoutMs int64          `json:"server_write_timeout_ms"`
	UpstreamHost         string         `json:"upstream_host"`
	UpstreamTimeoutMs    int64          `json:"upstream_timeout_ms"`
	CacheSize            int            `json:"cache_size"`
	BridgeEnabled        bool           `json:"bridge_enabled"`
	BridgePort           int            `json:"bridge_port,omitempty"`
	LegacyMemberAvatar   bool           `json:"legacy_member_avatar"`
	StaticDir            string         `json:"static_dir,omitempty"`
	TelemetryPath        string         `json:"telemetry_path,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or file path
}
