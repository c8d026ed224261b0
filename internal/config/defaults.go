// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the HTTP port legacy clients connect to.
const DefaultPort = 8080

// DefaultReadTimeout bounds reading a whole client request (uploads included).
const DefaultReadTimeout = 60 * time.Second

// DefaultServerWriteTimeout bounds writing a response, including the upstream wait.
const DefaultServerWriteTimeout = 90 * time.Second

// DefaultShutdownTimeout is the grace period for in-flight requests on shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// MaxRequestBodySize is the maximum allowed JSON request body (1MB).
const MaxRequestBodySize = 1 * 1024 * 1024

// MaxUploadSize is the maximum multipart upload accepted from clients (25MB).
const MaxUploadSize = 25 * 1024 * 1024

// UploadMemoryLimit is how much of a multipart form is held in memory before spilling to disk.
const UploadMemoryLimit = 8 * 1024 * 1024

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamURL is the upstream REST API base, including the version prefix.
const DefaultUpstreamURL = "https://discord.com/api/v9"

// DefaultUpstreamTimeout bounds one outbound call. Expiry is reported as a proxy error.
const DefaultUpstreamTimeout = 30 * time.Second

// DefaultUserAgent is sent on every upstream call.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"

// DefaultLocale is sent as X-Discord-Locale.
const DefaultLocale = "en-GB"

// DefaultAcceptLanguage is sent as Accept-Language.
const DefaultAcceptLanguage = "en-US,en;q=0.5"

// MaxResponseSize is the maximum allowed upstream response body (20MB).
const MaxResponseSize = 20 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// REFERENCE CACHE
// =============================================================================

// DefaultCacheSize is the capacity of each reference cache (users, channels).
const DefaultCacheSize = 10000

// =============================================================================
// TRANSCODING
// =============================================================================

// ReferencedContentMax is the longest referenced-message preview sent as-is.
const ReferencedContentMax = 50

// ReferencedContentKeep is how much of a longer preview is kept before the ellipsis.
const ReferencedContentKeep = 47

// =============================================================================
// GATEWAY BRIDGE
// =============================================================================

// DefaultBridgePort is the TCP port of the line-delimited gateway bridge.
const DefaultBridgePort = 8081

// DefaultBridgeDialTimeout bounds the upstream websocket handshake.
const DefaultBridgeDialTimeout = 15 * time.Second

// DefaultBridgeMaxMessage is the largest upstream websocket frame accepted (READY can be large).
const DefaultBridgeMaxMessage = 16 * 1024 * 1024

// DefaultBridgeMaxLine is the largest line accepted from a bridge client.
const DefaultBridgeMaxLine = 1 * 1024 * 1024

// DefaultBridgeAllowedHost is the only websocket host clients may ask the bridge to dial.
const DefaultBridgeAllowedHost = "gateway.discord.gg"

// =============================================================================
// VERSION
// =============================================================================

// Version is reported by /health and the init telemetry event.
const Version = "1.0.0"
