// Package gateway types - per-request state carried through a proxy handler.
//
// DESIGN: proxyRequest is created when a request arrives and finished exactly once,
// after the response is written. It feeds metrics, telemetry and the failure log.
package gateway

import (
	"time"

	"github.com/liteproxy/liteproxy/internal/transcode"
)

// transcodeFunc maps an upstream body to the client view.
type transcodeFunc func(body []byte, opts transcode.Options) ([]byte, error)

// Failure kinds recorded in metrics and the failure log.
const (
	failureUpstream   = "upstream"
	failureTransport  = "transport"
	failureBadRequest = "bad_request"
)

// proxyRequest carries request state through a handler.
type proxyRequest struct {
	ID        string
	Method    string
	Route     string
	ClientIP  string
	StartedAt time.Time
	Extended  bool

	Credential credential

	UpstreamMethod string
	UpstreamPath   string
	UpstreamStatus int
	UpstreamBytes  int
	ForwardLatency time.Duration
}
