// HTTP request handling for the proxy.
//
// DESIGN: Main request flow:
//   - transcoded(): GET endpoints; upstream body -> transcoder -> ASCII JSON
//   - forward():    Write endpoints (send, ack, edit, delete); respond "ok"
//   - handleError(): Upstream non-2xx relayed verbatim, anything else 500 "Proxy error"
//
// Also includes health check and telemetry helpers.
package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/monitoring"
	"github.com/liteproxy/liteproxy/internal/upstream"
	"github.com/liteproxy/liteproxy/internal/utils"
)

// proxyErrorMessage is the fixed body for failures that are not upstream responses.
const proxyErrorMessage = "Proxy error"

// writeError writes a short plain-text error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// writeJSON writes an already-encoded JSON body, escaping every non-ASCII code point.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body []byte) int {
	body = utils.EscapeNonASCII(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return len(body)
}

// writeOK acknowledges a forwarded write.
func (g *Gateway) writeOK(w http.ResponseWriter) int {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return 2
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": config.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// transcoded proxies a GET and returns the transcoded upstream body.
func (g *Gateway) transcoded(path pathFunc, query queryFunc, fn transcodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := g.beginRequest(r, http.MethodGet, path(r))
		pr.Credential = extractCredential(r, "")

		q := queryOrNil(query, r)
		fwdStart := time.Now()
		resp, err := g.client.Get(r.Context(), pr.UpstreamPath, q, pr.Credential.Token)
		pr.ForwardLatency = time.Since(fwdStart)
		if err != nil {
			g.handleError(w, pr, err)
			return
		}
		pr.UpstreamStatus = resp.Status
		pr.UpstreamBytes = len(resp.Body)

		out, err := fn(resp.Body, transcodeOptions(r))
		if err != nil {
			g.handleError(w, pr, err)
			return
		}

		n := g.writeJSON(w, http.StatusOK, out)
		g.metrics.RecordTranscode(pr.UpstreamBytes, n)
		monitoring.TranscodedBytes.WithLabelValues("upstream").Add(float64(pr.UpstreamBytes))
		monitoring.TranscodedBytes.WithLabelValues("client").Add(float64(n))
		g.cacheStats()
		g.finishRequest(pr, http.StatusOK, n, "")
	}
}

// forward proxies a write with method and answers "ok". withBody forwards the
// JSON request body (token stripped); otherwise nothing is sent.
func (g *Gateway) forward(method string, path pathFunc, withBody bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr := g.beginRequest(r, method, path(r))

		var (
			body      []byte
			bodyToken string
		)
		if withBody {
			var err error
			body, bodyToken, err = readJSONBody(w, r)
			if err != nil {
				g.badRequest(w, pr, "Invalid JSON body")
				return
			}
		}
		pr.Credential = extractCredential(r, bodyToken)

		fwdStart := time.Now()
		resp, err := g.client.SendJSON(r.Context(), method, pr.UpstreamPath, pr.Credential.Token, body)
		pr.ForwardLatency = time.Since(fwdStart)
		if err != nil {
			g.handleError(w, pr, err)
			return
		}
		pr.UpstreamStatus = resp.Status
		pr.UpstreamBytes = len(resp.Body)

		n := g.writeOK(w)
		g.finishRequest(pr, http.StatusOK, n, "")
	}
}

// handleError applies the error policy: an upstream response is relayed with its status
// and body (status text when the body is empty); anything else is a 500 "Proxy error".
func (g *Gateway) handleError(w http.ResponseWriter, pr *proxyRequest, err error) {
	if ue, ok := upstream.AsError(err); ok {
		g.metrics.RecordUpstreamError()
		monitoring.UpstreamFailures.WithLabelValues(failureUpstream).Inc()
		log.Warn().
			Str("request_id", pr.ID).
			Str("upstream_path", pr.UpstreamPath).
			Int("status", ue.Status).
			Str("token", utils.MaskKey(pr.Credential.Token)).
			Msg("upstream error")

		pr.UpstreamStatus = ue.Status
		pr.UpstreamBytes = len(ue.Body)

		body, ct := ue.Body, ue.ContentType()
		if len(body) == 0 {
			body, ct = []byte(ue.StatusText), "text/plain; charset=utf-8"
		}
		if ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(ue.Status)
		_, _ = w.Write(body)
		g.finishRequest(pr, ue.Status, len(body), failureUpstream, err.Error())
		return
	}

	g.metrics.RecordTransportError()
	monitoring.UpstreamFailures.WithLabelValues(failureTransport).Inc()
	log.Error().
		Err(err).
		Str("request_id", pr.ID).
		Str("upstream_path", pr.UpstreamPath).
		Msg("proxy error")

	g.writeError(w, proxyErrorMessage, http.StatusInternalServerError)
	g.finishRequest(pr, http.StatusInternalServerError, len(proxyErrorMessage), failureTransport, err.Error())
}

// badRequest rejects client input the gateway cannot forward.
func (g *Gateway) badRequest(w http.ResponseWriter, pr *proxyRequest, msg string) {
	g.metrics.RecordBadRequest()
	g.writeError(w, msg, http.StatusBadRequest)
	g.finishRequest(pr, http.StatusBadRequest, len(msg), failureBadRequest, msg)
}

func queryOrNil(fn queryFunc, r *http.Request) url.Values {
	if fn == nil {
		return nil
	}
	return fn(r)
}

// getRequestID returns the ID assigned by the requestID middleware.
func (g *Gateway) getRequestID(r *http.Request) string {
	if id := monitoring.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(HeaderRequestID)
}

// =============================================================================
// TELEMETRY HELPERS
// =============================================================================

func (g *Gateway) beginRequest(r *http.Request, upstreamMethod, upstreamPath string) *proxyRequest {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	return &proxyRequest{
		ID:             g.getRequestID(r),
		Method:         r.Method,
		Route:          route,
		ClientIP:       r.RemoteAddr,
		StartedAt:      time.Now(),
		Extended:       transcodeOptions(r).Extended,
		UpstreamMethod: upstreamMethod,
		UpstreamPath:   upstreamPath,
	}
}

// finishRequest records a completed request. failure is "" on success; detail is an optional message.
func (g *Gateway) finishRequest(pr *proxyRequest, status, responseBytes int, failure string, detail ...string) {
	success := failure == ""
	g.metrics.RecordRequest(success, time.Since(pr.StartedAt))

	var msg string
	if len(detail) > 0 {
		msg = detail[0]
	}

	if !success {
		g.failures.Record(monitoring.FailureEntry{
			RequestID: pr.ID,
			Route:     pr.Route,
			Kind:      failure,
			Status:    status,
			Message:   msg,
		})
	}

	g.tracker.RecordRequest(&monitoring.RequestEvent{
		RequestID:        pr.ID,
		Timestamp:        pr.StartedAt,
		Method:           pr.Method,
		Route:            pr.Route,
		UpstreamMethod:   pr.UpstreamMethod,
		UpstreamPath:     pr.UpstreamPath,
		ClientIP:         pr.ClientIP,
		Extended:         pr.Extended,
		TokenSource:      pr.Credential.Source,
		UpstreamBytes:    pr.UpstreamBytes,
		ResponseBytes:    responseBytes,
		StatusCode:       status,
		UpstreamStatus:   pr.UpstreamStatus,
		Success:          success,
		Error:            msg,
		ForwardLatencyMs: pr.ForwardLatency.Milliseconds(),
		TotalLatencyMs:   time.Since(pr.StartedAt).Milliseconds(),
	})
}
