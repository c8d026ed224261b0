// Package gateway is the HTTP front of the proxy.
//
// FILES:
//   - gateway.go:      Gateway construction and server lifecycle
//   - router.go:       chi routes and middleware stack
//   - middleware.go:   Request ID, access log, Prometheus instrumentation
//   - request.go:      Credential extraction and request body handling
//   - handler.go:      Proxy handlers, error policy, health, telemetry
//   - upload.go:       Upload form page and multipart upload handler
//   - stats.go:        GET /stats (loopback only)
//   - init_logging.go: Startup telemetry event
//
// DESIGN: One inbound request maps to one upstream call. Successful bodies pass
// through a transcoder; the result is escaped to ASCII before writing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/monitoring"
	"github.com/liteproxy/liteproxy/internal/refcache"
	"github.com/liteproxy/liteproxy/internal/textnorm"
	"github.com/liteproxy/liteproxy/internal/transcode"
	"github.com/liteproxy/liteproxy/internal/upstream"
)

// Gateway serves the legacy client API.
type Gateway struct {
	cfg        *config.Config
	client     *upstream.Client
	refs       *refcache.Set
	transcoder *transcode.Transcoder
	metrics    *monitoring.MetricsCollector
	tracker    *monitoring.Tracker
	failures   *monitoring.FailureLog
	handler    http.Handler
	server     *http.Server
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithUpstreamClient replaces the upstream client (tests point it at a mock server).
func WithUpstreamClient(c *upstream.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithMetrics shares a metrics collector (the bridge records into the same one).
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(g *Gateway) { g.metrics = mc }
}

// New creates a gateway from cfg.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateway: nil config")
	}

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled: cfg.Monitoring.TelemetryPath != "",
		LogPath: cfg.Monitoring.TelemetryPath,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		client:   upstream.NewClient(cfg.Upstream),
		refs:     refcache.NewSet(cfg.Cache.Size),
		tracker:  tracker,
		failures: monitoring.NewFailureLog(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = monitoring.NewMetricsCollector()
	}

	norm := textnorm.New(g.refs.Users, g.refs.Channels).WithObserver(g.recordMention)
	g.transcoder = transcode.New(g.refs, norm, cfg.Compat.LegacyMemberAvatar)
	g.handler = g.setupRoutes()

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.tracker.RecordInit(buildInitEvent(cfg))
	return g, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Metrics returns the operational counters.
func (g *Gateway) Metrics() *monitoring.MetricsCollector {
	return g.metrics
}

// Refs returns the reference caches.
func (g *Gateway) Refs() *refcache.Set {
	return g.refs
}

// Start listens on the configured port and blocks until the server stops.
func (g *Gateway) Start() error {
	log.Info().
		Int("port", g.cfg.Server.Port).
		Str("upstream", g.cfg.Upstream.BaseURL).
		Int("cache_size", g.cfg.Cache.Size).
		Msg("gateway listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on ln until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and flushes telemetry.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	_ = g.tracker.Close()
	return err
}

func (g *Gateway) recordMention(kind textnorm.Kind, resolved bool) {
	g.metrics.RecordMention(resolved)
	result := "miss"
	if resolved {
		result = "hit"
	}
	monitoring.MentionResolutions.WithLabelValues(kind.String(), result).Inc()
}

// cacheStats snapshots both reference caches and refreshes their gauges.
func (g *Gateway) cacheStats() []monitoring.CacheStats {
	snap := []monitoring.CacheStats{
		{Name: "users", Entries: g.refs.Users.Len(), Capacity: g.refs.Users.Capacity(), Evictions: g.refs.Users.Evictions()},
		{Name: "channels", Entries: g.refs.Channels.Len(), Capacity: g.refs.Channels.Capacity(), Evictions: g.refs.Channels.Evictions()},
	}
	for _, c := range snap {
		monitoring.CacheEntries.WithLabelValues(c.Name).Set(float64(c.Entries))
	}
	return snap
}
