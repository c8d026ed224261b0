// Package bridge relays the upstream realtime websocket gateway to clients that
// can only speak line-delimited JSON over plain TCP.
//
// FILES:
//   - server.go:  TCP listener, session tracking, shutdown
//   - session.go: Per-client control frames, websocket dial, relay loops
//
// DESIGN: One goroutine reads client lines and one reads upstream frames per session.
// Either side closing tears the whole session down: the upstream websocket is closed,
// the client gets a GATEWAY_DISCONNECT frame and the TCP connection is closed.
package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/monitoring"
)

// Server accepts bridge clients.
type Server struct {
	cfg     config.BridgeConfig
	metrics *monitoring.MetricsCollector

	mu       sync.Mutex
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New creates a bridge server. A nil metrics collector gets a private one.
func New(cfg config.BridgeConfig, metrics *monitoring.MetricsCollector) *Server {
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = config.DefaultBridgeMaxLine
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultBridgeMaxMessage
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = config.DefaultBridgeDialTimeout
	}
	return &Server{
		cfg:      cfg,
		metrics:  metrics,
		sessions: make(map[*session]struct{}),
	}
}

// ListenAndServe listens on the configured port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	log.Info().Int("port", s.cfg.Port).Strs("allowed_hosts", s.cfg.AllowedHosts).Msg("bridge listening")
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is done, then closes every session and
// waits for them. It returns nil after a ctx-driven shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("bridge accept: %w", aerr)
			}
			break
		}

		sess := newSession(ctx, conn, s.cfg, s.metrics)
		s.track(sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.run()
		}()
	}

	cancel()
	_ = ln.Close()
	s.closeAll()
	s.wg.Wait()
	return err
}

// Active returns the number of connected clients.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
}
