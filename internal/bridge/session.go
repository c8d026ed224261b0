package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/monitoring"
)

// Control frames use op -1 and never reach the upstream.
const controlOp = -1

// Control frame types.
const (
	EventHello        = "GATEWAY_HELLO"
	EventConnect      = "GATEWAY_CONNECT"
	EventDisconnect   = "GATEWAY_DISCONNECT"
	EventUpdateFilter = "GATEWAY_UPDATE_SUPPORTED_EVENTS"
)

const (
	disconnectMessage  = "Connection closed"
	clientWriteTimeout = 10 * time.Second
)

var (
	helloFrame      = []byte(`{"op":-1,"t":"` + EventHello + `"}`)
	disconnectFrame = []byte(`{"op":-1,"t":"` + EventDisconnect + `","d":{"message":"` + disconnectMessage + `"}}`)

	errNotConnected = errors.New("upstream websocket not connected")
)

// session is one bridge client and at most one upstream websocket.
type session struct {
	id      string
	conn    net.Conn
	cfg     config.BridgeConfig
	metrics *monitoring.MetricsCollector
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // serializes client writes

	mu     sync.Mutex // guards ws, events, closed
	ws     *websocket.Conn
	events map[string]struct{} // empty forwards everything
	closed bool

	closeOnce sync.Once
	wg        sync.WaitGroup // upstream read loops
}

func newSession(parent context.Context, conn net.Conn, cfg config.BridgeConfig, metrics *monitoring.MetricsCollector) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	metrics.RecordBridgeOpen()
	monitoring.BridgeSessions.Inc()
	return &session{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		metrics: metrics,
		logger: log.With().
			Str("session", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run serves the client until either side closes.
func (s *session) run() {
	s.logger.Info().Msg("bridge client connected")

	defer s.wg.Wait()
	defer s.close()

	if err := s.send(helloFrame); err != nil {
		return
	}

	sc := bufio.NewScanner(s.conn)
	sc.Buffer(make([]byte, 0, 64*1024), s.cfg.MaxLineSize)
	for sc.Scan() {
		s.handleLine(sc.Bytes())
		if s.ctx.Err() != nil {
			return
		}
	}
	if err := sc.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Debug().Err(err).Msg("bridge client read ended")
	}
}

// handleLine dispatches one client line: control frames are handled here, anything
// else goes to the upstream websocket.
func (s *session) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if !gjson.ValidBytes(line) {
		s.logger.Warn().Int("bytes", len(line)).Msg("ignoring unparseable client line")
		return
	}

	frame := gjson.ParseBytes(line)
	if op := frame.Get("op"); op.Type == gjson.Number && op.Int() == controlOp {
		s.handleControl(frame)
		return
	}

	if err := s.forward(line); err != nil {
		s.logger.Debug().Err(err).Msg("dropping client frame")
	}
}

func (s *session) handleControl(frame gjson.Result) {
	t := frame.Get("t").String()
	switch t {
	case EventConnect:
		if err := s.connect(frame.Get("d")); err != nil {
			s.logger.Warn().Err(err).Msg("upstream websocket connect failed")
			s.close()
		}
	case EventDisconnect:
		s.close()
	case EventUpdateFilter:
		if events := frame.Get("d.supported_events"); events.Exists() {
			s.setEvents(events)
		}
	default:
		s.logger.Debug().Str("t", t).Msg("ignoring unknown control frame")
	}
}

// connect dials the upstream websocket named by d.url, replacing any current one.
func (s *session) connect(d gjson.Result) error {
	rawURL := d.Get("url").String()
	if err := s.checkURL(rawURL); err != nil {
		return err
	}
	s.setEvents(d.Get("supported_events"))

	dialCtx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("dial upstream websocket: %w", err)
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.CloseNow()
		return nil
	}
	old := s.ws
	s.ws = ws
	s.mu.Unlock()

	if old != nil {
		_ = old.CloseNow()
	}

	s.logger.Info().Str("host", hostOf(rawURL)).Msg("upstream websocket connected")
	s.wg.Add(1)
	go s.readLoop(ws)
	return nil
}

// checkURL only lets clients reach websocket URLs on the allowed hosts.
func (s *session) checkURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("connect frame has no url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket url must be ws(s), got %q", u.Scheme)
	}
	if len(s.cfg.AllowedHosts) == 0 {
		return nil
	}
	for _, h := range s.cfg.AllowedHosts {
		if strings.EqualFold(u.Hostname(), h) {
			return nil
		}
	}
	return fmt.Errorf("websocket host %q is not allowed", u.Hostname())
}

// readLoop relays upstream frames to the client until ws fails.
func (s *session) readLoop(ws *websocket.Conn) {
	defer s.wg.Done()
	for {
		typ, data, err := ws.Read(s.ctx)
		if err != nil {
			if s.isCurrent(ws) {
				s.logger.Info().
					Int("status", int(websocket.CloseStatus(err))).
					Msg("upstream websocket closed")
				s.close()
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.Debug().Int("bytes", len(data)).Msg("dropping binary upstream frame")
			continue
		}
		if !gjson.ValidBytes(data) {
			s.logger.Warn().Int("bytes", len(data)).Msg("dropping unparseable upstream frame")
			continue
		}
		if !s.accepts(data) {
			continue
		}
		if err := s.send(compactLine(data)); err != nil {
			s.close()
			return
		}
		s.metrics.RecordBridgeFrame()
		monitoring.BridgeFrames.WithLabelValues("to_client").Inc()
	}
}

// forward sends a client frame to the upstream websocket.
func (s *session) forward(line []byte) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}
	if err := ws.Write(s.ctx, websocket.MessageText, line); err != nil {
		return err
	}
	s.metrics.RecordBridgeFrame()
	monitoring.BridgeFrames.WithLabelValues("to_upstream").Inc()
	return nil
}

// accepts applies the event filter: frames without a type always pass.
func (s *session) accepts(frame []byte) bool {
	t := gjson.GetBytes(frame, "t")
	if t.Type == gjson.Null || t.String() == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return true
	}
	_, ok := s.events[t.String()]
	return ok
}

func (s *session) setEvents(list gjson.Result) {
	events := make(map[string]struct{})
	for _, e := range list.Array() {
		if name := e.String(); name != "" {
			events[name] = struct{}{}
		}
	}
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
}

func (s *session) isCurrent(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws == ws
}

// send writes one line to the client.
func (s *session) send(frame []byte) error {
	line := make([]byte, 0, len(frame)+1)
	line = append(line, frame...)
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	_, err := s.conn.Write(line)
	return err
}

// close tears the session down once: upstream websocket, disconnect frame, TCP.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		ws := s.ws
		s.ws = nil
		s.closed = true
		s.mu.Unlock()

		if ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}
		s.cancel()
		_ = s.send(disconnectFrame)
		_ = s.conn.Close()

		s.metrics.RecordBridgeClose()
		monitoring.BridgeSessions.Dec()
		s.logger.Info().Msg("bridge client disconnected")
	})
}

// compactLine strips insignificant whitespace so the frame fits on one line.
func compactLine(frame []byte) []byte {
	if bytes.IndexByte(frame, '\n') < 0 && bytes.IndexByte(frame, '\r') < 0 {
		return frame
	}
	return []byte(gjson.GetBytes(frame, "@ugly").Raw)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
