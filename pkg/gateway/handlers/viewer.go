package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brdge-ai/playersync/pkg/agentconfig"
	"github.com/brdge-ai/playersync/pkg/agentlink"
	"github.com/brdge-ai/playersync/pkg/gateway/config"
	"github.com/brdge-ai/playersync/pkg/gateway/metrics"
	"github.com/brdge-ai/playersync/pkg/gateway/mw"
	"github.com/brdge-ai/playersync/pkg/gateway/viewers"
	"github.com/brdge-ai/playersync/pkg/player/aiedit"
	"github.com/brdge-ai/playersync/pkg/player/protocol"
	"github.com/brdge-ai/playersync/pkg/player/publish"
	playersession "github.com/brdge-ai/playersync/pkg/player/session"
)

// AgentChannel is an established data channel to the remote agent.
type AgentChannel interface {
	publish.Channel
	Close()
}

// AgentDialer opens the data channel for one viewer session. onState fires
// with true when the channel comes up and false exactly once when it drops.
type AgentDialer func(ctx context.Context, onState func(connected bool)) (AgentChannel, error)

// ViewerHandler handles /v1/viewer websocket sessions.
type ViewerHandler struct {
	Config   config.Config
	Backend  playersession.Backend
	OpenEdit func(brdgeID string) aiedit.OpenFunc
	Persona  *agentconfig.Source
	Logger   *slog.Logger
	Registry *viewers.Registry
	Metrics  *metrics.Metrics

	// DialAgent overrides the default agentlink dial; used in tests.
	DialAgent AgentDialer
}

func (h ViewerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, apiError{Code: "method_not_allowed", Message: "method not allowed", RequestID: reqID})
		return
	}
	if h.Registry.IsDraining() {
		writeErrorJSON(w, http.StatusServiceUnavailable, apiError{Code: "draining", Message: "gateway is draining", RequestID: reqID})
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, http.StatusForbidden, apiError{Code: "forbidden", Message: "origin is not allowed", Param: "Origin", RequestID: reqID})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.ViewerMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.ViewerMaxMessageBytes)
	}

	sink := &wsSink{conn: conn, writeTimeout: h.Config.ViewerWriteTimeout}

	hello, ok := h.readHello(conn, sink)
	if !ok {
		return
	}

	if h.Config.ViewerMaxSessions > 0 && h.Registry.Count() >= h.Config.ViewerMaxSessions {
		h.closeWithError(conn, sink, "rate_limited", "too many active viewer sessions", "")
		return
	}

	sessionID := "vs_" + uuid.NewString()
	logger := h.logger().With("session_id", sessionID, "brdge_id", hello.BrdgeID)

	// The data channel outlives individual frames but not the session.
	stateCh := make(chan bool, 4)
	channel, closeChannel := h.openAgentChannel(r.Context(), stateCh, logger)
	defer closeChannel()

	if h.Metrics != nil {
		h.Metrics.ViewerSessionStarted()
	}
	status := "closed"
	defer func() {
		if h.Metrics != nil {
			h.Metrics.ViewerSessionEnded(status)
		}
	}()

	sess := playersession.New(hello.BrdgeID, playersession.Deps{
		Backend:        h.Backend,
		OpenEdit:       h.openEditFor(hello.BrdgeID),
		Channel:        channel,
		ConfigSnapshot: h.configSnapshotFor(hello.BrdgeID),
		Sink:           h.instrumentedSink(sink),
		Stats:          h.stats(),
		Logger:         logger,
		UserID:         h.Config.UserID,
		APIBaseURL:     h.Config.BackendBaseURL,
		AgentType:      h.Config.AgentType,
		SlideInterval:  h.Config.SlideCoalesceInterval,
	})
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case connected := <-stateCh:
				sess.OnChannelState(connected)
			}
		}
	}()

	unregister := h.Registry.Register(sessionID, viewers.Handle{
		BrdgeID: hello.BrdgeID,
		Cancel:  func() { conn.Close() },
		Warn: func(code, message string) error {
			return sink.SendFrame(protocol.NewServerError(code, message, ""))
		},
		RepublishConfig: sess.RepublishConfig,
	})
	defer unregister()

	if err := sink.SendFrame(protocol.NewServerHelloAck(sessionID, hello.BrdgeID)); err != nil {
		return
	}

	if err := sess.Start(r.Context()); err != nil {
		logger.Warn("session start failed", "error", err)
		status = "load_failed"
		h.closeWithError(conn, sink, "load_failed", err.Error(), "")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	go h.pingLoop(conn, done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			_ = sink.SendFrame(protocol.NewServerError("bad_request", "frames must be text", ""))
			continue
		}

		msg, err := protocol.DecodeViewerMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				_ = sink.SendFrame(protocol.NewServerError(de.Code, de.Message, de.Param))
			} else {
				_ = sink.SendFrame(protocol.NewServerError("bad_request", "invalid frame", ""))
			}
			continue
		}
		if _, isHello := msg.(protocol.ViewerHello); isHello {
			_ = sink.SendFrame(protocol.NewServerError("bad_request", "duplicate hello", "type"))
			continue
		}

		sess.HandleMessage(r.Context(), msg)
	}
}

// readHello enforces the handshake: the first frame must be a valid hello on
// a supported protocol version, within the handshake timeout.
func (h ViewerHandler) readHello(conn *websocket.Conn, sink *wsSink) (protocol.ViewerHello, bool) {
	handshakeTimeout := h.Config.ViewerHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.closeWithError(conn, sink, "bad_request", "failed to read hello", "")
		return protocol.ViewerHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.closeWithError(conn, sink, "bad_request", "first frame must be hello", "")
		return protocol.ViewerHello{}, false
	}

	decoded, err := protocol.DecodeViewerMessage(firstFrame)
	if err != nil {
		h.closeWithError(conn, sink, "bad_request", "invalid hello frame", "")
		return protocol.ViewerHello{}, false
	}
	hello, ok := decoded.(protocol.ViewerHello)
	if !ok {
		h.closeWithError(conn, sink, "bad_request", "first frame must be hello", "type")
		return protocol.ViewerHello{}, false
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.closeWithError(conn, sink, "unsupported_version", "unsupported protocol_version", "protocol_version")
		return protocol.ViewerHello{}, false
	}
	return hello, true
}

// openAgentChannel dials the agent link. Dial failure degrades the session:
// the viewer still edits and saves, telemetry publishes are skipped.
func (h ViewerHandler) openAgentChannel(ctx context.Context, stateCh chan bool, logger *slog.Logger) (AgentChannel, func()) {
	onState := func(connected bool) {
		select {
		case stateCh <- connected:
		default:
		}
	}

	var channel AgentChannel
	var err error
	if h.DialAgent != nil {
		channel, err = h.DialAgent(ctx, onState)
	} else {
		channel, err = agentlink.Dial(ctx, agentlink.Config{
			URL:              h.Config.AgentWSURL,
			HandshakeTimeout: h.Config.AgentHandshakeTimeout,
			WriteTimeout:     h.Config.AgentWriteTimeout,
			PingInterval:     h.Config.AgentPingInterval,
		}, onState, logger)
	}
	if err != nil {
		logger.Warn("agent channel unavailable", "error", err)
		return noChannel{}, func() {}
	}
	return channel, channel.Close
}

func (h ViewerHandler) openEditFor(brdgeID string) aiedit.OpenFunc {
	if h.OpenEdit == nil {
		return nil
	}
	return h.OpenEdit(brdgeID)
}

func (h ViewerHandler) configSnapshotFor(brdgeID string) func() protocol.AgentConfig {
	if h.Persona == nil {
		return nil
	}
	return func() protocol.AgentConfig {
		return h.Persona.Snapshot(h.Config.UserID, brdgeID)
	}
}

func (h ViewerHandler) stats() publish.Stats {
	if h.Metrics == nil {
		return nil
	}
	return h.Metrics
}

// instrumentedSink counts edit and save outcomes as they cross the viewer
// boundary; session internals stay metrics-free.
func (h ViewerHandler) instrumentedSink(inner playersession.Sink) playersession.Sink {
	if h.Metrics == nil {
		return inner
	}
	return countingSink{inner: inner, metrics: h.Metrics}
}

func (h ViewerHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	interval := h.Config.ViewerPingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.Config.ViewerWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h ViewerHandler) closeWithError(conn *websocket.Conn, sink *wsSink, code, message, param string) {
	_ = sink.SendFrame(protocol.NewServerError(code, message, param))
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

func (h ViewerHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h ViewerHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// wsSink serializes JSON writes to the viewer connection. Edit tokens arrive
// from the stream goroutine while the read loop answers frames, so every
// write goes through the mutex.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (s *wsSink) SendFrame(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteJSON(v)
}

type countingSink struct {
	inner   playersession.Sink
	metrics *metrics.Metrics
}

func (s countingSink) SendFrame(v any) error {
	switch frame := v.(type) {
	case protocol.ServerEditToken:
		s.metrics.EditTokenRelayed()
	case protocol.ServerEditResult:
		s.metrics.EditFinished("committed")
	case protocol.ServerSaved:
		s.metrics.SaveAttempted("ok")
	case protocol.ServerError:
		switch frame.Code {
		case "edit_failed":
			s.metrics.EditFinished("failed")
		case "save_failed":
			s.metrics.SaveAttempted("failed")
		}
	}
	return s.inner.SendFrame(v)
}

// noChannel stands in when the agent link cannot be established.
type noChannel struct{}

func (noChannel) Connected() bool   { return false }
func (noChannel) Send([]byte) error { return errors.New("agent channel is not connected") }
func (noChannel) Close()            {}
