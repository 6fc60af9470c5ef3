// Package agentlink maintains the outbound data channel to the remote agent
// process: a websocket carrying JSON snapshot envelopes, reliable and ordered
// for the life of one connection.
package agentlink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// Link is one connection to the agent. Dial creates it connected; it never
// reconnects itself — the owning session decides whether to redial.
type Link struct {
	cfg     Config
	logger  *slog.Logger
	onState func(connected bool)

	connected atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the data channel. onState fires with true once the connection
// is up and with false exactly once when it goes down, from any cause.
func Dial(ctx context.Context, cfg Config, onState func(connected bool), logger *slog.Logger) (*Link, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial agent channel: %w", err)
	}

	l := &Link{
		cfg:     cfg,
		logger:  logger,
		onState: onState,
		conn:    conn,
		done:    make(chan struct{}),
	}
	l.connected.Store(true)
	if onState != nil {
		onState(true)
	}

	go l.readLoop()
	go l.pingLoop()
	return l, nil
}

// Connected reports whether the channel is usable.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Send writes one JSON payload as a text message. Writes are serialized;
// in-order delivery is the transport's job.
func (l *Link) Send(payload []byte) error {
	if !l.connected.Load() {
		return fmt.Errorf("agent channel is not connected")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close tears the channel down and fires the disconnect callback.
func (l *Link) Close() {
	l.shutdown(nil)
}

// The agent does not speak back on this channel; the read loop exists to
// process control frames and notice the peer going away.
func (l *Link) readLoop() {
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			l.shutdown(err)
			return
		}
	}
}

func (l *Link) pingLoop() {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(l.cfg.WriteTimeout))
			l.writeMu.Unlock()
			if err != nil {
				l.shutdown(err)
				return
			}
		}
	}
}

func (l *Link) shutdown(cause error) {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		close(l.done)

		l.writeMu.Lock()
		deadline := time.Now().Add(l.cfg.WriteTimeout)
		_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = l.conn.Close()
		l.writeMu.Unlock()

		if cause != nil {
			l.logger.Warn("agent channel closed", "error", cause)
		}
		if l.onState != nil {
			l.onState(false)
		}
	})
}
