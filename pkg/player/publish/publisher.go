// Package publish pushes playback-progress and config snapshots to the
// remote agent over the data channel. Telemetry is best effort: each snapshot
// supersedes the last, so failures are logged and dropped, never retried.
package publish

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/protocol"
	"github.com/brdge-ai/playersync/pkg/player/transcript"
)

// Channel is the reliable, ordered, connection-scoped message channel to the
// agent process.
type Channel interface {
	Connected() bool
	Send(payload []byte) error
}

// Stats receives publish outcome counts. Implementations must be cheap and
// non-blocking; nil-tolerant via the package's guard.
type Stats interface {
	PublishSent(kind string)
	PublishSkipped(kind, reason string)
	PublishDropped(kind string)
}

const (
	kindPosition = "transcript_position"
	kindConfig   = "agent_config"
	kindSlide    = "slide_update"
)

// Publisher owns the outbound snapshot stream for one viewer session.
type Publisher struct {
	channel Channel
	logger  *slog.Logger
	stats   Stats

	// ConfigSnapshot supplies the agent_config payload on demand; wired by
	// the session so the snapshot always reflects current authoring state.
	configSnapshot func() protocol.AgentConfig

	mu            sync.Mutex
	segments      []transcript.Segment
	bootstrapped  bool
	lastRead      int
	lastRemaining int
	lastSlide     int

	slides *Coalescer
}

func New(channel Channel, configSnapshot func() protocol.AgentConfig, slideInterval time.Duration, stats Stats, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		channel:        channel,
		logger:         logger,
		stats:          stats,
		configSnapshot: configSnapshot,
		lastRead:       -1,
		lastRemaining:  -1,
		lastSlide:      -1,
	}
	p.slides = NewCoalescer(slideInterval, p.sendSlide)
	return p
}

// SetSegments installs the reference transcript. Loaded once per
// presentation session.
func (p *Publisher) SetSegments(segs []transcript.Segment) {
	p.mu.Lock()
	p.segments = segs
	p.mu.Unlock()
}

// OnConnected runs the one-time bootstrap for a fresh connection: the full
// transcript snapshot with nothing read, then the agent config. Skipped when
// segments have not loaded yet; the first tick after load covers it.
func (p *Publisher) OnConnected() {
	p.mu.Lock()
	if p.bootstrapped || len(p.segments) == 0 {
		p.mu.Unlock()
		return
	}
	p.bootstrapped = true
	segs := p.segments
	p.lastRead = -1
	p.lastRemaining = -1
	p.mu.Unlock()

	p.publishPosition(transcript.Bootstrap(segs))
	p.PublishConfig()
}

// OnDisconnected resets per-connection state so the next connection
// bootstraps again.
func (p *Publisher) OnDisconnected() {
	p.mu.Lock()
	p.bootstrapped = false
	p.lastRead = -1
	p.lastRemaining = -1
	p.lastSlide = -1
	p.mu.Unlock()
}

// OnTimeUpdate publishes the partition for a playback tick. Runs on every
// time change, so it stays synchronous and O(segments): empty partitions and
// unchanged ones are skipped.
func (p *Publisher) OnTimeUpdate(t float64) {
	if !p.channel.Connected() {
		p.skipped(kindPosition, "disconnected")
		return
	}

	p.mu.Lock()
	segs := p.segments
	p.mu.Unlock()

	pos := transcript.Partition(segs, t)
	if pos.IsEmpty() {
		p.skipped(kindPosition, "empty")
		return
	}

	p.mu.Lock()
	if len(pos.Read) == p.lastRead && len(pos.Remaining) == p.lastRemaining {
		p.mu.Unlock()
		p.skipped(kindPosition, "duplicate")
		return
	}
	p.lastRead = len(pos.Read)
	p.lastRemaining = len(pos.Remaining)
	p.mu.Unlock()

	p.publishPosition(pos)
}

// PublishConfig publishes the agent_config snapshot. Called by the bootstrap
// and again when authoring data changes under a live connection.
func (p *Publisher) PublishConfig() {
	if p.configSnapshot == nil {
		return
	}
	if !p.channel.Connected() {
		p.skipped(kindConfig, "disconnected")
		return
	}
	payload, err := protocol.EncodeConfig(p.configSnapshot())
	if err != nil {
		p.dropped(kindConfig, err)
		return
	}
	p.send(kindConfig, payload)
}

// OnSlideChange coalesces slide updates: rapid navigation collapses to the
// latest slide, published one interval later.
func (p *Publisher) OnSlideChange(upd protocol.SlideUpdate) {
	p.mu.Lock()
	if upd.CurrentSlide == p.lastSlide {
		p.mu.Unlock()
		p.skipped(kindSlide, "duplicate")
		return
	}
	p.lastSlide = upd.CurrentSlide
	p.mu.Unlock()

	payload, err := protocol.EncodeSlideUpdate(upd)
	if err != nil {
		p.dropped(kindSlide, err)
		return
	}
	p.slides.Offer(payload)
}

// Close releases the coalescing timer. The publisher must not be used after
// Close.
func (p *Publisher) Close() {
	p.slides.Close()
}

func (p *Publisher) publishPosition(pos transcript.Position) {
	payload, err := protocol.EncodePosition(pos)
	if err != nil {
		p.dropped(kindPosition, err)
		return
	}
	p.send(kindPosition, payload)
}

func (p *Publisher) sendSlide(payload []byte) {
	if !p.channel.Connected() {
		p.skipped(kindSlide, "disconnected")
		return
	}
	p.send(kindSlide, payload)
}

func (p *Publisher) send(kind string, payload []byte) {
	if err := p.channel.Send(payload); err != nil {
		p.dropped(kind, err)
		return
	}
	if p.stats != nil {
		p.stats.PublishSent(kind)
	}
}

func (p *Publisher) skipped(kind, reason string) {
	if p.stats != nil {
		p.stats.PublishSkipped(kind, reason)
	}
}

func (p *Publisher) dropped(kind string, err error) {
	// Best effort: the next snapshot supersedes this one.
	p.logger.Warn("publish dropped", "kind", kind, "error", err)
	if p.stats != nil {
		p.stats.PublishDropped(kind)
	}
}
