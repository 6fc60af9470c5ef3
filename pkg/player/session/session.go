// Package session ties one viewer connection together: the content store,
// version history, agent publisher, and AI edit machine, driven by decoded
// viewer frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/aiedit"
	"github.com/brdge-ai/playersync/pkg/player/api"
	"github.com/brdge-ai/playersync/pkg/player/content"
	"github.com/brdge-ai/playersync/pkg/player/history"
	"github.com/brdge-ai/playersync/pkg/player/protocol"
	"github.com/brdge-ai/playersync/pkg/player/publish"
	"github.com/brdge-ai/playersync/pkg/player/transcript"
)

// Backend is the authoring API surface the session needs. *api.Client
// satisfies it.
type Backend interface {
	FetchTranscript(ctx context.Context, brdgeID string) ([]transcript.Segment, error)
	FetchScripts(ctx context.Context, brdgeID string) (map[int]content.Content, error)
	SaveScripts(ctx context.Context, brdgeID string, scripts map[int]content.Content) (map[int]content.Content, error)
	FetchHistory(ctx context.Context, brdgeID string) ([]history.Generation, error)
}

// Sink delivers server frames back to the viewer. Implementations must be
// safe for concurrent use; edit tokens arrive from the stream goroutine.
type Sink interface {
	SendFrame(v any) error
}

// Deps carries everything a session needs, injected by the handler.
type Deps struct {
	Backend        Backend
	OpenEdit       aiedit.OpenFunc
	Channel        publish.Channel
	ConfigSnapshot func() protocol.AgentConfig

	Sink   Sink
	Stats  publish.Stats
	Logger *slog.Logger

	UserID        string
	APIBaseURL    string
	AgentType     string
	SlideInterval time.Duration
}

// Session is the per-viewer orchestrator. HandleMessage runs on the
// connection's read goroutine; edit callbacks arrive from the stream
// goroutine and only touch the sink and the publisher.
type Session struct {
	deps    Deps
	logger  *slog.Logger
	brdgeID string

	store     *content.Store
	publisher *publish.Publisher
	edit      *aiedit.Session

	mu          sync.Mutex
	slide       int
	numSlides   int
	generations []history.Generation
	hist        *history.History
}

func New(brdgeID string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("brdge_id", brdgeID)

	s := &Session{
		deps:    deps,
		logger:  logger,
		brdgeID: brdgeID,
		store:   content.NewStore(),
		slide:   1,
	}
	s.publisher = publish.New(deps.Channel, deps.ConfigSnapshot, deps.SlideInterval, deps.Stats, logger)
	s.edit = aiedit.NewSession(s.store, deps.OpenEdit, aiedit.Events{
		OnToken:  s.onEditToken,
		OnResult: s.onEditResult,
		OnError:  s.onEditError,
	}, logger)
	return s
}

// Start loads the presentation: transcript, scripts, and history. Called
// once, after the hello frame, before any other frame is handled.
func (s *Session) Start(ctx context.Context) error {
	segs, err := s.deps.Backend.FetchTranscript(ctx, s.brdgeID)
	if err != nil {
		return fmt.Errorf("load presentation: %w", err)
	}
	scripts, err := s.deps.Backend.FetchScripts(ctx, s.brdgeID)
	if err != nil {
		return fmt.Errorf("load presentation: %w", err)
	}
	// History is an enhancement, not a prerequisite: without it the session
	// still syncs, edits, and saves, with undo/redo reporting unavailable.
	gens, err := s.deps.Backend.FetchHistory(ctx, s.brdgeID)
	if err != nil {
		s.logger.Warn("history unavailable", "error", err)
		gens = nil
	}

	s.publisher.SetSegments(segs)
	s.store.LoadServer(scripts)

	s.mu.Lock()
	s.generations = gens
	s.numSlides = maxSlide(scripts)
	s.hist = history.New(history.FromGenerations(gens, s.slide))
	slide := s.slide
	s.mu.Unlock()

	// If the agent connected before the transcript loaded, the bootstrap was
	// deferred; run it now.
	if s.deps.Channel.Connected() {
		s.publisher.OnConnected()
	}

	s.sendContent(slide)
	return nil
}

// RepublishConfig pushes a fresh agent_config snapshot over the data
// channel. Used when the persona document changes under a live connection.
func (s *Session) RepublishConfig() {
	s.publisher.PublishConfig()
}

// OnChannelState forwards agent channel transitions to the publisher.
func (s *Session) OnChannelState(connected bool) {
	if connected {
		s.publisher.OnConnected()
	} else {
		s.publisher.OnDisconnected()
	}
}

// HandleMessage dispatches one decoded viewer frame.
func (s *Session) HandleMessage(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case protocol.PlaybackTick:
		s.publisher.OnTimeUpdate(m.CurrentTime)
	case protocol.SlideChange:
		s.switchSlide(m)
	case protocol.EditStart:
		s.startEdit(m)
	case protocol.EditCancel:
		s.edit.Cancel()
	case protocol.HistoryStep:
		s.stepHistory(m.Type)
	case protocol.SaveRequest:
		s.save(ctx)
	default:
		s.sendError("unsupported", "unhandled frame", "")
	}
}

// Close tears the session down: the in-flight edit is cancelled and the
// publisher's coalescing timer released. The agent channel belongs to the
// handler and is closed there.
func (s *Session) Close() {
	s.edit.Cancel()
	s.publisher.Close()
}

// switchSlide cancels any running edit, moves the active segment, rebuilds
// that segment's history, and queues the coalesced slide update.
func (s *Session) switchSlide(m protocol.SlideChange) {
	s.edit.Cancel()

	s.mu.Lock()
	s.slide = m.Slide
	s.hist = history.New(history.FromGenerations(s.generations, m.Slide))
	numSlides := s.numSlides
	s.mu.Unlock()

	s.publisher.OnSlideChange(protocol.SlideUpdate{
		BrdgeID:      s.brdgeID,
		NumSlides:    numSlides,
		APIBaseURL:   s.deps.APIBaseURL,
		CurrentSlide: m.Slide,
		SlideURL:     m.SlideURL,
		AgentType:    s.deps.AgentType,
	})
	s.sendContent(m.Slide)
}

func (s *Session) startEdit(m protocol.EditStart) {
	slide := m.Slide
	if slide == 0 {
		s.mu.Lock()
		slide = s.slide
		s.mu.Unlock()
	}

	err := s.edit.Start(slide, m.Instruction, aiedit.Targets{
		Speech:    m.EditSpeech,
		Knowledge: m.EditKnowledge,
	})
	switch {
	case err == nil:
	case errors.Is(err, aiedit.ErrBusy):
		s.sendError("busy", err.Error(), "")
	default:
		s.sendError("bad_request", err.Error(), "instruction")
	}
}

// stepHistory moves the version cursor. Out-of-bounds steps are silent
// no-ops; the content frame still goes out so the viewer's undo/redo
// affordances stay accurate.
func (s *Session) stepHistory(direction string) {
	if s.edit.Processing() {
		s.sendError("busy", "history is locked while an edit is running", "")
		return
	}

	s.mu.Lock()
	var (
		v  history.Version
		ok bool
	)
	if direction == "undo" {
		v, ok = s.hist.Undo()
	} else {
		v, ok = s.hist.Redo()
	}
	slide := s.slide
	s.mu.Unlock()

	if ok {
		s.store.SetBoth(slide, content.Content{Script: v.Script, Agent: v.Agent})
	}
	s.sendContent(slide)
}

// save persists the full script map. On success the buffers become the new
// server baseline and a generation is appended; on failure dirty fields
// revert to the last server value.
func (s *Session) save(ctx context.Context) {
	if s.edit.Processing() {
		s.sendError("busy", "cannot save while an edit is running", "")
		return
	}

	snapshot := s.store.Snapshot()
	updated, err := s.deps.Backend.SaveScripts(ctx, s.brdgeID, snapshot)
	s.mu.Lock()
	slide := s.slide
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("save failed", "error", err)
		for sl := range snapshot {
			s.store.RevertDirty(sl)
		}
		s.sendError("save_failed", err.Error(), "")
		s.sendContent(slide)
		return
	}

	if updated == nil {
		updated = snapshot
	}
	s.store.LoadServer(updated)

	s.mu.Lock()
	s.generations = append(s.generations, history.Generation{
		Scripts:     updated,
		GeneratedAt: time.Now().UTC(),
	})
	s.hist = history.New(history.FromGenerations(s.generations, slide))
	s.numSlides = maxSlide(updated)
	s.mu.Unlock()

	s.sendFrame(protocol.NewServerSaved(slide))
	s.sendContent(slide)
}

func (s *Session) onEditToken(target, token string) {
	s.sendFrame(protocol.NewServerEditToken(target, token))
}

func (s *Session) onEditResult(slide int, script, agent *string) {
	s.sendFrame(protocol.NewServerEditResult(slide, script, agent))
	s.sendContent(slide)
}

func (s *Session) onEditError(message string) {
	s.sendError("edit_failed", message, "")
}

func (s *Session) sendContent(slide int) {
	c := s.store.Get(slide)
	s.mu.Lock()
	canUndo := s.hist.CanUndo()
	canRedo := s.hist.CanRedo()
	s.mu.Unlock()
	s.sendFrame(protocol.NewServerContent(slide, c.Script, c.Agent, canUndo, canRedo))
}

func (s *Session) sendError(code, message, param string) {
	s.sendFrame(protocol.NewServerError(code, message, param))
}

func (s *Session) sendFrame(v any) {
	if err := s.deps.Sink.SendFrame(v); err != nil {
		s.logger.Warn("viewer frame dropped", "error", err)
	}
}

func maxSlide(scripts map[int]content.Content) int {
	max := 0
	for slide := range scripts {
		if slide > max {
			max = slide
		}
	}
	return max
}

var _ Backend = (*api.Client)(nil)
