// Package aiedit drives a cancellable, token-streamed rewrite of one
// segment's content. At most one edit is in flight per session; results are
// committed into the content store per enabled target.
package aiedit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/brdge-ai/playersync/pkg/player/api"
	"github.com/brdge-ai/playersync/pkg/player/content"
)

var (
	ErrBusy             = errors.New("an edit is already in progress")
	ErrEmptyInstruction = errors.New("instruction is empty")
	ErrNoActiveSegment  = errors.New("no active segment")
)

// State of the edit session.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
)

// Targets selects which content channels an edit applies to. Tokens for a
// disabled target are still accumulated for display but never committed.
type Targets struct {
	Speech    bool
	Knowledge bool
}

// Stream is the server-streamed edit connection the session consumes.
type Stream interface {
	Next() (api.EditFrame, error)
	Close() error
}

// OpenFunc opens the streamed edit request. Exactly one open stream exists
// per running edit.
type OpenFunc func(ctx context.Context, req api.EditRequest) (Stream, error)

// Events are optional callbacks fired as the edit progresses. Callbacks run
// on the session's stream goroutine and must not block.
type Events struct {
	// OnToken fires for every streamed token, including tokens for disabled
	// targets.
	OnToken func(target, token string)
	// OnResult fires once on successful completion with the committed
	// fields; nil fields were not committed.
	OnResult func(slide int, script, agent *string)
	// OnError fires when the edit aborts.
	OnError func(message string)
	// OnDone fires after any terminal transition, including cancellation.
	OnDone func()
}

// Session is the edit state machine. Safe for concurrent use.
type Session struct {
	store  *content.Store
	open   OpenFunc
	events Events
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	cancel     context.CancelFunc
	scriptBuf  strings.Builder
	agentBuf   strings.Builder
	firstToken bool
	lastErr    string
}

func NewSession(store *content.Store, open OpenFunc, events Events, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, open: open, events: events, logger: logger}
}

// Start begins an edit for the given slide. Rejected while another edit is
// requesting or streaming, when the instruction is blank, or without an
// active segment.
func (s *Session) Start(slide int, instruction string, targets Targets) error {
	if strings.TrimSpace(instruction) == "" {
		return ErrEmptyInstruction
	}
	if slide < 1 {
		return ErrNoActiveSegment
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateRequesting
	s.gen++
	gen := s.gen
	s.scriptBuf.Reset()
	s.agentBuf.Reset()
	s.firstToken = false
	s.lastErr = ""

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	current := s.store.Get(slide)
	req := api.EditRequest{
		Slide:         slide,
		Instruction:   instruction,
		Current:       current,
		EditSpeech:    targets.Speech,
		EditKnowledge: targets.Knowledge,
	}

	go s.run(ctx, gen, slide, targets, req)
	return nil
}

// Cancel aborts any in-flight edit. Triggered on segment switch and session
// teardown. After Cancel returns no further accumulator writes occur for the
// cancelled edit.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.state = StateIdle
	s.gen++ // fence: the stream goroutine's writes are now stale
	s.scriptBuf.Reset()
	s.agentBuf.Reset()
	s.firstToken = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.events.OnDone != nil {
		s.events.OnDone()
	}
}

// Processing reports whether an edit is requesting or streaming.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamSnapshot returns the accumulated token buffers.
func (s *Session) StreamSnapshot() (script, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptBuf.String(), s.agentBuf.String()
}

// Err returns the message of the last failed edit, cleared on the next Start.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) run(ctx context.Context, gen uint64, slide int, targets Targets, req api.EditRequest) {
	stream, err := s.open(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(gen, err.Error())
		}
		return
	}
	defer stream.Close()

	// Close the stream as soon as cancellation lands so a blocked Next
	// returns.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	if !s.advance(gen, StateStreaming) {
		return
	}

	var final *api.FinalContent

	for {
		frame, err := stream.Next()
		if err == io.EOF {
			s.finish(gen, slide, targets, final)
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.fail(gen, err.Error())
			}
			return
		}

		switch {
		case frame.Error != "":
			s.fail(gen, frame.Error)
			return
		case frame.Final != nil:
			// The final frame commits immediately; the sentinel only closes.
			final = frame.Final
			s.commitFinal(gen, slide, targets, frame.Final)
		case frame.IsToken():
			s.appendToken(gen, frame.Type, frame.Token)
		}
	}
}

// advance moves the state machine if the edit generation is still live.
func (s *Session) advance(gen uint64, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.state = state
	return true
}

func (s *Session) appendToken(gen uint64, target, token string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	switch target {
	case "script":
		s.scriptBuf.WriteString(token)
	case "agent":
		s.agentBuf.WriteString(token)
	}
	s.firstToken = true
	onToken := s.events.OnToken
	s.mu.Unlock()

	if onToken != nil {
		onToken(target, token)
	}
}

// commitFinal applies an explicit final frame. The session lock is held
// across the store writes so a concurrent Cancel cannot land between the
// generation check and the commit. Store change callbacks must not call back
// into the session.
func (s *Session) commitFinal(gen uint64, slide int, targets Targets, final *api.FinalContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	if final.Script != nil && targets.Speech {
		s.store.SetScript(slide, *final.Script)
	}
	if final.Agent != nil && targets.Knowledge {
		s.store.SetAgent(slide, *final.Agent)
	}
}

// finish handles the completion sentinel. If no final frame arrived but
// tokens did, the whole accumulated stream is promoted per enabled target.
func (s *Session) finish(gen uint64, slide int, targets Targets, final *api.FinalContent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	var script, agent *string
	if final != nil {
		if final.Script != nil && targets.Speech {
			script = final.Script
		}
		if final.Agent != nil && targets.Knowledge {
			agent = final.Agent
		}
	} else if s.firstToken {
		if targets.Speech {
			v := s.scriptBuf.String()
			script = &v
		}
		if targets.Knowledge {
			v := s.agentBuf.String()
			agent = &v
		}
	}
	if final == nil {
		if script != nil {
			s.store.SetScript(slide, *script)
		}
		if agent != nil {
			s.store.SetAgent(slide, *agent)
		}
	}
	s.state = StateIdle
	cancel := s.cancel
	s.cancel = nil
	onResult := s.events.OnResult
	onDone := s.events.OnDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if onResult != nil {
		onResult(slide, script, agent)
	}
	if onDone != nil {
		onDone()
	}
}

// fail aborts the edit: accumulators cleared, error surfaced, committed
// content untouched.
func (s *Session) fail(gen uint64, message string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	cancel := s.cancel
	s.cancel = nil
	s.scriptBuf.Reset()
	s.agentBuf.Reset()
	s.firstToken = false
	s.lastErr = message
	onError := s.events.OnError
	onDone := s.events.OnDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Warn("edit stream aborted", "error", message)

	if onError != nil {
		onError(message)
	}
	if onDone != nil {
		onDone()
	}
}
