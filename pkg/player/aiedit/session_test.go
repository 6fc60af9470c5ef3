package aiedit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/api"
	"github.com/brdge-ai/playersync/pkg/player/content"
)

type streamItem struct {
	frame api.EditFrame
	err   error
}

type fakeStream struct {
	items chan streamItem

	mu     sync.Mutex
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		items:  make(chan streamItem, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Next() (api.EditFrame, error) {
	select {
	case it := <-f.items:
		return it.frame, it.err
	case <-f.closed:
		return api.EditFrame{}, errors.New("stream closed")
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeStream) send(frame api.EditFrame) {
	f.items <- streamItem{frame: frame}
}

func (f *fakeStream) finish() {
	f.items <- streamItem{err: io.EOF}
}

type editFixture struct {
	store   *content.Store
	session *Session
	stream  *fakeStream
	tokens  chan string
	results chan [2]*string
	errs    chan string
	done    chan struct{}
}

func newEditFixture(t *testing.T) *editFixture {
	t.Helper()
	f := &editFixture{
		store:   content.NewStore(),
		stream:  newFakeStream(),
		tokens:  make(chan string, 32),
		results: make(chan [2]*string, 4),
		errs:    make(chan string, 4),
		done:    make(chan struct{}, 4),
	}
	f.store.LoadServer(map[int]content.Content{
		1: {Script: "orig script", Agent: "orig agent"},
	})
	open := func(ctx context.Context, req api.EditRequest) (Stream, error) {
		return f.stream, nil
	}
	f.session = NewSession(f.store, open, Events{
		OnToken:  func(target, token string) { f.tokens <- target + ":" + token },
		OnResult: func(slide int, script, agent *string) { f.results <- [2]*string{script, agent} },
		OnError:  func(message string) { f.errs <- message },
		OnDone:   func() { f.done <- struct{}{} },
	}, nil)
	return f
}

func (f *editFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for edit to finish")
	}
}

func (f *editFixture) waitToken(t *testing.T) string {
	t.Helper()
	select {
	case tok := <-f.tokens:
		return tok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token")
		return ""
	}
}

func TestSession_StartValidation(t *testing.T) {
	f := newEditFixture(t)

	if err := f.session.Start(1, "   ", Targets{Speech: true}); !errors.Is(err, ErrEmptyInstruction) {
		t.Fatalf("err=%v, want ErrEmptyInstruction", err)
	}
	if err := f.session.Start(0, "rewrite", Targets{Speech: true}); !errors.Is(err, ErrNoActiveSegment) {
		t.Fatalf("err=%v, want ErrNoActiveSegment", err)
	}
}

func TestSession_RejectsConcurrentStart(t *testing.T) {
	f := newEditFixture(t)

	if err := f.session.Start(1, "rewrite", Targets{Speech: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.session.Start(1, "again", Targets{Speech: true}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start err=%v, want ErrBusy", err)
	}

	f.stream.finish()
	f.waitDone(t)

	// Terminal state frees the session for the next edit.
	if err := f.session.Start(1, "again", Targets{Speech: true}); err != nil {
		t.Fatalf("Start after finish: %v", err)
	}
	f.stream.finish()
	f.waitDone(t)
}

func TestSession_TokensAccumulate(t *testing.T) {
	f := newEditFixture(t)
	if err := f.session.Start(1, "rewrite", Targets{Speech: true, Knowledge: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.stream.send(api.EditFrame{Type: "script", Token: "Hel"})
	f.stream.send(api.EditFrame{Type: "script", Token: "lo"})
	f.stream.send(api.EditFrame{Type: "agent", Token: "calm"})
	for i := 0; i < 3; i++ {
		f.waitToken(t)
	}

	script, agent := f.session.StreamSnapshot()
	if script != "Hello" || agent != "calm" {
		t.Fatalf("snapshot=%q/%q", script, agent)
	}

	f.stream.finish()
	f.waitDone(t)
}

func TestSession_FinalFrameRespectsTargets(t *testing.T) {
	f := newEditFixture(t)
	// Scenario: speech enabled, knowledge disabled; server sends both.
	if err := f.session.Start(1, "rewrite", Targets{Speech: true, Knowledge: false}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.stream.send(api.EditFrame{Type: "script", Token: "New"})
	f.stream.send(api.EditFrame{Type: "agent", Token: "ignored"})
	f.waitToken(t)
	f.waitToken(t)

	newScript := "New script"
	newAgent := "New agent"
	f.stream.send(api.EditFrame{Final: &api.FinalContent{Script: &newScript, Agent: &newAgent}})
	f.stream.finish()
	f.waitDone(t)

	got := f.store.Get(1)
	if got.Script != "New script" {
		t.Fatalf("script=%q, want committed final", got.Script)
	}
	if got.Agent != "orig agent" {
		t.Fatalf("agent=%q, want untouched", got.Agent)
	}
	ds, da := f.store.Dirty(1)
	if !ds || da {
		t.Fatalf("dirty=%v/%v, want script only", ds, da)
	}
}

func TestSession_FallbackCommitWithoutFinal(t *testing.T) {
	f := newEditFixture(t)
	if err := f.session.Start(1, "rewrite", Targets{Speech: true, Knowledge: false}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.stream.send(api.EditFrame{Type: "script", Token: "stream"})
	f.stream.send(api.EditFrame{Type: "script", Token: "ed"})
	f.stream.send(api.EditFrame{Type: "agent", Token: "buffered only"})
	for i := 0; i < 3; i++ {
		f.waitToken(t)
	}
	f.stream.finish()
	f.waitDone(t)

	got := f.store.Get(1)
	if got.Script != "streamed" {
		t.Fatalf("script=%q, want promoted stream", got.Script)
	}
	if got.Agent != "orig agent" {
		t.Fatalf("agent=%q, want untouched for disabled target", got.Agent)
	}
}

func TestSession_NoTokensNoFallbackCommit(t *testing.T) {
	f := newEditFixture(t)
	if err := f.session.Start(1, "rewrite", Targets{Speech: true, Knowledge: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.stream.finish()
	f.waitDone(t)

	got := f.store.Get(1)
	if got.Script != "orig script" || got.Agent != "orig agent" {
		t.Fatalf("content=%+v, want untouched", got)
	}
}

func TestSession_ErrorFrameAborts(t *testing.T) {
	f := newEditFixture(t)
	if err := f.session.Start(1, "rewrite", Targets{Speech: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.stream.send(api.EditFrame{Type: "script", Token: "partial"})
	f.waitToken(t)
	f.stream.send(api.EditFrame{Error: "model unavailable"})

	select {
	case msg := <-f.errs:
		if msg != "model unavailable" {
			t.Fatalf("error=%q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	f.waitDone(t)

	if f.session.Processing() {
		t.Fatal("session should be idle after error")
	}
	if f.session.Err() != "model unavailable" {
		t.Fatalf("Err=%q", f.session.Err())
	}
	script, agent := f.session.StreamSnapshot()
	if script != "" || agent != "" {
		t.Fatalf("accumulators not cleared: %q/%q", script, agent)
	}
	if got := f.store.Get(1); got.Script != "orig script" {
		t.Fatalf("content mutated on error: %+v", got)
	}
}

func TestSession_CancelStopsWrites(t *testing.T) {
	f := newEditFixture(t)
	if err := f.session.Start(1, "rewrite", Targets{Speech: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.stream.send(api.EditFrame{Type: "script", Token: "before"})
	f.waitToken(t)

	f.session.Cancel()
	f.waitDone(t)

	if f.session.Processing() {
		t.Fatal("session should be idle after cancel")
	}
	script, _ := f.session.StreamSnapshot()
	if script != "" {
		t.Fatalf("accumulator survived cancel: %q", script)
	}
	if got := f.store.Get(1); got.Script != "orig script" {
		t.Fatalf("content mutated by cancelled edit: %+v", got)
	}

	// The fenced generation makes late frames no-ops even if the transport
	// straggles.
	select {
	case f.stream.items <- streamItem{frame: api.EditFrame{Type: "script", Token: "late"}}:
	default:
	}
	time.Sleep(50 * time.Millisecond)
	script, _ = f.session.StreamSnapshot()
	if script != "" {
		t.Fatalf("late token applied after cancel: %q", script)
	}
}

func TestSession_OpenFailureSurfacesError(t *testing.T) {
	store := content.NewStore()
	done := make(chan struct{}, 1)
	errs := make(chan string, 1)
	open := func(ctx context.Context, req api.EditRequest) (Stream, error) {
		return nil, errors.New("connect refused")
	}
	s := NewSession(store, open, Events{
		OnError: func(message string) { errs <- message },
		OnDone:  func() { done <- struct{}{} },
	}, nil)

	if err := s.Start(1, "rewrite", Targets{Speech: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if got := <-errs; got != "connect refused" {
		t.Fatalf("error=%q", got)
	}
	if s.Processing() {
		t.Fatal("session should be idle")
	}
}
