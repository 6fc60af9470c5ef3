// Package viewers tracks the active viewer websocket sessions for graceful
// shutdown and persona hot reload fan-out.
package viewers

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is the control surface one connected viewer exposes to the registry.
type Handle struct {
	BrdgeID string

	// Cancel force-closes the session.
	Cancel func()
	// Warn sends an advisory error frame to the viewer.
	Warn func(code, message string) error
	// RepublishConfig pushes a fresh agent_config snapshot over the data
	// channel. Fired when the persona file changes.
	RepublishConfig func()
}

type Registry struct {
	draining atomic.Bool

	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*trackedSession)}
}

// SetDraining flips the readiness drain flag. New viewer sessions are refused
// while draining.
func (r *Registry) SetDraining(draining bool) {
	if r == nil {
		return
	}
	r.draining.Store(draining)
}

func (r *Registry) IsDraining() bool {
	if r == nil {
		return false
	}
	return r.draining.Load()
}

// Register adds a session under its ID. Re-registering an ID evicts the
// previous entry. The returned func removes the session and is idempotent.
func (r *Registry) Register(sessionID string, h Handle) (unregister func()) {
	if r == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*trackedSession)
	}
	old := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(sessionID, old)
	}

	return func() { r.unregister(sessionID, entry) }
}

func (r *Registry) unregister(sessionID string, entry *trackedSession) {
	if r == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions != nil && r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) WarnAll(code, message string) (sent int) {
	if r == nil {
		return 0
	}

	var warns []func(code, message string) error
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// RepublishConfigAll fans a persona change out to every live session.
func (r *Registry) RepublishConfigAll() (sent int) {
	if r == nil {
		return 0
	}

	var fns []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry == nil || entry.handle.RepublishConfig == nil {
			continue
		}
		fns = append(fns, entry.handle.RepublishConfig)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
		sent++
	}
	return sent
}

func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session unregisters or ctx expires.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
