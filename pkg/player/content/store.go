// Package content holds the per-segment editable buffers that AI edits,
// undo/redo, and saves all read and write. The authoring backend is the
// source of truth; the store tracks local divergence from it per field.
package content

import "sync"

// Content is one segment's pair of editable channels: the spoken script and
// the agent behavior instructions.
type Content struct {
	Script string `json:"script"`
	Agent  string `json:"agent"`
}

// Store keys editable content by slide number. All methods are safe for
// concurrent use; the edit stream, the save path, and the publisher touch it
// from different goroutines.
type Store struct {
	mu      sync.Mutex
	entries map[int]*entry

	onChange func(slide int)
}

type entry struct {
	current Content
	server  Content

	dirtyScript bool
	dirtyAgent  bool
}

func NewStore() *Store {
	return &Store{entries: make(map[int]*entry)}
}

// OnChange registers a single callback invoked (outside the store lock) after
// any buffer mutation. Used to push content snapshots to the viewer.
func (s *Store) OnChange(fn func(slide int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// LoadServer replaces the store with the backend's script map. Buffers and
// server values are aligned and dirty flags cleared.
func (s *Store) LoadServer(scripts map[int]Content) {
	s.mu.Lock()
	s.entries = make(map[int]*entry, len(scripts))
	for slide, c := range scripts {
		s.entries[slide] = &entry{current: c, server: c}
	}
	s.mu.Unlock()
}

// Get returns the current buffers for a slide. Missing slides read as empty.
func (s *Store) Get(slide int) Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[slide]; ok {
		return e.current
	}
	return Content{}
}

// Slides returns the slide numbers with content, unordered.
func (s *Store) Slides() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.entries))
	for slide := range s.entries {
		out = append(out, slide)
	}
	return out
}

// SetScript overwrites the script buffer and marks it dirty.
func (s *Store) SetScript(slide int, text string) {
	s.mutate(slide, func(e *entry) {
		e.current.Script = text
		e.dirtyScript = true
	})
}

// SetAgent overwrites the agent buffer and marks it dirty.
func (s *Store) SetAgent(slide int, text string) {
	s.mutate(slide, func(e *entry) {
		e.current.Agent = text
		e.dirtyAgent = true
	})
}

// SetBoth overwrites both buffers and marks both dirty. Undo/redo restores go
// through here: a save is still required to persist the restored state.
func (s *Store) SetBoth(slide int, c Content) {
	s.mutate(slide, func(e *entry) {
		e.current = c
		e.dirtyScript = true
		e.dirtyAgent = true
	})
}

// Dirty reports which fields have diverged from the last known server value.
func (s *Store) Dirty(slide int) (script, agent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[slide]; ok {
		return e.dirtyScript, e.dirtyAgent
	}
	return false, false
}

// MarkSaved records a successful save: the current buffers become the server
// values and dirty flags clear.
func (s *Store) MarkSaved(slide int) {
	s.mutate(slide, func(e *entry) {
		e.server = e.current
		e.dirtyScript = false
		e.dirtyAgent = false
	})
}

// RevertDirty restores dirty fields to the last known server value after a
// failed save. Clean fields are untouched.
func (s *Store) RevertDirty(slide int) {
	s.mutate(slide, func(e *entry) {
		if e.dirtyScript {
			e.current.Script = e.server.Script
			e.dirtyScript = false
		}
		if e.dirtyAgent {
			e.current.Agent = e.server.Agent
			e.dirtyAgent = false
		}
	})
}

// Snapshot copies the full slide→content map, the shape the save endpoint
// takes.
func (s *Store) Snapshot() map[int]Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Content, len(s.entries))
	for slide, e := range s.entries {
		out[slide] = e.current
	}
	return out
}

func (s *Store) mutate(slide int, fn func(*entry)) {
	s.mu.Lock()
	e, ok := s.entries[slide]
	if !ok {
		e = &entry{}
		s.entries[slide] = e
	}
	fn(e)
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(slide)
	}
}
