// Package history tracks the committed generations of a segment's content
// and a cursor for undo/redo navigation.
package history

import (
	"sort"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/content"
)

// Version is one committed snapshot of a segment's content. Immutable once
// created.
type Version struct {
	Script    string
	Agent     string
	Timestamp time.Time
}

// Generation is one entry of the backend's history listing: a script map over
// all segments plus generation metadata.
type Generation struct {
	Scripts     map[int]content.Content
	GeneratedAt time.Time
}

// FromGenerations extracts the versions of one slide, oldest first.
// Generations without content for the slide are skipped.
func FromGenerations(gens []Generation, slide int) []Version {
	versions := make([]Version, 0, len(gens))
	for _, gen := range gens {
		c, ok := gen.Scripts[slide]
		if !ok {
			continue
		}
		versions = append(versions, Version{
			Script:    c.Script,
			Agent:     c.Agent,
			Timestamp: gen.GeneratedAt,
		})
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Timestamp.Before(versions[j].Timestamp)
	})
	return versions
}

// History is the per-segment version list plus a cursor. The list is never
// mutated after construction; undo/redo only move the cursor. The cursor
// starts at the newest version, which represents the current state.
type History struct {
	versions []Version
	cursor   int
}

// New builds a history over versions ordered oldest to newest.
func New(versions []Version) *History {
	return &History{versions: versions, cursor: len(versions) - 1}
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.versions)
}

func (h *History) CanUndo() bool {
	return h != nil && h.cursor > 0
}

func (h *History) CanRedo() bool {
	return h != nil && h.cursor < len(h.versions)-1
}

// Undo steps the cursor back and returns the version to restore. A no-op at
// the oldest version.
func (h *History) Undo() (Version, bool) {
	if !h.CanUndo() {
		return Version{}, false
	}
	h.cursor--
	return h.versions[h.cursor], true
}

// Redo steps the cursor forward. A no-op at the newest version.
func (h *History) Redo() (Version, bool) {
	if !h.CanRedo() {
		return Version{}, false
	}
	h.cursor++
	return h.versions[h.cursor], true
}

// Current returns the version under the cursor.
func (h *History) Current() (Version, bool) {
	if h == nil || h.cursor < 0 || h.cursor >= len(h.versions) {
		return Version{}, false
	}
	return h.versions[h.cursor], true
}
