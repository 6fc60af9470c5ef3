// Package transcript models the reference transcript of a presentation and
// partitions it against a playback position.
package transcript

import "strings"

// Segment is a transcript time-range with associated text. Segments are
// ordered by Start, non-overlapping, and immutable once loaded.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Position is the derived read/remaining split for a playback time. It is
// recomputed on every tick and never persisted.
type Position struct {
	Read      []string `json:"read"`
	Remaining []string `json:"remaining"`
}

// IsEmpty reports whether the position carries no segment text at all.
func (p Position) IsEmpty() bool {
	return len(p.Read) == 0 && len(p.Remaining) == 0
}

// Partition splits segments at playback time t. A segment is read when it has
// fully elapsed (End <= t) and remaining when it has not begun (Start > t).
// The segment straddling t belongs to neither list; callers that want the
// full transcript before playback starts should use Bootstrap instead.
//
// Pure: no mutation of segs, no allocation beyond the result slices, safe to
// call on every playback tick.
func Partition(segs []Segment, t float64) Position {
	read := make([]string, 0, len(segs))
	remaining := make([]string, 0, len(segs))
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		switch {
		case seg.End <= t:
			read = append(read, text)
		case seg.Start > t:
			remaining = append(remaining, text)
		}
	}
	return Position{Read: read, Remaining: remaining}
}

// Bootstrap returns the position published on the first connected tick:
// nothing read, the whole transcript remaining, regardless of the actual
// playback time. The agent gets complete material before progress begins.
func Bootstrap(segs []Segment) Position {
	remaining := make([]string, 0, len(segs))
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		remaining = append(remaining, text)
	}
	return Position{Read: []string{}, Remaining: remaining}
}
