package history

import (
	"testing"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/content"
)

func ts(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func TestFromGenerations_FiltersAndOrders(t *testing.T) {
	gens := []Generation{
		{Scripts: map[int]content.Content{1: {Script: "v2"}}, GeneratedAt: ts(20)},
		{Scripts: map[int]content.Content{2: {Script: "other slide"}}, GeneratedAt: ts(5)},
		{Scripts: map[int]content.Content{1: {Script: "v1", Agent: "a1"}}, GeneratedAt: ts(10)},
	}

	versions := FromGenerations(gens, 1)
	if len(versions) != 2 {
		t.Fatalf("len=%d, want 2", len(versions))
	}
	if versions[0].Script != "v1" || versions[1].Script != "v2" {
		t.Fatalf("order=%q,%q, want v1,v2", versions[0].Script, versions[1].Script)
	}
	if versions[0].Agent != "a1" {
		t.Fatalf("agent=%q, want a1", versions[0].Agent)
	}
}

func TestHistory_UndoRedoBounds(t *testing.T) {
	h := New([]Version{
		{Script: "v1", Timestamp: ts(1)},
		{Script: "v2", Timestamp: ts(2)},
		{Script: "v3", Timestamp: ts(3)},
	})

	// Cursor starts at the newest version, so redo is a no-op.
	if _, ok := h.Redo(); ok {
		t.Fatal("redo at newest should be a no-op")
	}

	v, ok := h.Undo()
	if !ok || v.Script != "v2" {
		t.Fatalf("undo=%+v ok=%v, want v2", v, ok)
	}
	v, ok = h.Undo()
	if !ok || v.Script != "v1" {
		t.Fatalf("undo=%+v ok=%v, want v1", v, ok)
	}
	if _, ok := h.Undo(); ok {
		t.Fatal("undo at oldest should be a no-op")
	}

	v, ok = h.Redo()
	if !ok || v.Script != "v2" {
		t.Fatalf("redo=%+v ok=%v, want v2", v, ok)
	}
}

func TestHistory_VersionsNeverMutated(t *testing.T) {
	versions := []Version{
		{Script: "v1", Timestamp: ts(1)},
		{Script: "v2", Timestamp: ts(2)},
	}
	h := New(versions)

	h.Undo()
	h.Redo()
	h.Undo()

	if versions[0].Script != "v1" || versions[1].Script != "v2" {
		t.Fatalf("versions mutated: %+v", versions)
	}
	if h.Len() != 2 {
		t.Fatalf("Len=%d, want 2", h.Len())
	}
}

func TestHistory_Empty(t *testing.T) {
	h := New(nil)
	if h.CanUndo() || h.CanRedo() {
		t.Fatal("empty history should allow neither undo nor redo")
	}
	if _, ok := h.Current(); ok {
		t.Fatal("empty history has no current version")
	}
}

func TestHistory_Current(t *testing.T) {
	h := New([]Version{{Script: "v1"}, {Script: "v2"}})
	v, ok := h.Current()
	if !ok || v.Script != "v2" {
		t.Fatalf("current=%+v ok=%v, want v2", v, ok)
	}
	h.Undo()
	v, _ = h.Current()
	if v.Script != "v1" {
		t.Fatalf("current after undo=%q, want v1", v.Script)
	}
}
