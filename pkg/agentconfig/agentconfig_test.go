package agentconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const personaYAML = `personality: |
  Warm, concise, answers from the presentation only.
knowledge_base:
  - id: k1
    type: document
    name: pricing
    content: Plans start at $10/month.
  - id: k2
    type: note
    name: launch
    content: GA is in October.
`

func writePersona(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "persona.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writePersona(t, t.TempDir(), personaYAML)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Personality == "" {
		t.Fatal("personality is empty")
	}
	if len(p.KnowledgeBase) != 2 {
		t.Fatalf("knowledge entries=%d, want 2", len(p.KnowledgeBase))
	}
	if p.KnowledgeBase[0].ID != "k1" || p.KnowledgeBase[0].Type != "document" {
		t.Fatalf("entry=%+v", p.KnowledgeBase[0])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writePersona(t, t.TempDir(), "personality: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("want parse error")
	}
}

func TestSource_Snapshot(t *testing.T) {
	path := writePersona(t, t.TempDir(), personaYAML)
	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	cfg := src.Snapshot("u1", "b1")
	if cfg.UserID != "u1" || cfg.BrdgeID != "b1" {
		t.Fatalf("ids=%q/%q", cfg.UserID, cfg.BrdgeID)
	}
	if len(cfg.KnowledgeBase) != 2 || cfg.KnowledgeBase[1].Name != "launch" {
		t.Fatalf("knowledge=%+v", cfg.KnowledgeBase)
	}
}

func TestSource_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writePersona(t, dir, personaYAML)
	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	go src.Watch(ctx, func() { changed <- struct{}{} })

	// Let the watcher install before mutating the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("personality: terse\n"), 0o644); err != nil {
		t.Fatalf("rewrite persona: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never observed")
	}
	if got := src.Persona().Personality; got != "terse" {
		t.Fatalf("personality=%q, want %q", got, "terse")
	}
}

func TestSource_WatchKeepsLastGoodOnTruncation(t *testing.T) {
	dir := t.TempDir()
	path := writePersona(t, dir, personaYAML)
	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	go src.Watch(ctx, func() { changed <- struct{}{} })

	time.Sleep(100 * time.Millisecond)

	// A file replace is seen first as a zero-length file. That state must not
	// displace the served document.
	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("truncate persona: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := len(src.Persona().KnowledgeBase); got != 2 {
		t.Fatalf("knowledge entries=%d, want last good document", got)
	}

	// Once the new bytes land the reload goes through.
	if err := os.WriteFile(path, []byte("personality: terse\n"), 0o644); err != nil {
		t.Fatalf("rewrite persona: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never observed")
	}
	if got := src.Persona().Personality; got != "terse" {
		t.Fatalf("personality=%q, want %q", got, "terse")
	}
}

func TestSource_WatchKeepsLastGoodOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writePersona(t, dir, personaYAML)
	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Watch(ctx, nil)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("knowledge_base: [broken"), 0o644); err != nil {
		t.Fatalf("rewrite persona: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := len(src.Persona().KnowledgeBase); got != 2 {
		t.Fatalf("knowledge entries=%d, want last good document", got)
	}
}
