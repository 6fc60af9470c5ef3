// Package agentconfig loads the agent's persona and knowledge base from a
// YAML file and republishes on change. The file is authored out of band; the
// gateway only reads it.
package agentconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/brdge-ai/playersync/pkg/player/protocol"
)

// Persona is the YAML document shape.
type Persona struct {
	Personality   string  `yaml:"personality"`
	KnowledgeBase []Entry `yaml:"knowledge_base"`
}

type Entry struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Load reads and parses a persona file.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %q: %w", path, err)
	}
	return p, nil
}

// Source holds the live persona and keeps it fresh while watching the file.
type Source struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	persona Persona
}

func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	persona, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Source{path: path, logger: logger, persona: persona}, nil
}

// Persona returns the current document.
func (s *Source) Persona() Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// Snapshot builds the agent_config envelope payload for one presentation.
func (s *Source) Snapshot(userID, brdgeID string) protocol.AgentConfig {
	p := s.Persona()
	kb := make([]protocol.KnowledgeEntry, 0, len(p.KnowledgeBase))
	for _, e := range p.KnowledgeBase {
		kb = append(kb, protocol.KnowledgeEntry{
			ID:      e.ID,
			Type:    e.Type,
			Name:    e.Name,
			Content: e.Content,
		})
	}
	return protocol.AgentConfig{
		Personality:   p.Personality,
		KnowledgeBase: kb,
		UserID:        userID,
		BrdgeID:       brdgeID,
	}
}

// Saves arrive as a burst of events (truncate, writes, chmod); loading on
// the first one reads a torn document. Reloads wait for the burst to settle.
const reloadSettle = 50 * time.Millisecond

// Watch reloads the persona whenever the file changes and then invokes
// onChange. Blocks until ctx is done. Editors that replace the file (rename
// then create) are handled by watching the parent directory.
func (s *Source) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch persona dir %q: %w", dir, err)
	}
	s.logger.Info("watching persona file", "path", s.path)

	settle := time.NewTimer(reloadSettle)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(reloadSettle)

		case <-settle.C:
			s.reload(onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("persona watcher error", "error", err)
		}
	}
}

// reload swaps in the new document, keeping the last good one when the file
// fails to parse or reads back empty (a replace shows up as a zero-length
// file before the new bytes land).
func (s *Source) reload(onChange func()) {
	persona, err := Load(s.path)
	if err != nil {
		s.logger.Warn("persona reload failed", "error", err)
		return
	}
	if persona.Personality == "" && len(persona.KnowledgeBase) == 0 {
		s.logger.Warn("persona reload read an empty document", "path", s.path)
		return
	}
	s.mu.Lock()
	s.persona = persona
	s.mu.Unlock()
	s.logger.Info("persona reloaded", "path", s.path)
	if onChange != nil {
		onChange()
	}
}
