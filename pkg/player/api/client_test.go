package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/brdge-ai/playersync/pkg/player/content"
)

func TestClient_FetchTranscriptSorted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/brdges/b1/transcript" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"segments":[
			{"text":"World","start":2,"end":4},
			{"text":"Hello","start":0,"end":2}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	segs, err := c.FetchTranscript(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	if len(segs) != 2 || segs[0].Text != "Hello" || segs[1].Text != "World" {
		t.Fatalf("segments=%+v", segs)
	}
}

func TestClient_FetchScriptsSlideKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scripts":{"1":{"script":"s1","agent":"a1"},"2":{"script":"s2","agent":""},"bogus":{"script":"x","agent":""}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	scripts, err := c.FetchScripts(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchScripts: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("scripts=%+v, want 2 entries", scripts)
	}
	if scripts[1].Script != "s1" || scripts[1].Agent != "a1" {
		t.Fatalf("scripts[1]=%+v", scripts[1])
	}
}

func TestClient_SaveThenFetchRoundTrip(t *testing.T) {
	var mu sync.Mutex
	stored := map[string]content.Content{"1": {Script: "old"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Scripts map[string]content.Content `json:"scripts"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode save body: %v", err)
			}
			stored = body.Scripts
		case http.MethodGet:
		default:
			t.Fatalf("method=%q", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"scripts": stored})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	saved, err := c.SaveScripts(context.Background(), "b1", map[int]content.Content{1: {Script: "X"}})
	if err != nil {
		t.Fatalf("SaveScripts: %v", err)
	}
	if saved[1].Script != "X" {
		t.Fatalf("saved=%+v", saved)
	}

	fetched, err := c.FetchScripts(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchScripts: %v", err)
	}
	if fetched[1].Script != "X" {
		t.Fatalf("fetched after save=%+v, want script X", fetched[1])
	}
}

func TestClient_FetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/brdges/b1/script-history" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"scripts":{"1":{"script":"v1","agent":"a1"}},"metadata":{"generated_at":"2025-06-01T12:00:00Z"}},
			{"scripts":{"2":{"script":"other","agent":""}},"metadata":{"generated_at":"2025-06-01T12:05:00Z"}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	gens, err := c.FetchHistory(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(gens) != 2 {
		t.Fatalf("gens=%d, want 2", len(gens))
	}
	if gens[0].Scripts[1].Script != "v1" {
		t.Fatalf("gens[0]=%+v", gens[0])
	}
	if gens[0].GeneratedAt.IsZero() {
		t.Fatal("generated_at not parsed")
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("Authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"segments":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", srv.Client())
	if _, err := c.FetchTranscript(context.Background(), "b1"); err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
}

func TestClient_NonOKStatusIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	_, err := c.FetchScripts(context.Background(), "b1")
	if err == nil {
		t.Fatal("want error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%T %v, want *APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", apiErr.StatusCode)
	}
}
