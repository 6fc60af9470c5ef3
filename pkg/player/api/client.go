// Package api is the HTTP client for the authoring backend: transcript and
// script fetches, generation history, saves, and the streamed AI edit
// endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brdge-ai/playersync/pkg/player/content"
	"github.com/brdge-ai/playersync/pkg/player/history"
	"github.com/brdge-ai/playersync/pkg/player/transcript"
)

// Client talks to the authoring backend. Zero-value is not usable; construct
// with NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, body)
}

// FetchTranscript loads the presentation's reference transcript. Segments
// come back ordered by start time.
func (c *Client) FetchTranscript(ctx context.Context, brdgeID string) ([]transcript.Segment, error) {
	var out struct {
		Segments []transcript.Segment `json:"segments"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/brdges/%s/transcript", brdgeID), &out); err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	segs := out.Segments
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}

// FetchScripts loads the per-slide editable content map.
func (c *Client) FetchScripts(ctx context.Context, brdgeID string) (map[int]content.Content, error) {
	var out struct {
		Scripts map[string]content.Content `json:"scripts"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/brdges/%s/scripts", brdgeID), &out); err != nil {
		return nil, fmt.Errorf("fetch scripts: %w", err)
	}
	return slideKeyed(out.Scripts), nil
}

// SaveScripts persists the full script map and returns the backend's updated
// copy.
func (c *Client) SaveScripts(ctx context.Context, brdgeID string, scripts map[int]content.Content) (map[int]content.Content, error) {
	payload := struct {
		Scripts map[string]content.Content `json:"scripts"`
	}{Scripts: stringKeyed(scripts)}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("save scripts: encode: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/brdges/%s/scripts", brdgeID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("save scripts: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Scripts map[string]content.Content `json:"scripts"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("save scripts: %w", err)
	}
	return slideKeyed(out.Scripts), nil
}

// FetchHistory loads all historical generations for the presentation.
func (c *Client) FetchHistory(ctx context.Context, brdgeID string) ([]history.Generation, error) {
	var out []struct {
		Scripts  map[string]content.Content `json:"scripts"`
		Metadata struct {
			GeneratedAt time.Time `json:"generated_at"`
		} `json:"metadata"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/brdges/%s/script-history", brdgeID), &out); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	gens := make([]history.Generation, 0, len(out))
	for _, entry := range out {
		gens = append(gens, history.Generation{
			Scripts:     slideKeyed(entry.Scripts),
			GeneratedAt: entry.Metadata.GeneratedAt,
		})
	}
	return gens, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// The backend keys script maps by slide number rendered as a string.

func slideKeyed(in map[string]content.Content) map[int]content.Content {
	out := make(map[int]content.Content, len(in))
	for key, c := range in {
		slide, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		out[slide] = c
	}
	return out
}

func stringKeyed(in map[int]content.Content) map[string]content.Content {
	out := make(map[string]content.Content, len(in))
	for slide, c := range in {
		out[strconv.Itoa(slide)] = c
	}
	return out
}
