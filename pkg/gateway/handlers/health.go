package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/brdge-ai/playersync/pkg/gateway/config"
	"github.com/brdge-ai/playersync/pkg/gateway/viewers"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can take new viewer sessions:
// config sanity plus the drain flag.
type ReadyHandler struct {
	Config   config.Config
	Registry *viewers.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		AuthMode       string   `json:"auth_mode"`
		ActiveSessions int      `json:"active_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.BackendBaseURL == "" {
		issues = append(issues, "backend base url is not configured")
	}
	if h.Config.AgentWSURL == "" {
		issues = append(issues, "agent ws url is not configured")
	}
	if h.Config.PersonaPath == "" {
		issues = append(issues, "persona path is not configured")
	}
	if h.Config.ViewerMaxSessions <= 0 {
		issues = append(issues, "viewer max sessions must be > 0")
	}
	if h.Config.SlideCoalesceInterval <= 0 {
		issues = append(issues, "slide coalesce interval must be > 0")
	}

	draining := h.Registry.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		AuthMode:       string(h.Config.AuthMode),
		ActiveSessions: h.Registry.Count(),
		Issues:         issues,
	})
}
