package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Authoring backend.
	BackendBaseURL string
	BackendAPIKey  string
	BackendTimeout time.Duration

	// Agent data channel (outbound websocket).
	AgentWSURL            string
	AgentHandshakeTimeout time.Duration
	AgentWriteTimeout     time.Duration
	AgentPingInterval     time.Duration

	// Viewer websocket endpoint (/v1/viewer).
	ViewerMaxMessageBytes  int64
	ViewerHandshakeTimeout time.Duration
	ViewerWriteTimeout     time.Duration
	ViewerPingInterval     time.Duration
	ViewerMaxSessions      int

	// Agent persona document.
	PersonaPath string
	UserID      string
	AgentType   string

	// Slide updates within this window collapse to the latest one.
	SlideCoalesceInterval time.Duration

	MetricsNamespace string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("PLAYERSYNC_ADDR", ":8090"),
		AuthMode:               AuthMode(envOr("PLAYERSYNC_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                make(map[string]struct{}),
		CORSAllowedOrigins:     make(map[string]struct{}),
		BackendBaseURL:         envOr("PLAYERSYNC_BACKEND_BASE_URL", ""),
		BackendAPIKey:          envOr("PLAYERSYNC_BACKEND_API_KEY", ""),
		BackendTimeout:         envDurationOr("PLAYERSYNC_BACKEND_TIMEOUT", 30*time.Second),
		AgentWSURL:             envOr("PLAYERSYNC_AGENT_WS_URL", ""),
		AgentHandshakeTimeout:  envDurationOr("PLAYERSYNC_AGENT_HANDSHAKE_TIMEOUT", 5*time.Second),
		AgentWriteTimeout:      envDurationOr("PLAYERSYNC_AGENT_WRITE_TIMEOUT", 5*time.Second),
		AgentPingInterval:      envDurationOr("PLAYERSYNC_AGENT_PING_INTERVAL", 20*time.Second),
		ViewerMaxMessageBytes:  envInt64Or("PLAYERSYNC_VIEWER_MAX_MESSAGE_BYTES", 64*1024),
		ViewerHandshakeTimeout: envDurationOr("PLAYERSYNC_VIEWER_HANDSHAKE_TIMEOUT", 5*time.Second),
		ViewerWriteTimeout:     envDurationOr("PLAYERSYNC_VIEWER_WRITE_TIMEOUT", 5*time.Second),
		ViewerPingInterval:     envDurationOr("PLAYERSYNC_VIEWER_PING_INTERVAL", 20*time.Second),
		ViewerMaxSessions:      envIntOr("PLAYERSYNC_VIEWER_MAX_SESSIONS", 64),
		PersonaPath:            envOr("PLAYERSYNC_PERSONA_PATH", ""),
		UserID:                 envOr("PLAYERSYNC_USER_ID", ""),
		AgentType:              envOr("PLAYERSYNC_AGENT_TYPE", "edit"),
		SlideCoalesceInterval:  envDurationOr("PLAYERSYNC_SLIDE_COALESCE_INTERVAL", 300*time.Millisecond),
		MetricsNamespace:       envOr("PLAYERSYNC_METRICS_NAMESPACE", "playersync"),
		ReadHeaderTimeout:      envDurationOr("PLAYERSYNC_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("PLAYERSYNC_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:    envDurationOr("PLAYERSYNC_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("PLAYERSYNC_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("PLAYERSYNC_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("PLAYERSYNC_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.BackendBaseURL) == "" {
		return Config{}, fmt.Errorf("PLAYERSYNC_BACKEND_BASE_URL must be set")
	}
	if strings.TrimSpace(cfg.AgentWSURL) == "" {
		return Config{}, fmt.Errorf("PLAYERSYNC_AGENT_WS_URL must be set")
	}
	if strings.TrimSpace(cfg.PersonaPath) == "" {
		return Config{}, fmt.Errorf("PLAYERSYNC_PERSONA_PATH must be set")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_BACKEND_TIMEOUT must be > 0")
	}
	if cfg.AgentHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_AGENT_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.AgentWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_AGENT_WRITE_TIMEOUT must be > 0")
	}
	if cfg.AgentPingInterval <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_AGENT_PING_INTERVAL must be > 0")
	}
	if cfg.ViewerMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_VIEWER_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ViewerHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_VIEWER_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ViewerWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_VIEWER_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ViewerPingInterval <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_VIEWER_PING_INTERVAL must be > 0")
	}
	if cfg.ViewerMaxSessions <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_VIEWER_MAX_SESSIONS must be > 0")
	}
	if cfg.SlideCoalesceInterval <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_SLIDE_COALESCE_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("PLAYERSYNC_API_KEYS must be set when PLAYERSYNC_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
