package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/brdge-ai/playersync/pkg/agentconfig"
	"github.com/brdge-ai/playersync/pkg/gateway/config"
	"github.com/brdge-ai/playersync/pkg/gateway/handlers"
	"github.com/brdge-ai/playersync/pkg/gateway/metrics"
	"github.com/brdge-ai/playersync/pkg/gateway/mw"
	"github.com/brdge-ai/playersync/pkg/gateway/viewers"
	"github.com/brdge-ai/playersync/pkg/player/aiedit"
	"github.com/brdge-ai/playersync/pkg/player/api"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	backend *api.Client
	persona *agentconfig.Source
	reg     *viewers.Registry
	metrics *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	persona, err := agentconfig.NewSource(cfg.PersonaPath, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		backend: api.NewClient(cfg.BackendBaseURL, cfg.BackendAPIKey, &http.Client{Timeout: cfg.BackendTimeout}),
		persona: persona,
		reg:     viewers.NewRegistry(),
		metrics: metrics.New(cfg.MetricsNamespace),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Registry: s.reg})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/viewer", handlers.ViewerHandler{
		Config:   s.cfg,
		Backend:  s.backend,
		OpenEdit: s.openEdit,
		Persona:  s.persona,
		Logger:   s.logger,
		Registry: s.reg,
		Metrics:  s.metrics,
	})
}

func (s *Server) openEdit(brdgeID string) aiedit.OpenFunc {
	return func(ctx context.Context, req api.EditRequest) (aiedit.Stream, error) {
		stream, err := s.backend.OpenEditStream(ctx, brdgeID, req)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// WatchPersona re-loads the persona file on change and re-publishes the
// agent config to every live session. Blocks until ctx is done.
func (s *Server) WatchPersona(ctx context.Context) error {
	return s.persona.Watch(ctx, func() {
		n := s.reg.RepublishConfigAll()
		s.logger.Info("persona change fanned out", "sessions", n)
	})
}

// SetDraining refuses new viewer sessions and flips /readyz.
func (s *Server) SetDraining() {
	s.reg.SetDraining(true)
}

// WarnViewers tells connected viewers the gateway is going away.
func (s *Server) WarnViewers() {
	s.reg.WarnAll("draining", "gateway is shutting down")
}

// WaitViewers blocks until every viewer session ends or ctx expires.
func (s *Server) WaitViewers(ctx context.Context) bool {
	return s.reg.Wait(ctx)
}

// CancelViewers force-closes the remaining viewer sessions.
func (s *Server) CancelViewers() {
	s.reg.CancelAll()
}
