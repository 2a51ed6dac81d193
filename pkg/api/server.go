package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/manager"
	"github.com/netpulse/netpulse/pkg/metrics"
)

// Server is the controller's REST front end. Every route except /metrics
// sits behind the API key check.
type Server struct {
	cfg    *config.Config
	mgr    *manager.Manager
	logger zerolog.Logger

	router     *chi.Mux
	httpServer *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, mgr *manager.Manager) *Server {
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		logger: log.WithComponent("api"),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Scrape endpoint stays outside the key check.
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Route("/device", func(r chi.Router) {
			r.Post("/execute", s.handleExecute)
			r.Post("/bulk", s.handleBulk)
			r.Post("/test-connection", s.handleTestConnection)
		})

		r.Get("/job", s.handleListJobs)
		r.Delete("/job", s.handleCancelJobs)

		r.Get("/worker", s.handleListWorkers)
		r.Delete("/worker", s.handleKillWorkers)

		r.Get("/health", s.handleHealth)

		r.Route("/template", func(r chi.Router) {
			r.Post("/render", s.handleRender)
			r.Post("/render/{name}", s.handleRender)
			r.Post("/parse", s.handleParse)
			r.Post("/parse/{name}", s.handleParse)
		})
	})

	s.router = r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn().Msg("server.api_key is empty, requests are unauthenticated")
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
