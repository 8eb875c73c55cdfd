// Package server exposes the reminder service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/auth"
	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/database"
	"github.com/nudgehq/nudge/internal/server/handlers"
)

// Deps are the components the HTTP surface serves.
type Deps struct {
	Handlers handlers.Deps
	// Scheduler is nil when no in-process firing engine runs.
	Scheduler handlers.SchedulerProbe
	Version   string
}

type Server struct {
	cfg        *config.Config
	db         *database.DB
	deps       Deps
	jwt        *auth.JWTService
	limiter    *RateLimiter
	httpServer *http.Server
	router     *Router
}

func New(cfg *config.Config, db *database.DB, deps Deps) *Server {
	srv := &Server{
		cfg:  cfg,
		db:   db,
		deps: deps,
		jwt:  auth.NewJWTService(cfg.Auth),
	}

	if cfg.Server.RateLimit.Enabled {
		srv.limiter = NewRateLimiter(cfg.Server.RateLimit)
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Bool("rate_limit", s.limiter != nil).
		Bool("scheduler", s.deps.Scheduler != nil).
		Msg("Starting server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	if s.limiter != nil {
		s.limiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
