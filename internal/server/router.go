package server

import (
	"net/http"

	"github.com/nudgehq/nudge/internal/auth"
	"github.com/nudgehq/nudge/internal/metrics"
	"github.com/nudgehq/nudge/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	api         []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)

	if size := r.server.cfg.Server.MaxBodySize; size > 0 {
		r.Use(MaxBodySizeMiddleware(size))
	}

	// API routes resolve the principal first so the limiter can key on it.
	r.api = append(r.api, auth.Middleware(auth.MiddlewareConfig{
		Service:        r.server.jwt,
		AllowAnonymous: r.server.cfg.Auth.AllowAnonymous,
		DefaultTenant:  r.server.cfg.Auth.DefaultTenant,
	}))
	r.api = append(r.api, PrincipalMiddleware)
	if r.server.limiter != nil {
		r.api = append(r.api, r.server.limiter.Middleware)
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	h := handlers.New(r.server.deps.Handlers)
	health := handlers.NewHealthHandlers(r.server.db, r.server.deps.Scheduler, r.server.deps.Version)

	r.mux.HandleFunc("GET /health", r.wrap(health.Health))
	r.mux.HandleFunc("GET /health/live", r.wrap(health.Liveness))
	r.mux.HandleFunc("GET /health/ready", r.wrap(health.Readiness))
	r.mux.HandleFunc("GET /metrics", r.metrics)

	r.mux.Handle("POST /api/reminders/actions", r.protect(h.Actions))
	r.mux.Handle("GET /api/reminders/stats", r.protect(h.Stats))
	r.mux.Handle("GET /api/reminders/timeline", r.protect(h.Timeline))
	r.mux.Handle("GET /api/reminders/{id}/logs", r.protect(h.Logs))
	r.mux.Handle("GET /api/triggers/{id}/executions", r.protect(h.TriggerExecutions))
	r.mux.Handle("GET /api/inbox", r.protect(h.Inbox))
	r.mux.Handle("POST /api/inbox/{id}/read", r.protect(h.MarkRead))
	r.mux.Handle("GET /api/stats", r.protect(health.Stats))
}

func (r *Router) wrap(fn handlers.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fn(w, req)
	}
}

// protect applies the API middleware chain to fn.
func (r *Router) protect(fn handlers.HandlerFunc) http.Handler {
	handler := http.Handler(http.HandlerFunc(fn))
	for i := len(r.api) - 1; i >= 0; i-- {
		handler = r.api[i](handler)
	}
	return handler
}

func (r *Router) metrics(w http.ResponseWriter, req *http.Request) {
	stats := r.server.db.Stats()
	metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
	metrics.Handler().ServeHTTP(w, req)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
