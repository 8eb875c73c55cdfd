package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/metrics"
	"github.com/nudgehq/nudge/internal/requestctx"
)

// exchange records what a request turned into: the status and size written
// and, once the API chain has run, the principal it was served for. One
// exchange is shared by the access log and the metrics middleware.
type exchange struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
	principal   *requestctx.Principal
}

type exchangeKey struct{}

func newExchange(w http.ResponseWriter) *exchange {
	return &exchange{ResponseWriter: w, status: http.StatusOK}
}

// observe returns the exchange already tracking w, or starts one.
func observe(w http.ResponseWriter, r *http.Request) (*exchange, *http.Request) {
	if ex, ok := w.(*exchange); ok {
		return ex, r
	}
	ex := newExchange(w)
	return ex, r.WithContext(context.WithValue(r.Context(), exchangeKey{}, ex))
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

func (w *exchange) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *exchange) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *exchange) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("request_id", requestctx.RequestID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error","code":"INTERNAL_ERROR"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}

		ctx := requestctx.WithRequestID(r.Context(), requestID)
		ctx = requestctx.WithRequestTime(ctx, time.Now())

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one access log line per request. Server errors
// log at error level, rejected requests at warn, and the health and metrics
// endpoints at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ex, r := observe(w, r)

		next.ServeHTTP(ex, r)

		ev := accessEvent(r.URL.Path, ex.status).
			Str("request_id", requestctx.RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ex.status).
			Int("bytes", ex.bytes).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr)
		if ex.principal != nil {
			ev = ev.Str("tenant_id", ex.principal.TenantID).Str("user_id", ex.principal.UserID)
		}
		ev.Msg("Request completed")
	})
}

func accessEvent(path string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case path == "/metrics" || strings.HasPrefix(path, "/health"):
		return log.Debug()
	default:
		return log.Info()
	}
}

// PrincipalMiddleware copies the principal resolved by the auth middleware
// onto the request's exchange so the access log can attribute the request.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := requestctx.PrincipalFrom(r.Context()); ok {
			if ex := exchangeFrom(r.Context()); ex != nil {
				ex.principal = &p
			}
		}
		next.ServeHTTP(w, r)
	})
}

func MaxBodySizeMiddleware(maxSize int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"error":"request body too large","code":"BODY_TOO_LARGE"}`))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware records request counts and latency under the
// normalized route, reusing the exchange started by the access log.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		ex, r := observe(w, r)
		next.ServeHTTP(ex, r)

		metrics.RecordHTTPRequest(r.Method, metrics.NormalizePath(r.URL.Path), ex.status, time.Since(start), ex.bytes)
	})
}
