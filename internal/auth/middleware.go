package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/requestctx"
)

// AnonymousUser is the user id given to unauthenticated callers when
// anonymous access is allowed.
const AnonymousUser = "anonymous"

type MiddlewareConfig struct {
	Service        *JWTService
	AllowAnonymous bool
	DefaultTenant  string
}

// Middleware resolves the principal once at the boundary and stores it on
// the request context.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)

			if token == "" {
				if !cfg.AllowAnonymous {
					unauthorized(w, "Authentication required", "UNAUTHORIZED")
					return
				}
				ctx := requestctx.WithPrincipal(r.Context(), requestctx.Principal{
					TenantID: cfg.DefaultTenant,
					UserID:   AnonymousUser,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			p, err := cfg.Service.Validate(token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
				unauthorized(w, "Invalid or expired token", "INVALID_TOKEN")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithPrincipal(r.Context(), p)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
