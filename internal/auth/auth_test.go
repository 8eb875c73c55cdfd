package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/requestctx"
)

func testService() *JWTService {
	return NewJWTService(config.AuthConfig{
		JWT: config.JWTConfig{
			Secret:    "test-secret-key-for-testing-only",
			Issuer:    "nudge",
			AccessTTL: time.Hour,
		},
		DefaultTenant: "default",
	})
}

func TestJWT_RoundTrip(t *testing.T) {
	svc := testService()

	token, expiresAt, err := svc.GenerateToken(requestctx.Principal{TenantID: "acme", UserID: "u1"}, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	p, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, requestctx.Principal{TenantID: "acme", UserID: "u1"}, p)
}

func TestJWT_DefaultTenant(t *testing.T) {
	svc := testService()

	token, _, err := svc.GenerateToken(requestctx.Principal{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	p, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "default", p.TenantID)
}

func TestJWT_SubjectFallback(t *testing.T) {
	svc := testService()

	claims := jwt.RegisteredClaims{
		Issuer:    "nudge",
		Subject:   "u9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key-for-testing-only"))
	require.NoError(t, err)

	p, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u9", p.UserID)
}

func TestJWT_Rejections(t *testing.T) {
	svc := testService()

	expiredClaims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "nudge",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte("test-secret-key-for-testing-only"))
	require.NoError(t, err)

	_, err = svc.Validate(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := NewJWTService(config.AuthConfig{JWT: config.JWTConfig{Secret: "other", Issuer: "nudge", AccessTTL: time.Hour}})
	foreign, _, err := other.GenerateToken(requestctx.Principal{UserID: "u1"}, 0)
	require.NoError(t, err)
	_, err = svc.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewJWTService(config.AuthConfig{JWT: config.JWTConfig{Secret: "test-secret-key-for-testing-only", Issuer: "someone", AccessTTL: time.Hour}})
	token, _, err := wrongIssuer.GenerateToken(requestctx.Principal{UserID: "u1"}, 0)
	require.NoError(t, err)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidIssuer)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Audience(t *testing.T) {
	svc := NewJWTService(config.AuthConfig{JWT: config.JWTConfig{
		Secret: "s", Issuer: "nudge", Audience: []string{"reminders"}, AccessTTL: time.Hour,
	}})
	token, _, err := svc.GenerateToken(requestctx.Principal{UserID: "u1"}, 0)
	require.NoError(t, err)
	_, err = svc.Validate(token)
	require.NoError(t, err)

	noAud := NewJWTService(config.AuthConfig{JWT: config.JWTConfig{Secret: "s", Issuer: "nudge", AccessTTL: time.Hour}})
	token, _, err = noAud.GenerateToken(requestctx.Principal{UserID: "u1"}, 0)
	require.NoError(t, err)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidAudience)
}

func principalEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := requestctx.PrincipalFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(p.TenantID + "/" + p.UserID))
	})
}

func TestMiddleware(t *testing.T) {
	svc := testService()
	token, _, err := svc.GenerateToken(requestctx.Principal{TenantID: "acme", UserID: "u1"}, 0)
	require.NoError(t, err)

	strict := Middleware(MiddlewareConfig{Service: svc, DefaultTenant: "default"})(principalEcho(t))
	open := Middleware(MiddlewareConfig{Service: svc, DefaultTenant: "default", AllowAnonymous: true})(principalEcho(t))

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		status  int
		body    string
	}{
		{"valid token", strict, "Bearer " + token, http.StatusOK, "acme/u1"},
		{"lowercase scheme", strict, "bearer " + token, http.StatusOK, "acme/u1"},
		{"missing token", strict, "", http.StatusUnauthorized, ""},
		{"bad token", strict, "Bearer nope", http.StatusUnauthorized, ""},
		{"anonymous allowed", open, "", http.StatusOK, "default/anonymous"},
		{"bad token even when anonymous allowed", open, "Bearer nope", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/inbox", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
