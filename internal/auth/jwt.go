// Package auth resolves the calling tenant and user from bearer tokens.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/requestctx"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrInvalidAudience  = errors.New("invalid token audience")
	ErrMissingSubject   = errors.New("token missing subject")
	ErrInvalidSignature = errors.New("invalid token signature")
)

type jwtClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// JWTService mints and validates principal tokens.
type JWTService struct {
	secret        []byte
	issuer        string
	audience      []string
	accessTTL     time.Duration
	defaultTenant string
}

// NewJWTService creates a new JWT service from config.
func NewJWTService(cfg config.AuthConfig) *JWTService {
	return &JWTService{
		secret:        []byte(cfg.JWT.Secret),
		issuer:        cfg.JWT.Issuer,
		audience:      cfg.JWT.Audience,
		accessTTL:     cfg.JWT.AccessTTL,
		defaultTenant: cfg.DefaultTenant,
	}
}

// GenerateToken creates a signed token for p. A ttl of zero uses the
// configured access TTL.
func (s *JWTService) GenerateToken(p requestctx.Principal, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		TenantID: p.TenantID,
		UserID:   p.UserID,
	}

	if len(s.audience) > 0 {
		claims.Audience = s.audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// Validate checks a token and returns the principal it carries. Tokens
// without a tenant claim fall into the default tenant.
func (s *JWTService) Validate(tokenString string) (requestctx.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestctx.Principal{}, ErrExpiredToken
		}
		return requestctx.Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return requestctx.Principal{}, ErrInvalidToken
	}

	if claims.Issuer != s.issuer {
		return requestctx.Principal{}, ErrInvalidIssuer
	}

	if len(s.audience) > 0 {
		valid := false
		for _, aud := range claims.Audience {
			if slices.Contains(s.audience, aud) {
				valid = true
				break
			}
		}
		if !valid {
			return requestctx.Principal{}, ErrInvalidAudience
		}
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return requestctx.Principal{}, ErrMissingSubject
	}

	tenantID := claims.TenantID
	if tenantID == "" {
		tenantID = s.defaultTenant
	}

	return requestctx.Principal{TenantID: tenantID, UserID: userID}, nil
}
