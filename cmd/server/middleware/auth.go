// Package middleware provides HTTP middleware for the gateway server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/cmd/server/config"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/handlers"
)

// AuthMiddleware checks HS256 bearer tokens.
type AuthMiddleware struct {
	config config.AuthConfig
	key    []byte
	parser *jwt.Parser
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWT.Issuer))
	}
	if cfg.JWT.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.JWT.Audience))
	}
	return &AuthMiddleware{
		config: cfg,
		key:    []byte(cfg.JWT.Secret),
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// Handler rejects requests without a valid token. It passes everything
// through when auth is disabled.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			handlers.WriteError(w, errors.New(errors.CodeUnauthorized, "invalid or missing bearer token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyUser, user)))
	})
}

// authenticate validates the bearer token and returns its subject.
func (m *AuthMiddleware) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New(errors.CodeUnauthorized, "missing authorization header")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New(errors.CodeUnauthorized, "invalid authorization header")
	}

	claims := jwt.RegisteredClaims{}
	if _, err := m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	}); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Context keys for authentication
type contextKey string

const (
	contextKeyUser      contextKey = "user"
	contextKeyRequestID contextKey = "request_id"
)

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}
