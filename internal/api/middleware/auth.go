package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/narvanalabs/buildgraph/internal/api/errors"
	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

type contextKey string

const (
	// UserEmailKey is the context key for the authenticated user email.
	UserEmailKey contextKey = "user_email"
	// CredentialKey is the context key for the caller's raw bearer token.
	CredentialKey contextKey = "credential"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// GetUserID extracts the authenticated user ID from the request context.
func GetUserID(ctx context.Context) string {
	return logger.UserIDFromContext(ctx)
}

// GetUserEmail extracts the user email from the request context.
func GetUserEmail(ctx context.Context) string {
	if v, ok := ctx.Value(UserEmailKey).(string); ok {
		return v
	}
	return ""
}

// GetCredential returns the bearer token the request was authenticated with.
func GetCredential(ctx context.Context) string {
	if v, ok := ctx.Value(CredentialKey).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware handles JWT authentication.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *slog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(validator TokenValidator, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// Authenticate validates the bearer token and stores the caller identity and
// the raw token in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w, r, "Missing authentication")
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.Debug("JWT validation failed", "error", err, "path", r.URL.Path)
			if errors.Is(err, auth.ErrExpiredToken) {
				writeUnauthorized(w, r, "Token has expired")
				return
			}
			writeUnauthorized(w, r, "Invalid token")
			return
		}

		ctx := logger.ContextWithUserID(r.Context(), claims.UserID)
		ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
		ctx = context.WithValue(ctx, CredentialKey, token)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	apierrors.WriteError(w, apierrors.NewUnauthorizedError(message).WithRequestID(logger.RequestIDFromContext(r.Context())))
}
