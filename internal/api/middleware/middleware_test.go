package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newRouter(svc *auth.Service, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestContext)
	r.Use(Recovery(logger.Default().Logger))
	r.Use(NewAuthMiddleware(svc, nil).Authenticate)
	r.Get("/", h)
	return r
}

func TestAuthenticateStoresIdentityAndCredential(t *testing.T) {
	svc := auth.NewService(&auth.Config{JWTSecret: []byte(testSecret), TokenExpiry: time.Hour}, nil)
	token, err := svc.GenerateToken("alice", "alice@example.com")
	require.NoError(t, err)

	var user, email, credential, requestID string
	h := newRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		user = GetUserID(r.Context())
		email = GetUserEmail(r.Context())
		credential = GetCredential(r.Context())
		requestID = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "alice@example.com", email)
	assert.Equal(t, token, credential)
	assert.NotEmpty(t, requestID)
}

func TestAuthenticateRejects(t *testing.T) {
	svc := auth.NewService(&auth.Config{JWTSecret: []byte(testSecret), TokenExpiry: time.Hour}, nil)
	expired, err := auth.NewService(&auth.Config{JWTSecret: []byte(testSecret), TokenExpiry: -time.Hour}, nil).
		GenerateToken("alice", "")
	require.NoError(t, err)

	h := newRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-token",
		"expired": "Bearer " + expired,
		"basic":   "Basic YWxpY2U6cHc=",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), `"code":"UNAUTHORIZED"`)
		})
	}
}

func TestRecoveryWritesInternalError(t *testing.T) {
	svc := auth.NewService(&auth.Config{JWTSecret: []byte(testSecret), TokenExpiry: time.Hour}, nil)
	token, err := svc.GenerateToken("alice", "")
	require.NoError(t, err)

	h := newRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"INTERNAL_ERROR"`)
}
