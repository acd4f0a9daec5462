package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis/internal/rbac"
)

func TestBearerToken(t *testing.T) {
	newRequest := func(header string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	t.Run("standard form", func(t *testing.T) {
		token, ok := BearerToken(newRequest("Bearer abc123"))
		require.True(t, ok)
		assert.Equal(t, "abc123", token)
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		token, ok := BearerToken(newRequest("bearer abc123"))
		require.True(t, ok)
		assert.Equal(t, "abc123", token)
	})

	t.Run("missing header", func(t *testing.T) {
		_, ok := BearerToken(newRequest(""))
		assert.False(t, ok)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, ok := BearerToken(newRequest("Basic abc123"))
		assert.False(t, ok)
	})

	t.Run("empty token", func(t *testing.T) {
		_, ok := BearerToken(newRequest("Bearer   "))
		assert.False(t, ok)
	})
}

func TestAuthenticate(t *testing.T) {
	userRepo := newStubUserRepo()
	u := userRepo.seed("ada@example.com", "s3cret-pass", rbac.Role{ID: 2, Name: "Admin", Hierarchy: 2})
	userRepo.perms[u.ID] = []string{rbac.PermReadUser}
	svc := newTestService(t, userRepo, &stubRoleRepo{}, time.Hour)

	token, err := svc.Login(context.Background(), "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	var seen *rbac.Access
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = rbac.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware{Service: svc}.Authenticate(next)

	t.Run("valid token reaches the handler with access attached", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set("Authorization", "Bearer "+token.Value)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, u.ID, seen.User().ID)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		seen = nil
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, seen)
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, seen)
	})
}
