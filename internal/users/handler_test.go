package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/aegis-iam/aegis/internal/rbac"
)

func newTestRouter(repo *fakeUserRepo) chi.Router {
	handler := NewHandler(slog.Default(), NewService(repo, roleCatalog(), nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/users", handler.MountRoutes)
	return r
}

func withAccess(r *http.Request, a *rbac.Access) *http.Request {
	return r.WithContext(rbac.WithAccess(r.Context(), a))
}

func TestHandlerSelfAccess(t *testing.T) {
	repo := newFakeUserRepo()
	self := repo.seed("Ada", "ada@example.com")
	other := repo.seed("Eve", "eve@example.com")
	router := newTestRouter(repo)

	// No read_user permission at all; only the self-rule can let requests
	// through.
	access := rbac.NewAccess(rbac.Identity{ID: self.ID}, nil, nil, rbac.Claims{UserID: self.ID})

	t.Run("own profile is readable without permissions", func(t *testing.T) {
		req := withAccess(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/users/%d", self.ID), nil), access)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("someone else's profile is not", func(t *testing.T) {
		req := withAccess(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/users/%d", other.ID), nil), access)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("listing needs the permission", func(t *testing.T) {
		req := withAccess(httptest.NewRequest(http.MethodGet, "/users/", nil), access)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("holder of read_user can list", func(t *testing.T) {
		reader := rbac.NewAccess(rbac.Identity{ID: 42}, nil, []string{rbac.PermReadUser}, rbac.Claims{UserID: 42})
		req := withAccess(httptest.NewRequest(http.MethodGet, "/users/", nil), reader)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
