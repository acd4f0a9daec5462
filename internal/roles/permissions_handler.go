package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// PermissionsHandler serves the seeded permission catalog.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewPermissionsHandler builds a PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: mw}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionViewAny))
		r.Get("/", h.list)
	})
}

func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListCatalog(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionDT, len(perms))
	for i, p := range perms {
		out[i] = permissionDT{ID: p.ID, Name: p.Name, Label: p.Label}
	}
	httpx.JSON(w, http.StatusOK, out)
}
