package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// Handler exposes role management endpoints. It decodes and validates
// payloads, runs the policy gate and delegates everything else to the
// service.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		rbac:      mw,
	}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionViewAny))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionView))
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionUpdate))
		r.Put("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceRole, rbac.ActionDelete))
		r.Delete("/{id}", h.delete)
	})
}

type roleResponse struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Hierarchy   int            `json:"hierarchy"`
	Permissions []permissionDT `json:"permissions"`
}

type permissionDT struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type createRoleRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=100"`
	Hierarchy     int     `json:"hierarchy" validate:"required,min=1"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,min=1"`
}

type updateRoleRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=100"`
	Hierarchy     *int    `json:"hierarchy" validate:"omitempty,min=1"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,min=1"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, len(list))
	for i, role := range list {
		out[i] = toResponse(role)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*role))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	role, err := h.service.Create(r.Context(), rbac.FromContext(r.Context()), CreateRoleInput{
		Name:          req.Name,
		Hierarchy:     req.Hierarchy,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*role))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	role, err := h.service.Update(r.Context(), rbac.FromContext(r.Context()), id, UpdateRoleInput{
		Name:          req.Name,
		Hierarchy:     req.Hierarchy,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*role))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), rbac.FromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toResponse(role Role) roleResponse {
	perms := make([]permissionDT, len(role.Permissions))
	for i, p := range role.Permissions {
		perms[i] = permissionDT{ID: p.ID, Name: p.Name, Label: p.Label}
	}
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Hierarchy:   role.Hierarchy,
		Permissions: perms,
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
