package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// Service enforces the hierarchy mutation rules and keeps the rank space
// dense: for N roles the hierarchy values are exactly {1..N}.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name          string
	Hierarchy     int
	PermissionIDs []int64
}

// UpdateRoleInput carries the changed fields for a role update. Nil pointers
// leave the current value untouched; a nil PermissionIDs slice keeps the
// current permission set.
type UpdateRoleInput struct {
	Name          *string
	Hierarchy     *int
	PermissionIDs []int64
}

// List returns all roles ordered by hierarchy.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Role, error) {
	return s.repo.Get(ctx, id)
}

// ListCatalog returns the seeded permission catalog.
func (s *Service) ListCatalog(ctx context.Context) ([]rbac.Permission, error) {
	return s.repo.ListCatalog(ctx)
}

// Create inserts a new role at the requested rank. When the rank is already
// occupied, every role at or below it shifts one rank weaker first; the shift
// and the insert commit together or not at all.
//
// The actor must hold a role, may only grant permissions it holds itself, and
// may only create roles strictly weaker than its own best role.
func (s *Service) Create(ctx context.Context, access *rbac.Access, in CreateRoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name required", httpx.ErrValidation)
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if in.Hierarchy < 1 || in.Hierarchy > count+1 {
		return nil, fmt.Errorf("%w: hierarchy must be between 1 and %d", httpx.ErrValidation, count+1)
	}

	best := access.BestRole()
	if best == nil {
		return nil, fmt.Errorf("%w: actor holds no role", httpx.ErrForbidden)
	}
	if in.Hierarchy <= best.Hierarchy {
		return nil, fmt.Errorf("%w: hierarchy %d does not rank below your best role", httpx.ErrForbidden, in.Hierarchy)
	}

	permIDs := uniqueIDs(in.PermissionIDs)
	perms, err := s.resolveGrantable(ctx, access, permIDs)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role %q", httpx.ErrDuplicate, name)
	} else if !errors.Is(err, httpx.ErrNotFound) {
		return nil, err
	}

	var created *Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		occupied, err := tx.RankOccupied(ctx, in.Hierarchy, 0)
		if err != nil {
			return err
		}
		if occupied {
			if err := tx.ShiftUpFrom(ctx, in.Hierarchy); err != nil {
				return err
			}
		}
		role, err := tx.Create(ctx, name, in.Hierarchy)
		if err != nil {
			return err
		}
		if err := tx.SetPermissions(ctx, role.ID, permIDs); err != nil {
			return err
		}
		role.Permissions = perms
		created = role
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("role created",
		slog.Int64("role_id", created.ID),
		slog.String("name", created.Name),
		slog.Int("hierarchy", created.Hierarchy),
		slog.Int64("actor_id", access.User().ID),
	)
	return created, nil
}

// Update applies name, rank and permission changes. A rank change reorders
// the dense space in the same transaction: the roles between the old and new
// rank shift one step toward the vacated slot, the moved role's own row is
// excluded from the shift, and the row is rewritten last.
func (s *Service) Update(ctx context.Context, access *rbac.Access, id int64, in UpdateRoleInput) (*Role, error) {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	best := access.BestRole()
	if best == nil {
		return nil, fmt.Errorf("%w: actor holds no role", httpx.ErrForbidden)
	}

	newName := role.Name
	if in.Name != nil && strings.TrimSpace(*in.Name) != role.Name {
		newName = strings.TrimSpace(*in.Name)
		if newName == "" {
			return nil, fmt.Errorf("%w: role name required", httpx.ErrValidation)
		}
		if _, err := s.repo.GetByName(ctx, newName); err == nil {
			return nil, fmt.Errorf("%w: role %q", httpx.ErrDuplicate, newName)
		} else if !errors.Is(err, httpx.ErrNotFound) {
			return nil, err
		}
	}

	newRank := role.Hierarchy
	if in.Hierarchy != nil && *in.Hierarchy != role.Hierarchy {
		newRank = *in.Hierarchy
		count, err := s.repo.Count(ctx)
		if err != nil {
			return nil, err
		}
		if newRank < 1 || newRank > count {
			return nil, fmt.Errorf("%w: hierarchy must be between 1 and %d", httpx.ErrValidation, count)
		}
		if newRank <= best.Hierarchy {
			return nil, fmt.Errorf("%w: hierarchy %d does not rank below your best role", httpx.ErrForbidden, newRank)
		}
	}

	var (
		perms   []rbac.Permission
		permIDs []int64
	)
	if in.PermissionIDs != nil {
		permIDs = uniqueIDs(in.PermissionIDs)
		perms, err = s.resolveGrantable(ctx, access, permIDs)
		if err != nil {
			return nil, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		switch {
		case newRank > role.Hierarchy:
			if err := tx.ShiftDownRange(ctx, role.Hierarchy, newRank, role.ID); err != nil {
				return err
			}
		case newRank < role.Hierarchy:
			if err := tx.ShiftUpRange(ctx, newRank, role.Hierarchy, role.ID); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, role.ID, newName, newRank); err != nil {
			return err
		}
		if in.PermissionIDs != nil {
			if err := tx.SetPermissions(ctx, role.ID, permIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	role.Name = newName
	role.Hierarchy = newRank
	if in.PermissionIDs != nil {
		role.Permissions = perms
	}

	s.logger.Info("role updated",
		slog.Int64("role_id", role.ID),
		slog.Int("hierarchy", role.Hierarchy),
		slog.Int64("actor_id", access.User().ID),
	)
	return role, nil
}

// Delete removes a role and closes the rank gap it leaves. Roles still held
// by any user cannot be deleted, and the actor's best role must rank strictly
// above the target.
func (s *Service) Delete(ctx context.Context, access *rbac.Access, id int64) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	holders, err := s.repo.UsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if holders > 0 {
		return fmt.Errorf("%w: role %q is assigned to %d user(s)", httpx.ErrConflict, role.Name, holders)
	}

	best := access.BestRole()
	if best == nil || best.Hierarchy >= role.Hierarchy {
		return fmt.Errorf("%w: role %q does not rank below your best role", httpx.ErrForbidden, role.Name)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Delete(ctx, role.ID); err != nil {
			return err
		}
		return tx.ShiftDownAfter(ctx, role.Hierarchy)
	})
	if err != nil {
		return err
	}

	s.logger.Info("role deleted",
		slog.Int64("role_id", role.ID),
		slog.String("name", role.Name),
		slog.Int64("actor_id", access.User().ID),
	)
	return nil
}

// resolveGrantable checks that every requested permission exists and that the
// actor holds each of them. Granting a permission you do not hold is how a
// weaker role would mint a stronger one. ids must already be deduplicated;
// the same deduplicated slice is what gets written, so a repeated ID in the
// request can never hit the role_permissions primary key.
func (s *Service) resolveGrantable(ctx context.Context, access *rbac.Access, ids []int64) ([]rbac.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	perms, err := s.repo.PermissionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(perms) != len(ids) {
		return nil, fmt.Errorf("%w: one or more permission ids do not exist", httpx.ErrValidation)
	}
	for _, p := range perms {
		if !access.HasPermission(p.Name) {
			return nil, fmt.Errorf("%w: cannot grant permission %q you do not hold", httpx.ErrForbidden, p.Name)
		}
	}
	return perms, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
