package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
	"github.com/aegis-iam/aegis/internal/roles"
)

// Service handles user account mutations and enforces the role-assignment
// rules of the hierarchy model.
type Service struct {
	repo   Repository
	roles  roles.Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, roleRepo roles.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roleRepo, logger: logger}
}

// CreateUserInput carries the fields for a new user.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	RoleID   *int64
}

// UpdateUserInput carries the changed fields for a user update. Nil pointers
// leave the current value untouched.
type UpdateUserInput struct {
	Name     *string
	Email    *string
	Password *string
	RoleID   *int64
}

// List returns all users with their roles.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.Get(ctx, id)
}

// Create inserts a new user, optionally assigning an initial role. Assigning
// requires the actor to hold a role whose authority covers the assigned one.
func (s *Service) Create(ctx context.Context, access *rbac.Access, in CreateUserInput) (*User, error) {
	email := normalizeEmail(in.Email)

	var assigned *rbac.Role
	if in.RoleID != nil {
		role, err := s.roles.Get(ctx, *in.RoleID)
		if err != nil {
			return nil, err
		}
		view := role.RankView()
		if err := s.checkAssignment(access, nil, view); err != nil {
			return nil, err
		}
		assigned = &view
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := tx.Create(ctx, strings.TrimSpace(in.Name), email, string(hash))
		if err != nil {
			return err
		}
		if assigned != nil {
			if err := tx.ReplaceRoles(ctx, user.ID, []int64{assigned.ID}); err != nil {
				return err
			}
			user.Roles = []rbac.Role{*assigned}
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.Int64("user_id", created.ID),
		slog.Int64("actor_id", access.User().ID),
	)
	return created, nil
}

// Update applies profile and role changes. A user may update their own
// profile freely but may never change their own role assignment, whatever
// permissions they hold.
func (s *Service) Update(ctx context.Context, access *rbac.Access, id int64, in UpdateUserInput) (*User, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var assigned *rbac.Role
	if in.RoleID != nil {
		if access.User().ID == target.ID {
			return nil, fmt.Errorf("%w: cannot change your own role", httpx.ErrForbidden)
		}
		role, err := s.roles.Get(ctx, *in.RoleID)
		if err != nil {
			return nil, err
		}
		view := role.RankView()
		if err := s.checkAssignment(access, target, view); err != nil {
			return nil, err
		}
		assigned = &view
	}

	name := target.Name
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	email := target.Email
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Update(ctx, target.ID, name, email); err != nil {
			return err
		}
		if in.Password != nil {
			hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			if err := tx.UpdatePassword(ctx, target.ID, string(hash)); err != nil {
				return err
			}
		}
		if assigned != nil {
			if err := tx.ReplaceRoles(ctx, target.ID, []int64{assigned.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	target.Name = name
	target.Email = email
	if assigned != nil {
		target.Roles = []rbac.Role{*assigned}
	}

	s.logger.Info("user updated",
		slog.Int64("user_id", target.ID),
		slog.Int64("actor_id", access.User().ID),
	)
	return target, nil
}

// Delete removes a user. Self-deletion is always allowed. Deleting another
// user requires the actor to hold a role; a roleless target is deletable
// unconditionally, otherwise the actor's best role must carry
// higher-or-equal authority than the target's.
func (s *Service) Delete(ctx context.Context, access *rbac.Access, id int64) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if access.User().ID != target.ID {
		best := access.BestRole()
		if best == nil {
			return fmt.Errorf("%w: actor holds no role", httpx.ErrForbidden)
		}
		if targetBest := target.BestRole(); targetBest != nil {
			if !rbac.OutranksOrEqual(best, *targetBest) {
				return fmt.Errorf("%w: target outranks you", httpx.ErrForbidden)
			}
		}
	}

	if err := s.repo.Delete(ctx, target.ID); err != nil {
		return err
	}

	s.logger.Info("user deleted",
		slog.Int64("user_id", target.ID),
		slog.Int64("actor_id", access.User().ID),
	)
	return nil
}

// checkAssignment applies the role-assignment comparison: the actor must hold
// a role, and its best role must carry higher-or-equal authority than the
// role being assigned (or, when the target already holds roles, than the
// target's current best role).
func (s *Service) checkAssignment(access *rbac.Access, target *User, role rbac.Role) error {
	best := access.BestRole()
	if best == nil {
		return fmt.Errorf("%w: actor holds no role", httpx.ErrForbidden)
	}
	compare := role
	if tb := target.BestRole(); tb != nil {
		compare = *tb
	}
	if !rbac.OutranksOrEqual(best, compare) {
		return fmt.Errorf("%w: role %q outranks you", httpx.ErrForbidden, compare.Name)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
