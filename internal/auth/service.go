package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
	"github.com/aegis-iam/aegis/internal/roles"
	"github.com/aegis-iam/aegis/internal/users"
)

// Service is the authentication boundary: it registers accounts, exchanges
// credentials for bearer tokens carrying a claims snapshot, and resolves
// tokens back into a per-request access context.
type Service struct {
	users      users.Repository
	roles      roles.Repository
	tokens     *TokenStore
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(userRepo users.Repository, roleRepo roles.Repository, tokens *TokenStore, refreshTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      userRepo,
		roles:      roleRepo,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// RegisterInput carries the fields for self-registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a new account. The very first account is assigned the
// seeded bootstrap role so someone can administer the hierarchy; everyone
// after that starts roleless.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*users.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}

	var bootstrap *rbac.Role
	if count == 0 {
		role, err := s.roles.GetByName(ctx, BootstrapRoleName)
		switch {
		case err == nil:
			view := role.RankView()
			bootstrap = &view
		case errors.Is(err, httpx.ErrNotFound):
			s.logger.Warn("bootstrap role missing, first user starts roleless")
		default:
			return nil, err
		}
	}

	var created *users.User
	err = s.users.WithTx(ctx, func(ctx context.Context, tx users.Repository) error {
		user, err := tx.Create(ctx, strings.TrimSpace(in.Name), strings.ToLower(strings.TrimSpace(in.Email)), string(hash))
		if err != nil {
			return err
		}
		if bootstrap != nil {
			if err := tx.ReplaceRoles(ctx, user.ID, []int64{bootstrap.ID}); err != nil {
				return err
			}
			user.Roles = []rbac.Role{*bootstrap}
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.Int64("user_id", created.ID))
	return created, nil
}

// Login validates credentials and issues a bearer token whose claims carry a
// snapshot of the user's best role and permissions at issue time.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return Token{}, fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
		}
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	}
	return s.issue(ctx, user)
}

// Refresh re-issues a token. Once the refresh cutoff in the claims has
// passed the token is dead for good and the user must log in again; an
// honored refresh rebuilds the snapshot from current state, so role or
// permission changes since issue take effect.
func (s *Service) Refresh(ctx context.Context, token string) (Token, error) {
	claims, err := s.tokens.Get(ctx, token)
	if err != nil {
		return Token{}, err
	}
	if time.Now().After(claims.RefreshExpiresAt) {
		_ = s.tokens.Revoke(ctx, token)
		return Token{}, fmt.Errorf("%w: refresh window expired", httpx.ErrUnauthorized)
	}
	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			_ = s.tokens.Revoke(ctx, token)
			return Token{}, fmt.Errorf("%w: account no longer exists", httpx.ErrUnauthorized)
		}
		return Token{}, err
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return Token{}, err
	}
	return s.issue(ctx, user)
}

// Logout revokes a token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// Resolve turns a bearer token into the per-request access context. Roles
// and permissions are loaded fresh from the store once per request; the
// claims snapshot rides along for refresh decisions.
func (s *Service) Resolve(ctx context.Context, token string) (*rbac.Access, error) {
	claims, err := s.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", httpx.ErrUnauthorized)
		}
		return nil, err
	}
	perms, err := s.users.PermissionNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	identity := rbac.Identity{ID: user.ID, Name: user.Name, Email: user.Email}
	return rbac.NewAccess(identity, user.Roles, perms, claims), nil
}

func (s *Service) issue(ctx context.Context, user *users.User) (Token, error) {
	perms, err := s.users.PermissionNames(ctx, user.ID)
	if err != nil {
		return Token{}, err
	}

	now := time.Now().UTC()
	claims := rbac.Claims{
		UserID:           user.ID,
		Email:            user.Email,
		Permissions:      perms,
		IssuedAt:         now,
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}
	if best := user.BestRole(); best != nil {
		claims.RoleName = best.Name
	}

	value, err := s.tokens.Issue(ctx, claims)
	if err != nil {
		return Token{}, err
	}

	s.logger.Info("token issued", slog.Int64("user_id", user.ID))
	return Token{
		Value:            value,
		IssuedAt:         now,
		RefreshExpiresAt: claims.RefreshExpiresAt,
	}, nil
}
