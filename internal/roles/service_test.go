package roles

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// fakeRepo is an in-memory Repository. It is deliberately not concurrency
// safe; these tests are sequential.
type fakeRepo struct {
	nextID    int64
	roles     map[int64]*Role
	rolePerms map[int64][]int64
	catalog   []rbac.Permission
	holders   map[int64]int
}

func newFakeRepo() *fakeRepo {
	f := &fakeRepo{
		nextID:    1,
		roles:     make(map[int64]*Role),
		rolePerms: make(map[int64][]int64),
		holders:   make(map[int64]int),
	}
	for i, entry := range rbac.Catalog() {
		f.catalog = append(f.catalog, rbac.Permission{ID: int64(i + 1), Name: entry.Name, Label: entry.Label})
	}
	return f
}

func (f *fakeRepo) seed(name string, hierarchy int) *Role {
	role := &Role{ID: f.nextID, Name: name, Hierarchy: hierarchy, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.nextID++
	f.roles[role.ID] = role
	return role
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) List(context.Context) ([]Role, error) {
	out := make([]Role, 0, len(f.roles))
	for _, r := range f.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hierarchy < out[j].Hierarchy })
	return out, nil
}

func (f *fakeRepo) Get(_ context.Context, id int64) (*Role, error) {
	r, ok := f.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) GetByName(_ context.Context, name string) (*Role, error) {
	for _, r := range f.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: role %q", httpx.ErrNotFound, name)
}

func (f *fakeRepo) Count(context.Context) (int, error) {
	return len(f.roles), nil
}

func (f *fakeRepo) Create(_ context.Context, name string, hierarchy int) (*Role, error) {
	for _, r := range f.roles {
		if r.Name == name {
			return nil, fmt.Errorf("%w: role %q", httpx.ErrDuplicate, name)
		}
	}
	role := f.seed(name, hierarchy)
	cp := *role
	return &cp, nil
}

func (f *fakeRepo) Update(_ context.Context, id int64, name string, hierarchy int) error {
	r, ok := f.roles[id]
	if !ok {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	r.Name = name
	r.Hierarchy = hierarchy
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id int64) error {
	if _, ok := f.roles[id]; !ok {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	delete(f.roles, id)
	delete(f.rolePerms, id)
	return nil
}

func (f *fakeRepo) RankOccupied(_ context.Context, rank int, excludeID int64) (bool, error) {
	for _, r := range f.roles {
		if r.Hierarchy == rank && r.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ShiftUpFrom(_ context.Context, rank int) error {
	for _, r := range f.roles {
		if r.Hierarchy >= rank {
			r.Hierarchy++
		}
	}
	return nil
}

func (f *fakeRepo) ShiftUpRange(_ context.Context, lo, hi int, excludeID int64) error {
	for _, r := range f.roles {
		if r.ID != excludeID && r.Hierarchy >= lo && r.Hierarchy < hi {
			r.Hierarchy++
		}
	}
	return nil
}

func (f *fakeRepo) ShiftDownRange(_ context.Context, lo, hi int, excludeID int64) error {
	for _, r := range f.roles {
		if r.ID != excludeID && r.Hierarchy > lo && r.Hierarchy <= hi {
			r.Hierarchy--
		}
	}
	return nil
}

func (f *fakeRepo) ShiftDownAfter(_ context.Context, rank int) error {
	for _, r := range f.roles {
		if r.Hierarchy > rank {
			r.Hierarchy--
		}
	}
	return nil
}

// SetPermissions enforces the role_permissions primary key the way the real
// table does: a repeated permission ID is an insert conflict, not a no-op.
func (f *fakeRepo) SetPermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate key value violates unique constraint %q", "role_permissions_pkey")
		}
		seen[id] = struct{}{}
	}
	f.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (f *fakeRepo) PermissionsByID(_ context.Context, ids []int64) ([]rbac.Permission, error) {
	var out []rbac.Permission
	seen := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		for _, p := range f.catalog {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) ListCatalog(context.Context) ([]rbac.Permission, error) {
	return f.catalog, nil
}

func (f *fakeRepo) UsersWithRole(_ context.Context, roleID int64) (int, error) {
	return f.holders[roleID], nil
}

var _ Repository = (*fakeRepo)(nil)

// ranks returns role name -> hierarchy for assertions on the rank space.
func ranks(t *testing.T, repo *fakeRepo) map[string]int {
	t.Helper()
	out := make(map[string]int, len(repo.roles))
	for _, r := range repo.roles {
		out[r.Name] = r.Hierarchy
	}
	return out
}

// requireDense asserts hierarchy values are exactly {1..N}.
func requireDense(t *testing.T, repo *fakeRepo) {
	t.Helper()
	seen := make(map[int]bool)
	for _, r := range repo.roles {
		require.False(t, seen[r.Hierarchy], "duplicate rank %d", r.Hierarchy)
		seen[r.Hierarchy] = true
	}
	for i := 1; i <= len(repo.roles); i++ {
		require.True(t, seen[i], "missing rank %d", i)
	}
}

func accessWithRank(userID int64, rank int, perms ...string) *rbac.Access {
	roleSet := []rbac.Role{{ID: 100, Name: "actor-role", Hierarchy: rank}}
	return rbac.NewAccess(rbac.Identity{ID: userID}, roleSet, perms, rbac.Claims{UserID: userID})
}

func allPermissionNames() []string {
	var names []string
	for _, entry := range rbac.Catalog() {
		names = append(names, entry.Name)
	}
	return names
}

func TestCreateRole(t *testing.T) {
	t.Run("insert at occupied rank shifts weaker roles", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		repo.seed("Admin", 2)
		repo.seed("Viewer", 3)
		svc := NewService(repo, nil)

		actor := accessWithRank(1, 1, allPermissionNames()...)
		created, err := svc.Create(context.Background(), actor, CreateRoleInput{Name: "Manager", Hierarchy: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, created.Hierarchy)

		got := ranks(t, repo)
		assert.Equal(t, 1, got["Super Admin"])
		assert.Equal(t, 2, got["Manager"])
		assert.Equal(t, 3, got["Admin"])
		assert.Equal(t, 4, got["Viewer"])
		requireDense(t, repo)
	})

	t.Run("append at count+1 shifts nothing", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		actor := accessWithRank(1, 1)
		created, err := svc.Create(context.Background(), actor, CreateRoleInput{Name: "Viewer", Hierarchy: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, created.Hierarchy)
		assert.Equal(t, 1, ranks(t, repo)["Super Admin"])
		requireDense(t, repo)
	})

	t.Run("rank at or above actor best is forbidden", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		repo.seed("Admin", 2)
		svc := NewService(repo, nil)

		actor := accessWithRank(2, 2)
		for _, rank := range []int{1, 2} {
			_, err := svc.Create(context.Background(), actor, CreateRoleInput{Name: "Sneaky", Hierarchy: rank})
			assert.ErrorIs(t, err, httpx.ErrForbidden, "rank %d", rank)
		}

		// Strictly weaker is allowed.
		_, err := svc.Create(context.Background(), actor, CreateRoleInput{Name: "Helper", Hierarchy: 3})
		assert.NoError(t, err)
	})

	t.Run("actor without roles is forbidden", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		anon := rbac.NewAccess(rbac.Identity{ID: 9}, nil, nil, rbac.Claims{})
		_, err := svc.Create(context.Background(), anon, CreateRoleInput{Name: "X", Hierarchy: 2})
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("rank outside 1..count+1 is a validation error", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		actor := accessWithRank(1, 1)
		for _, rank := range []int{0, -1, 3, 10} {
			_, err := svc.Create(context.Background(), actor, CreateRoleInput{Name: "X", Hierarchy: rank})
			assert.ErrorIs(t, err, httpx.ErrValidation, "rank %d", rank)
		}
	})

	t.Run("blank name is a validation error", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		_, err := svc.Create(context.Background(), accessWithRank(1, 1), CreateRoleInput{Name: "   ", Hierarchy: 2})
		assert.ErrorIs(t, err, httpx.ErrValidation)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		repo.seed("Viewer", 2)
		svc := NewService(repo, nil)

		_, err := svc.Create(context.Background(), accessWithRank(1, 1), CreateRoleInput{Name: "Viewer", Hierarchy: 3})
		assert.ErrorIs(t, err, httpx.ErrDuplicate)
	})

	t.Run("granting a permission the actor lacks is forbidden", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		actor := accessWithRank(1, 1, rbac.PermReadUser)
		var deleteUserID int64
		for _, p := range repo.catalog {
			if p.Name == rbac.PermDeleteUser {
				deleteUserID = p.ID
			}
		}
		_, err := svc.Create(context.Background(), actor, CreateRoleInput{
			Name:          "Reaper",
			Hierarchy:     2,
			PermissionIDs: []int64{deleteUserID},
		})
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("repeated permission ids collapse before storage", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		var readUserID int64
		for _, p := range repo.catalog {
			if p.Name == rbac.PermReadUser {
				readUserID = p.ID
			}
		}

		created, err := svc.Create(context.Background(), accessWithRank(1, 1, rbac.PermReadUser), CreateRoleInput{
			Name:          "Reader",
			Hierarchy:     2,
			PermissionIDs: []int64{readUserID, readUserID, readUserID},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{readUserID}, repo.rolePerms[created.ID])
		require.Len(t, created.Permissions, 1)
	})

	t.Run("unknown permission id is a validation error", func(t *testing.T) {
		repo := newFakeRepo()
		repo.seed("Super Admin", 1)
		svc := NewService(repo, nil)

		_, err := svc.Create(context.Background(), accessWithRank(1, 1, allPermissionNames()...), CreateRoleInput{
			Name:          "X",
			Hierarchy:     2,
			PermissionIDs: []int64{999},
		})
		assert.ErrorIs(t, err, httpx.ErrValidation)
	})
}

func TestUpdateRole(t *testing.T) {
	setup := func(t *testing.T) (*fakeRepo, *Service, map[string]*Role) {
		t.Helper()
		repo := newFakeRepo()
		byName := map[string]*Role{
			"Super Admin": repo.seed("Super Admin", 1),
			"Admin":       repo.seed("Admin", 2),
			"Editor":      repo.seed("Editor", 3),
			"Viewer":      repo.seed("Viewer", 4),
		}
		return repo, NewService(repo, nil), byName
	}

	t.Run("move to a weaker rank shifts the span up", func(t *testing.T) {
		repo, svc, byName := setup(t)
		actor := accessWithRank(1, 1)

		newRank := 4
		updated, err := svc.Update(context.Background(), actor, byName["Admin"].ID, UpdateRoleInput{Hierarchy: &newRank})
		require.NoError(t, err)
		assert.Equal(t, 4, updated.Hierarchy)

		got := ranks(t, repo)
		assert.Equal(t, 1, got["Super Admin"])
		assert.Equal(t, 2, got["Editor"])
		assert.Equal(t, 3, got["Viewer"])
		assert.Equal(t, 4, got["Admin"])
		requireDense(t, repo)
	})

	t.Run("move to a stronger rank shifts the span down", func(t *testing.T) {
		repo, svc, byName := setup(t)
		actor := accessWithRank(1, 1)

		newRank := 2
		updated, err := svc.Update(context.Background(), actor, byName["Viewer"].ID, UpdateRoleInput{Hierarchy: &newRank})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Hierarchy)

		got := ranks(t, repo)
		assert.Equal(t, 1, got["Super Admin"])
		assert.Equal(t, 2, got["Viewer"])
		assert.Equal(t, 3, got["Admin"])
		assert.Equal(t, 4, got["Editor"])
		requireDense(t, repo)
	})

	t.Run("rename only leaves ranks alone", func(t *testing.T) {
		repo, svc, byName := setup(t)
		actor := accessWithRank(1, 1)

		name := "Administrator"
		updated, err := svc.Update(context.Background(), actor, byName["Admin"].ID, UpdateRoleInput{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Administrator", updated.Name)
		assert.Equal(t, 2, updated.Hierarchy)
		requireDense(t, repo)
	})

	t.Run("rename to an existing name is rejected", func(t *testing.T) {
		_, svc, byName := setup(t)
		name := "Viewer"
		_, err := svc.Update(context.Background(), accessWithRank(1, 1), byName["Admin"].ID, UpdateRoleInput{Name: &name})
		assert.ErrorIs(t, err, httpx.ErrDuplicate)
	})

	t.Run("moving to a rank at or above actor best is forbidden", func(t *testing.T) {
		_, svc, byName := setup(t)
		actor := accessWithRank(2, 2)

		for _, rank := range []int{1, 2} {
			r := rank
			_, err := svc.Update(context.Background(), actor, byName["Viewer"].ID, UpdateRoleInput{Hierarchy: &r})
			assert.ErrorIs(t, err, httpx.ErrForbidden, "rank %d", rank)
		}
	})

	t.Run("move rank outside 1..count is a validation error", func(t *testing.T) {
		_, svc, byName := setup(t)
		for _, rank := range []int{0, 5} {
			r := rank
			_, err := svc.Update(context.Background(), accessWithRank(1, 1), byName["Viewer"].ID, UpdateRoleInput{Hierarchy: &r})
			assert.ErrorIs(t, err, httpx.ErrValidation, "rank %d", rank)
		}
	})

	t.Run("unknown role is not found", func(t *testing.T) {
		_, svc, _ := setup(t)
		_, err := svc.Update(context.Background(), accessWithRank(1, 1), 999, UpdateRoleInput{})
		assert.ErrorIs(t, err, httpx.ErrNotFound)
	})

	t.Run("permission replacement obeys the subset law", func(t *testing.T) {
		repo, svc, byName := setup(t)
		actor := accessWithRank(1, 1, rbac.PermReadUser)

		var readUserID, createRoleID int64
		for _, p := range repo.catalog {
			switch p.Name {
			case rbac.PermReadUser:
				readUserID = p.ID
			case rbac.PermCreateRole:
				createRoleID = p.ID
			}
		}

		_, err := svc.Update(context.Background(), actor, byName["Viewer"].ID, UpdateRoleInput{PermissionIDs: []int64{readUserID}})
		assert.NoError(t, err)

		_, err = svc.Update(context.Background(), actor, byName["Viewer"].ID, UpdateRoleInput{PermissionIDs: []int64{createRoleID}})
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("repeated permission ids collapse before storage", func(t *testing.T) {
		repo, svc, byName := setup(t)
		actor := accessWithRank(1, 1, rbac.PermReadUser)

		var readUserID int64
		for _, p := range repo.catalog {
			if p.Name == rbac.PermReadUser {
				readUserID = p.ID
			}
		}

		updated, err := svc.Update(context.Background(), actor, byName["Viewer"].ID, UpdateRoleInput{
			PermissionIDs: []int64{readUserID, readUserID},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{readUserID}, repo.rolePerms[byName["Viewer"].ID])
		require.Len(t, updated.Permissions, 1)
	})
}

func TestDeleteRole(t *testing.T) {
	setup := func(t *testing.T) (*fakeRepo, *Service, map[string]*Role) {
		t.Helper()
		repo := newFakeRepo()
		byName := map[string]*Role{
			"Super Admin": repo.seed("Super Admin", 1),
			"Admin":       repo.seed("Admin", 2),
			"Viewer":      repo.seed("Viewer", 3),
		}
		return repo, NewService(repo, nil), byName
	}

	t.Run("delete closes the rank gap", func(t *testing.T) {
		repo, svc, byName := setup(t)
		err := svc.Delete(context.Background(), accessWithRank(1, 1), byName["Admin"].ID)
		require.NoError(t, err)

		got := ranks(t, repo)
		assert.Equal(t, 1, got["Super Admin"])
		assert.Equal(t, 2, got["Viewer"])
		requireDense(t, repo)
	})

	t.Run("role held by users cannot be deleted", func(t *testing.T) {
		repo, svc, byName := setup(t)
		repo.holders[byName["Viewer"].ID] = 2

		err := svc.Delete(context.Background(), accessWithRank(1, 1), byName["Viewer"].ID)
		assert.ErrorIs(t, err, httpx.ErrConflict)
		requireDense(t, repo)
	})

	t.Run("equal rank is not enough to delete", func(t *testing.T) {
		_, svc, byName := setup(t)
		err := svc.Delete(context.Background(), accessWithRank(2, 2), byName["Admin"].ID)
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("strictly stronger actor may delete", func(t *testing.T) {
		_, svc, byName := setup(t)
		err := svc.Delete(context.Background(), accessWithRank(2, 2), byName["Viewer"].ID)
		assert.NoError(t, err)
	})

	t.Run("roleless actor is forbidden", func(t *testing.T) {
		_, svc, byName := setup(t)
		anon := rbac.NewAccess(rbac.Identity{ID: 9}, nil, nil, rbac.Claims{})
		err := svc.Delete(context.Background(), anon, byName["Viewer"].ID)
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("unknown role is not found", func(t *testing.T) {
		_, svc, _ := setup(t)
		err := svc.Delete(context.Background(), accessWithRank(1, 1), 999)
		assert.ErrorIs(t, err, httpx.ErrNotFound)
	})
}
