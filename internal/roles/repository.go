package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis/internal/platform/db"
	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/rbac"
)

// Repository defines persistence operations for roles and the permission
// catalog. WithTx rebinding lets the service run the shift-then-write
// sequences of the hierarchy engine as one atomic unit.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	List(ctx context.Context) ([]Role, error)
	Get(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, name string, hierarchy int) (*Role, error)
	Update(ctx context.Context, id int64, name string, hierarchy int) error
	Delete(ctx context.Context, id int64) error

	RankOccupied(ctx context.Context, rank int, excludeID int64) (bool, error)
	ShiftUpFrom(ctx context.Context, rank int) error
	ShiftUpRange(ctx context.Context, lo, hi int, excludeID int64) error
	ShiftDownRange(ctx context.Context, lo, hi int, excludeID int64) error
	ShiftDownAfter(ctx context.Context, rank int) error

	SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	PermissionsByID(ctx context.Context, ids []int64) ([]rbac.Permission, error)
	ListCatalog(ctx context.Context) ([]rbac.Permission, error)
	UsersWithRole(ctx context.Context, roleID int64) (int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx runs fn against a repository bound to a Serializable transaction.
// The roles table is the one shared rank space; anything weaker would let two
// concurrent shifts interleave into duplicate or gapped ranks.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, hierarchy, created_at, updated_at FROM roles ORDER BY hierarchy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`SELECT id, name, hierarchy, created_at, updated_at FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
		}
		return nil, err
	}
	perms, err := r.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r *repository) GetByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`SELECT id, name, hierarchy, created_at, updated_at FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %q", httpx.ErrNotFound, name)
		}
		return nil, err
	}
	return &role, nil
}

func (r *repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n)
	return n, err
}

func (r *repository) Create(ctx context.Context, name string, hierarchy int) (*Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`INSERT INTO roles (name, hierarchy) VALUES ($1, $2)
		 RETURNING id, name, hierarchy, created_at, updated_at`,
		name, hierarchy,
	).Scan(&role.ID, &role.Name, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, mapDuplicate(err, name)
	}
	return &role, nil
}

func (r *repository) Update(ctx context.Context, id int64, name string, hierarchy int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE roles SET name = $2, hierarchy = $3, updated_at = now() WHERE id = $1`,
		id, name, hierarchy,
	)
	if err != nil {
		return mapDuplicate(err, name)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *repository) RankOccupied(ctx context.Context, rank int, excludeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE hierarchy = $1 AND id <> $2)`,
		rank, excludeID,
	).Scan(&exists)
	return exists, err
}

// ShiftUpFrom opens a slot at rank by pushing every role at or below it one
// rank weaker. The hierarchy unique constraint is deferred, so the bulk update
// cannot trip over itself mid-statement.
func (r *repository) ShiftUpFrom(ctx context.Context, rank int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE roles SET hierarchy = hierarchy + 1, updated_at = now() WHERE hierarchy >= $1`,
		rank,
	)
	return err
}

// ShiftUpRange increments hierarchy for roles in [lo, hi), excluding the role
// being moved.
func (r *repository) ShiftUpRange(ctx context.Context, lo, hi int, excludeID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE roles SET hierarchy = hierarchy + 1, updated_at = now()
		 WHERE hierarchy >= $1 AND hierarchy < $2 AND id <> $3`,
		lo, hi, excludeID,
	)
	return err
}

// ShiftDownRange decrements hierarchy for roles in (lo, hi], excluding the
// role being moved.
func (r *repository) ShiftDownRange(ctx context.Context, lo, hi int, excludeID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE roles SET hierarchy = hierarchy - 1, updated_at = now()
		 WHERE hierarchy > $1 AND hierarchy <= $2 AND id <> $3`,
		lo, hi, excludeID,
	)
	return err
}

// ShiftDownAfter closes the gap left by a deleted rank.
func (r *repository) ShiftDownAfter(ctx context.Context, rank int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE roles SET hierarchy = hierarchy - 1, updated_at = now() WHERE hierarchy > $1`,
		rank,
	)
	return err
}

func (r *repository) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			roleID, pid,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) PermissionsByID(ctx context.Context, ids []int64) ([]rbac.Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, label FROM permissions WHERE id = ANY($1) ORDER BY id`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (r *repository) ListCatalog(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, label FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (r *repository) UsersWithRole(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (r *repository) rolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id, p.name, p.label
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.id`,
		roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows pgx.Rows) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Label); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// mapDuplicate translates 23505 unique violations. Two constraints can fire
// on the roles table: the name key, and the deferred hierarchy key when a
// concurrent writer claimed the rank between our shift and commit.
func mapDuplicate(err error, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "roles_hierarchy_key" {
			return fmt.Errorf("%w: hierarchy rank for role %q was claimed concurrently", httpx.ErrDuplicate, name)
		}
		return fmt.Errorf("%w: role %q", httpx.ErrDuplicate, name)
	}
	return err
}

var _ Repository = (*repository)(nil)
