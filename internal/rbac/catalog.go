package rbac

// Grantable permission names. The catalog is seeded once and never mutated by
// ordinary flows.
const (
	PermReadUser   = "read_user"
	PermCreateUser = "create_user"
	PermUpdateUser = "update_user"
	PermDeleteUser = "delete_user"

	PermReadRole   = "read_role"
	PermCreateRole = "create_role"
	PermUpdateRole = "update_role"
	PermDeleteRole = "delete_role"
)

// CatalogEntry pairs a permission name with its display label.
type CatalogEntry struct {
	Name  string
	Label string
}

// Catalog lists every grantable permission.
func Catalog() []CatalogEntry {
	return []CatalogEntry{
		{Name: PermReadUser, Label: "Read users"},
		{Name: PermCreateUser, Label: "Create users"},
		{Name: PermUpdateUser, Label: "Update users"},
		{Name: PermDeleteUser, Label: "Delete users"},
		{Name: PermReadRole, Label: "Read roles"},
		{Name: PermCreateRole, Label: "Create roles"},
		{Name: PermUpdateRole, Label: "Update roles"},
		{Name: PermDeleteRole, Label: "Delete roles"},
	}
}
