package rbac

import (
	"errors"
	"fmt"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
)

// Resource identifies a policy bundle.
type Resource string

// Action names one decision rule within a policy.
type Action string

const (
	ResourceUser Resource = "user"
	ResourceRole Resource = "role"

	ActionViewAny Action = "view_any"
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// Target carries optional action parameters. For user view/update/delete it
// names the subject user so self-rules can apply.
type Target struct {
	UserID int64
}

// Rule decides one (resource, action) pair for an actor.
type Rule func(a *Access, t Target) bool

// ErrNoRule indicates a (resource, action) pair with no registered rule. This
// is a wiring bug, not a denial: it maps to an internal error, never a 403.
var ErrNoRule = errors.New("rbac: no rule registered")

type ruleKey struct {
	resource Resource
	action   Action
}

// rules is the closed dispatch table. Both policies cover every action; the
// exhaustiveness test in policy_test.go keeps it that way.
var rules = map[ruleKey]Rule{
	{ResourceUser, ActionViewAny}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermReadUser)
	},
	{ResourceUser, ActionView}: func(a *Access, t Target) bool {
		return isSelf(a, t) || a.HasPermission(PermReadUser)
	},
	{ResourceUser, ActionCreate}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermCreateUser)
	},
	{ResourceUser, ActionUpdate}: func(a *Access, t Target) bool {
		return isSelf(a, t) || a.HasPermission(PermUpdateUser)
	},
	{ResourceUser, ActionDelete}: func(a *Access, t Target) bool {
		return isSelf(a, t) || a.HasPermission(PermDeleteUser)
	},

	{ResourceRole, ActionViewAny}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermReadRole)
	},
	{ResourceRole, ActionView}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermReadRole)
	},
	{ResourceRole, ActionCreate}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermCreateRole)
	},
	{ResourceRole, ActionUpdate}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermUpdateRole)
	},
	{ResourceRole, ActionDelete}: func(a *Access, _ Target) bool {
		return a.HasPermission(PermDeleteRole)
	},
}

func isSelf(a *Access, t Target) bool {
	id := a.User().ID
	return id != 0 && id == t.UserID
}

// Authorize resolves the rule for (resource, action) and evaluates it for the
// actor. A false rule yields httpx.ErrForbidden; a missing rule yields
// ErrNoRule.
func Authorize(a *Access, resource Resource, action Action, t Target) error {
	rule, ok := rules[ruleKey{resource, action}]
	if !ok {
		return fmt.Errorf("%w for %s.%s", ErrNoRule, resource, action)
	}
	if !rule(a, t) {
		return fmt.Errorf("%w: %s.%s", httpx.ErrForbidden, resource, action)
	}
	return nil
}
