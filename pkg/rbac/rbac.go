// Package rbac generalizes the teacher's inline three-role access matrix
// (pkg/netconf/server.go's checkRBAC) into an Authorizer interface, so the
// dispatcher (C4) and the subtree filter (C3, which must consult per-node
// read authorization rather than one per-RPC check) can share a policy
// without depending on a concrete role map.
package rbac

// Role names match the teacher's RoleReadOnly/RoleOperator/RoleAdmin
// constants.
const (
	RoleReadOnly = "read-only"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Authorizer decides whether a role may perform an RPC operation, and
// whether a role may read a given instance-identifier path. CanRead backs
// the subtree/XPath filter's per-node access check (spec.md §8 property 6:
// access-denied subtrees are dropped silently, not surfaced as an error).
type Authorizer interface {
	Allowed(role, operation string) bool
	CanRead(role, path string) bool
}

// StaticAuthorizer is the teacher's three-role matrix, kept as the default
// implementation. CanRead has no router-specific path restrictions in the
// teacher (it never filtered by role at that granularity), so it grants
// read access to any role that can perform "get"/"get-config" at all.
type StaticAuthorizer struct {
	ReadOnlyOps map[string]bool
	OperatorOps map[string]bool
	AdminOps    map[string]bool
}

// DefaultAuthorizer reconstructs the teacher's exact RBAC matrix from
// server.go's checkRBAC, extended with the C5 operations the teacher never
// implemented (validate, commit-family already present; lock/unlock
// already present; kill-session admin-only already present).
func DefaultAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{
		ReadOnlyOps: set("get-config", "get"),
		OperatorOps: set(
			"get-config", "get", "lock", "unlock", "edit-config", "validate",
			"commit", "cancel-commit", "discard-changes", "copy-config",
			"delete-config", "close-session",
		),
		AdminOps: set(
			"get-config", "get", "lock", "unlock", "edit-config", "validate",
			"commit", "cancel-commit", "discard-changes", "copy-config",
			"delete-config", "close-session", "kill-session",
		),
	}
}

func set(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

func (a *StaticAuthorizer) Allowed(role, operation string) bool {
	switch role {
	case RoleReadOnly:
		return a.ReadOnlyOps[operation]
	case RoleOperator:
		return a.OperatorOps[operation]
	case RoleAdmin:
		return a.AdminOps[operation]
	default:
		return false
	}
}

func (a *StaticAuthorizer) CanRead(role, path string) bool {
	return a.Allowed(role, "get") || a.Allowed(role, "get-config")
}
