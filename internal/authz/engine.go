package authz

import "strings"

// Permission strings take the form "action:resource". Either part may be the
// wildcard "*", and the bare "*" grants everything. A permission may be bound
// to a single tenant with the "tenant:<id>:action:resource" form, in which
// case it only matches subjects carrying that tenant.
const (
	PermRevokeAnyKey   = "revoke:any-key"
	PermDeactivateUser = "deactivate:user"
	PermReadAudit      = "read:audit"
)

// Subject is the identity being checked: a user (roles from its account) or
// an API key (no roles; scopes are matched directly with ScopesAllow).
type Subject struct {
	ID       string
	TenantID string
	Roles    []string
}

// Engine evaluates role-based permission predicates. Evaluation fails closed:
// an unknown role, an empty rule set, or no matching permission all deny.
type Engine struct {
	roles map[string][]string
}

// NewEngine creates an engine with the built-in role table. The admin-only
// permissions (revoke:any-key, deactivate:user, read:audit) are granted
// explicitly rather than through a catch-all wildcard.
func NewEngine() *Engine {
	return &Engine{
		roles: map[string][]string{
			"admin": {
				"read:*",
				"write:*",
				PermRevokeAnyKey,
				PermDeactivateUser,
				PermReadAudit,
			},
			"editor": {
				"read:*",
				"write:entities",
				"write:documents",
				"write:graph",
			},
			"viewer": {
				"read:entities",
				"read:documents",
				"read:graph",
			},
		},
	}
}

// Evaluate reports whether the subject may perform action on resource.
func (e *Engine) Evaluate(sub Subject, resource, action string) bool {
	for _, role := range sub.Roles {
		for _, perm := range e.roles[role] {
			if match(perm, sub.TenantID, resource, action) {
				return true
			}
		}
	}
	return false
}

// ScopesAllow checks an explicit scope list (API key scopes) against the same
// permission grammar.
func (e *Engine) ScopesAllow(scopes []string, tenantID, resource, action string) bool {
	for _, scope := range scopes {
		if match(scope, tenantID, resource, action) {
			return true
		}
	}
	return false
}

// Covers reports whether the subject's own grants subsume scope, so a scope
// delegated to an API key can never exceed what its owner may do directly.
func (e *Engine) Covers(sub Subject, scope string) bool {
	for _, role := range sub.Roles {
		for _, perm := range e.roles[role] {
			if covers(perm, scope) {
				return true
			}
		}
	}
	return false
}

// covers is subsumption, not matching: every request scope admits must also be
// admitted by perm. A wildcard in the scope therefore needs an equal-or-wider
// wildcard in the perm.
func covers(perm, scope string) bool {
	if perm == "*" {
		return true
	}
	if scope == "*" {
		return false
	}

	if rest, ok := strings.CutPrefix(perm, "tenant:"); ok {
		permTenant, permInner, found := strings.Cut(rest, ":")
		if !found || permTenant == "" {
			return false
		}
		// A tenant-bound grant only covers a scope bound to the same tenant.
		scopeRest, ok := strings.CutPrefix(scope, "tenant:")
		if !ok {
			return false
		}
		scopeTenant, scopeInner, found := strings.Cut(scopeRest, ":")
		if !found || scopeTenant != permTenant {
			return false
		}
		return covers(permInner, scopeInner)
	}
	// An unbound grant covers the same scope narrowed to any one tenant.
	if rest, ok := strings.CutPrefix(scope, "tenant:"); ok {
		_, scopeInner, found := strings.Cut(rest, ":")
		if !found {
			return false
		}
		scope = scopeInner
	}

	permAction, permResource, ok := strings.Cut(perm, ":")
	if !ok {
		return false
	}
	scopeAction, scopeResource, ok := strings.Cut(scope, ":")
	if !ok {
		return false
	}

	if permAction != "*" && (scopeAction == "*" || permAction != scopeAction) {
		return false
	}
	if permResource != "*" && (scopeResource == "*" || permResource != scopeResource) {
		return false
	}
	return true
}

func match(perm, tenantID, resource, action string) bool {
	if perm == "*" {
		return true
	}

	// Tenant-scoped permissions only apply to subjects bound to that tenant.
	if rest, ok := strings.CutPrefix(perm, "tenant:"); ok {
		scopeTenant, scoped, found := strings.Cut(rest, ":")
		if !found || scopeTenant == "" || scopeTenant != tenantID {
			return false
		}
		perm = scoped
	}

	permAction, permResource, found := strings.Cut(perm, ":")
	if !found {
		return false
	}

	if permAction != "*" && permAction != action {
		return false
	}
	if permResource != "*" && permResource != resource {
		return false
	}
	return true
}
