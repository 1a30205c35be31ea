// Package auth decides whether a request may invoke a tool. It authenticates
// via an ordered provider chain, authorizes against a wildcard-capable role
// model, enforces rate limits, and keeps an in-memory audit trail.
package auth

import (
	"fmt"
	"strings"
)

// Permission grants (resource, action). Both support a trailing-* wildcard.
// Conditions, when present, must all be satisfied by the request context.
type Permission struct {
	Resource   string
	Action     string
	Conditions map[string]string
}

// Role is a named permission set. Inherited permissions union with direct
// ones.
type Role struct {
	Name        string
	Inherits    []string
	Permissions []Permission
}

// RoleSet holds registered roles and answers permission checks.
type RoleSet struct {
	roles map[string]*Role
}

// NewRoleSet returns an empty role set.
func NewRoleSet() *RoleSet {
	return &RoleSet{roles: make(map[string]*Role)}
}

// Register adds a role. Registration fails if the role's inheritance chain
// would form a cycle through already-registered roles.
func (s *RoleSet) Register(role Role) error {
	if role.Name == "" {
		return fmt.Errorf("role has no name")
	}
	if _, exists := s.roles[role.Name]; exists {
		return fmt.Errorf("role %q already registered", role.Name)
	}

	// Walk the inheritance graph as it would exist with this role added.
	s.roles[role.Name] = &role
	if cycle := s.findCycle(role.Name, map[string]bool{}); cycle != "" {
		delete(s.roles, role.Name)
		return fmt.Errorf("role %q introduces an inheritance cycle through %q", role.Name, cycle)
	}
	return nil
}

// findCycle walks inherits depth-first and returns the first role revisited.
func (s *RoleSet) findCycle(name string, path map[string]bool) string {
	if path[name] {
		return name
	}
	role, ok := s.roles[name]
	if !ok {
		return ""
	}
	path[name] = true
	for _, parent := range role.Inherits {
		if hit := s.findCycle(parent, path); hit != "" {
			return hit
		}
	}
	delete(path, name)
	return ""
}

// Expand resolves the transitive permission set for the given role names.
// Unknown role names contribute nothing.
func (s *RoleSet) Expand(names []string) []Permission {
	seen := make(map[string]bool)
	var out []Permission

	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		role, ok := s.roles[name]
		if !ok {
			return
		}
		out = append(out, role.Permissions...)
		for _, parent := range role.Inherits {
			walk(parent)
		}
	}

	for _, name := range names {
		walk(name)
	}
	return out
}

// Allowed reports whether any permission reachable from roles matches the
// requested (resource, action) with all conditions satisfied. The pseudo-role
// "*" grants everything; the auth-disabled context carries it.
func (s *RoleSet) Allowed(roles []string, resource, action string, reqCtx map[string]string) bool {
	for _, r := range roles {
		if r == "*" {
			return true
		}
	}

	for _, p := range s.Expand(roles) {
		if !matchPattern(p.Resource, resource) || !matchPattern(p.Action, action) {
			continue
		}
		if conditionsSatisfied(p.Conditions, reqCtx) {
			return true
		}
	}
	return false
}

// matchPattern matches value against pattern with trailing-* wildcard
// semantics. "*" matches anything.
func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// conditionsSatisfied checks every condition key against the request context.
func conditionsSatisfied(conds, reqCtx map[string]string) bool {
	for k, want := range conds {
		if reqCtx[k] != want {
			return false
		}
	}
	return true
}
