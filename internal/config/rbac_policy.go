package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/filehub/authd/internal/enum"
)

// rbacFile is the HCL document shape of config/rbac_policy.hcl: one `role`
// block per RBAC role, each either `all = true` (spec §6: "Admin=all") or an
// explicit `actions` allow-list plus an optional `deny` list of exceptions
// carved out of it (spec §6: "Manager=all ... except role change of
// admins").
type rbacFile struct {
	Roles []roleBlock `hcl:"role,block"`
}

type roleBlock struct {
	Name    string   `hcl:"name,label"`
	All     bool     `hcl:"all,optional"`
	Actions []string `hcl:"actions,optional"`
	Deny    []string `hcl:"deny,optional"`
}

// RBACPolicy is the parsed, queryable form of config/rbac_policy.hcl.
type RBACPolicy struct {
	roles map[enum.Role]roleRule
}

type roleRule struct {
	all     bool
	actions map[string]struct{}
	deny    map[string]struct{}
}

// LoadRBACPolicy reads and parses config/rbac_policy.hcl.
func LoadRBACPolicy(path string) (*RBACPolicy, error) {
	var doc rbacFile
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse RBAC policy file: %w", err)
	}

	policy := &RBACPolicy{roles: make(map[enum.Role]roleRule, len(doc.Roles))}
	for _, rb := range doc.Roles {
		role, err := enum.ParseRole(strings.ToLower(rb.Name))
		if err != nil {
			return nil, fmt.Errorf("rbac policy: unknown role %q: %w", rb.Name, err)
		}
		rule := roleRule{
			all:     rb.All,
			actions: toSet(rb.Actions),
			deny:    toSet(rb.Deny),
		}
		policy.roles[role] = rule
	}

	return policy, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Allowed reports whether role may perform action (e.g.
// "user:role_change:admin"), per spec §6's RBAC action matrix: a nil policy
// or a role with no block is denied (Admin included), an explicit deny entry
// wins over an `all` or actions-list grant, otherwise membership in the
// actions list decides.
func (p *RBACPolicy) Allowed(role enum.Role, action string) bool {
	if p == nil {
		return false
	}
	rule, ok := p.roles[role]
	if !ok {
		return false
	}
	if _, denied := rule.deny[action]; denied {
		return false
	}
	if rule.all {
		return true
	}
	_, allowed := rule.actions[action]
	return allowed
}
