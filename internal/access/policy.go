// internal/access/policy.go

// Package access decides, per request, whether the caller may invoke a route.
// Decisions are made by an ordered list of pure stages so the policy can be
// tested without an HTTP server.
package access

import (
	"path"
	"slices"
	"strings"

	"fitjourney/internal/identity"
)

// Rule binds a route prefix to the roles allowed under it. A nil Roles slice
// admits any authenticated identity.
type Rule struct {
	Prefix string
	Public bool
	Roles  []identity.Role
}

// Policy is evaluated top-down; the first matching rule wins.
type Policy struct {
	Rules    []Rule
	Fallback Rule
}

// DefaultPolicy is the route table of the API.
var DefaultPolicy = Policy{
	Rules: []Rule{
		{Prefix: "/auth", Public: true},
		{Prefix: "/admin", Roles: []identity.Role{identity.RoleAdmin}},
		{Prefix: "/trainer", Roles: []identity.Role{identity.RoleTrainer}},
		{Prefix: "/member", Roles: []identity.Role{identity.RoleMember}},
	},
	Fallback: Rule{Prefix: "/"},
}

// Match returns the rule governing urlPath.
func (p Policy) Match(urlPath string) Rule {
	clean := path.Clean("/" + urlPath)
	for _, rule := range p.Rules {
		if clean == rule.Prefix || strings.HasPrefix(clean, rule.Prefix+"/") {
			return rule
		}
	}
	return p.Fallback
}

// Allows reports whether role satisfies the rule.
func (r Rule) Allows(role identity.Role) bool {
	if r.Public || r.Roles == nil {
		return true
	}
	return slices.Contains(r.Roles, role)
}
