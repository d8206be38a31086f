package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fitjourney/internal/identity"
)

func TestDefaultPolicyMatch(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		public bool
	}{
		{"/auth/login", "/auth", true},
		{"/auth", "/auth", true},
		{"/admin/users", "/admin", false},
		{"/trainer/classes/1/bookings", "/trainer", false},
		{"/member/classes/book", "/member", false},
		{"/plans", "/", false},
		{"/me/password", "/", false},
		{"/authority", "/", false},
		{"/member/../admin/users", "/admin", false},
		{"//admin//users", "/admin", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule := DefaultPolicy.Match(tt.path)
			assert.Equal(t, tt.prefix, rule.Prefix)
			assert.Equal(t, tt.public, rule.Public)
		})
	}
}

func TestRuleAllows(t *testing.T) {
	roles := []identity.Role{identity.RoleMember, identity.RoleTrainer, identity.RoleAdmin}

	expected := map[string]map[identity.Role]bool{
		"/admin":   {identity.RoleAdmin: true},
		"/trainer": {identity.RoleTrainer: true},
		"/member":  {identity.RoleMember: true},
		"/":        {identity.RoleMember: true, identity.RoleTrainer: true, identity.RoleAdmin: true},
	}

	for prefix, allowed := range expected {
		rule := DefaultPolicy.Match(prefix + "/x")
		for _, role := range roles {
			assert.Equal(t, allowed[role], rule.Allows(role), "%s as %s", prefix, role)
		}
	}
}
