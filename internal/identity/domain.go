// internal/identity/domain.go
package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role determines which route families an identity may invoke.
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleTrainer Role = "TRAINER"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleMember, RoleTrainer, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Identity is a registered gym user.
type Identity struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	PhotoURL     *string   `json:"photo_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is the verified identity carried by a valid token.
type Principal struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
}

// Token is the result of a successful login.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      Role      `json:"role"`
}

// Registration carries the fields accepted by Register.
type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// ProfileUpdate carries the admin-editable profile fields. An empty Role or
// Password leaves the stored value unchanged.
type ProfileUpdate struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Password string `json:"password,omitempty"`
}
