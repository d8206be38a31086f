// internal/identity/service.go
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Service owns identities and the authentication gate.
type Service interface {
	Register(ctx context.Context, reg Registration) (*Identity, error)
	// IssueToken authenticates username and password and returns a signed
	// token. Unknown users, inactive users and wrong passwords are
	// indistinguishable to the caller.
	IssueToken(ctx context.Context, username, password string) (*Token, error)
	ValidateToken(raw string) (*Principal, error)
	ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error

	GetIdentity(ctx context.Context, id uuid.UUID) (*Identity, error)
	ListIdentities(ctx context.Context, role *Role) ([]Identity, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Identity, error)
	SetRole(ctx context.Context, id uuid.UUID, role Role) (*Identity, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error

	// CreateIdentity is the admin counterpart of Register and may create
	// ADMIN accounts.
	CreateIdentity(ctx context.Context, reg Registration) (*Identity, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Identity, error)
	// SetPhotoURL records where the identity's photo is served from. A nil
	// url clears it.
	SetPhotoURL(ctx context.Context, id uuid.UUID, url *string) (*Identity, error)
}
