// internal/catalog/service.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the class session catalog.
type Service interface {
	CreateSession(ctx context.Context, trainerID uuid.UUID, in SessionInput) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	// OwnedSession returns the session only if trainerID owns it.
	OwnedSession(ctx context.Context, trainerID, id uuid.UUID) (*Session, error)
	ListByTrainer(ctx context.Context, trainerID uuid.UUID) ([]Session, error)
	// ListUpcoming returns sessions scheduled strictly after now, earliest first.
	ListUpcoming(ctx context.Context, now time.Time) ([]Session, error)
	UpdateSession(ctx context.Context, trainerID, id uuid.UUID, in SessionInput) (*Session, error)
	DeleteSession(ctx context.Context, trainerID, id uuid.UUID) error
}
