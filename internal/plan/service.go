// internal/plan/service.go
package plan

import (
	"context"

	"github.com/google/uuid"
)

// Service manages the plan catalog.
type Service interface {
	CreatePlan(ctx context.Context, in Input) (*Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	UpdatePlan(ctx context.Context, id uuid.UUID, in Input) (*Plan, error)
	// DeletePlan fails with a conflict while bookings reference the plan;
	// deactivate it instead.
	DeletePlan(ctx context.Context, id uuid.UUID) error
}
