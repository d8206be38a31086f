// internal/booking/service.go
package booking

import (
	"context"

	"github.com/google/uuid"

	"fitjourney/internal/catalog"
	"fitjourney/internal/eventstore"
	"fitjourney/internal/plan"
)

// Service is the booking engine.
type Service interface {
	BookClass(ctx context.Context, memberID, sessionID uuid.UUID) (*ClassBooking, error)
	// CancelBooking is idempotent: cancelling a cancelled booking succeeds
	// and returns it unchanged.
	CancelBooking(ctx context.Context, memberID, bookingID uuid.UUID) (*ClassBooking, error)
	ListMemberBookings(ctx context.Context, memberID uuid.UUID) ([]ClassBooking, error)
	BookingHistory(ctx context.Context, memberID, bookingID uuid.UUID) ([]eventstore.Event, error)

	ListBookingsForSession(ctx context.Context, trainerID, sessionID uuid.UUID) ([]ClassBooking, error)
	MarkAttendance(ctx context.Context, trainerID, sessionID, bookingID uuid.UUID, present bool) (*ClassBooking, error)

	BookPlan(ctx context.Context, memberID uuid.UUID, req PlanRequest) (*PlanBooking, error)
	CancelPlanBooking(ctx context.Context, memberID, bookingID uuid.UUID) (*PlanBooking, error)
	ListMemberPlanBookings(ctx context.Context, memberID uuid.UUID) ([]PlanBooking, error)
}

// Sessions resolves class sessions. Implemented by catalog.Service.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*catalog.Session, error)
	OwnedSession(ctx context.Context, trainerID, id uuid.UUID) (*catalog.Session, error)
}

// Plans resolves plans. Implemented by plan.Service.
type Plans interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
}
