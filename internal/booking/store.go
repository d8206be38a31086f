// internal/booking/store.go
package booking

import (
	"context"

	"github.com/google/uuid"

	"fitjourney/internal/eventstore"
)

// Change describes the event produced by a mutation. A nil Change means the
// mutation was a no-op and nothing is written.
type Change struct {
	EventType string
	Data      any
}

// Store persists bookings and their events. Every write appends the matching
// lifecycle event atomically with the row change.
type Store interface {
	// Reserve runs fn while holding exclusive access to the session's
	// booking set. Returns a NotFound error if the session does not exist.
	Reserve(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx ReservationTx) error) error

	GetClassBooking(ctx context.Context, id uuid.UUID) (*ClassBooking, error)
	// MutateClassBooking loads the booking under a row lock, applies fn and
	// persists the result if fn returned a non-nil Change.
	MutateClassBooking(ctx context.Context, id uuid.UUID, fn func(b *ClassBooking) (*Change, error)) (*ClassBooking, error)
	ListClassBookingsByMember(ctx context.Context, memberID uuid.UUID) ([]ClassBooking, error)
	ListClassBookingsBySession(ctx context.Context, sessionID uuid.UUID) ([]ClassBooking, error)

	InsertPlanBooking(ctx context.Context, b *PlanBooking) error
	MutatePlanBooking(ctx context.Context, id uuid.UUID, fn func(b *PlanBooking) (*Change, error)) (*PlanBooking, error)
	ListPlanBookingsByMember(ctx context.Context, memberID uuid.UUID) ([]PlanBooking, error)

	History(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
}

// ReservationTx is the view of one session available inside Reserve.
type ReservationTx interface {
	// Capacity is the session's seat limit as read under the lock; nil means unlimited.
	Capacity() *int
	CountActive(ctx context.Context) (int, error)
	HasActive(ctx context.Context, memberID uuid.UUID) (bool, error)
	Insert(ctx context.Context, b *ClassBooking) error
}
