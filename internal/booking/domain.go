// internal/booking/domain.go
package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking. The only transition is
// active -> cancelled; cancelled is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// ClassBooking is a member's seat in a class session.
type ClassBooking struct {
	ID          uuid.UUID  `json:"id"`
	MemberID    uuid.UUID  `json:"member_id"`
	MemberName  string     `json:"member_name,omitempty"`
	SessionID   uuid.UUID  `json:"session_id"`
	SessionName string     `json:"session_name,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	BookedAt    time.Time  `json:"booked_at"`
	Status      Status     `json:"status"`
	// Present is nil until the trainer records attendance.
	Present     *bool      `json:"present"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int        `json:"-"`
}

// Active reports whether the booking still holds its seat.
func (b *ClassBooking) Active() bool { return b.Status == StatusActive }

// PlanBooking is a member's subscription to a plan. Payment is simulated.
type PlanBooking struct {
	ID               uuid.UUID  `json:"id"`
	MemberID         uuid.UUID  `json:"member_id"`
	PlanID           uuid.UUID  `json:"plan_id"`
	PlanName         string     `json:"plan_name,omitempty"`
	BookedAt         time.Time  `json:"booked_at"`
	PaymentCompleted bool       `json:"payment_completed"`
	PaymentReference string     `json:"payment_reference"`
	Status           Status     `json:"status"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	Version          int        `json:"-"`
}

func (b *PlanBooking) Active() bool { return b.Status == StatusActive }

// PlanRequest carries the fields of a plan booking.
type PlanRequest struct {
	PlanID           uuid.UUID `json:"plan_id"`
	PaymentCompleted *bool     `json:"payment_completed"`
	PaymentReference string    `json:"payment_reference"`
}

const (
	AggregateClassBooking = "class_booking"
	AggregatePlanBooking  = "plan_booking"

	EventClassBooked        = "ClassBooked"
	EventClassCancelled     = "ClassBookingCancelled"
	EventAttendanceRecorded = "AttendanceRecorded"
	EventPlanBooked         = "PlanBooked"
	EventPlanCancelled      = "PlanBookingCancelled"
)

// ClassBookedEvent is recorded when a seat is reserved.
type ClassBookedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	MemberID  uuid.UUID `json:"member_id"`
	SessionID uuid.UUID `json:"session_id"`
	BookedAt  time.Time `json:"booked_at"`
}

// CancelledEvent is recorded when a class or plan booking is cancelled.
type CancelledEvent struct {
	BookingID   uuid.UUID `json:"booking_id"`
	MemberID    uuid.UUID `json:"member_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// AttendanceRecordedEvent is recorded each time a trainer marks attendance.
type AttendanceRecordedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	Present   bool      `json:"present"`
	MarkedBy  uuid.UUID `json:"marked_by"`
}

// PlanBookedEvent is recorded when a member subscribes to a plan.
type PlanBookedEvent struct {
	BookingID        uuid.UUID `json:"booking_id"`
	MemberID         uuid.UUID `json:"member_id"`
	PlanID           uuid.UUID `json:"plan_id"`
	PaymentCompleted bool      `json:"payment_completed"`
	PaymentReference string    `json:"payment_reference"`
}
