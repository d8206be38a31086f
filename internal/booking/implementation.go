// internal/booking/implementation.go
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fitjourney/internal/apperr"
	"fitjourney/internal/eventstore"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
)

// DefaultTimeout bounds every booking operation.
const DefaultTimeout = 5 * time.Second

// service implements the Service interface.
type service struct {
	store    Store
	sessions Sessions
	plans    Plans
	locks    *keyedMutex
	timeout  time.Duration
	log      *logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates a new booking engine.
func NewService(store Store, sessions Sessions, plans Plans, log *logging.Logger, m *metrics.Metrics, timeout time.Duration) Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &service{
		store:    store,
		sessions: sessions,
		plans:    plans,
		locks:    newKeyedMutex(),
		timeout:  timeout,
		log:      log,
		metrics:  m,
		tracer:   otel.Tracer("fitjourney/booking"),
		now:      time.Now,
	}
}

func (s *service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.SetAttributes(attribute.String("error.code", apperr.Code(err)))
			if apperr.KindOf(err) == nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		cancel()
	}
}

// BookClass reserves a seat for memberID in sessionID.
func (s *service) BookClass(ctx context.Context, memberID, sessionID uuid.UUID) (booking *ClassBooking, err error) {
	ctx, end := s.start(ctx, "booking.book_class",
		attribute.String("member.id", memberID.String()),
		attribute.String("session.id", sessionID.String()),
	)
	defer func() {
		s.metrics.RecordClassBooking(outcome(err))
		end(err)
	}()

	// Step 1: Resolve the session
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.ScheduledAt.After(s.now()) {
		return nil, apperr.New(apperr.ErrValidation, "class session has already started")
	}

	// Steps 2-4 run under the session lock so that the checks and the insert
	// form one unit per session.
	waitStart := time.Now()
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer unlock()
	s.metrics.BookingLockWait.Observe(time.Since(waitStart).Seconds())

	err = s.store.Reserve(ctx, sessionID, func(ctx context.Context, tx ReservationTx) error {
		// Step 2: Check capacity
		if capacity := tx.Capacity(); capacity != nil {
			active, err := tx.CountActive(ctx)
			if err != nil {
				return err
			}
			if active >= *capacity {
				return apperr.New(apperr.ErrCapacityExceeded, fmt.Sprintf("class session is full (%d/%d)", active, *capacity))
			}
		}

		// Step 3: Check for an active booking by the same member
		exists, err := tx.HasActive(ctx, memberID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.ErrDuplicateBooking, "you already have an active booking for this class session")
		}

		// Step 4: Create the booking
		scheduledAt := session.ScheduledAt
		booking = &ClassBooking{
			ID:          uuid.New(),
			MemberID:    memberID,
			SessionID:   sessionID,
			SessionName: session.Name,
			ScheduledAt: &scheduledAt,
			BookedAt:    s.now().UTC(),
			Status:      StatusActive,
			Version:     1,
		}
		return tx.Insert(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).WithFields(map[string]any{
		"booking_id": booking.ID,
		"session_id": sessionID,
	}).Info("class booked")
	return booking, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeBooked
	case errors.Is(err, apperr.ErrCapacityExceeded):
		return metrics.OutcomeCapacityExceeded
	case errors.Is(err, apperr.ErrDuplicateBooking):
		return metrics.OutcomeDuplicate
	case errors.Is(err, apperr.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, apperr.ErrValidation):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// CancelBooking cancels a class booking owned by memberID.
func (s *service) CancelBooking(ctx context.Context, memberID, bookingID uuid.UUID) (booking *ClassBooking, err error) {
	ctx, end := s.start(ctx, "booking.cancel_class", attribute.String("booking.id", bookingID.String()))
	defer func() { end(err) }()

	changed := false
	booking, err = s.store.MutateClassBooking(ctx, bookingID, func(b *ClassBooking) (*Change, error) {
		if b.MemberID != memberID {
			return nil, apperr.New(apperr.ErrForbidden, "booking belongs to another member")
		}
		if !b.Active() {
			return nil, nil
		}

		now := s.now().UTC()
		b.Status = StatusCancelled
		b.CancelledAt = &now
		changed = true
		return &Change{
			EventType: EventClassCancelled,
			Data:      CancelledEvent{BookingID: b.ID, MemberID: memberID, CancelledAt: now},
		}, nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			s.log.LogSecurityEvent(ctx, "foreign_booking_cancel", map[string]any{"booking_id": bookingID.String()})
		}
		return nil, err
	}

	if changed {
		s.metrics.RecordCancellation(AggregateClassBooking)
		s.log.WithContext(ctx).WithField("booking_id", bookingID).Info("class booking cancelled")
	}
	return booking, nil
}

func (s *service) ListMemberBookings(ctx context.Context, memberID uuid.UUID) (bookings []ClassBooking, err error) {
	ctx, end := s.start(ctx, "booking.list_member")
	defer func() { end(err) }()

	return s.store.ListClassBookingsByMember(ctx, memberID)
}

// BookingHistory returns the recorded lifecycle events of a class booking
// owned by memberID.
func (s *service) BookingHistory(ctx context.Context, memberID, bookingID uuid.UUID) (events []eventstore.Event, err error) {
	ctx, end := s.start(ctx, "booking.history", attribute.String("booking.id", bookingID.String()))
	defer func() { end(err) }()

	booking, err := s.store.GetClassBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.MemberID != memberID {
		return nil, apperr.New(apperr.ErrForbidden, "booking belongs to another member")
	}
	return s.store.History(ctx, bookingID)
}

// ListBookingsForSession returns every booking of a session, active and
// cancelled, to the trainer who owns it.
func (s *service) ListBookingsForSession(ctx context.Context, trainerID, sessionID uuid.UUID) (bookings []ClassBooking, err error) {
	ctx, end := s.start(ctx, "booking.list_session", attribute.String("session.id", sessionID.String()))
	defer func() { end(err) }()

	if _, err := s.sessions.OwnedSession(ctx, trainerID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListClassBookingsBySession(ctx, sessionID)
}

// MarkAttendance records whether the member attended. Only the trainer who
// owns the session may do so, and only for active bookings.
func (s *service) MarkAttendance(ctx context.Context, trainerID, sessionID, bookingID uuid.UUID, present bool) (booking *ClassBooking, err error) {
	ctx, end := s.start(ctx, "booking.mark_attendance", attribute.String("booking.id", bookingID.String()))
	defer func() { end(err) }()

	if _, err := s.sessions.OwnedSession(ctx, trainerID, sessionID); err != nil {
		return nil, err
	}

	return s.store.MutateClassBooking(ctx, bookingID, func(b *ClassBooking) (*Change, error) {
		if b.SessionID != sessionID {
			return nil, apperr.New(apperr.ErrNotFound, "booking not found for this class session")
		}
		if !b.Active() {
			return nil, apperr.New(apperr.ErrConflict, "attendance cannot be recorded for a cancelled booking")
		}
		if b.Present != nil && *b.Present == present {
			return nil, nil
		}

		b.Present = &present
		return &Change{
			EventType: EventAttendanceRecorded,
			Data:      AttendanceRecordedEvent{BookingID: b.ID, Present: present, MarkedBy: trainerID},
		}, nil
	})
}

// BookPlan subscribes memberID to an active plan. Plans have no seat limit;
// each call creates a new booking.
func (s *service) BookPlan(ctx context.Context, memberID uuid.UUID, req PlanRequest) (booking *PlanBooking, err error) {
	ctx, end := s.start(ctx, "booking.book_plan", attribute.String("plan.id", req.PlanID.String()))
	defer func() { end(err) }()

	p, err := s.plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.New(apperr.ErrValidation, "plan is not available for booking")
	}

	paid := true
	if req.PaymentCompleted != nil {
		paid = *req.PaymentCompleted
	}

	id := uuid.New()
	reference := strings.TrimSpace(req.PaymentReference)
	if reference == "" && paid {
		reference = "SIM-" + strings.ToUpper(id.String()[:8])
	}

	booking = &PlanBooking{
		ID:               id,
		MemberID:         memberID,
		PlanID:           p.ID,
		PlanName:         p.Name,
		BookedAt:         s.now().UTC(),
		PaymentCompleted: paid,
		PaymentReference: reference,
		Status:           StatusActive,
		Version:          1,
	}
	if err := s.store.InsertPlanBooking(ctx, booking); err != nil {
		return nil, err
	}

	s.metrics.PlanBookings.Inc()
	s.log.WithContext(ctx).WithFields(map[string]any{
		"booking_id": booking.ID,
		"plan_id":    p.ID,
	}).Info("plan booked")
	return booking, nil
}

// CancelPlanBooking cancels a plan booking owned by memberID. Idempotent.
func (s *service) CancelPlanBooking(ctx context.Context, memberID, bookingID uuid.UUID) (booking *PlanBooking, err error) {
	ctx, end := s.start(ctx, "booking.cancel_plan", attribute.String("booking.id", bookingID.String()))
	defer func() { end(err) }()

	changed := false
	booking, err = s.store.MutatePlanBooking(ctx, bookingID, func(b *PlanBooking) (*Change, error) {
		if b.MemberID != memberID {
			return nil, apperr.New(apperr.ErrForbidden, "booking belongs to another member")
		}
		if !b.Active() {
			return nil, nil
		}

		now := s.now().UTC()
		b.Status = StatusCancelled
		b.CancelledAt = &now
		changed = true
		return &Change{
			EventType: EventPlanCancelled,
			Data:      CancelledEvent{BookingID: b.ID, MemberID: memberID, CancelledAt: now},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RecordCancellation(AggregatePlanBooking)
	}
	return booking, nil
}

func (s *service) ListMemberPlanBookings(ctx context.Context, memberID uuid.UUID) (bookings []PlanBooking, err error) {
	ctx, end := s.start(ctx, "booking.list_member_plans")
	defer func() { end(err) }()

	return s.store.ListPlanBookingsByMember(ctx, memberID)
}
