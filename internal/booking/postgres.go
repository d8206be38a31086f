// internal/booking/postgres.go
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/database"
	"fitjourney/internal/eventstore"
	"fitjourney/internal/logging"
)

const activeBookingIndex = "class_bookings_one_active_idx"

// PostgresStore keeps bookings in Postgres. Reservations lock the session row
// so that concurrent reservations for one session serialize across processes;
// the partial unique index on active bookings backs the duplicate check.
type PostgresStore struct {
	db     *sql.DB
	events *eventstore.EventStore
}

func NewPostgresStore(db *sql.DB, events *eventstore.EventStore) *PostgresStore {
	return &PostgresStore{db: db, events: events}
}

const classBookingSelect = `
	SELECT b.id, b.member_id, i.full_name, b.session_id, s.name, s.scheduled_at,
		b.booked_at, b.status, b.present, b.cancelled_at, b.version
	FROM class_bookings b
	JOIN identities i ON i.id = b.member_id
	JOIN class_sessions s ON s.id = b.session_id
`

const planBookingSelect = `
	SELECT pb.id, pb.member_id, pb.plan_id, p.name, pb.booked_at, pb.payment_completed,
		pb.payment_reference, pb.status, pb.cancelled_at, pb.version
	FROM plan_bookings pb
	JOIN plans p ON p.id = pb.plan_id
`

type scanner interface{ Scan(...any) error }

func scanClassBooking(row scanner) (*ClassBooking, error) {
	b := &ClassBooking{}
	err := row.Scan(
		&b.ID,
		&b.MemberID,
		&b.MemberName,
		&b.SessionID,
		&b.SessionName,
		&b.ScheduledAt,
		&b.BookedAt,
		&b.Status,
		&b.Present,
		&b.CancelledAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanPlanBooking(row scanner) (*PlanBooking, error) {
	b := &PlanBooking{}
	err := row.Scan(
		&b.ID,
		&b.MemberID,
		&b.PlanID,
		&b.PlanName,
		&b.BookedAt,
		&b.PaymentCompleted,
		&b.PaymentReference,
		&b.Status,
		&b.CancelledAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) appendEvent(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, change *Change) error {
	var metadata map[string]interface{}
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		metadata = map[string]interface{}{"trace_id": traceID}
	}

	event, err := eventstore.NewEvent(change.EventType, change.Data, metadata)
	if err != nil {
		return err
	}
	if err := p.events.Append(ctx, tx, aggregateID, aggregateType, expectedVersion, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return apperr.New(apperr.ErrConflict, "booking was modified concurrently")
		}
		return fmt.Errorf("failed to append %s: %w", change.EventType, err)
	}
	return nil
}

// Reserve opens a transaction, locks the session row and hands fn a view of
// the session's bookings. The transaction commits only if fn succeeds.
func (p *PostgresStore) Reserve(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx ReservationTx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var capacity sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT max_capacity FROM class_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.ErrNotFound, "class session not found")
		}
		return fmt.Errorf("failed to lock session: %w", err)
	}

	r := &pgReservation{store: p, tx: tx, sessionID: sessionID}
	if capacity.Valid {
		c := int(capacity.Int64)
		r.capacity = &c
	}

	if err := fn(ctx, r); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	return nil
}

type pgReservation struct {
	store     *PostgresStore
	tx        *sql.Tx
	sessionID uuid.UUID
	capacity  *int
}

func (r *pgReservation) Capacity() *int { return r.capacity }

func (r *pgReservation) CountActive(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM class_bookings WHERE session_id = $1 AND status = 'active'`
	if err := r.tx.QueryRowContext(ctx, query, r.sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return n, nil
}

func (r *pgReservation) HasActive(ctx context.Context, memberID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM class_bookings
			WHERE session_id = $1 AND member_id = $2 AND status = 'active'
		)
	`
	if err := r.tx.QueryRowContext(ctx, query, r.sessionID, memberID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existing booking: %w", err)
	}
	return exists, nil
}

func (r *pgReservation) Insert(ctx context.Context, b *ClassBooking) error {
	query := `
		INSERT INTO class_bookings (id, member_id, session_id, booked_at, status, present, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.tx.ExecContext(ctx, query, b.ID, b.MemberID, b.SessionID, b.BookedAt, b.Status, b.Present, b.Version)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, activeBookingIndex):
			return apperr.New(apperr.ErrDuplicateBooking, "you already have an active booking for this class session")
		case database.IsForeignKeyViolation(err):
			return apperr.New(apperr.ErrNotFound, "member not found")
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return r.store.appendEvent(ctx, r.tx, b.ID, AggregateClassBooking, 0, &Change{
		EventType: EventClassBooked,
		Data: ClassBookedEvent{
			BookingID: b.ID,
			MemberID:  b.MemberID,
			SessionID: b.SessionID,
			BookedAt:  b.BookedAt,
		},
	})
}

func (p *PostgresStore) GetClassBooking(ctx context.Context, id uuid.UUID) (*ClassBooking, error) {
	b, err := scanClassBooking(p.db.QueryRowContext(ctx, classBookingSelect+`WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "booking not found")
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) MutateClassBooking(ctx context.Context, id uuid.UUID, fn func(b *ClassBooking) (*Change, error)) (*ClassBooking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanClassBooking(tx.QueryRowContext(ctx, classBookingSelect+`WHERE b.id = $1 FOR UPDATE OF b`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "booking not found")
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}

	change, err := fn(b)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return b, nil
	}

	expected := b.Version
	b.Version++
	query := `
		UPDATE class_bookings
		SET status = $2, present = $3, cancelled_at = $4, version = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, b.ID, b.Status, b.Present, b.CancelledAt, b.Version); err != nil {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}
	if err := p.appendEvent(ctx, tx, b.ID, AggregateClassBooking, expected, change); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) ListClassBookingsByMember(ctx context.Context, memberID uuid.UUID) ([]ClassBooking, error) {
	return p.listClass(ctx, classBookingSelect+`WHERE b.member_id = $1 ORDER BY s.scheduled_at DESC`, memberID)
}

func (p *PostgresStore) ListClassBookingsBySession(ctx context.Context, sessionID uuid.UUID) ([]ClassBooking, error) {
	return p.listClass(ctx, classBookingSelect+`WHERE b.session_id = $1 ORDER BY b.booked_at`, sessionID)
}

func (p *PostgresStore) listClass(ctx context.Context, query string, args ...any) ([]ClassBooking, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []ClassBooking{}
	for rows.Next() {
		b, err := scanClassBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (p *PostgresStore) InsertPlanBooking(ctx context.Context, b *PlanBooking) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO plan_bookings (id, member_id, plan_id, booked_at, payment_completed, payment_reference, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query, b.ID, b.MemberID, b.PlanID, b.BookedAt, b.PaymentCompleted, b.PaymentReference, b.Status, b.Version)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.New(apperr.ErrNotFound, "member or plan not found")
		}
		return fmt.Errorf("failed to insert plan booking: %w", err)
	}

	err = p.appendEvent(ctx, tx, b.ID, AggregatePlanBooking, 0, &Change{
		EventType: EventPlanBooked,
		Data: PlanBookedEvent{
			BookingID:        b.ID,
			MemberID:         b.MemberID,
			PlanID:           b.PlanID,
			PaymentCompleted: b.PaymentCompleted,
			PaymentReference: b.PaymentReference,
		},
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (p *PostgresStore) MutatePlanBooking(ctx context.Context, id uuid.UUID, fn func(b *PlanBooking) (*Change, error)) (*PlanBooking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanPlanBooking(tx.QueryRowContext(ctx, planBookingSelect+`WHERE pb.id = $1 FOR UPDATE OF pb`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "plan booking not found")
		}
		return nil, fmt.Errorf("failed to lock plan booking: %w", err)
	}

	change, err := fn(b)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return b, nil
	}

	expected := b.Version
	b.Version++
	query := `UPDATE plan_bookings SET status = $2, cancelled_at = $3, version = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, b.ID, b.Status, b.CancelledAt, b.Version); err != nil {
		return nil, fmt.Errorf("failed to update plan booking: %w", err)
	}
	if err := p.appendEvent(ctx, tx, b.ID, AggregatePlanBooking, expected, change); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) ListPlanBookingsByMember(ctx context.Context, memberID uuid.UUID) ([]PlanBooking, error) {
	rows, err := p.db.QueryContext(ctx, planBookingSelect+`WHERE pb.member_id = $1 ORDER BY pb.booked_at DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan bookings: %w", err)
	}
	defer rows.Close()

	bookings := []PlanBooking{}
	for rows.Next() {
		b, err := scanPlanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (p *PostgresStore) History(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	return p.events.Load(ctx, p.db, aggregateID)
}
