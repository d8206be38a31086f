// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/logging"
)

// service implements the Service interface.
type service struct {
	db  *sql.DB
	log *logging.Logger
	now func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(db *sql.DB, log *logging.Logger) Service {
	return &service{db: db, log: log, now: time.Now}
}

const sessionSelect = `
	SELECT s.id, s.trainer_id, i.full_name, s.name, s.description, s.scheduled_at, s.max_capacity,
		(SELECT COUNT(*) FROM class_bookings b WHERE b.session_id = s.id AND b.status = 'active'),
		s.created_at, s.updated_at
	FROM class_sessions s
	JOIN identities i ON i.id = s.trainer_id
`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	s := &Session{}
	err := row.Scan(
		&s.ID,
		&s.TrainerID,
		&s.TrainerName,
		&s.Name,
		&s.Description,
		&s.ScheduledAt,
		&s.MaxCapacity,
		&s.Booked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) validate(in *SessionInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.New(apperr.ErrValidation, "name is required")
	}
	if in.ScheduledAt.IsZero() {
		return apperr.New(apperr.ErrValidation, "scheduled_at is required")
	}
	if !in.ScheduledAt.After(s.now()) {
		return apperr.New(apperr.ErrValidation, "scheduled_at must be in the future")
	}
	if in.MaxCapacity != nil && *in.MaxCapacity < 1 {
		return apperr.New(apperr.ErrValidation, "max_capacity must be at least 1")
	}
	return nil
}

// CreateSession schedules a new class owned by trainerID.
func (s *service) CreateSession(ctx context.Context, trainerID uuid.UUID, in SessionInput) (*Session, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO class_sessions (id, trainer_id, name, description, scheduled_at, max_capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, id, trainerID, in.Name, in.Description, in.ScheduledAt.UTC(), nullableInt(in.MaxCapacity))
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	s.log.WithContext(ctx).WithField("session_id", id).Info("class session created")
	return s.GetSession(ctx, id)
}

// GetSession retrieves a session by its ID.
func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, sessionSelect+`WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "class session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// OwnedSession loads a session and checks that trainerID owns it.
func (s *service) OwnedSession(ctx context.Context, trainerID, id uuid.UUID) (*Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TrainerID != trainerID {
		return nil, apperr.New(apperr.ErrForbidden, "class session belongs to another trainer")
	}
	return session, nil
}

func (s *service) ListByTrainer(ctx context.Context, trainerID uuid.UUID) ([]Session, error) {
	return s.list(ctx, sessionSelect+`WHERE s.trainer_id = $1 ORDER BY s.scheduled_at`, trainerID)
}

func (s *service) ListUpcoming(ctx context.Context, now time.Time) ([]Session, error) {
	return s.list(ctx, sessionSelect+`WHERE s.scheduled_at > $1 ORDER BY s.scheduled_at`, now.UTC())
}

func (s *service) list(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSession replaces the editable fields of a session owned by trainerID.
// Lowering the capacity below the current occupancy keeps existing bookings.
func (s *service) UpdateSession(ctx context.Context, trainerID, id uuid.UUID, in SessionInput) (*Session, error) {
	if _, err := s.OwnedSession(ctx, trainerID, id); err != nil {
		return nil, err
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	query := `
		UPDATE class_sessions
		SET name = $3, description = $4, scheduled_at = $5, max_capacity = $6, updated_at = NOW()
		WHERE id = $1 AND trainer_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, id, trainerID, in.Name, in.Description, in.ScheduledAt.UTC(), nullableInt(in.MaxCapacity))
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, apperr.New(apperr.ErrNotFound, "class session not found")
	}

	s.log.WithContext(ctx).WithField("session_id", id).Info("class session updated")
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session owned by trainerID together with its
// cancelled bookings and their events. Sessions that still have active bookings are kept.
func (s *service) DeleteSession(ctx context.Context, trainerID, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT trainer_id FROM class_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.ErrNotFound, "class session not found")
		}
		return fmt.Errorf("failed to lock session: %w", err)
	}
	if owner != trainerID {
		return apperr.New(apperr.ErrForbidden, "class session belongs to another trainer")
	}

	var active int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM class_bookings WHERE session_id = $1 AND status = 'active'`, id).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to count bookings: %w", err)
	}
	if active > 0 {
		return apperr.New(apperr.ErrConflict, fmt.Sprintf("class session has %d active bookings", active))
	}

	// Bookings go with the session through ON DELETE CASCADE; their events
	// have no foreign key and are removed here.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM booking_events
		WHERE aggregate_id IN (SELECT id FROM class_bookings WHERE session_id = $1)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM class_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.log.WithContext(ctx).WithField("session_id", id).Info("class session deleted")
	return nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
