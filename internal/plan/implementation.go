// internal/plan/implementation.go
package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/database"
	"fitjourney/internal/logging"
)

type service struct {
	db  *sql.DB
	log *logging.Logger
}

func NewService(db *sql.DB, log *logging.Logger) Service {
	return &service{db: db, log: log}
}

const planColumns = `id, name, description, price, duration_in_days, active, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*Plan, error) {
	p := &Plan{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.DurationInDays, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func validate(in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return apperr.New(apperr.ErrValidation, "name is required")
	case in.Price < 0:
		return apperr.New(apperr.ErrValidation, "price must not be negative")
	case in.DurationInDays < 1:
		return apperr.New(apperr.ErrValidation, "duration_in_days must be at least 1")
	}
	return nil
}

func (s *service) CreatePlan(ctx context.Context, in Input) (*Plan, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	query := `
		INSERT INTO plans (id, name, description, price, duration_in_days, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + planColumns
	p, err := scanPlan(s.db.QueryRowContext(ctx, query, uuid.New(), in.Name, in.Description, in.Price, in.DurationInDays, active))
	if err != nil {
		return nil, fmt.Errorf("failed to insert plan: %w", err)
	}

	s.log.WithContext(ctx).WithField("plan_id", p.ID).Info("plan created")
	return p, nil
}

func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "plan not found")
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *service) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY price, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// UpdatePlan replaces the plan fields. A nil Active keeps the current flag.
func (s *service) UpdatePlan(ctx context.Context, id uuid.UUID, in Input) (*Plan, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}

	query := `
		UPDATE plans
		SET name = $2, description = $3, price = $4, duration_in_days = $5,
			active = COALESCE($6, active), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + planColumns
	var active sql.NullBool
	if in.Active != nil {
		active = sql.NullBool{Bool: *in.Active, Valid: true}
	}

	p, err := scanPlan(s.db.QueryRowContext(ctx, query, id, in.Name, in.Description, in.Price, in.DurationInDays, active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "plan not found")
		}
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	return p, nil
}

func (s *service) DeletePlan(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.New(apperr.ErrConflict, "plan has bookings; deactivate it instead")
		}
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.ErrNotFound, "plan not found")
	}

	s.log.WithContext(ctx).WithField("plan_id", id).Info("plan deleted")
	return nil
}
