// internal/revenue/implementation.go
package revenue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

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

const recordColumns = `id, revenue_date, income_from_plans, trainer_salaries, equipment_costs, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	r := &Record{}
	var day time.Time
	err := row.Scan(&r.ID, &day, &r.IncomeFromPlans, &r.TrainerSalaries, &r.EquipmentCosts, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.RevenueDate = day.Format(DateLayout)
	r.Profit = math.Round((r.IncomeFromPlans-r.TrainerSalaries-r.EquipmentCosts)*100) / 100
	return r, nil
}

// ParseDate parses a YYYY-MM-DD day.
func ParseDate(s string) (time.Time, error) {
	day, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.New(apperr.ErrValidation, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
	}
	return day, nil
}

func validate(in Input) (time.Time, error) {
	if strings.TrimSpace(in.RevenueDate) == "" {
		return time.Time{}, apperr.New(apperr.ErrValidation, "revenue_date is required")
	}
	day, err := ParseDate(in.RevenueDate)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case in.IncomeFromPlans < 0:
		return time.Time{}, apperr.New(apperr.ErrValidation, "income_from_plans must not be negative")
	case in.TrainerSalaries < 0:
		return time.Time{}, apperr.New(apperr.ErrValidation, "trainer_salaries must not be negative")
	case in.EquipmentCosts < 0:
		return time.Time{}, apperr.New(apperr.ErrValidation, "equipment_costs must not be negative")
	}
	return day, nil
}

func dayTaken(day time.Time) error {
	return apperr.New(apperr.ErrConflict, fmt.Sprintf("revenue for %s is already recorded", day.Format(DateLayout)))
}

func (s *service) CreateRecord(ctx context.Context, in Input) (*Record, error) {
	day, err := validate(in)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO revenues (id, revenue_date, income_from_plans, trainer_salaries, equipment_costs)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + recordColumns
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, uuid.New(), day, in.IncomeFromPlans, in.TrainerSalaries, in.EquipmentCosts))
	if err != nil {
		if database.IsUniqueViolation(err, "revenues_revenue_date_key") {
			return nil, dayTaken(day)
		}
		return nil, fmt.Errorf("failed to insert revenue: %w", err)
	}

	s.log.WithContext(ctx).WithField("revenue_date", r.RevenueDate).Info("revenue recorded")
	return r, nil
}

func (s *service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM revenues WHERE id = $1`, id)
}

func (s *service) GetByDate(ctx context.Context, day time.Time) (*Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM revenues WHERE revenue_date = $1`, day)
}

func (s *service) getOne(ctx context.Context, query string, arg any) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "revenue record not found")
		}
		return nil, fmt.Errorf("failed to get revenue: %w", err)
	}
	return r, nil
}

// ListRecords returns records inside rng, earliest day first.
func (s *service) ListRecords(ctx context.Context, rng Range) ([]Record, error) {
	if rng.From != nil && rng.To != nil && rng.To.Before(*rng.From) {
		return nil, apperr.New(apperr.ErrValidation, "to must not be before from")
	}

	var (
		where []string
		args  []any
	)
	if rng.From != nil {
		args = append(args, *rng.From)
		where = append(where, fmt.Sprintf("revenue_date >= $%d", len(args)))
	}
	if rng.To != nil {
		args = append(args, *rng.To)
		where = append(where, fmt.Sprintf("revenue_date <= $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM revenues`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY revenue_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list revenue: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *service) UpdateRecord(ctx context.Context, id uuid.UUID, in Input) (*Record, error) {
	day, err := validate(in)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE revenues
		SET revenue_date = $2, income_from_plans = $3, trainer_salaries = $4,
			equipment_costs = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + recordColumns
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, id, day, in.IncomeFromPlans, in.TrainerSalaries, in.EquipmentCosts))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, apperr.New(apperr.ErrNotFound, "revenue record not found")
		case database.IsUniqueViolation(err, "revenues_revenue_date_key"):
			return nil, dayTaken(day)
		}
		return nil, fmt.Errorf("failed to update revenue: %w", err)
	}
	return r, nil
}

func (s *service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revenues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete revenue: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.ErrNotFound, "revenue record not found")
	}

	s.log.WithContext(ctx).WithField("revenue_id", id).Info("revenue record deleted")
	return nil
}
