package plan

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitjourney/internal/apperr"
	"fitjourney/internal/logging"
)

var planCols = []string{"id", "name", "description", "price", "duration_in_days", "active", "created_at", "updated_at"}

func newTestService(t *testing.T) (Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, logging.NewNop()), mock
}

func planRow(id uuid.UUID, name string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(planCols).AddRow(id.String(), name, "", "49.90", 30, active, now, now)
}

func TestCreatePlan(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectQuery("INSERT INTO plans").
		WithArgs(sqlmock.AnyArg(), "Monthly", "", 49.9, 30, true).
		WillReturnRows(planRow(id, "Monthly", true))

	p, err := svc.CreatePlan(context.Background(), Input{Name: "Monthly", Price: 49.9, DurationInDays: 30})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.InDelta(t, 49.9, p.Price, 0.001)
	assert.True(t, p.Active)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatePlan(context.Background(), Input{Name: "", Price: 1, DurationInDays: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreatePlan(context.Background(), Input{Name: "x", Price: -1, DurationInDays: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreatePlan(context.Background(), Input{Name: "x", Price: 1, DurationInDays: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetPlanNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("FROM plans WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetPlan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListPlansActiveOnly(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("FROM plans WHERE active ORDER BY").
		WillReturnRows(planRow(uuid.New(), "Monthly", true))

	plans, err := svc.ListPlans(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestUpdatePlanKeepsActiveFlag(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE plans").
		WithArgs(id, "Annual", "", 399.0, 365, sql.NullBool{}).
		WillReturnRows(planRow(id, "Annual", false))

	p, err := svc.UpdatePlan(context.Background(), id, Input{Name: "Annual", Price: 399, DurationInDays: 365})
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestDeletePlanWithBookings(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectExec("DELETE FROM plans").
		WillReturnError(&pq.Error{Code: "23503"})

	err := svc.DeletePlan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDeletePlanNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectExec("DELETE FROM plans").WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.DeletePlan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
