package revenue

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitjourney/internal/logging"
)

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	svc, mock := newTestService(t)
	r := chi.NewRouter()
	r.Route("/admin/revenue", NewHandler(svc, logging.NewNop()).AdminRoutes)
	return r, mock
}

func TestHandleCreateAndLookupByDate(t *testing.T) {
	router, mock := newTestRouter(t)
	id := uuid.New()

	mock.ExpectQuery("INSERT INTO revenues").
		WillReturnRows(recordRow(id, "2025-03-01", "1500.00", "600.00", "100.00"))
	rec := httptest.NewRecorder()
	body := `{"revenue_date":"2025-03-01","income_from_plans":1500,"trainer_salaries":600,"equipment_costs":100}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/revenue", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profit":800`)

	mock.ExpectQuery("FROM revenues WHERE revenue_date").
		WithArgs(day("2025-03-01")).
		WillReturnRows(recordRow(id, "2025-03-01", "1500.00", "600.00", "100.00"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/revenue/date/2025-03-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revenue_date":"2025-03-01"`)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleBadDates(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{
		"/admin/revenue/date/yesterday",
		"/admin/revenue?from=2025-13-01",
		"/admin/revenue?to=soon",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHandleListAll(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectQuery(`FROM revenues ORDER BY revenue_date`).
		WillReturnRows(recordRow(uuid.New(), "2025-03-01", "1", "0", "0"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/revenue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeleteMissing(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectExec("DELETE FROM revenues").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/revenue/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"revenue record not found","code":"not_found"}`, rec.Body.String())
}
