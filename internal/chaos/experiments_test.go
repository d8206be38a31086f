package chaos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitjourney/internal/apperr"
	"fitjourney/internal/booking"
	"fitjourney/internal/catalog"
	"fitjourney/internal/clients"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
)

// fakeGym is a minimal in-memory rendition of the booking API.
type fakeGym struct {
	mu       sync.Mutex
	users    map[string]uuid.UUID
	capacity map[uuid.UUID]*int
	bookings map[uuid.UUID]*booking.ClassBooking
}

func newFakeGym() *fakeGym {
	return &fakeGym{
		users:    make(map[string]uuid.UUID),
		capacity: make(map[uuid.UUID]*int),
		bookings: make(map[uuid.UUID]*booking.ClassBooking),
	}
}

func (g *fakeGym) caller(r *http.Request) uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.users[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
}

func (g *fakeGym) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var reg identity.Registration
		_ = json.NewDecoder(r.Body).Decode(&reg)
		id := uuid.New()
		g.mu.Lock()
		g.users[reg.Username] = id
		g.mu.Unlock()
		httpx.WriteJSON(w, http.StatusOK, identity.Identity{ID: id, Username: reg.Username})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		httpx.WriteJSON(w, http.StatusOK, identity.Token{Token: in["username"]})
	})
	mux.HandleFunc("POST /trainer/classes", func(w http.ResponseWriter, r *http.Request) {
		var in catalog.SessionInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		s := catalog.Session{ID: uuid.New(), Name: in.Name, MaxCapacity: in.MaxCapacity}
		g.mu.Lock()
		g.capacity[s.ID] = in.MaxCapacity
		g.mu.Unlock()
		httpx.WriteJSON(w, http.StatusCreated, s)
	})
	mux.HandleFunc("DELETE /trainer/classes/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := uuid.MustParse(r.PathValue("id"))
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.active(id) > 0 {
			httpx.WriteError(w, apperr.New(apperr.ErrConflict, "session has active bookings"))
			return
		}
		delete(g.capacity, id)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /member/classes/book", func(w http.ResponseWriter, r *http.Request) {
		member := g.caller(r)
		var in struct {
			SessionID uuid.UUID `json:"session_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)

		g.mu.Lock()
		defer g.mu.Unlock()
		if c := g.capacity[in.SessionID]; c != nil && g.active(in.SessionID) >= *c {
			httpx.WriteError(w, apperr.New(apperr.ErrCapacityExceeded, "class is full"))
			return
		}
		for _, b := range g.bookings {
			if b.SessionID == in.SessionID && b.MemberID == member && b.Active() {
				httpx.WriteError(w, apperr.New(apperr.ErrDuplicateBooking, "already booked"))
				return
			}
		}
		b := &booking.ClassBooking{ID: uuid.New(), MemberID: member, SessionID: in.SessionID, Status: booking.StatusActive}
		g.bookings[b.ID] = b
		httpx.WriteJSON(w, http.StatusOK, b)
	})
	mux.HandleFunc("DELETE /member/classes/bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := uuid.MustParse(r.PathValue("id"))
		g.mu.Lock()
		defer g.mu.Unlock()
		if b, ok := g.bookings[id]; ok {
			b.Status = booking.StatusCancelled
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (g *fakeGym) active(sessionID uuid.UUID) int {
	n := 0
	for _, b := range g.bookings {
		if b.SessionID == sessionID && b.Active() {
			n++
		}
	}
	return n
}

func (g *fakeGym) activeTotal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, b := range g.bookings {
		if b.Active() {
			n++
		}
	}
	return n
}

func newTarget(t *testing.T) (*Target, sqlmock.Sqlmock, *fakeGym) {
	t.Helper()
	gym := newFakeGym()
	srv := httptest.NewServer(gym.handler())
	t.Cleanup(srv.Close)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewTarget(clients.NewClient(srv.URL, srv.Client()), db, logging.NewNop()), mock, gym
}

func expectCount(mock sqlmock.Sqlmock, query string, n int) {
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestOverbookedSessionsQuery(t *testing.T) {
	target, mock, _ := newTarget(t)
	expectCount(mock, `SELECT COUNT\(\*\) FROM class_sessions s`, 2)

	v, err := target.OverbookedSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverbookingExperiment(t *testing.T) {
	target, mock, gym := newTarget(t)

	// Steady state: global invariants only, the session does not exist yet.
	expectCount(mock, `FROM class_sessions s`, 0)
	expectCount(mock, `GROUP BY session_id, member_id`, 0)
	// Final sample after the observation window.
	expectCount(mock, `FROM class_sessions s`, 0)
	expectCount(mock, `GROUP BY session_id, member_id`, 0)
	mock.ExpectQuery(`FROM class_bookings WHERE session_id = \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	exp := target.OverbookingExperiment(8, 3)
	exp.Duration = 5 * time.Millisecond
	exp.Interval = time.Hour

	res, err := NewEngine(logging.NewNop()).Run(context.Background(), exp)
	require.NoError(t, err)

	assert.Empty(t, res.ErrorEvents)
	assert.Empty(t, res.FailedAssertions)
	assert.True(t, res.HypothesisHeld)
	assert.Equal(t, 3.0, res.Observations["accepted_bookings"][0].Value)
	assert.Zero(t, gym.activeTotal(), "rollback releases every seat")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateBookingExperiment(t *testing.T) {
	target, mock, gym := newTarget(t)

	expectCount(mock, `FROM class_sessions s`, 0)
	expectCount(mock, `GROUP BY session_id, member_id`, 0)
	expectCount(mock, `FROM class_sessions s`, 0)
	expectCount(mock, `GROUP BY session_id, member_id`, 0)
	mock.ExpectQuery(`FROM class_bookings WHERE session_id = \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exp := target.DuplicateBookingExperiment(10)
	exp.Duration = 5 * time.Millisecond
	exp.Interval = time.Hour

	res, err := NewEngine(logging.NewNop()).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, res.HypothesisHeld, "failed: %v errors: %v", res.FailedAssertions, res.ErrorEvents)
	assert.Zero(t, gym.activeTotal())
	assert.NoError(t, mock.ExpectationsWereMet())
}
