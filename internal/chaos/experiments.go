// internal/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fitjourney/internal/booking"
	"fitjourney/internal/catalog"
	"fitjourney/internal/clients"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
)

const chaosPassword = "chaos-pass-1"

// Querier is satisfied by *sql.DB.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Target is the running system the experiments act on.
type Target struct {
	API   *clients.Client
	DB    Querier
	Log   *logging.Logger
	RunID string
}

func NewTarget(api *clients.Client, db Querier, log *logging.Logger) *Target {
	return &Target{API: api, DB: db, Log: log, RunID: uuid.NewString()[:8]}
}

// RegisterDefaults registers the standard booking experiments.
func (e *Engine) RegisterDefaults(t *Target, concurrency, capacity int) {
	e.Register(t.OverbookingExperiment(concurrency, capacity))
	e.Register(t.DuplicateBookingExperiment(concurrency))
	e.Register(t.CancelRebookExperiment(concurrency, capacity))
}

// OverbookedSessions counts capacity-limited sessions holding more active
// bookings than seats.
func (t *Target) OverbookedSessions(ctx context.Context) (float64, error) {
	var n int
	err := t.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM class_sessions s
		WHERE s.max_capacity IS NOT NULL
		  AND (SELECT COUNT(*) FROM class_bookings b
		       WHERE b.session_id = s.id AND b.status = 'active') > s.max_capacity
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count overbooked sessions: %w", err)
	}
	return float64(n), nil
}

// DuplicateActiveBookings counts (session, member) pairs with more than one
// active booking.
func (t *Target) DuplicateActiveBookings(ctx context.Context) (float64, error) {
	var n int
	err := t.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT session_id, member_id FROM class_bookings
			WHERE status = 'active'
			GROUP BY session_id, member_id
			HAVING COUNT(*) > 1
		) d
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicate bookings: %w", err)
	}
	return float64(n), nil
}

func (t *Target) activeBookings(ctx context.Context, sessionID uuid.UUID) (float64, error) {
	var n int
	err := t.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM class_bookings WHERE session_id = $1 AND status = 'active'
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return float64(n), nil
}

func (t *Target) invariantMetrics() []Metric {
	return []Metric{
		{Name: "overbooked_sessions", Query: t.OverbookedSessions, Threshold: Threshold{Operator: "==", Value: 0}},
		{Name: "duplicate_active_bookings", Query: t.DuplicateActiveBookings, Threshold: Threshold{Operator: "==", Value: 0}},
	}
}

func invariantAssertions() []Assertion {
	return []Assertion{
		{Metric: "overbooked_sessions", Condition: func(v float64) bool { return v == 0 }, Message: "no session may exceed its capacity"},
		{Metric: "duplicate_active_bookings", Condition: func(v float64) bool { return v == 0 }, Message: "no member may hold two active bookings for one session"},
	}
}

// fixture is one trainer's session and the members competing for it.
type fixture struct {
	mu      sync.Mutex
	trainer *clients.Client
	session *catalog.Session
	members []*clients.Client
	seats   []seat
	refused map[string]int
}

type seat struct {
	member    *clients.Client
	bookingID uuid.UUID
}

func (f *fixture) sessionID() (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return uuid.Nil, false
	}
	return f.session.ID, true
}

func (f *fixture) accepted() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float64(len(f.seats))
}

func (f *fixture) record(member *clients.Client, bookingID uuid.UUID, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.seats = append(f.seats, seat{member: member, bookingID: bookingID})
		return nil
	}
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		f.refused[apiErr.Code]++
		return nil
	}
	return err
}

func (t *Target) setup(ctx context.Context, f *fixture, label string, capacity *int, members int) error {
	trainer, _, err := t.API.RegisterAndLogin(ctx, t.registration(label+"-trainer", identity.RoleTrainer))
	if err != nil {
		return err
	}

	session, err := trainer.CreateSession(ctx, catalog.SessionInput{
		Name:        fmt.Sprintf("chaos %s %s", label, t.RunID),
		Description: "created by the chaos runner",
		ScheduledAt: time.Now().Add(24 * time.Hour).UTC(),
		MaxCapacity: capacity,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	clientsList := make([]*clients.Client, 0, members)
	for i := 0; i < members; i++ {
		c, _, err := t.API.RegisterAndLogin(ctx, t.registration(fmt.Sprintf("%s-m%d", label, i), identity.RoleMember))
		if err != nil {
			return err
		}
		clientsList = append(clientsList, c)
	}

	f.mu.Lock()
	f.trainer = trainer
	f.session = session
	f.members = clientsList
	f.refused = make(map[string]int)
	f.mu.Unlock()
	return nil
}

// teardown releases every seat the experiment took, then removes the session.
func (t *Target) teardown(ctx context.Context, f *fixture) error {
	f.mu.Lock()
	seats := append([]seat(nil), f.seats...)
	trainer, session := f.trainer, f.session
	refused := maps.Clone(f.refused)
	f.mu.Unlock()

	if session == nil {
		return nil
	}
	if t.Log != nil {
		t.Log.WithContext(ctx).WithFields(logrus.Fields{
			"session_id": session.ID.String(),
			"seats":      len(seats),
			"refused":    refused,
		}).Info("releasing chaos fixture")
	}
	var errs []error
	for _, s := range seats {
		if err := s.member.CancelBooking(ctx, s.bookingID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", s.bookingID, err))
		}
	}
	if err := trainer.DeleteSession(ctx, session.ID); err != nil {
		errs = append(errs, fmt.Errorf("delete session %s: %w", session.ID, err))
	}
	return errors.Join(errs...)
}

func (t *Target) registration(label string, role identity.Role) identity.Registration {
	username := fmt.Sprintf("chaos-%s-%s", t.RunID, label)
	return identity.Registration{
		Username: username,
		Password: chaosPassword,
		FullName: "Chaos " + label,
		Email:    username + "@chaos.fitjourney.test",
		Role:     string(role),
	}
}

// stampede releases n goroutines at once and waits for all of them.
func stampede(n int, fn func(i int) error) error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errCh = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := fn(i); err != nil {
				errCh <- err
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OverbookingExperiment sends concurrency distinct members at a session
// with capacity seats at the same instant.
func (t *Target) OverbookingExperiment(concurrency, capacity int) Experiment {
	f := &fixture{}
	want := float64(min(concurrency, capacity))

	return Experiment{
		Name:       "concurrent-booking-overbooking",
		Hypothesis: "Simultaneous bookings never fill a session beyond its capacity",
		SteadyState: append(t.invariantMetrics(),
			Metric{Name: "accepted_bookings", Query: func(context.Context) (float64, error) { return f.accepted(), nil }, Threshold: Threshold{Operator: "<=", Value: float64(capacity)}},
			Metric{Name: "session_active_bookings", Query: t.sessionBookings(f), Threshold: Threshold{Operator: "<=", Value: float64(capacity)}},
		),
		Method: []Action{
			{Type: "setup", Target: "api", Execute: func(ctx context.Context) error {
				return t.setup(ctx, f, "overbook", &capacity, concurrency)
			}},
			{Type: "concurrent-requests", Target: "booking-engine", Execute: func(ctx context.Context) error {
				sessionID, ok := f.sessionID()
				if !ok {
					return errors.New("session was not created")
				}
				return stampede(len(f.members), func(i int) error {
					m := f.members[i]
					b, err := m.BookClass(ctx, sessionID)
					return f.record(m, bookingID(b), err)
				})
			}},
		},
		Rollback: []Action{
			{Type: "teardown", Target: "api", Execute: func(ctx context.Context) error { return t.teardown(ctx, f) }},
		},
		Validation: append(invariantAssertions(),
			Assertion{Metric: "accepted_bookings", Condition: func(v float64) bool { return v == want }, Message: "every free seat should be taken exactly once"},
			Assertion{Metric: "session_active_bookings", Condition: func(v float64) bool { return v == want }, Message: "stored bookings should match accepted requests"},
		),
		Duration: 3 * time.Second,
		Interval: 500 * time.Millisecond,
	}
}

// DuplicateBookingExperiment has one member book the same unlimited
// session from many goroutines at once.
func (t *Target) DuplicateBookingExperiment(concurrency int) Experiment {
	f := &fixture{}

	return Experiment{
		Name:       "concurrent-duplicate-booking",
		Hypothesis: "A member racing themself ends up with exactly one active booking",
		SteadyState: append(t.invariantMetrics(),
			Metric{Name: "session_active_bookings", Query: t.sessionBookings(f), Threshold: Threshold{Operator: "<=", Value: 1}},
		),
		Method: []Action{
			{Type: "setup", Target: "api", Execute: func(ctx context.Context) error {
				return t.setup(ctx, f, "dup", nil, 1)
			}},
			{Type: "concurrent-requests", Target: "booking-engine", Execute: func(ctx context.Context) error {
				sessionID, ok := f.sessionID()
				if !ok {
					return errors.New("session was not created")
				}
				m := f.members[0]
				return stampede(concurrency, func(int) error {
					b, err := m.BookClass(ctx, sessionID)
					return f.record(m, bookingID(b), err)
				})
			}},
		},
		Rollback: []Action{
			{Type: "teardown", Target: "api", Execute: func(ctx context.Context) error { return t.teardown(ctx, f) }},
		},
		Validation: append(invariantAssertions(),
			Assertion{Metric: "session_active_bookings", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one booking should survive the race"},
		),
		Duration: 2 * time.Second,
		Interval: 500 * time.Millisecond,
	}
}

// CancelRebookExperiment fills a session, then lets the holders cancel and
// rebook while outsiders try to grab the freed seats.
func (t *Target) CancelRebookExperiment(concurrency, capacity int) Experiment {
	f := &fixture{}
	members := capacity + concurrency

	return Experiment{
		Name:        "cancel-rebook-churn",
		Hypothesis:  "Seats freed by cancellation are never handed out twice",
		SteadyState: append(t.invariantMetrics(), Metric{Name: "session_active_bookings", Query: t.sessionBookings(f), Threshold: Threshold{Operator: "<=", Value: float64(capacity)}}),
		Method: []Action{
			{Type: "setup", Target: "api", Execute: func(ctx context.Context) error {
				return t.setup(ctx, f, "churn", &capacity, members)
			}},
			{Type: "fill", Target: "booking-engine", Execute: func(ctx context.Context) error {
				sessionID, ok := f.sessionID()
				if !ok {
					return errors.New("session was not created")
				}
				for _, m := range f.members[:capacity] {
					b, err := m.BookClass(ctx, sessionID)
					if err := f.record(m, bookingID(b), err); err != nil {
						return err
					}
				}
				return nil
			}},
			{Type: "churn", Target: "booking-engine", Execute: func(ctx context.Context) error {
				sessionID, _ := f.sessionID()
				f.mu.Lock()
				holders := append([]seat(nil), f.seats...)
				f.seats = nil
				f.mu.Unlock()

				return stampede(len(holders)+concurrency, func(i int) error {
					if i < len(holders) {
						h := holders[i]
						if err := h.member.CancelBooking(ctx, h.bookingID); err != nil {
							_ = f.record(h.member, h.bookingID, nil)
							return err
						}
						b, err := h.member.BookClass(ctx, sessionID)
						return f.record(h.member, bookingID(b), err)
					}
					m := f.members[capacity+i-len(holders)]
					b, err := m.BookClass(ctx, sessionID)
					return f.record(m, bookingID(b), err)
				})
			}},
		},
		Rollback: []Action{
			{Type: "teardown", Target: "api", Execute: func(ctx context.Context) error { return t.teardown(ctx, f) }},
		},
		Validation: append(invariantAssertions(),
			Assertion{Metric: "session_active_bookings", Condition: func(v float64) bool { return v == float64(capacity) }, Message: "the session should end exactly full"},
		),
		Duration: 3 * time.Second,
		Interval: 500 * time.Millisecond,
	}
}

func bookingID(b *booking.ClassBooking) uuid.UUID {
	if b == nil {
		return uuid.Nil
	}
	return b.ID
}

func (t *Target) sessionBookings(f *fixture) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		id, ok := f.sessionID()
		if !ok {
			return 0, nil
		}
		return t.activeBookings(ctx, id)
	}
}
