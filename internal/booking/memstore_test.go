package booking

import (
	"context"
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/catalog"
	"fitjourney/internal/eventstore"
	"fitjourney/internal/plan"
)

// memStore is an in-memory Store. It does not serialize reservations itself,
// so concurrent tests exercise the engine's own locking.
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*int
	class    map[uuid.UUID]*ClassBooking
	plan     map[uuid.UUID]*PlanBooking
	events   map[uuid.UUID][]eventstore.Event
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uuid.UUID]*int),
		class:    make(map[uuid.UUID]*ClassBooking),
		plan:     make(map[uuid.UUID]*PlanBooking),
		events:   make(map[uuid.UUID][]eventstore.Event),
	}
}

func (m *memStore) addSession(id uuid.UUID, capacity *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = capacity
}

func (m *memStore) record(id uuid.UUID, aggregateType string, change *Change) {
	data, _ := json.Marshal(change.Data)
	version := len(m.events[id]) + 1
	m.events[id] = append(m.events[id], eventstore.Event{
		AggregateID:   id,
		AggregateType: aggregateType,
		EventType:     change.EventType,
		EventData:     data,
		Version:       version,
		CreatedAt:     time.Now(),
	})
}

func (m *memStore) Reserve(ctx context.Context, sessionID uuid.UUID, fn func(ctx context.Context, tx ReservationTx) error) error {
	m.mu.Lock()
	capacity, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.ErrNotFound, "class session not found")
	}
	return fn(ctx, &memReservation{store: m, sessionID: sessionID, capacity: capacity})
}

type memReservation struct {
	store     *memStore
	sessionID uuid.UUID
	capacity  *int
}

func (r *memReservation) Capacity() *int { return r.capacity }

func (r *memReservation) CountActive(context.Context) (int, error) {
	n := r.store.activeCount(r.sessionID)
	runtime.Gosched()
	return n, nil
}

func (r *memReservation) HasActive(_ context.Context, memberID uuid.UUID) (bool, error) {
	n := r.store.activeFor(memberID, r.sessionID)
	runtime.Gosched()
	return n > 0, nil
}

func (r *memReservation) Insert(_ context.Context, b *ClassBooking) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *b
	r.store.class[b.ID] = &cp
	r.store.record(b.ID, AggregateClassBooking, &Change{EventType: EventClassBooked, Data: b})
	return nil
}

func (m *memStore) GetClassBooking(_ context.Context, id uuid.UUID) (*ClassBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.class[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "booking not found")
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) MutateClassBooking(_ context.Context, id uuid.UUID, fn func(b *ClassBooking) (*Change, error)) (*ClassBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.class[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "booking not found")
	}
	b := *stored
	change, err := fn(&b)
	if err != nil {
		return nil, err
	}
	if change != nil {
		b.Version++
		m.class[id] = &b
		m.record(id, AggregateClassBooking, change)
	}
	cp := b
	return &cp, nil
}

func (m *memStore) listClass(match func(*ClassBooking) bool) []ClassBooking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ClassBooking{}
	for _, b := range m.class {
		if match(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	return out
}

func (m *memStore) ListClassBookingsByMember(_ context.Context, memberID uuid.UUID) ([]ClassBooking, error) {
	return m.listClass(func(b *ClassBooking) bool { return b.MemberID == memberID }), nil
}

func (m *memStore) ListClassBookingsBySession(_ context.Context, sessionID uuid.UUID) ([]ClassBooking, error) {
	return m.listClass(func(b *ClassBooking) bool { return b.SessionID == sessionID }), nil
}

func (m *memStore) InsertPlanBooking(_ context.Context, b *PlanBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.plan[b.ID] = &cp
	m.record(b.ID, AggregatePlanBooking, &Change{EventType: EventPlanBooked, Data: b})
	return nil
}

func (m *memStore) MutatePlanBooking(_ context.Context, id uuid.UUID, fn func(b *PlanBooking) (*Change, error)) (*PlanBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.plan[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "plan booking not found")
	}
	b := *stored
	change, err := fn(&b)
	if err != nil {
		return nil, err
	}
	if change != nil {
		b.Version++
		m.plan[id] = &b
		m.record(id, AggregatePlanBooking, change)
	}
	cp := b
	return &cp, nil
}

func (m *memStore) ListPlanBookingsByMember(_ context.Context, memberID uuid.UUID) ([]PlanBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PlanBooking{}
	for _, b := range m.plan {
		if b.MemberID == memberID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) History(_ context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]eventstore.Event(nil), m.events[id]...), nil
}

// activeCount and activeFor inspect the store directly for invariant checks.
func (m *memStore) activeCount(sessionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.class {
		if b.SessionID == sessionID && b.Active() {
			n++
		}
	}
	return n
}

func (m *memStore) activeFor(memberID, sessionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.class {
		if b.SessionID == sessionID && b.MemberID == memberID && b.Active() {
			n++
		}
	}
	return n
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*catalog.Session
}

func (f *fakeSessions) GetSession(_ context.Context, id uuid.UUID) (*catalog.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "class session not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) OwnedSession(ctx context.Context, trainerID, id uuid.UUID) (*catalog.Session, error) {
	s, err := f.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.TrainerID != trainerID {
		return nil, apperr.New(apperr.ErrForbidden, "class session belongs to another trainer")
	}
	return s, nil
}

type fakePlans map[uuid.UUID]*plan.Plan

func (f fakePlans) GetPlan(_ context.Context, id uuid.UUID) (*plan.Plan, error) {
	p, ok := f[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "plan not found")
	}
	return p, nil
}
