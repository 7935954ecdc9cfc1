package teleconsultation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dermoai/dermoai/internal/domain/practitioner"
	"github.com/dermoai/dermoai/internal/platform/livekit"
	"github.com/dermoai/dermoai/internal/platform/websocket"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRepo mimics the status-gated updates of the Postgres repository under
// a single mutex.
type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Teleconsultation
	clock *fakeClock

	createErr     error
	markActiveErr error
}

func newMockRepo(clock *fakeClock) *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Teleconsultation), clock: clock}
}

func clone(t *Teleconsultation) *Teleconsultation {
	cp := *t
	return &cp
}

func (m *mockRepo) Create(_ context.Context, t *Teleconsultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	t.CreatedAt = m.clock.Now()
	m.store[t.ID] = clone(t)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Teleconsultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (m *mockRepo) MarkActive(_ context.Context, id, specialistID uuid.UUID, startedAt time.Time) (*Teleconsultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markActiveErr != nil {
		return nil, m.markActiveErr
	}
	t, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	t.Status = StatusActive
	t.SpecialistID = &specialistID
	t.StartedAt = &startedAt
	return clone(t), nil
}

func (m *mockRepo) MarkCompleted(_ context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (*Teleconsultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != StatusActive {
		return nil, ErrInvalidTransition
	}
	t.Status = StatusCompleted
	t.EndedAt = &endedAt
	t.DurationSeconds = &durationSeconds
	return clone(t), nil
}

func (m *mockRepo) filter(keep func(*Teleconsultation) bool) []*Teleconsultation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Teleconsultation
	for _, t := range m.store {
		if keep(t) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *mockRepo) ListPendingForSpecialist(_ context.Context, specialistID uuid.UUID, since time.Time) ([]*Teleconsultation, error) {
	return m.filter(func(t *Teleconsultation) bool {
		return t.Status == StatusPending && t.TargetSpecialistID != nil &&
			*t.TargetSpecialistID == specialistID && !t.CreatedAt.Before(since)
	}), nil
}

func (m *mockRepo) ListActiveForSpecialist(_ context.Context, specialistID uuid.UUID) ([]*Teleconsultation, error) {
	return m.filter(func(t *Teleconsultation) bool {
		return t.Status == StatusActive && t.SpecialistID != nil && *t.SpecialistID == specialistID
	}), nil
}

func (m *mockRepo) ListForParticipant(_ context.Context, userID uuid.UUID, practitionerID *uuid.UUID, limit, offset int) ([]*Teleconsultation, int, error) {
	all := m.filter(func(t *Teleconsultation) bool { return participates(t, userID, practitionerID) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// participates matches the participant filter of repoPG.ListForParticipant.
func participates(t *Teleconsultation, userID uuid.UUID, practitionerID *uuid.UUID) bool {
	if t.RequestedByUserID == userID {
		return true
	}
	if practitionerID == nil {
		return false
	}
	return (t.SpecialistID != nil && *t.SpecialistID == *practitionerID) ||
		(t.PractitionerID != nil && *t.PractitionerID == *practitionerID)
}

// fakeRooms records calls and tracks which rooms exist on the provider.
type fakeRooms struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	live      map[string]bool
	createErr error
	deleteErr error

	// beforeCreate, when set, runs at the start of every CreateRoom call
	// outside the lock.
	beforeCreate func()
}

func (f *fakeRooms) CreateRoom(_ context.Context, name string) (*livekit.Room, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, name)
	if f.live == nil {
		f.live = make(map[string]bool)
	}
	f.live[name] = true
	return &livekit.Room{SID: "RM_" + name, Name: name}, nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.live, name)
	return nil
}

func (f *fakeRooms) isLive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[name]
}

type mintCall struct {
	room, identity, name string
	ttl                  time.Duration
	grants               livekit.Grants
}

type fakeMinter struct {
	calls []mintCall
	err   error
}

func (f *fakeMinter) MintToken(room, identity, name string, ttl time.Duration, grants livekit.Grants) (string, error) {
	f.calls = append(f.calls, mintCall{room, identity, name, ttl, grants})
	if f.err != nil {
		return "", f.err
	}
	return "signed." + room, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	envs []websocket.Envelope
	err  error
}

func (n *recordingNotifier) Publish(_ context.Context, env websocket.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envs = append(n.envs, env)
	return n.err
}

func (n *recordingNotifier) sent() []websocket.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]websocket.Envelope(nil), n.envs...)
}

// fakeLookup treats every practitioner id as an approved, active specialist
// unless profiles says otherwise; a nil profile means not found.
type fakeLookup struct {
	byUser   map[uuid.UUID]uuid.UUID
	profiles map[uuid.UUID]*practitioner.Practitioner
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		byUser:   make(map[uuid.UUID]uuid.UUID),
		profiles: make(map[uuid.UUID]*practitioner.Practitioner),
	}
}

func (f *fakeLookup) PractitionerIDForUser(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	id, ok := f.byUser[userID]
	if !ok {
		return uuid.Nil, practitioner.ErrNotFound
	}
	return id, nil
}

func (f *fakeLookup) Get(_ context.Context, id uuid.UUID) (*practitioner.Practitioner, error) {
	if p, ok := f.profiles[id]; ok {
		if p == nil {
			return nil, practitioner.ErrNotFound
		}
		return p, nil
	}
	return &practitioner.Practitioner{
		ID:             id,
		Type:           practitioner.TypeSpecialist,
		ApprovalStatus: practitioner.ApprovalApproved,
		Active:         true,
	}, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	rooms    *fakeRooms
	minter   *fakeMinter
	notifier *recordingNotifier
	lookup   *fakeLookup
	clock    *fakeClock
}

func newFixture() *fixture {
	clock := newFakeClock()
	f := &fixture{
		repo:     newMockRepo(clock),
		rooms:    &fakeRooms{},
		minter:   &fakeMinter{},
		notifier: &recordingNotifier{},
		lookup:   newFakeLookup(),
		clock:    clock,
	}
	f.svc = NewService(f.repo, f.lookup, f.rooms, f.minter, f.notifier, zerolog.Nop(), Options{Now: clock.Now})
	return f
}

// addPractitioner registers a practitioner user and returns it with its
// practitioner id.
func (f *fixture) addPractitioner() (uuid.UUID, uuid.UUID) {
	userID, pid := uuid.New(), uuid.New()
	f.lookup.byUser[userID] = pid
	return userID, pid
}

var errBoom = errors.New("boom")
