package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/assignment"
	"geoattend/internal/geo"
	"geoattend/internal/metrics"
)

// Store is the persistence surface the manager writes through to. Each call
// is a single-row write; no cross-entity transactions are assumed.
type Store interface {
	Insert(ctx context.Context, s Session, ref geo.Point) error
	Update(ctx context.Context, s Session, ref geo.Point) error
	Get(ctx context.Context, id string) (*Session, *geo.Point, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]Session, error)
}

// Defaults applied to new sessions.
type Defaults struct {
	TeacherRadiusM float64
	CampusCenter   geo.Point
	CampusRadiusM  float64
}

// state is the live aggregate for one session. mu serializes all mutations
// (location ordering, counter writes, ending); ref is swapped atomically so
// concurrent readers never see a torn point.
type state struct {
	mu   sync.Mutex
	sess Session
	ref  atomic.Pointer[geo.Point]
}

// Manager runs the session lifecycle and owns per-session mutual exclusion.
type Manager struct {
	store    Store
	gate     *assignment.Gate
	defaults Defaults

	mu   sync.Mutex
	live map[string]*state
}

// NewManager creates a manager writing through to store, gated by gate.
func NewManager(store Store, gate *assignment.Gate, defaults Defaults) *Manager {
	if defaults.TeacherRadiusM <= 0 {
		defaults.TeacherRadiusM = 15
	}
	if defaults.CampusRadiusM <= 0 {
		defaults.CampusRadiusM = 500
	}
	return &Manager{
		store:    store,
		gate:     gate,
		defaults: defaults,
		live:     make(map[string]*state),
	}
}

// Start creates a new Active session after checking the teacher's grant for
// the class. Counters start at zero and radii at their defaults.
func (m *Manager) Start(ctx context.Context, teacherID string, semester int, division, subjectCode string, initial geo.Point) (Session, error) {
	ok, err := m.gate.CanTeach(ctx, teacherID, semester, division, subjectCode)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, assignment.ErrNotAuthorized
	}

	if initial.CapturedAt.IsZero() {
		initial.CapturedAt = time.Now().UTC()
	}
	sess := Session{
		ID:             uuid.NewString(),
		TeacherID:      teacherID,
		Semester:       semester,
		Division:       division,
		SubjectCode:    subjectCode,
		SubjectName:    m.gate.SubjectName(ctx, teacherID, semester, division, subjectCode),
		Status:         StatusActive,
		StartedAt:      time.Now().UTC(),
		TeacherRadiusM: m.defaults.TeacherRadiusM,
		CampusCenter:   m.defaults.CampusCenter,
		CampusRadiusM:  m.defaults.CampusRadiusM,
	}

	if err := m.store.Insert(ctx, sess, initial); err != nil {
		return Session{}, err
	}

	st := &state{sess: sess}
	st.ref.Store(&initial)
	m.mu.Lock()
	m.live[sess.ID] = st
	m.mu.Unlock()

	metrics.SessionsStartedTotal.Inc()
	return sess, nil
}

// get returns the live state for id, faulting it in from the store after a
// restart.
func (m *Manager) get(ctx context.Context, id string) (*state, error) {
	m.mu.Lock()
	st, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return st, nil
	}

	sess, ref, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[id]; ok {
		return existing, nil
	}
	st = &state{sess: *sess}
	if ref == nil {
		ref = &geo.Point{}
	}
	st.ref.Store(ref)
	m.live[id] = st
	return st, nil
}

// UpdateLocation replaces the session's reference point. Fixes are applied in
// capture-timestamp order; an older fix returns ErrStaleFix and changes
// nothing. Terminal sessions accept no updates.
func (m *Manager) UpdateLocation(ctx context.Context, id string, pt geo.Point) error {
	st, err := m.get(ctx, id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sess.Status.Terminal() {
		metrics.LocationFixesTotal.WithLabelValues("rejected_closed").Inc()
		return ErrSessionClosed
	}
	if pt.CapturedAt.IsZero() {
		pt.CapturedAt = time.Now().UTC()
	}
	if cur := st.ref.Load(); cur != nil && pt.CapturedAt.Before(cur.CapturedAt) {
		metrics.LocationFixesTotal.WithLabelValues("discarded_stale").Inc()
		return ErrStaleFix
	}

	st.ref.Store(&pt)
	metrics.LocationFixesTotal.WithLabelValues("applied").Inc()
	return m.store.Update(ctx, st.sess, pt)
}

// End freezes the session in a terminal state. Ending an already-terminal
// session is a reported error, never a silent success.
func (m *Manager) End(ctx context.Context, id string, outcome Status) error {
	if !outcome.Terminal() {
		return errors.New("outcome must be completed or cancelled")
	}
	st, err := m.get(ctx, id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sess.Status.Terminal() {
		return ErrSessionClosed
	}
	now := time.Now().UTC()
	st.sess.Status = outcome
	st.sess.EndedAt = &now

	metrics.SessionsEndedTotal.WithLabelValues(string(outcome)).Inc()
	return m.store.Update(ctx, st.sess, *st.ref.Load())
}

// Snapshot returns a copy of the session and its current reference point.
func (m *Manager) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	st, err := m.get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	st.mu.Lock()
	sess := st.sess
	st.mu.Unlock()
	return Snapshot{Session: sess, Reference: *st.ref.Load()}, nil
}

// Exclusive runs fn while holding the session's lock, with the session open
// for mutation and the reference point fixed for the duration. The session is
// persisted only when fn succeeds; an error leaves the aggregate untouched.
// Submissions against the same session serialize here; different sessions
// proceed in parallel.
func (m *Manager) Exclusive(ctx context.Context, id string, fn func(s *Session, ref geo.Point) error) error {
	st, err := m.get(ctx, id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sess.Status.Terminal() {
		return ErrSessionClosed
	}

	before := st.sess
	ref := *st.ref.Load()
	if err := fn(&st.sess, ref); err != nil {
		st.sess = before
		return err
	}
	if st.sess == before {
		return nil
	}
	return m.store.Update(ctx, st.sess, ref)
}

// ListByTeacher returns the teacher's sessions from the store.
func (m *Manager) ListByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	return m.store.ListByTeacher(ctx, teacherID)
}
