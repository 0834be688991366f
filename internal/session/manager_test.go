package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geoattend/internal/assignment"
	"geoattend/internal/geo"
)

// memStore keeps sessions in a map; good enough to exercise the manager's
// write-through behavior.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	refs     map[string]geo.Point
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session), refs: make(map[string]geo.Point)}
}

func (m *memStore) Insert(_ context.Context, s Session, ref geo.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.refs[s.ID] = ref
	return nil
}

func (m *memStore) Update(_ context.Context, s Session, ref geo.Point) error {
	return m.Insert(context.Background(), s, ref)
}

func (m *memStore) Get(_ context.Context, id string) (*Session, *geo.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	ref := m.refs[id]
	return &s, &ref, nil
}

func (m *memStore) ListByTeacher(_ context.Context, teacherID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.TeacherID == teacherID {
			out = append(out, s)
		}
	}
	return out, nil
}

// grantAll authorizes every (teacher, class) pair.
type grantAll struct{}

func (grantAll) ListByTeacher(_ context.Context, teacherID string) ([]assignment.Assignment, error) {
	return []assignment.Assignment{
		{TeacherID: teacherID, Semester: 3, Division: "A", SubjectCode: "CS301", SubjectName: "Operating Systems", Active: true},
	}, nil
}
func (grantAll) Insert(_ context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	return a, nil
}
func (grantAll) Deactivate(context.Context, string) error { return nil }

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	mgr := NewManager(store, assignment.NewGate(grantAll{}), Defaults{
		TeacherRadiusM: 15,
		CampusCenter:   geo.Point{Lat: 19.0434, Lng: 73.0618},
		CampusRadiusM:  500,
	})
	return mgr, store
}

func startActive(t *testing.T, mgr *Manager) Session {
	t.Helper()
	sess, err := mgr.Start(context.Background(), "t-1", 3, "A", "CS301",
		geo.Point{Lat: 19.0434, Lng: 73.0618, CapturedAt: time.Now().UTC()})
	require.NoError(t, err)
	return sess
}

func TestStartAppliesDefaultsAndGrant(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := startActive(t, mgr)

	require.Equal(t, StatusActive, sess.Status)
	require.Equal(t, 15.0, sess.TeacherRadiusM)
	require.Equal(t, 500.0, sess.CampusRadiusM)
	require.Equal(t, "Operating Systems", sess.SubjectName)
	require.Zero(t, sess.PresentCount)
	require.Nil(t, sess.EndedAt)

	stored, _, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestStartRejectsUnauthorizedClass(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Start(context.Background(), "t-1", 4, "B", "CS999", geo.Point{})
	require.ErrorIs(t, err, assignment.ErrNotAuthorized)
}

func TestUpdateLocationAppliesInCaptureOrder(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	base := time.Now().UTC()
	newer := geo.Point{Lat: 19.0435, Lng: 73.0619, CapturedAt: base.Add(time.Second)}
	require.NoError(t, mgr.UpdateLocation(ctx, sess.ID, newer))

	snap, err := mgr.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, newer.Lat, snap.Reference.Lat)

	// A reordered older fix is discarded, the reference stays put.
	older := geo.Point{Lat: 18.0, Lng: 72.0, CapturedAt: base.Add(-time.Minute)}
	require.ErrorIs(t, mgr.UpdateLocation(ctx, sess.ID, older), ErrStaleFix)

	snap, err = mgr.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, newer.Lat, snap.Reference.Lat)
}

func TestUpdateLocationRejectedAfterEnd(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	require.NoError(t, mgr.End(ctx, sess.ID, StatusCompleted))
	err := mgr.UpdateLocation(ctx, sess.ID, geo.Point{CapturedAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestEndTwiceIsAnError(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	require.NoError(t, mgr.End(ctx, sess.ID, StatusCompleted))

	stored, _, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.EndedAt)

	require.ErrorIs(t, mgr.End(ctx, sess.ID, StatusCancelled), ErrSessionClosed)
	stored, _, _ = store.Get(ctx, sess.ID)
	require.Equal(t, StatusCompleted, stored.Status, "second End must not overwrite the outcome")
}

func TestEndRejectsNonTerminalOutcome(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := startActive(t, mgr)
	require.Error(t, mgr.End(context.Background(), sess.ID, StatusActive))
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Snapshot(ctx, "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, mgr.UpdateLocation(ctx, "nope", geo.Point{}), ErrSessionNotFound)
	require.ErrorIs(t, mgr.End(ctx, "nope", StatusCompleted), ErrSessionNotFound)
}

func TestExclusiveSerializesCounterWrites(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Exclusive(ctx, sess.ID, func(s *Session, _ geo.Point) error {
				s.TotalStudents++
				s.PresentCount++
				return nil
			})
		}()
	}
	wg.Wait()

	snap, err := mgr.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, n, snap.Session.PresentCount, "no lost updates under concurrency")
	require.Equal(t, n, snap.Session.TotalStudents)
}

func TestExclusiveRollsBackOnError(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := mgr.Exclusive(ctx, sess.ID, func(s *Session, _ geo.Point) error {
		s.PresentCount = 99
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	snap, _ := mgr.Snapshot(ctx, sess.ID)
	require.Zero(t, snap.Session.PresentCount)
}

func TestFaultInFromStoreAfterRestart(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := startActive(t, mgr)
	ctx := context.Background()

	// A fresh manager over the same store simulates a restart.
	mgr2 := NewManager(store, assignment.NewGate(grantAll{}), Defaults{})
	snap, err := mgr2.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, snap.Session.ID)
	require.Equal(t, 19.0434, snap.Reference.Lat)
}
