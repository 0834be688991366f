// Package attendance runs the submission pipeline: a student's presence
// claim is checked against the session's live teacher position and the fixed
// campus boundary, and the outcome is recorded either way.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/geo"
	"geoattend/internal/metrics"
	"geoattend/internal/session"
)

// ErrAlreadyMarked reports a second submission after an accepted one. The
// prior record stands; counters do not move.
var ErrAlreadyMarked = errors.New("attendance already marked for this session")

// Submission is one presence claim. It is consumed, not stored verbatim; the
// pipeline turns it into a Record.
type Submission struct {
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	DeviceID    string    `json:"device_id"`
	Location    geo.Point `json:"location"`
}

// Record is the persisted outcome of one submission. Immutable after
// creation except for the Exported flag.
type Record struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	DeviceID    string `json:"device_id,omitempty"`

	// Denormalized for reporting; intentionally not joined back to the
	// assignment row.
	TeacherID   string `json:"teacher_id"`
	SubjectCode string `json:"subject_code"`
	SubjectName string `json:"subject_name"`

	Marked           bool       `json:"marked"`
	MarkedAt         *time.Time `json:"marked_at,omitempty"`
	ValidationPassed bool       `json:"validation_passed"`
	TeacherDistanceM float64    `json:"teacher_distance_m"`
	CampusDistanceM  float64    `json:"campus_distance_m"`
	AccuracyM        float64    `json:"accuracy_m"`
	Reason           string     `json:"reason,omitempty"`
	Exported         bool       `json:"exported"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	FindAccepted(ctx context.Context, sessionID, studentID string) (*Record, error)
	HasAttempt(ctx context.Context, sessionID, studentID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}

// Service is the submission pipeline. Safe for concurrent use; submissions
// against one session serialize inside the session manager.
type Service struct {
	sessions     *session.Manager
	records      Store
	maxAccuracyM float64
	staleAfter   time.Duration
}

// NewService creates the pipeline. maxAccuracyM <= 0 selects the default
// accuracy gate; staleAfter <= 0 disables the reference staleness gate.
func NewService(sessions *session.Manager, records Store, maxAccuracyM float64, staleAfter time.Duration) *Service {
	if maxAccuracyM <= 0 {
		maxAccuracyM = geo.DefaultMaxAccuracyM
	}
	return &Service{
		sessions:     sessions,
		records:      records,
		maxAccuracyM: maxAccuracyM,
		staleAfter:   staleAfter,
	}
}

// Submit evaluates one presence claim. Session-level failures (unknown or
// closed session) return an error and mutate nothing. Validation failures
// are business outcomes: a marked=false record is written and the session's
// absent counter moves. A duplicate after an accepted record returns the
// prior record with ErrAlreadyMarked.
func (s *Service) Submit(ctx context.Context, sub Submission) (Record, error) {
	if sub.SessionID == "" || sub.StudentID == "" {
		return Record{}, errors.New("session id and student id required")
	}

	var out Record
	err := s.sessions.Exclusive(ctx, sub.SessionID, func(sess *session.Session, ref geo.Point) error {
		rec := Record{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			StudentID:   sub.StudentID,
			StudentName: sub.StudentName,
			DeviceID:    sub.DeviceID,
			TeacherID:   sess.TeacherID,
			SubjectCode: sess.SubjectCode,
			SubjectName: sess.SubjectName,
			AccuracyM:   sub.Location.AccuracyM,
		}

		// Accuracy gate: a low-quality fix is rejected before any
		// distance is trusted.
		if ok, reason := geo.CheckAccuracy(sub.Location.AccuracyM, s.maxAccuracyM); !ok {
			metrics.SubmissionsTotal.WithLabelValues("low_accuracy").Inc()
			return s.reject(ctx, sess, &out, rec, reason)
		}

		// A reference point past the staleness bound cannot anchor a
		// proximity claim.
		if s.staleAfter > 0 && !ref.CapturedAt.IsZero() {
			if age := time.Since(ref.CapturedAt); age > s.staleAfter {
				metrics.SubmissionsTotal.WithLabelValues("stale_reference").Inc()
				reason := fmt.Sprintf("teacher location is %s old, limit %s", age.Round(time.Second), s.staleAfter)
				return s.reject(ctx, sess, &out, rec, reason)
			}
		}

		res := geo.Dual(sub.Location, ref, sess.TeacherRadiusM, sess.CampusCenter, sess.CampusRadiusM)
		rec.TeacherDistanceM = res.TeacherDistanceM
		rec.CampusDistanceM = res.CampusDistanceM
		if !res.Valid {
			metrics.SubmissionsTotal.WithLabelValues("geofence_failed").Inc()
			return s.reject(ctx, sess, &out, rec, res.Reason)
		}

		prior, err := s.records.FindAccepted(ctx, sess.ID, sub.StudentID)
		if err != nil {
			return err
		}
		if prior != nil {
			out = *prior
			return ErrAlreadyMarked
		}

		now := time.Now().UTC()
		rec.Marked = true
		rec.MarkedAt = &now
		rec.ValidationPassed = true

		if err := s.bumpCounters(ctx, sess, sub.StudentID, true); err != nil {
			return err
		}

		stored, err := s.records.Insert(ctx, rec)
		if err != nil {
			return err
		}
		metrics.SubmissionsTotal.WithLabelValues("marked").Inc()
		out = stored
		return nil
	})

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		metrics.SubmissionsTotal.WithLabelValues("session_not_found").Inc()
	case errors.Is(err, session.ErrSessionClosed):
		metrics.SubmissionsTotal.WithLabelValues("session_closed").Inc()
	case errors.Is(err, ErrAlreadyMarked):
		metrics.SubmissionsTotal.WithLabelValues("already_marked").Inc()
	}
	return out, err
}

// reject records a failed attempt. Failures are written, never dropped, so
// the audit trail stays complete.
func (s *Service) reject(ctx context.Context, sess *session.Session, out *Record, rec Record, reason string) error {
	rec.Marked = false
	rec.ValidationPassed = false
	rec.Reason = reason

	if err := s.bumpCounters(ctx, sess, rec.StudentID, false); err != nil {
		return err
	}
	stored, err := s.records.Insert(ctx, rec)
	if err != nil {
		return err
	}
	*out = stored
	return nil
}

// bumpCounters moves the session counters so they always reflect one counted
// outcome per student: an uncounted student enters total plus present or
// absent; a previously absent student who later passes moves from absent to
// present; a present student never moves back.
func (s *Service) bumpCounters(ctx context.Context, sess *session.Session, studentID string, present bool) error {
	accepted, err := s.records.FindAccepted(ctx, sess.ID, studentID)
	if err != nil {
		return err
	}
	if accepted != nil {
		// Already counted present; a later failed attempt is recorded
		// but does not move counters.
		return nil
	}
	attempted, err := s.records.HasAttempt(ctx, sess.ID, studentID)
	if err != nil {
		return err
	}

	switch {
	case !attempted && present:
		sess.TotalStudents++
		sess.PresentCount++
	case !attempted && !present:
		sess.TotalStudents++
		sess.AbsentCount++
	case attempted && present:
		// Counted absent so far; the successful retry flips them.
		sess.AbsentCount--
		sess.PresentCount++
	}
	return nil
}

// ListBySession returns a session's records.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return s.records.ListBySession(ctx, sessionID)
}
