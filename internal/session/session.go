// Package session owns the lecture-session state machine: who may submit,
// when, against which reference point and radii.
package session

import (
	"errors"
	"time"

	"geoattend/internal/geo"
)

// Status of a lecture session. Active is the only non-terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed reports an operation against a terminal session.
	ErrSessionClosed = errors.New("session closed")
	// ErrStaleFix reports a location update older than the current
	// reference point; the stream may reorder, so such fixes are dropped.
	ErrStaleFix = errors.New("location fix older than current reference point")
)

// Terminal reports whether s accepts no further mutations.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is one lecture run by a teacher for a (semester, division, subject)
// class. Exactly one of {EndedAt set, Status active} holds. Counters never go
// negative and PresentCount+AbsentCount never exceeds TotalStudents.
type Session struct {
	ID          string     `json:"id"`
	TeacherID   string     `json:"teacher_id"`
	Semester    int        `json:"semester"`
	Division    string     `json:"division"`
	SubjectCode string     `json:"subject_code"`
	SubjectName string     `json:"subject_name"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	TeacherRadiusM float64   `json:"teacher_radius_m"`
	CampusCenter   geo.Point `json:"campus_center"`
	CampusRadiusM  float64   `json:"campus_radius_m"`

	TotalStudents int `json:"total_students"`
	PresentCount  int `json:"present_count"`
	AbsentCount   int `json:"absent_count"`
}

// Snapshot pairs a session with its current teacher reference point.
type Snapshot struct {
	Session   Session   `json:"session"`
	Reference geo.Point `json:"reference"`
}
