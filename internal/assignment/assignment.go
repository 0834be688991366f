// Package assignment holds teacher-class authorization grants and the gate
// that decides whether a teacher may run a session for a class.
package assignment

import (
	"context"
	"errors"
	"time"
)

// Divisions a class can belong to.
const (
	DivisionA = "A"
	DivisionB = "B"
)

// ErrNotAuthorized is returned when no active grant matches the requested class.
var ErrNotAuthorized = errors.New("teacher not authorized for this class")

// Assignment is one authorization grant: teacherId may teach subjectCode to
// (semester, division). Soft-deleted by flipping Active, never removed, so
// history stays queryable. Duplicates are harmless: authorization is
// existence-based.
type Assignment struct {
	ID          string    `json:"id"`
	TeacherID   string    `json:"teacher_id"`
	Semester    int       `json:"semester"`
	Division    string    `json:"division"`
	SubjectCode string    `json:"subject_code"`
	SubjectName string    `json:"subject_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidDivision reports whether d is a known division.
func ValidDivision(d string) bool {
	return d == DivisionA || d == DivisionB
}

// Store is the persistence surface the gate needs.
type Store interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]Assignment, error)
	Insert(ctx context.Context, a Assignment) (Assignment, error)
	Deactivate(ctx context.Context, id string) error
}

// Gate answers authorization questions from the current assignment set. It
// holds no cache: correctness depends on reading current grants.
type Gate struct {
	store Store
}

// NewGate creates a gate over an assignment store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// CanTeach is true iff an active assignment matches all four fields exactly.
func (g *Gate) CanTeach(ctx context.Context, teacherID string, semester int, division, subjectCode string) (bool, error) {
	list, err := g.store.ListByTeacher(ctx, teacherID)
	if err != nil {
		return false, err
	}
	for _, a := range list {
		if a.Active && a.Semester == semester && a.Division == division && a.SubjectCode == subjectCode {
			return true, nil
		}
	}
	return false, nil
}

// SubjectName returns the denormalized subject name from a matching active
// grant, or the code itself when none carries a name.
func (g *Gate) SubjectName(ctx context.Context, teacherID string, semester int, division, subjectCode string) string {
	list, err := g.store.ListByTeacher(ctx, teacherID)
	if err != nil {
		return subjectCode
	}
	for _, a := range list {
		if a.Active && a.Semester == semester && a.Division == division && a.SubjectCode == subjectCode && a.SubjectName != "" {
			return a.SubjectName
		}
	}
	return subjectCode
}
