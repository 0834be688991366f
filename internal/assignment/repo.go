package assignment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Repository persists assignments and teachers in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertTeacher ensures a teacher record exists.
func (r *Repository) UpsertTeacher(ctx context.Context, teacherID, name string) error {
	if teacherID == "" {
		return errors.New("teacher id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teachers (teacher_id, name)
		VALUES ($1, $2)
		ON CONFLICT (teacher_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), teachers.name)
	`, teacherID, name)
	return err
}

// Insert writes a new assignment grant.
func (r *Repository) Insert(ctx context.Context, a Assignment) (Assignment, error) {
	if a.TeacherID == "" || a.SubjectCode == "" {
		return Assignment{}, errors.New("teacher id and subject code required")
	}
	if !ValidDivision(a.Division) {
		return Assignment{}, errors.New("division must be A or B")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Active = true
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO assignments (id, teacher_id, semester, division, subject_code, subject_name, active)
		VALUES ($1,$2,$3,$4,$5,$6,TRUE)
		RETURNING created_at
	`, a.ID, a.TeacherID, a.Semester, a.Division, a.SubjectCode, a.SubjectName)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// ListByTeacher returns all grants for a teacher, active and inactive.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, teacher_id, semester, division, subject_code, subject_name, active, created_at
		FROM assignments
		WHERE teacher_id = $1
		ORDER BY semester, division, subject_code
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.TeacherID, &a.Semester, &a.Division, &a.SubjectCode, &a.SubjectName, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Deactivate soft-deletes a grant. The row stays for history.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE assignments SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
