package session

import (
	"context"
	"database/sql"
	"errors"

	"geoattend/internal/geo"
)

// Repository persists sessions in Postgres. The current reference point is
// denormalized onto the session row; every write is a single-row statement.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session with its initial reference point.
func (r *Repository) Insert(ctx context.Context, s Session, ref geo.Point) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, teacher_id, semester, division, subject_code, subject_name,
			status, started_at, teacher_radius_m,
			campus_lat, campus_lng, campus_radius_m,
			total_students, present_count, absent_count,
			ref_lat, ref_lng, ref_accuracy_m, ref_captured_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, s.ID, s.TeacherID, s.Semester, s.Division, s.SubjectCode, s.SubjectName,
		s.Status, s.StartedAt, s.TeacherRadiusM,
		s.CampusCenter.Lat, s.CampusCenter.Lng, s.CampusRadiusM,
		s.TotalStudents, s.PresentCount, s.AbsentCount,
		ref.Lat, ref.Lng, ref.AccuracyM, ref.CapturedAt)
	return err
}

// Update rewrites the mutable columns of a session row.
func (r *Repository) Update(ctx context.Context, s Session, ref geo.Point) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2, ended_at = $3,
			total_students = $4, present_count = $5, absent_count = $6,
			ref_lat = $7, ref_lng = $8, ref_accuracy_m = $9, ref_captured_at = $10
		WHERE id = $1
	`, s.ID, s.Status, s.EndedAt,
		s.TotalStudents, s.PresentCount, s.AbsentCount,
		ref.Lat, ref.Lng, ref.AccuracyM, ref.CapturedAt)
	return err
}

// Get returns a session and its reference point, or (nil, nil, nil) when the
// id is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Session, *geo.Point, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, teacher_id, semester, division, subject_code, subject_name,
			status, started_at, ended_at, teacher_radius_m,
			campus_lat, campus_lng, campus_radius_m,
			total_students, present_count, absent_count,
			ref_lat, ref_lng, ref_accuracy_m, ref_captured_at
		FROM sessions WHERE id = $1
	`, id)
	var s Session
	var ref geo.Point
	if err := row.Scan(&s.ID, &s.TeacherID, &s.Semester, &s.Division, &s.SubjectCode, &s.SubjectName,
		&s.Status, &s.StartedAt, &s.EndedAt, &s.TeacherRadiusM,
		&s.CampusCenter.Lat, &s.CampusCenter.Lng, &s.CampusRadiusM,
		&s.TotalStudents, &s.PresentCount, &s.AbsentCount,
		&ref.Lat, &ref.Lng, &ref.AccuracyM, &ref.CapturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return &s, &ref, nil
}

// ListByTeacher returns a teacher's sessions, newest first.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, teacher_id, semester, division, subject_code, subject_name,
			status, started_at, ended_at, teacher_radius_m,
			campus_lat, campus_lng, campus_radius_m,
			total_students, present_count, absent_count
		FROM sessions
		WHERE teacher_id = $1
		ORDER BY started_at DESC
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.TeacherID, &s.Semester, &s.Division, &s.SubjectCode, &s.SubjectName,
			&s.Status, &s.StartedAt, &s.EndedAt, &s.TeacherRadiusM,
			&s.CampusCenter.Lat, &s.CampusCenter.Lng, &s.CampusRadiusM,
			&s.TotalStudents, &s.PresentCount, &s.AbsentCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
