package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records and students in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertStudent ensures a student record exists.
func (r *Repository) UpsertStudent(ctx context.Context, studentID, name string) error {
	if studentID == "" {
		return errors.New("student id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (student_id, name)
		VALUES ($1, $2)
		ON CONFLICT (student_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), students.name)
	`, studentID, name)
	return err
}

const recordColumns = `id, session_id, student_id, student_name, device_id,
	teacher_id, subject_code, subject_name,
	marked, marked_at, validation_passed,
	teacher_distance_m, campus_distance_m, accuracy_m,
	reason, exported, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.StudentName, &rec.DeviceID,
		&rec.TeacherID, &rec.SubjectCode, &rec.SubjectName,
		&rec.Marked, &rec.MarkedAt, &rec.ValidationPassed,
		&rec.TeacherDistanceM, &rec.CampusDistanceM, &rec.AccuracyM,
		&rec.Reason, &rec.Exported, &rec.CreatedAt)
	return rec, err
}

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (
			id, session_id, student_id, student_name, device_id,
			teacher_id, subject_code, subject_name,
			marked, marked_at, validation_passed,
			teacher_distance_m, campus_distance_m, accuracy_m, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.StudentName, rec.DeviceID,
		rec.TeacherID, rec.SubjectCode, rec.SubjectName,
		rec.Marked, rec.MarkedAt, rec.ValidationPassed,
		rec.TeacherDistanceM, rec.CampusDistanceM, rec.AccuracyM, rec.Reason)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// FindAccepted returns the accepted record for (sessionID, studentID), or nil.
func (r *Repository) FindAccepted(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2 AND marked = TRUE
		ORDER BY created_at
		LIMIT 1
	`, sessionID, studentID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// HasAttempt reports whether any record exists for (sessionID, studentID).
func (r *Repository) HasAttempt(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE session_id = $1 AND student_id = $2
		)
	`, sessionID, studentID).Scan(&exists)
	return exists, err
}

// ListBySession returns a session's records, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// MarkExported flips the export flag on all of a session's records and
// returns how many rows moved. The flag is the only mutable record field.
func (r *Repository) MarkExported(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET exported = TRUE
		WHERE session_id = $1 AND exported = FALSE
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecentAttempts returns records created in the window, newest first. Used
// for the teacher's live view while a lecture runs.
func (r *Repository) RecentAttempts(ctx context.Context, sessionID string, window time.Duration, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1 AND created_at >= NOW() - ($2 * interval '1 second')
		ORDER BY created_at DESC
		LIMIT $3
	`, sessionID, window.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
