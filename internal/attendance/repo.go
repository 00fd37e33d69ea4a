package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// EnsureDay registers code as an attendance day if it is not registered yet.
// Existing records are returned unchanged, so a retired (inactive) day is not
// silently reactivated. At-most-one-insert under concurrent calls is carried
// by the unique constraint on code.
func (r *Repository) EnsureDay(ctx context.Context, code string) (Day, error) {
	if code == "" {
		return Day{}, errors.New("day code required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_days (id, code, description, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (code) DO NOTHING
	`, uuid.NewString(), code, "Attendance for "+code)
	if err != nil {
		return Day{}, fmt.Errorf("ensure day %s: %w", code, err)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, description, is_active, created_at
		FROM attendance_days WHERE code = $1
	`, code)
	var d Day
	if err := row.Scan(&d.ID, &d.Code, &d.Description, &d.IsActive, &d.CreatedAt); err != nil {
		return Day{}, fmt.Errorf("read day %s: %w", code, err)
	}
	return d, nil
}

// FindActiveDay returns the active day for code, or nil when absent.
func (r *Repository) FindActiveDay(ctx context.Context, code string) (*Day, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, description, is_active, created_at
		FROM attendance_days WHERE code = $1 AND is_active = TRUE
	`, code)
	var d Day
	if err := row.Scan(&d.ID, &d.Code, &d.Description, &d.IsActive, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find day %s: %w", code, err)
	}
	return &d, nil
}

// CountActiveDays returns the number of active attendance days. This is the
// denominator for absence computation.
func (r *Repository) CountActiveDays(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_days WHERE is_active = TRUE
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count days: %w", err)
	}
	return n, nil
}

// DeactivateDay retires a code without deleting history.
func (r *Repository) DeactivateDay(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_days SET is_active = FALSE WHERE code = $1
	`, code)
	return err
}

// FindStudentByID returns the account for id, or nil when absent.
func (r *Repository) FindStudentByID(ctx context.Context, id string) (*Student, error) {
	return r.findStudent(ctx, `WHERE id = $1`, id)
}

// FindByUsername returns the account matching username and role, or nil.
func (r *Repository) FindByUsername(ctx context.Context, username, role string) (*Student, error) {
	return r.findStudent(ctx, `WHERE username = $1 AND role = $2`, username, role)
}

func (r *Repository) findStudent(ctx context.Context, where string, args ...any) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, role, created_at
		FROM students `+where, args...)
	var s Student
	if err := row.Scan(&s.ID, &s.Username, &s.PasswordHash, &s.Email, &s.Role, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &s, nil
}

// ListStudents returns all student accounts with their ledgers loaded.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.username, s.email, e.id, e.day_code, e.present, e.marked_at
		FROM students s
		LEFT JOIN attendance_entries e ON e.student_id = s.id
		WHERE s.role = 'student'
		ORDER BY s.username
	`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []Student
	index := map[string]int{}
	for rows.Next() {
		var (
			s        Student
			entryID  sql.NullString
			dayCode  sql.NullString
			present  sql.NullBool
			markedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Username, &s.Email, &entryID, &dayCode, &present, &markedAt); err != nil {
			return nil, fmt.Errorf("scan student row: %w", err)
		}
		i, ok := index[s.ID]
		if !ok {
			i = len(out)
			index[s.ID] = i
			s.Role = "student"
			out = append(out, s)
		}
		if entryID.Valid {
			e := Entry{ID: entryID.String, StudentID: out[i].ID, Date: dayCode.String, Present: present.Bool}
			if markedAt.Valid {
				t := markedAt.Time
				e.MarkedAt = &t
			}
			out[i].Entries = append(out[i].Entries, e)
		}
	}
	return out, rows.Err()
}

// MarkPresent records the student present for dayCode. The conditional upsert
// is a single atomic statement: a concurrent duplicate mark hits the
// (student_id, day_code) constraint instead of appending a second entry, and
// an entry that is already present keeps its original timestamp. The boolean
// result reports that already-marked case.
func (r *Repository) MarkPresent(ctx context.Context, studentID, dayCode string, at time.Time) (Entry, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_entries (id, student_id, day_code, present, marked_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (student_id, day_code) DO UPDATE
			SET present = TRUE, marked_at = EXCLUDED.marked_at
			WHERE NOT attendance_entries.present
		RETURNING id, marked_at
	`, uuid.NewString(), studentID, dayCode, at)

	e := Entry{StudentID: studentID, Date: dayCode, Present: true}
	err := row.Scan(&e.ID, &e.MarkedAt)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, fmt.Errorf("mark present: %w", err)
	}

	// Zero rows means the entry was already present; report it with the
	// original timestamp untouched.
	row = r.db.QueryRowContext(ctx, `
		SELECT id, marked_at FROM attendance_entries
		WHERE student_id = $1 AND day_code = $2
	`, studentID, dayCode)
	if err := row.Scan(&e.ID, &e.MarkedAt); err != nil {
		return Entry{}, false, fmt.Errorf("read existing entry: %w", err)
	}
	return e, true, nil
}

// GetEntryWithStudent loads an entry and its owning student, for the
// confirmation worker.
func (r *Repository) GetEntryWithStudent(ctx context.Context, entryID string) (Entry, Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT e.id, e.student_id, e.day_code, e.present, e.marked_at,
		       s.id, s.username, s.email, s.role
		FROM attendance_entries e
		JOIN students s ON s.id = e.student_id
		WHERE e.id = $1
	`, entryID)
	var (
		e Entry
		s Student
	)
	if err := row.Scan(&e.ID, &e.StudentID, &e.Date, &e.Present, &e.MarkedAt,
		&s.ID, &s.Username, &s.Email, &s.Role); err != nil {
		return Entry{}, Student{}, fmt.Errorf("get entry %s: %w", entryID, err)
	}
	return e, s, nil
}

// UpsertUser creates an account or refreshes its password hash. Used by the
// seeding tool.
func (r *Repository) UpsertUser(ctx context.Context, username, passwordHash, role string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
			SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role
	`, uuid.NewString(), username, passwordHash, role)
	return err
}

// UpdateEmail sets a student's email address.
func (r *Repository) UpdateEmail(ctx context.Context, studentID, email string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET email = $2 WHERE id = $1
	`, studentID, email)
	return err
}
