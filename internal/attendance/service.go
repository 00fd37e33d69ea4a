package attendance

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Store is the persistence surface the service needs.
type Store interface {
	EnsureDay(ctx context.Context, code string) (Day, error)
	FindActiveDay(ctx context.Context, code string) (*Day, error)
	CountActiveDays(ctx context.Context) (int, error)
	FindStudentByID(ctx context.Context, id string) (*Student, error)
	FindByUsername(ctx context.Context, username, role string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	MarkPresent(ctx context.Context, studentID, dayCode string, at time.Time) (Entry, bool, error)
}

// Service coordinates attendance marking, reporting and notifications.
type Service struct {
	store     Store
	mailer    Mailer
	threshold int
}

// NewService creates a service backed by a store and a mail sender.
func NewService(store Store, mailer Mailer, absenceThreshold int) *Service {
	if absenceThreshold <= 0 {
		absenceThreshold = 3
	}
	return &Service{store: store, mailer: mailer, threshold: absenceThreshold}
}

// MarkResult is the outcome of a marking request.
type MarkResult struct {
	AlreadyMarked  bool
	Timestamp      *time.Time
	DayDescription string
	EntryID        string
}

// Mark runs the marking state machine for an authenticated caller.
//
// Today's date string is always a legitimate code: scanning it registers the
// day on the fly, so a student scanning before an admin has generated the QR
// does not fail. Any other code must match a pre-registered active day. The
// mark itself is idempotent per (student, day): a repeat scan reports
// AlreadyMarked and keeps the first scan's timestamp.
func (s *Service) Mark(ctx context.Context, who Identity, submittedCode string, now time.Time) (MarkResult, error) {
	if who.IsZero() {
		marksTotal.WithLabelValues("auth_required").Inc()
		return MarkResult{}, ErrAuthRequired
	}

	today := now.UTC().Format(DateLayout)

	var day *Day
	if submittedCode == today {
		d, err := s.store.EnsureDay(ctx, today)
		if err != nil {
			return MarkResult{}, err
		}
		day = &d
	} else {
		d, err := s.store.FindActiveDay(ctx, submittedCode)
		if err != nil {
			return MarkResult{}, err
		}
		day = d
	}
	if day == nil {
		marksTotal.WithLabelValues("invalid_code").Inc()
		return MarkResult{}, ErrInvalidCode
	}

	student, err := s.store.FindStudentByID(ctx, who.UserID)
	if err != nil {
		return MarkResult{}, err
	}
	if student == nil {
		// Session referenced a deleted account.
		marksTotal.WithLabelValues("user_not_found").Inc()
		return MarkResult{}, ErrUserNotFound
	}

	entry, already, err := s.store.MarkPresent(ctx, student.ID, today, now.UTC())
	if err != nil {
		return MarkResult{}, err
	}
	if already {
		marksTotal.WithLabelValues("already_marked").Inc()
	} else {
		marksTotal.WithLabelValues("marked").Inc()
	}
	return MarkResult{
		AlreadyMarked:  already,
		Timestamp:      entry.MarkedAt,
		DayDescription: day.Description,
		EntryID:        entry.ID,
	}, nil
}

// EnsureToday registers today's attendance day, for QR generation.
func (s *Service) EnsureToday(ctx context.Context, now time.Time) (Day, error) {
	return s.store.EnsureDay(ctx, now.UTC().Format(DateLayout))
}

// Login verifies credentials for the given role and returns the caller's
// identity. Role defaults to student; anything except "admin" is treated as
// a student login.
func (s *Service) Login(ctx context.Context, username, password, role string) (Identity, error) {
	if role != "admin" {
		role = "student"
	}
	user, err := s.store.FindByUsername(ctx, username, role)
	if err != nil {
		return Identity{}, err
	}
	if user == nil {
		return Identity{}, ErrUnknownUser
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Identity{}, ErrWrongPassword
	}
	return Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Roster returns all students with their ledgers, for the admin roster view.
func (s *Service) Roster(ctx context.Context) ([]Student, error) {
	return s.store.ListStudents(ctx)
}

// Report computes per-student present/absent counts against the current set
// of active days.
func (s *Service) Report(ctx context.Context) (int, []ReportRow, error) {
	totalDays, err := s.store.CountActiveDays(ctx)
	if err != nil {
		return 0, nil, err
	}
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return 0, nil, err
	}
	return totalDays, ComputeReport(students, totalDays), nil
}
