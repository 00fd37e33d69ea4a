package attendance

import "time"

// DateLayout is the wire format for day codes derived from the server clock.
const DateLayout = "2006-01-02"

// Day is a calendar date (or arbitrary token) registered as valid for marking.
type Day struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is a single attendance record in a student's ledger.
// At most one entry exists per (student, date).
type Entry struct {
	ID        string     `json:"-"`
	StudentID string     `json:"-"`
	Date      string     `json:"date"`
	Present   bool       `json:"present"`
	MarkedAt  *time.Time `json:"timestamp,omitempty"`
}

// Student is an account that owns an attendance ledger. Admin accounts live
// in the same table, discriminated by Role.
type Student struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	Entries      []Entry   `json:"entries,omitempty"`
}

// PresentCount counts ledger entries flagged present.
func (s Student) PresentCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.Present {
			n++
		}
	}
	return n
}

// Identity is the authenticated caller, resolved from the session or a bearer
// token and passed explicitly into every core operation.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// IsZero reports an unauthenticated caller.
func (i Identity) IsZero() bool { return i.UserID == "" }

// IsAdmin reports admin privileges.
func (i Identity) IsAdmin() bool { return i.Role == "admin" }
