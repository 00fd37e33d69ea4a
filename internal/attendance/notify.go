package attendance

import (
	"context"
	"fmt"
	"log"
)

// Mailer sends a single message and returns an optional preview reference.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) (string, error)
}

// NotifyResult records the delivery outcome for one student.
type NotifyResult struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Status   string `json:"status"`
	Preview  string `json:"preview,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NotifyBatch is the aggregate outcome of one notification run.
type NotifyBatch struct {
	TotalDays int            `json:"totalDays"`
	Notified  int            `json:"notified"`
	Results   []NotifyResult `json:"results"`
}

// SendAbsenceNotifications emails every student whose absence count has
// reached the configured threshold and who has an email on file. Recipients
// are processed strictly sequentially; one failed delivery is recorded and
// never aborts the rest of the batch.
func (s *Service) SendAbsenceNotifications(ctx context.Context) (NotifyBatch, error) {
	totalDays, err := s.store.CountActiveDays(ctx)
	if err != nil {
		return NotifyBatch{}, err
	}
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return NotifyBatch{}, err
	}

	batch := NotifyBatch{TotalDays: totalDays, Results: []NotifyResult{}}
	for _, row := range ComputeReport(students, totalDays) {
		if row.Absent < s.threshold {
			continue
		}
		email := ""
		for _, st := range students {
			if st.Username == row.Username {
				email = st.Email
				break
			}
		}
		if email == "" {
			continue
		}

		subject := fmt.Sprintf("Attendance Notice: %s - %d Absences", row.Username, row.Absent)
		text := fmt.Sprintf("Dear %s,\n\nOur records show that you have been absent for %d day(s). "+
			"Please contact your instructor if you believe this is incorrect.\n\nRegards,\nAttendance System",
			row.Username, row.Absent)
		html := fmt.Sprintf("<p>Dear %s,</p><p>Our records show that you have been absent for "+
			"<strong>%d</strong> day(s). Please contact your instructor if you believe this is incorrect.</p>"+
			"<p>Regards,<br/>Attendance System</p>", row.Username, row.Absent)

		result := NotifyResult{Username: row.Username, Email: email}
		preview, err := s.mailer.Send(ctx, email, subject, text, html)
		if err != nil {
			log.Printf("absence notification to %s failed: %v", email, err)
			result.Status = "error"
			result.Error = err.Error()
		} else {
			result.Status = "sent"
			result.Preview = preview
		}
		batch.Results = append(batch.Results, result)
	}
	batch.Notified = len(batch.Results)
	return batch, nil
}
