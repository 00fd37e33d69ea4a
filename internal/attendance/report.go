package attendance

// ReportRow summarizes one student's attendance.
type ReportRow struct {
	Username string `json:"username"`
	Present  int    `json:"present"`
	Absent   int    `json:"absent"`
}

// ComputeReport derives per-student present/absent counts from a snapshot of
// the ledger and the active-day total. Pure: it never mutates its inputs.
// Absence is floored at zero so a student enrolled after some days became
// active never shows a negative count.
func ComputeReport(students []Student, totalDays int) []ReportRow {
	report := make([]ReportRow, 0, len(students))
	for _, s := range students {
		present := s.PresentCount()
		absent := totalDays - present
		if absent < 0 {
			absent = 0
		}
		report = append(report, ReportRow{Username: s.Username, Present: present, Absent: absent})
	}
	return report
}
