package attendance

import (
	"time"
)

type MonthlySummary struct {
	Year           int                   `json:"year"`
	Month          time.Month            `json:"month"`
	Present        int                   `json:"present"`
	TotalAbsent    int                   `json:"total_absent"`
	AbsentNoReason int                   `json:"absent_no_reason"`
	Reasons        map[AbsenceReason]int `json:"reasons"`
}

// InMonth returns the records whose attendance date falls in year/month.
func InMonth(history []Record, year int, month time.Month) []Record {
	var out []Record
	for _, rec := range history {
		d, ok := ParseDate(rec.AttendanceDate)
		if !ok {
			continue
		}
		if d.Year() == year && d.Month() == month {
			out = append(out, rec)
		}
	}
	return out
}

// Summarize counts a month of attendance. A record with an absence reason is
// counted as absent even if its status says present.
func Summarize(history []Record, year int, month time.Month) MonthlySummary {
	s := MonthlySummary{
		Year:    year,
		Month:   month,
		Reasons: make(map[AbsenceReason]int, len(AbsenceReasons)),
	}
	for _, r := range AbsenceReasons {
		s.Reasons[r] = 0
	}
	for _, rec := range InMonth(history, year, month) {
		if rec.Status == StatusPresent {
			s.Present++
		}
		if rec.IsAbsent() {
			s.TotalAbsent++
		}
		if rec.Status == StatusAbsent && rec.AbsenceReason == "" {
			s.AbsentNoReason++
		}
		if rec.AbsenceReason != "" {
			s.Reasons[rec.AbsenceReason]++
		}
	}
	return s
}
