package attendance

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseEnums(t *testing.T) {
	if s, err := ParseStatus("absent"); err != nil || s != StatusAbsent {
		t.Errorf("ParseStatus(absent) = %q, %v", s, err)
	}
	if _, err := ParseStatus("late"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
	if r, err := ParseAbsenceReason("missed_bus"); err != nil || r != ReasonMissedBus {
		t.Errorf("ParseAbsenceReason(missed_bus) = %q, %v", r, err)
	}
	if _, err := ParseAbsenceReason("holiday"); !errors.Is(err, ErrUnknownReason) {
		t.Errorf("expected ErrUnknownReason, got %v", err)
	}
	if _, err := ParseAction("pause"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
	if st, err := ParseShiftType("night"); err != nil || st != ShiftNight {
		t.Errorf("ParseShiftType(night) = %q, %v", st, err)
	}
}

func TestRecord_UnmarshalLenient(t *testing.T) {
	data := []byte(`{
		"id": 42,
		"hours": "8.00",
		"attendance_date": "2024-03-05",
		"shift_type": "day",
		"status": "present",
		"absence_reason": null,
		"worker_start_date_time": "2024-03-05T06:00:00.123456+04:00",
		"worker_end_date_time": "not a date",
		"recorded_by_worker": "b3c1a0e2",
		"recorded_by_staff": null,
		"modified": "2024-03-05T09:00:00Z"
	}`)
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec.AttendanceDate != "2024-03-05" || rec.Status != StatusPresent || rec.ShiftType != ShiftDay {
		t.Errorf("unexpected record %+v", rec)
	}
	if !bool(rec.RecordedByWorker) || bool(rec.RecordedByStaff) {
		t.Errorf("unexpected provenance worker=%v staff=%v", rec.RecordedByWorker, rec.RecordedByStaff)
	}
	if rec.WorkerStartDateTime == nil || rec.WorkerStartDateTime.IsZero() {
		t.Errorf("expected start time to parse")
	}
	if rec.WorkerEndDateTime == nil || !rec.WorkerEndDateTime.IsZero() {
		t.Errorf("expected unparseable end time to decode as zero")
	}
	if len(rec.Extra) != 2 {
		t.Errorf("expected 2 extra fields, got %v", rec.Extra)
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"hours":"8.00"`) || !strings.Contains(string(out), `"id":42`) {
		t.Errorf("extra fields lost on marshal: %s", out)
	}
	if !strings.Contains(string(out), `"worker_end_date_time":null`) {
		t.Errorf("expected zero end time to marshal as null: %s", out)
	}
}

func TestRecord_Freshness(t *testing.T) {
	older := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	rec := Record{AttendanceDate: "2024-03-05", Modified: NewTimestamp(older), LocalUpdatedAt: NewTimestamp(newer)}
	got, ok := rec.Freshness()
	if !ok || !got.Equal(newer) {
		t.Errorf("Freshness = %v, %v; want %v", got, ok, newer)
	}
	if _, ok := (Record{AttendanceDate: "2024-03-05"}).Freshness(); ok {
		t.Errorf("expected no freshness for bare record")
	}
}

func TestDecodeRecords_DropsMalformed(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"attendance_date":"2024-03-01","status":"absent"}`),
		json.RawMessage(`{"attendance_date":17}`),
		json.RawMessage(`"garbage"`),
	}
	recs := DecodeRecords(raw)
	if len(recs) != 1 || recs[0].AttendanceDate != "2024-03-01" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestShiftPayload_AbsenceReasonTriState(t *testing.T) {
	cases := []struct {
		name string
		in   string
		set  bool
		want AbsenceReason
	}{
		{"missing", `{"attendance_date":"2024-03-05"}`, false, ""},
		{"null", `{"attendance_date":"2024-03-05","absence_reason":null}`, true, ""},
		{"value", `{"attendance_date":"2024-03-05","absence_reason":"sick"}`, true, ReasonSick},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p ShiftPayload
			if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if p.AbsenceReason.Set != tc.set || p.AbsenceReason.Value != tc.want {
				t.Errorf("got %+v", p.AbsenceReason)
			}
			out, err := json.Marshal(p)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			hasKey := strings.Contains(string(out), "absence_reason")
			if hasKey != tc.set {
				t.Errorf("absence_reason presence = %v in %s", hasKey, out)
			}
		})
	}
}

func TestShiftPayload_Validate(t *testing.T) {
	ok := ShiftPayload{AttendanceDate: "2024-03-05", ShiftType: ShiftDay, Status: StatusAbsent, AbsenceReason: SetReason(ReasonNoBus), Action: ActionStart}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok.IsLookup() {
		t.Errorf("write payload reported as lookup")
	}
	if !(ShiftPayload{AttendanceDate: "2024-03-05"}).IsLookup() {
		t.Errorf("date-only payload should be a lookup")
	}

	bad := []struct {
		p    ShiftPayload
		want error
	}{
		{ShiftPayload{AttendanceDate: "05/03/2024"}, ErrInvalidDate},
		{ShiftPayload{AttendanceDate: "2024-03-05", Status: "late"}, ErrUnknownStatus},
		{ShiftPayload{AttendanceDate: "2024-03-05", AbsenceReason: SetReason("holiday")}, ErrUnknownReason},
		{ShiftPayload{AttendanceDate: "2024-03-05", Action: "pause"}, ErrUnknownAction},
		{ShiftPayload{AttendanceDate: "2024-03-05", ShiftType: "evening"}, ErrUnknownShiftType},
	}
	for _, tc := range bad {
		if err := tc.p.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("Validate(%+v) = %v, want %v", tc.p, err, tc.want)
		}
	}
}

func TestNewPendingWrite(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	a := NewPendingWrite(now, ShiftPayload{AttendanceDate: "2024-03-05"})
	b := NewPendingWrite(now, ShiftPayload{AttendanceDate: "2024-03-05"})
	if a.ID == b.ID {
		t.Errorf("expected unique ids, both %q", a.ID)
	}
	if !strings.HasPrefix(a.ID, "1709632800000-") {
		t.Errorf("expected millisecond prefix, got %q", a.ID)
	}
	if !a.QueuedAt.Equal(now) {
		t.Errorf("unexpected queued_at %v", a.QueuedAt)
	}
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2024-03-05")
	if !ok || d.Year() != 2024 || d.Month() != time.March || d.Day() != 5 || d.Hour() != 0 {
		t.Errorf("ParseDate = %v, %v", d, ok)
	}
	if _, ok := ParseDate("yesterday"); ok {
		t.Errorf("expected unparseable date")
	}
	if _, ok := ParseDate(""); ok {
		t.Errorf("expected empty date to fail")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05T09:30:00Z", time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)},
		{"2024-03-05T09:30:00+02:00", time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC)},
		{"2024-03-05T09:30:00", time.Date(2024, 3, 5, 9, 30, 0, 0, time.Local)},
		{"2024-03-05 09:30:00.250", time.Date(2024, 3, 5, 9, 30, 0, 250e6, time.Local)},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		if !ok || !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := ParseTimestamp("05/03/2024"); ok {
		t.Errorf("expected unparseable timestamp")
	}

	var rec Record
	if err := json.Unmarshal([]byte(`{"attendance_date":"2024-03-05","modified":"2024-03-05"}`), &rec); err != nil {
		t.Fatal(err)
	}
	if got, ok := rec.Freshness(); !ok || !got.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local)) {
		t.Errorf("date-only modified should count as freshness, got %v, %v", got, ok)
	}
}

func TestSummarize(t *testing.T) {
	history := []Record{
		{AttendanceDate: "2024-03-01", Status: StatusPresent},
		{AttendanceDate: "2024-03-02", Status: StatusPresent},
		{AttendanceDate: "2024-03-03", Status: StatusAbsent},
		{AttendanceDate: "2024-03-04", Status: StatusAbsent, AbsenceReason: ReasonSick},
		{AttendanceDate: "2024-03-05", Status: StatusAbsent, AbsenceReason: ReasonNoBus},
		{AttendanceDate: "2024-02-28", Status: StatusPresent},
		{AttendanceDate: "bogus", Status: StatusPresent},
	}
	s := Summarize(history, 2024, time.March)
	if s.Present != 2 {
		t.Errorf("present = %d, want 2", s.Present)
	}
	if s.TotalAbsent != 3 {
		t.Errorf("total absent = %d, want 3", s.TotalAbsent)
	}
	if s.AbsentNoReason != 1 {
		t.Errorf("absent without reason = %d, want 1", s.AbsentNoReason)
	}
	if s.Reasons[ReasonSick] != 1 || s.Reasons[ReasonNoBus] != 1 || s.Reasons[ReasonTraining] != 0 {
		t.Errorf("unexpected reasons %v", s.Reasons)
	}
}
