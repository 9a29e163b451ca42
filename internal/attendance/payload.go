package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidDate = errors.New("invalid attendance_date")

// ReasonUpdate distinguishes "leave absence_reason alone" (Set=false) from
// "clear it" (Set=true, empty Value) and "set it".
type ReasonUpdate struct {
	Set   bool
	Value AbsenceReason
}

func SetReason(r AbsenceReason) ReasonUpdate { return ReasonUpdate{Set: true, Value: r} }

func ClearReason() ReasonUpdate { return ReasonUpdate{Set: true} }

func (u *ReasonUpdate) UnmarshalJSON(b []byte) error {
	u.Set = true
	u.Value = ""
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownReason, b)
	}
	u.Value = AbsenceReason(s)
	return nil
}

// ShiftPayload is the body of a shift upsert. A payload carrying only
// AttendanceDate is a lookup.
type ShiftPayload struct {
	AttendanceDate      string       `json:"attendance_date"`
	ShiftType           ShiftType    `json:"shift_type,omitempty"`
	Status              Status       `json:"status,omitempty"`
	AbsenceReason       ReasonUpdate `json:"absence_reason"`
	Action              Action       `json:"action,omitempty"`
	WorkerStartDateTime *Timestamp   `json:"worker_start_date_time,omitempty"`
	WorkerEndDateTime   *Timestamp   `json:"worker_end_date_time,omitempty"`
}

func (p ShiftPayload) MarshalJSON() ([]byte, error) {
	type wire struct {
		AttendanceDate      string          `json:"attendance_date"`
		ShiftType           ShiftType       `json:"shift_type,omitempty"`
		Status              Status          `json:"status,omitempty"`
		AbsenceReason       json.RawMessage `json:"absence_reason,omitempty"`
		Action              Action          `json:"action,omitempty"`
		WorkerStartDateTime *Timestamp      `json:"worker_start_date_time,omitempty"`
		WorkerEndDateTime   *Timestamp      `json:"worker_end_date_time,omitempty"`
	}
	w := wire{
		AttendanceDate:      p.AttendanceDate,
		ShiftType:           p.ShiftType,
		Status:              p.Status,
		Action:              p.Action,
		WorkerStartDateTime: p.WorkerStartDateTime,
		WorkerEndDateTime:   p.WorkerEndDateTime,
	}
	if p.AbsenceReason.Set {
		if p.AbsenceReason.Value == "" {
			w.AbsenceReason = json.RawMessage("null")
		} else {
			b, err := json.Marshal(string(p.AbsenceReason.Value))
			if err != nil {
				return nil, err
			}
			w.AbsenceReason = b
		}
	}
	return json.Marshal(w)
}

// IsLookup reports whether the payload only asks for the record of a date.
func (p ShiftPayload) IsLookup() bool {
	return p.ShiftType == "" && p.Status == "" && !p.AbsenceReason.Set && p.Action == "" &&
		p.WorkerStartDateTime == nil && p.WorkerEndDateTime == nil
}

// Validate checks the date and every enum field, returning the first problem.
func (p ShiftPayload) Validate() error {
	if !ValidDate(p.AttendanceDate) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, p.AttendanceDate)
	}
	if p.ShiftType != "" {
		if _, err := ParseShiftType(string(p.ShiftType)); err != nil {
			return err
		}
	}
	if p.Status != "" {
		if _, err := ParseStatus(string(p.Status)); err != nil {
			return err
		}
	}
	if p.AbsenceReason.Set && p.AbsenceReason.Value != "" {
		if _, err := ParseAbsenceReason(string(p.AbsenceReason.Value)); err != nil {
			return err
		}
	}
	if p.Action != "" {
		if _, err := ParseAction(string(p.Action)); err != nil {
			return err
		}
	}
	return nil
}

// PendingWrite is a shift upsert that has not been acknowledged by the portal.
// It is never mutated after creation.
type PendingWrite struct {
	ID       string       `json:"id"`
	QueuedAt time.Time    `json:"queued_at"`
	Payload  ShiftPayload `json:"payload"`
}

func NewPendingWrite(now time.Time, payload ShiftPayload) PendingWrite {
	return PendingWrite{
		ID:       fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
		QueuedAt: now,
		Payload:  payload,
	}
}
