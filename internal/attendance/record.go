package attendance

import (
	"encoding/json"
	"strings"
	"time"
)

// Timestamp is a leniently decoded datetime. Values that do not parse decode
// to the zero time and are treated as absent.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, _ := ParseTimestamp(s)
	t.Time = parsed
	return nil
}

func (t *Timestamp) valid() bool {
	return t != nil && !t.IsZero()
}

// Flag decodes any truthy JSON value as true. The portal sends recorded_by_*
// as a related id or null, older caches as a bool.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "null", "false", `""`, "0":
		*f = false
	default:
		*f = true
	}
	return nil
}

// Record is one worker's attendance for one calendar date. Records are
// treated as immutable values: edits build a new Record.
type Record struct {
	AttendanceDate      string        `json:"attendance_date"`
	ShiftType           ShiftType     `json:"shift_type,omitempty"`
	Status              Status        `json:"status,omitempty"`
	AbsenceReason       AbsenceReason `json:"absence_reason,omitempty"`
	WorkerStartDateTime *Timestamp    `json:"worker_start_date_time"`
	WorkerEndDateTime   *Timestamp    `json:"worker_end_date_time"`
	RecordedByWorker    Flag          `json:"recorded_by_worker"`
	RecordedByStaff     Flag          `json:"recorded_by_staff"`
	LocalUpdatedAt      *Timestamp    `json:"local_updated_at,omitempty"`
	Modified            *Timestamp    `json:"modified,omitempty"`
	UpdatedAt           *Timestamp    `json:"updated_at,omitempty"`
	Created             *Timestamp    `json:"created,omitempty"`
	Local               bool          `json:"_local,omitempty"`

	// Extra keeps server fields this package does not model so they survive
	// a cache round trip.
	Extra map[string]json.RawMessage `json:"-"`
}

var recordFields = []string{
	"attendance_date", "shift_type", "status", "absence_reason",
	"worker_start_date_time", "worker_end_date_time",
	"recorded_by_worker", "recorded_by_staff",
	"local_updated_at", "modified", "updated_at", "created", "_local",
}

type recordAlias Record

func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordAlias(r))
	if err != nil || len(r.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+len(recordFields))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range recordFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}
	*r = Record(alias)
	return nil
}

// Freshness returns the newest of the record's freshness timestamps.
func (r Record) Freshness() (time.Time, bool) {
	var best time.Time
	for _, ts := range []*Timestamp{r.LocalUpdatedAt, r.Modified, r.UpdatedAt, r.Created} {
		if ts.valid() && ts.After(best) {
			best = ts.Time
		}
	}
	return best, !best.IsZero()
}

// IsAbsent is true for an absent status or any recorded absence reason.
func (r Record) IsAbsent() bool {
	return r.Status == StatusAbsent || r.AbsenceReason != ""
}

// HasShift reports whether the worker already started or ended this shift.
func (r Record) HasShift() bool {
	return r.WorkerStartDateTime.valid() || r.WorkerEndDateTime.valid()
}

// DecodeRecords decodes each element independently; malformed elements are
// dropped rather than failing the whole collection.
func DecodeRecords(raw []json.RawMessage) []Record {
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}
