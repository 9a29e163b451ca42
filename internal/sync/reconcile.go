package sync

import (
	"sort"
	"time"

	"attendance-sync-service/internal/attendance"
)

// MergeHistory combines two collections keyed by attendance date. Records in
// incoming replace records in base for the same date. The result is sorted
// newest date first; records without a date are dropped.
func MergeHistory(base, incoming []attendance.Record) []attendance.Record {
	byDate := make(map[string]attendance.Record, len(base)+len(incoming))
	for _, rec := range base {
		if rec.AttendanceDate != "" {
			byDate[rec.AttendanceDate] = rec
		}
	}
	for _, rec := range incoming {
		if rec.AttendanceDate != "" {
			byDate[rec.AttendanceDate] = rec
		}
	}

	merged := make([]attendance.Record, 0, len(byDate))
	for _, rec := range byDate {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].AttendanceDate > merged[j].AttendanceDate
	})
	return merged
}

// HistoryLastUpdated returns the newest freshness timestamp in history.
func HistoryLastUpdated(history []attendance.Record) (time.Time, bool) {
	var latest time.Time
	for _, rec := range history {
		if ts, ok := rec.Freshness(); ok && ts.After(latest) {
			latest = ts
		}
	}
	return latest, !latest.IsZero()
}

// IsAfter compares freshness markers where the zero time means "unknown":
// an unknown left is never after, and anything known is after an unknown right.
func IsAfter(left, right time.Time) bool {
	if left.IsZero() {
		return false
	}
	if right.IsZero() {
		return true
	}
	return left.After(right)
}

func FindRecord(history []attendance.Record, date string) (attendance.Record, bool) {
	for _, rec := range history {
		if rec.AttendanceDate == date {
			return rec, true
		}
	}
	return attendance.Record{}, false
}

// EditsSince returns the records of current that are missing from snapshot or
// fresher than their snapshot copy, skipping those that base already holds in
// an equal or fresher version.
func EditsSince(snapshot, current, base []attendance.Record) []attendance.Record {
	var edits []attendance.Record
	for _, rec := range current {
		if prev, ok := FindRecord(snapshot, rec.AttendanceDate); ok && !fresher(rec, prev) {
			continue
		}
		if have, ok := FindRecord(base, rec.AttendanceDate); ok && !fresher(rec, have) {
			continue
		}
		edits = append(edits, rec)
	}
	return edits
}

func fresher(a, b attendance.Record) bool {
	at, _ := a.Freshness()
	bt, _ := b.Freshness()
	return IsAfter(at, bt)
}
