// Package testutil provides shared test helpers for internal packages.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/config"
)

// FakePortal is an in-memory worker portal serving the shift upsert and
// history endpoints with the real portal's upsert rules.
type FakePortal struct {
	Server *httptest.Server

	mu            sync.Mutex
	now           func() time.Time
	records       map[string]attendance.Record
	lastUpdated   time.Time
	upserts       []attendance.ShiftPayload
	csrfTokens    []string
	down          bool
	upsertStatus  int
	rejectMessage string
	historyStatus int
	historyCalls  int
}

func NewFakePortal(t testing.TB) *FakePortal {
	t.Helper()
	f := &FakePortal{
		now:     time.Now,
		records: make(map[string]attendance.Record),
	}

	r := chi.NewRouter()
	r.Use(f.outage)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/worker/shift-upsert/", f.handleUpsert)
	r.Get("/api/v1/worker/attendance-history/", f.handleHistory)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakePortal) Config() config.PortalConfig {
	return config.PortalConfig{
		BaseURL:         f.Server.URL,
		ShiftUpsertPath: "/worker/shift-upsert/",
		HistoryPath:     "/api/v1/worker/attendance-history/",
		HealthPath:      "/",
		SessionCookie:   "sessionid",
		SessionID:       "test-session",
	}
}

func (f *FakePortal) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Seed stores records as if the portal already had them.
func (f *FakePortal) Seed(recs ...attendance.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		f.records[rec.AttendanceDate] = rec
	}
}

func (f *FakePortal) SetLastUpdated(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdated = t
}

// SetDown makes every request fail at the transport level.
func (f *FakePortal) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// FailUpserts makes upserts answer with status; zero restores normal service.
func (f *FakePortal) FailUpserts(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertStatus = status
}

// RejectUpserts makes upserts answer 400 {ok:false, message}; empty restores.
func (f *FakePortal) RejectUpserts(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectMessage = message
}

func (f *FakePortal) FailHistory(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyStatus = status
}

// Upserts returns every write payload the portal accepted, in arrival order.
func (f *FakePortal) Upserts() []attendance.ShiftPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attendance.ShiftPayload(nil), f.upserts...)
}

func (f *FakePortal) CSRFTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.csrfTokens...)
}

func (f *FakePortal) HistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func (f *FakePortal) Record(date string) (attendance.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[date]
	return rec, ok
}

func (f *FakePortal) outage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakePortal) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var payload attendance.ShiftPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "Invalid JSON"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertStatus != 0 {
		w.WriteHeader(f.upsertStatus)
		return
	}
	if f.rejectMessage != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": f.rejectMessage})
		return
	}

	existing, found := f.records[payload.AttendanceDate]
	if payload.IsLookup() {
		if !found {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": existing})
		return
	}

	f.upserts = append(f.upserts, payload)
	f.csrfTokens = append(f.csrfTokens, r.Header.Get("X-CSRFToken"))

	now := f.now().UTC()
	rec := existing
	rec.AttendanceDate = payload.AttendanceDate
	rec.Local = false
	rec.LocalUpdatedAt = nil
	if payload.ShiftType != "" {
		rec.ShiftType = payload.ShiftType
	}
	rec.Status = payload.Status
	if rec.Status == "" {
		rec.Status = attendance.StatusPresent
	}
	action := payload.Action
	if action == "" {
		action = attendance.ActionStart
	}
	switch action {
	case attendance.ActionStart:
		rec.WorkerStartDateTime = payload.WorkerStartDateTime
		if rec.WorkerStartDateTime == nil {
			rec.WorkerStartDateTime = attendance.NewTimestamp(now)
		}
		if rec.Status != attendance.StatusPresent {
			rec.WorkerStartDateTime = nil
		}
	case attendance.ActionEnd:
		rec.WorkerEndDateTime = payload.WorkerEndDateTime
		if rec.WorkerEndDateTime == nil {
			rec.WorkerEndDateTime = attendance.NewTimestamp(now)
		}
	}
	if payload.AbsenceReason.Set && payload.AbsenceReason.Value != "" {
		rec.AbsenceReason = payload.AbsenceReason.Value
	}
	rec.RecordedByWorker = true
	rec.Modified = attendance.NewTimestamp(now)
	if !found {
		rec.Created = attendance.NewTimestamp(now)
	}
	f.records[rec.AttendanceDate] = rec
	f.lastUpdated = now

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "created": !found, "data": rec})
}

func (f *FakePortal) handleHistory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++

	if f.historyStatus != 0 {
		writeJSON(w, f.historyStatus, map[string]any{"ok": false, "message": "unavailable"})
		return
	}

	data := make([]attendance.Record, 0, len(f.records))
	for _, rec := range f.records {
		data = append(data, rec)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].AttendanceDate > data[j].AttendanceDate })

	body := map[string]any{"ok": true, "data": data}
	if !f.lastUpdated.IsZero() {
		body["last_updated_at"] = f.lastUpdated.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
