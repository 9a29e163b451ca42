package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/offline"
	"attendance-sync-service/internal/portal"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/testutil"
)

// testNow keeps 2024-03-01 through 2024-03-07 inside the retention window.
var testNow = time.Date(2024, 3, 7, 12, 0, 0, 0, time.Local)

func clock() time.Time { return testNow }

type switchable struct {
	online atomic.Bool
}

func newSwitchable(online bool) *switchable {
	s := &switchable{}
	s.online.Store(online)
	return s
}

func (s *switchable) Online() bool { return s.online.Load() }

func (s *switchable) Set(online bool) { s.online.Store(online) }

type harness struct {
	fake  *testutil.FakePortal
	local *offline.Store
	conn  *switchable
	m     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := testutil.NewFakePortal(t)
	local := offline.New(store.NewMemoryStore(), offline.WithClock(clock))
	conn := newSwitchable(true)
	m := NewManager(local, portal.NewClient(fake.Config()), WithClock(clock), WithConnectivity(conn))
	m.SetWorker("w1")
	return &harness{fake: fake, local: local, conn: conn, m: m}
}

func (h *harness) seedLocal(t *testing.T, history ...attendance.Record) {
	t.Helper()
	if _, err := h.local.SaveHistory(context.Background(), "w1", history); err != nil {
		t.Fatalf("seed local history: %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, payload attendance.ShiftPayload) attendance.PendingWrite {
	t.Helper()
	item, err := h.local.Enqueue(context.Background(), "w1", payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

// stubPortal answers upserts from a function and fails everything else.
type stubPortal struct {
	upsert func(n int, payload attendance.ShiftPayload) (*portal.ShiftResponse, error)
	calls  int
}

func (s *stubPortal) UpsertShift(_ context.Context, _ string, payload attendance.ShiftPayload) (*portal.ShiftResponse, error) {
	s.calls++
	return s.upsert(s.calls, payload)
}

func (s *stubPortal) LookupShift(context.Context, string, string) (*portal.ShiftResponse, error) {
	return nil, portal.ErrUnavailable
}

func (s *stubPortal) FetchHistory(context.Context) (*portal.HistoryResponse, error) {
	return nil, portal.ErrUnavailable
}

func ackPayload(payload attendance.ShiftPayload) *portal.ShiftResponse {
	return &portal.ShiftResponse{
		OK: true,
		Data: &attendance.Record{
			AttendanceDate: payload.AttendanceDate,
			ShiftType:      payload.ShiftType,
			Status:         payload.Status,
		},
	}
}

func ts(s string) *attendance.Timestamp {
	t, ok := attendance.ParseTimestamp(s)
	if !ok {
		panic("bad timestamp " + s)
	}
	return attendance.NewTimestamp(t)
}
