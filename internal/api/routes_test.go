package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/offline"
	"attendance-sync-service/internal/portal"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
	"attendance-sync-service/internal/testutil"
)

type testEnv struct {
	fake    *testutil.FakePortal
	manager *sync.Manager
	handler *Handler
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := testutil.NewFakePortal(t)
	manager := sync.NewManager(offline.New(store.NewMemoryStore()), portal.NewClient(fake.Config()))
	handler := NewHandler(manager, config.ServerConfig{})
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})
	return &testEnv{fake: fake, manager: manager, handler: handler, server: server}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func today() string {
	return time.Now().Format(attendance.DateLayout)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}
}

func TestWorkerAndShiftFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/shift", map[string]any{"attendance_date": today(), "status": "present"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("save without worker: status = %d, want 409", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPut, "/api/v1/worker", map[string]string{"worker_id": "w1"}, nil)
	if resp.StatusCode != http.StatusOK || body["worker_id"] != "w1" || body["state"] != string(sync.StateSynced) {
		t.Fatalf("PUT worker = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/shift",
		map[string]any{"attendance_date": today(), "shift_type": "day", "status": "present", "action": "start"},
		map[string]string{csrfHeader: "tok"},
	)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("save = %d %v", resp.StatusCode, body)
	}
	if got := env.fake.CSRFTokens(); len(got) != 1 || got[0] != "tok" {
		t.Errorf("csrf token not forwarded: %v", got)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/history/"+today(), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET record = %d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	if data["shift_type"] != "day" {
		t.Errorf("unexpected record %v", data)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/history/2001-01-01", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/history", nil, nil)
	history, _ := body["history"].([]any)
	if resp.StatusCode != http.StatusOK || len(history) != 1 || body["retention_cutoff"] == "" {
		t.Errorf("GET history = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/shift/lookup", map[string]string{"attendance_date": today()}, nil)
	if resp.StatusCode != http.StatusOK || body["data"] == nil {
		t.Errorf("lookup = %d %v", resp.StatusCode, body)
	}
}

func TestSaveShift_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetWorker("w1")

	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{"},
		{"bad status", map[string]any{"attendance_date": today(), "status": "late"}},
		{"bad date", map[string]any{"attendance_date": "03/05/2024", "status": "present"}},
		{"lookup only", map[string]any{"attendance_date": today()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/v1/shift", tt.body, nil)
			if resp.StatusCode != http.StatusBadRequest || body["ok"] != false {
				t.Errorf("status = %d body = %v", resp.StatusCode, body)
			}
		})
	}
	if len(env.fake.Upserts()) != 0 {
		t.Errorf("invalid payloads must not reach the portal")
	}
}

func TestSaveShift_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetWorker("w1")
	env.fake.RejectUpserts("Invalid data")

	resp, body := env.do(t, http.MethodPost, "/api/v1/shift", map[string]any{"attendance_date": today(), "status": "present"}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity || body["message"] != "Invalid data" {
		t.Errorf("status = %d body = %v", resp.StatusCode, body)
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetWorker("w1")

	env.fake.SetDown(true)
	env.do(t, http.MethodPost, "/api/v1/shift", map[string]any{"attendance_date": today(), "status": "present"}, nil)

	_, body := env.do(t, http.MethodGet, "/api/v1/sync/status", nil, nil)
	if body["pending"] != float64(1) {
		t.Fatalf("expected one pending write, got %v", body)
	}

	env.fake.SetDown(false)
	resp, body := env.do(t, http.MethodPost, "/api/v1/sync/queue", nil, nil)
	if resp.StatusCode != http.StatusOK || body["remaining"] != float64(0) {
		t.Errorf("flush = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/sync/refresh", nil, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != string(sync.StateSynced) || body["last_sync_at"] == nil {
		t.Errorf("refresh = %d %v", resp.StatusCode, body)
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetWorker("w1")
	env.do(t, http.MethodPost, "/api/v1/shift", map[string]any{"attendance_date": today(), "status": "absent", "absence_reason": "sick"}, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/summary?month="+time.Now().Format("2006-01"), nil, nil)
	if resp.StatusCode != http.StatusOK || body["viewable"] != true {
		t.Fatalf("summary = %d %v", resp.StatusCode, body)
	}
	summary, _ := body["summary"].(map[string]any)
	if summary["total_absent"] != float64(1) {
		t.Errorf("unexpected summary %v", summary)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/summary?month=March", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad month status = %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetWorker("w1")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.handler.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.do(t, http.MethodPost, "/api/v1/shift", map[string]any{"attendance_date": today(), "status": "present", "action": "start"}, nil)

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(seen[EventHistory] && seen[EventShift] && seen[EventNotice]) {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (seen %v)", err, seen)
		}
		seen[ev.Type] = true
	}
}
