package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/sync"
)

const csrfHeader = "X-CSRFToken"

type Handler struct {
	syncManager *sync.Manager
	hub         *Hub
	corsOrigins []string
	now         func() time.Time
}

func NewHandler(manager *sync.Manager, cfg config.ServerConfig) *Handler {
	return &Handler{
		syncManager: manager,
		hub:         NewHub(manager),
		corsOrigins: cfg.CorsOrigins,
		now:         time.Now,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.CSRFMiddleware)

		r.Get("/worker", h.GetWorker)
		r.Put("/worker", h.SetWorker)

		r.Get("/history", h.GetHistory)
		r.Get("/history/{date}", h.GetRecord)

		r.Post("/shift", h.SaveShift)
		r.Post("/shift/lookup", h.LookupShift)

		r.Post("/sync/refresh", h.TriggerRefresh)
		r.Post("/sync/queue", h.FlushQueue)
		r.Get("/sync/status", h.GetSyncStatus)

		r.Get("/summary", h.GetSummary)
		r.Get("/events", h.hub.ServeWS)
	})

	return r
}

// Close detaches the event hub from the manager and disconnects its clients.
func (h *Handler) Close() {
	h.hub.Close()
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type workerResponse struct {
	WorkerID string     `json:"worker_id"`
	State    sync.State `json:"state"`
	Online   bool       `json:"online"`
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workerResponse{
		WorkerID: h.syncManager.WorkerID(),
		State:    h.syncManager.State(),
		Online:   h.syncManager.Online(),
	})
}

func (h *Handler) SetWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	if h.syncManager.SetWorker(req.WorkerID) {
		h.syncManager.Load(r.Context())
	}
	h.GetHistory(w, r)
}

type historyResponse struct {
	WorkerID        string                    `json:"worker_id"`
	State           sync.State                `json:"state"`
	History         []attendance.Record       `json:"history"`
	RetentionCutoff string                    `json:"retention_cutoff"`
	LastSyncAt      *time.Time                `json:"last_sync_at"`
	DBUpdatedAt     *time.Time                `json:"db_updated_at"`
	Pending         []attendance.PendingWrite `json:"pending"`
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	state := h.syncManager.SyncState(r.Context())
	writeJSON(w, http.StatusOK, historyResponse{
		WorkerID:        h.syncManager.WorkerID(),
		State:           h.syncManager.State(),
		History:         h.syncManager.History(),
		RetentionCutoff: h.syncManager.RetentionCutoff().Format(attendance.DateLayout),
		LastSyncAt:      optionalTime(state.LastSyncAt),
		DBUpdatedAt:     optionalTime(state.DBUpdatedAt),
		Pending:         h.syncManager.Pending(r.Context()),
	})
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !attendance.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	rec, ok := h.syncManager.Record(date)
	if !ok {
		writeError(w, http.StatusNotFound, "no record for "+date)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": rec})
}

func (h *Handler) SaveShift(w http.ResponseWriter, r *http.Request) {
	if !h.requireWorker(w) {
		return
	}
	var payload attendance.ShiftPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.IsLookup() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	res := h.syncManager.SaveShift(r.Context(), r.Header.Get(csrfHeader), payload)
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *Handler) LookupShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttendanceDate string `json:"attendance_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !attendance.ValidDate(req.AttendanceDate) {
		writeError(w, http.StatusBadRequest, attendance.ErrInvalidDate.Error())
		return
	}
	rec := h.syncManager.LookupShift(r.Context(), r.Header.Get(csrfHeader), req.AttendanceDate)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": rec})
}

func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.requireWorker(w) {
		return
	}
	h.syncManager.Refresh(r.Context())
	h.GetHistory(w, r)
}

func (h *Handler) FlushQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireWorker(w) {
		return
	}
	remaining := h.syncManager.FlushQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "remaining": len(remaining), "pending": remaining})
}

type statusResponse struct {
	WorkerID    string     `json:"worker_id"`
	State       sync.State `json:"state"`
	Online      bool       `json:"online"`
	Refreshing  bool       `json:"refreshing"`
	Pending     int        `json:"pending"`
	LastSyncAt  *time.Time `json:"last_sync_at"`
	DBUpdatedAt *time.Time `json:"db_updated_at"`
	Clients     int        `json:"event_clients"`
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	state := h.syncManager.SyncState(r.Context())
	writeJSON(w, http.StatusOK, statusResponse{
		WorkerID:    h.syncManager.WorkerID(),
		State:       h.syncManager.State(),
		Online:      h.syncManager.Online(),
		Refreshing:  h.syncManager.Refreshing(),
		Pending:     len(h.syncManager.Pending(r.Context())),
		LastSyncAt:  optionalTime(state.LastSyncAt),
		DBUpdatedAt: optionalTime(state.DBUpdatedAt),
		Clients:     h.hub.Clients(),
	})
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	month := h.now()
	if v := r.URL.Query().Get("month"); v != "" {
		parsed, err := time.ParseInLocation("2006-01", v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = parsed
	}

	viewable := h.syncManager.CheckViewMonth(month.Year(), month.Month())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"viewable": viewable,
		"summary":  attendance.Summarize(h.syncManager.History(), month.Year(), month.Month()),
	})
}

func (h *Handler) requireWorker(w http.ResponseWriter) bool {
	if h.syncManager.WorkerID() == "" {
		writeError(w, http.StatusConflict, "no active worker")
		return false
	}
	return true
}

func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, "+csrfHeader)

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin(origin string) string {
	if len(h.corsOrigins) == 0 {
		return "*"
	}
	for _, o := range h.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// CSRFMiddleware remembers the caller's anti-forgery token so background
// queue flushes can reuse it.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get(csrfHeader); token != "" {
			h.syncManager.SetAuth(token)
		}
		next.ServeHTTP(w, r)
	})
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "message": message})
}
