package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/offline"
	"attendance-sync-service/internal/portal"
	"attendance-sync-service/internal/store"
)

// Connectivity reports whether the portal is currently believed reachable.
type Connectivity interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithConnectivity(c Connectivity) Option {
	return func(m *Manager) { m.conn = c }
}

// Manager owns one portal session: the active worker, the cached history
// shown to the user and the current shift record. Every recoverable failure
// is absorbed here; callers only see results, observers and notices.
type Manager struct {
	local  *offline.Store
	portal Portal
	queue  *QueueProcessor
	conn   Connectivity
	now    func() time.Time

	mu       sync.RWMutex
	workerID string
	history  []attendance.Record
	shift    *attendance.Record
	state    State
	csrf     string

	refreshes atomic.Int32

	historyObs observers[[]attendance.Record]
	shiftObs   observers[*attendance.Record]
	noticeObs  observers[Notice]
}

func NewManager(local *offline.Store, p Portal, opts ...Option) *Manager {
	m := &Manager{
		local:   local,
		portal:  p,
		queue:   NewQueueProcessor(local, p),
		conn:    alwaysOnline{},
		now:     time.Now,
		history: []attendance.Record{},
		state:   StateUnsynced,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetWorker switches the active worker. The in-memory history and shift are
// reset; persisted data of every worker is left as is.
func (m *Manager) SetWorker(workerID string) bool {
	m.mu.Lock()
	if m.workerID == workerID {
		m.mu.Unlock()
		return false
	}
	m.workerID = workerID
	m.history = []attendance.Record{}
	m.shift = nil
	m.state = StateUnsynced
	m.mu.Unlock()

	logger.Log.Info("Active worker changed", zap.String("worker", workerID))
	m.historyObs.publish([]attendance.Record{})
	m.shiftObs.publish(nil)
	return true
}

// SetAuth remembers the latest anti-forgery token for background flushes.
func (m *Manager) SetAuth(csrf string) {
	if csrf == "" {
		return
	}
	m.mu.Lock()
	m.csrf = csrf
	m.mu.Unlock()
}

func (m *Manager) token(csrf string) string {
	if csrf != "" {
		m.SetAuth(csrf)
		return csrf
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.csrf
}

func (m *Manager) WorkerID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workerID
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// History returns a snapshot of the cached history, newest date first.
func (m *Manager) History() []attendance.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneHistory(m.history)
}

func (m *Manager) Record(date string) (attendance.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FindRecord(m.history, date)
}

// Shift is the record of the date currently being edited, nil if none.
func (m *Manager) Shift() *attendance.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shift == nil {
		return nil
	}
	rec := *m.shift
	return &rec
}

func (m *Manager) RetentionCutoff() time.Time {
	return m.local.RetentionCutoff()
}

func (m *Manager) Online() bool {
	return m.conn.Online()
}

// Refreshing reports whether a refresh is in flight.
func (m *Manager) Refreshing() bool {
	return m.refreshes.Load() > 0
}

func (m *Manager) Pending(ctx context.Context) []attendance.PendingWrite {
	return m.local.LoadQueue(ctx, m.WorkerID())
}

func (m *Manager) SyncState(ctx context.Context) store.WorkerSyncState {
	return m.local.SyncState(ctx, m.WorkerID())
}

func (m *Manager) OnHistoryChanged(fn func([]attendance.Record)) (unsubscribe func()) {
	return m.historyObs.add(fn)
}

func (m *Manager) OnShiftChanged(fn func(*attendance.Record)) (unsubscribe func()) {
	return m.shiftObs.add(fn)
}

func (m *Manager) OnNotice(fn func(Notice)) (unsubscribe func()) {
	return m.noticeObs.add(fn)
}

// ApplyLocalShiftUpdate overlays payload onto the record for its date in
// history and returns the edited record and the merged history.
func ApplyLocalShiftUpdate(payload attendance.ShiftPayload, history []attendance.Record, now time.Time) (attendance.Record, []attendance.Record) {
	next, _ := FindRecord(history, payload.AttendanceDate)
	next.AttendanceDate = payload.AttendanceDate
	if payload.ShiftType != "" {
		next.ShiftType = payload.ShiftType
	}
	if payload.Status != "" {
		next.Status = payload.Status
	} else if next.Status == "" {
		next.Status = attendance.StatusPresent
	}
	if payload.AbsenceReason.Set {
		next.AbsenceReason = payload.AbsenceReason.Value
	}
	next.RecordedByWorker = true

	switch payload.Action {
	case attendance.ActionStart:
		if next.Status != attendance.StatusPresent {
			next.WorkerStartDateTime = nil
		} else {
			next.WorkerStartDateTime = timestampOr(payload.WorkerStartDateTime, now)
		}
	case attendance.ActionEnd:
		next.WorkerEndDateTime = timestampOr(payload.WorkerEndDateTime, now)
	}

	next.Local = true
	next.LocalUpdatedAt = attendance.NewTimestamp(now)
	return next, MergeHistory(history, []attendance.Record{next})
}

func timestampOr(ts *attendance.Timestamp, fallback time.Time) *attendance.Timestamp {
	if ts != nil && !ts.IsZero() {
		return attendance.NewTimestamp(ts.Time)
	}
	return attendance.NewTimestamp(fallback)
}

// SaveShift records payload for the active worker. The edit is applied to
// the cached history before any network call. Offline and transport or server
// failures queue the write and still report OK; only an invalid payload or an
// explicit rejection from the portal reports a failure. An invalid payload
// leaves the cache untouched; a rejected edit is kept.
func (m *Manager) SaveShift(ctx context.Context, csrf string, payload attendance.ShiftPayload) SaveResult {
	if err := payload.Validate(); err != nil {
		return SaveResult{Message: err.Error()}
	}
	workerID := m.WorkerID()
	if workerID == "" {
		return SaveResult{Message: offline.ErrNoWorker.Error()}
	}
	token := m.token(csrf)

	var local attendance.Record
	m.updateHistory(ctx, workerID, func(history []attendance.Record) []attendance.Record {
		var merged []attendance.Record
		local, merged = ApplyLocalShiftUpdate(payload, history, m.now().UTC())
		return merged
	})
	m.setShift(workerID, &local)

	if !m.Online() {
		return m.saveOffline(ctx, workerID, payload, local)
	}

	resp, err := m.portal.UpsertShift(ctx, token, payload)
	if err == nil {
		m.notify(Notice{Kind: NoticeSaved, Message: msgSaved})
		if resp.Data == nil {
			return SaveResult{OK: true}
		}
		synced := *resp.Data
		m.updateHistory(ctx, workerID, func(history []attendance.Record) []attendance.Record {
			return MergeHistory(history, []attendance.Record{synced})
		})
		m.setShift(workerID, &synced)
		return SaveResult{OK: true, Record: &synced}
	}

	if msg, ok := portal.RejectionMessage(err); ok {
		logger.Log.Warn("Portal rejected shift update", zap.String("worker", workerID), zap.String("date", payload.AttendanceDate), zap.String("message", msg))
		m.notify(Notice{Kind: NoticeUpdateFailed, Message: msg})
		return SaveResult{OK: false, Record: &local, Message: msg}
	}

	logger.Log.Warn("Shift update failed, queueing", zap.String("worker", workerID), zap.String("date", payload.AttendanceDate), zap.Error(err))
	return m.saveOffline(ctx, workerID, payload, local)
}

func (m *Manager) saveOffline(ctx context.Context, workerID string, payload attendance.ShiftPayload, local attendance.Record) SaveResult {
	if _, err := m.local.Enqueue(ctx, workerID, payload); err != nil {
		logger.Log.Error("Failed to queue shift update", zap.String("worker", workerID), zap.Error(err))
	}
	m.notify(Notice{Kind: NoticeSavedOffline, Message: msgSavedOffline})
	return SaveResult{OK: true, Offline: true, Record: &local}
}

// LookupShift loads the record of one date from the portal and makes it the
// current shift. When the portal cannot be reached the cached record is used.
func (m *Manager) LookupShift(ctx context.Context, csrf, date string) *attendance.Record {
	workerID := m.WorkerID()
	if !m.Online() {
		return m.cachedShift(workerID, date)
	}

	resp, err := m.portal.LookupShift(ctx, m.token(csrf), date)
	if errors.Is(err, portal.ErrUnavailable) {
		return m.cachedShift(workerID, date)
	}
	if err != nil {
		logger.Log.Warn("Shift lookup failed", zap.String("date", date), zap.Error(err))
		return nil
	}
	if resp.Data == nil {
		m.setShift(workerID, nil)
		return nil
	}
	rec := *resp.Data
	m.setShift(workerID, &rec)
	return &rec
}

func (m *Manager) cachedShift(workerID, date string) *attendance.Record {
	rec, ok := m.Record(date)
	if !ok {
		return nil
	}
	m.setShift(workerID, &rec)
	return &rec
}

// Refresh reconciles the local cache with the portal's history and returns
// the history now presented. It never fails: problems fall back to the
// local cache.
func (m *Manager) Refresh(ctx context.Context) []attendance.Record {
	workerID := m.WorkerID()
	if workerID == "" {
		return []attendance.Record{}
	}
	m.refreshes.Add(1)
	defer m.refreshes.Add(-1)

	local := m.local.LoadHistory(ctx, workerID)
	if m.local.LastSyncAt(ctx, workerID).IsZero() && len(local) > 0 {
		m.present(workerID, local)
	}

	if !m.Online() {
		m.present(workerID, local)
		m.setState(workerID, StateOfflineCached)
		return local
	}

	m.setState(workerID, StateSyncing)
	remote, err := m.portal.FetchHistory(ctx)
	if err != nil {
		logger.Log.Warn("History fetch failed, using offline cache", zap.String("worker", workerID), zap.Error(err))
		m.present(workerID, local)
		m.setState(workerID, StateOfflineCached)
		return local
	}

	var remoteUpdated time.Time
	if remote.LastUpdatedAt != nil {
		remoteUpdated = remote.LastUpdatedAt.Time
	}
	localUpdated, _ := HistoryLastUpdated(local)
	if err := m.local.SetDBUpdatedAt(ctx, workerID, remoteUpdated); err != nil {
		logger.Log.Error("Failed to store portal update marker", zap.String("worker", workerID), zap.Error(err))
	}

	var merged []attendance.Record
	flush := false
	switch {
	case IsAfter(localUpdated, remoteUpdated):
		merged = MergeHistory(remote.Data, local)
		flush = true
	case IsAfter(remoteUpdated, localUpdated):
		merged = MergeHistory(nil, remote.Data)
	default:
		merged = MergeHistory(remote.Data, local)
	}

	logger.Log.Debug("History reconciled",
		zap.String("worker", workerID),
		zap.Int("local", len(local)),
		zap.Int("remote", len(remote.Data)),
		zap.Int("merged", len(merged)),
		zap.Bool("localNewer", flush),
	)

	// Edits saved while the fetch was in flight are laid over the result.
	m.updateHistory(ctx, workerID, func(current []attendance.Record) []attendance.Record {
		return MergeHistory(merged, EditsSince(local, m.local.Prune(current), merged))
	})
	if err := m.local.SetLastSyncAt(ctx, workerID, m.now()); err != nil {
		logger.Log.Error("Failed to store last sync time", zap.String("worker", workerID), zap.Error(err))
	}
	m.setState(workerID, StateSynced)

	if flush {
		m.flushQueue(ctx, workerID)
	}
	return m.historyOf(workerID, merged)
}

// FlushQueue delivers the active worker's pending writes and returns what is
// still pending.
func (m *Manager) FlushQueue(ctx context.Context) []attendance.PendingWrite {
	return m.flushQueue(ctx, m.WorkerID())
}

func (m *Manager) flushQueue(ctx context.Context, workerID string) []attendance.PendingWrite {
	if workerID == "" {
		return []attendance.PendingWrite{}
	}
	if !m.Online() {
		return m.local.LoadQueue(ctx, workerID)
	}
	remaining, err := m.queue.SyncQueue(ctx, QueueOptions{
		WorkerID:  workerID,
		AuthToken: m.token(""),
		OnRecordSynced: func(rec attendance.Record) {
			m.updateHistory(ctx, workerID, func(history []attendance.Record) []attendance.Record {
				return MergeHistory(history, []attendance.Record{rec})
			})
		},
	})
	if err != nil {
		logger.Log.Warn("Offline queue flush incomplete", zap.String("worker", workerID), zap.Error(err))
	}
	return remaining
}

// Load runs the page-load sequence: show the local cache, flush the queue,
// then refresh from the portal.
func (m *Manager) Load(ctx context.Context) []attendance.Record {
	workerID := m.WorkerID()
	if workerID == "" {
		return []attendance.Record{}
	}
	if local := m.local.LoadHistory(ctx, workerID); len(local) > 0 {
		m.present(workerID, local)
	}
	m.flushQueue(ctx, workerID)
	return m.Refresh(ctx)
}

func (m *Manager) HandleOnline(ctx context.Context) {
	workerID := m.WorkerID()
	if workerID == "" {
		return
	}
	logger.Log.Info("Portal reachable, syncing", zap.String("worker", workerID))
	m.flushQueue(ctx, workerID)
	m.Refresh(ctx)
}

func (m *Manager) HandleOffline(ctx context.Context) {
	workerID := m.WorkerID()
	if workerID == "" {
		return
	}
	logger.Log.Info("Portal unreachable, using offline cache", zap.String("worker", workerID))
	if local := m.local.LoadHistory(ctx, workerID); len(local) > 0 {
		m.present(workerID, local)
	}
	m.setState(workerID, StateOfflineCached)
}

// Watch reacts to connectivity transitions until ctx is done or ch closes.
func (m *Manager) Watch(ctx context.Context, ch <-chan Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			if t.Online {
				m.HandleOnline(ctx)
			} else {
				m.HandleOffline(ctx)
			}
		}
	}
}

// CheckViewMonth reports whether the month can be shown from what is cached.
// Offline, months starting before the retention cutoff are not.
func (m *Manager) CheckViewMonth(year int, month time.Month) bool {
	if m.Online() {
		return true
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	if !start.Before(m.RetentionCutoff()) {
		return true
	}
	m.notify(Notice{Kind: NoticeOnlineRequired, Message: msgOnlineRequired})
	return false
}

// updateHistory applies fn to the worker's history and persists the result.
// For the active worker the in-memory cache is the base; before the first
// load it is merged over the persisted history so nothing stored is dropped.
func (m *Manager) updateHistory(ctx context.Context, workerID string, fn func([]attendance.Record) []attendance.Record) []attendance.Record {
	m.mu.Lock()
	active := m.workerID == workerID
	var base []attendance.Record
	switch {
	case !active:
		base = m.local.LoadHistory(ctx, workerID)
	case m.state == StateUnsynced:
		base = MergeHistory(m.local.LoadHistory(ctx, workerID), m.history)
	default:
		base = m.history
	}
	next := fn(cloneHistory(base))
	if active {
		m.history = next
	}
	if _, err := m.local.SaveHistory(ctx, workerID, next); err != nil {
		logger.Log.Error("Failed to persist history", zap.String("worker", workerID), zap.Error(err))
	}
	m.mu.Unlock()

	if active {
		m.historyObs.publish(cloneHistory(next))
	}
	return next
}

// present shows history without persisting it.
func (m *Manager) present(workerID string, history []attendance.Record) {
	m.mu.Lock()
	if m.workerID != workerID {
		m.mu.Unlock()
		return
	}
	m.history = cloneHistory(history)
	m.mu.Unlock()
	m.historyObs.publish(cloneHistory(history))
}

func (m *Manager) historyOf(workerID string, fallback []attendance.Record) []attendance.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.workerID != workerID {
		return cloneHistory(fallback)
	}
	return cloneHistory(m.history)
}

func (m *Manager) setShift(workerID string, rec *attendance.Record) {
	m.mu.Lock()
	if m.workerID != workerID {
		m.mu.Unlock()
		return
	}
	m.shift = nil
	var snapshot *attendance.Record
	if rec != nil {
		stored, published := *rec, *rec
		m.shift, snapshot = &stored, &published
	}
	m.mu.Unlock()
	m.shiftObs.publish(snapshot)
}

func (m *Manager) setState(workerID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workerID != workerID || m.state == s {
		return
	}
	logger.Log.Debug("Sync state changed", zap.String("worker", workerID), zap.String("from", string(m.state)), zap.String("to", string(s)))
	m.state = s
}

func (m *Manager) notify(n Notice) {
	m.noticeObs.publish(n)
}

func cloneHistory(history []attendance.Record) []attendance.Record {
	return append(make([]attendance.Record, 0, len(history)), history...)
}

// observers is a registry of callbacks invoked synchronously in
// registration order.
type observers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
	ids  []int
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	o.ids = append(o.ids, id)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
		for i, v := range o.ids {
			if v == id {
				o.ids = append(o.ids[:i], o.ids[i+1:]...)
				break
			}
		}
	}
}

func (o *observers[T]) publish(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.ids))
	for _, id := range o.ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
