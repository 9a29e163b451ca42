// Package offline persists one worker's attendance history, pending writes and
// sync bookmarks so the portal keeps working without connectivity.
//
// History is pruned to a rolling retention window on every load and save.
// Malformed persisted data reads as empty; it is logged, never returned.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
)

const DefaultRetentionDays = 7

var ErrNoWorker = errors.New("offline: no active worker")

type Store struct {
	kv            store.Store
	retentionDays int
	now           func() time.Time

	// queueMu serializes read-modify-write cycles on the queue key.
	queueMu sync.Mutex
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithRetentionDays(days int) Option {
	return func(s *Store) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

func New(kv store.Store, opts ...Option) *Store {
	s := &Store{
		kv:            kv,
		retentionDays: DefaultRetentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RetentionDays() int { return s.retentionDays }

// RetentionCutoff is local midnight of the oldest day still retained.
func (s *Store) RetentionCutoff() time.Time {
	today := attendance.StartOfDay(s.now().In(time.Local))
	return today.AddDate(0, 0, -(s.retentionDays - 1))
}

// Prune keeps records dated on or after the retention cutoff, in input order.
func (s *Store) Prune(history []attendance.Record) []attendance.Record {
	cutoff := s.RetentionCutoff()
	out := make([]attendance.Record, 0, len(history))
	for _, rec := range history {
		d, ok := attendance.ParseDate(rec.AttendanceDate)
		if !ok || d.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *Store) LoadHistory(ctx context.Context, workerID string) []attendance.Record {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return []attendance.Record{}
	}
	raw, ok := s.read(ctx, ns, store.KeyHistory)
	if !ok {
		return []attendance.Record{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Log.Warn("Discarding corrupt offline history", zap.String("worker", workerID), zap.Error(err))
		return []attendance.Record{}
	}
	return s.Prune(attendance.DecodeRecords(items))
}

// SaveHistory prunes, persists and returns what was actually stored.
func (s *Store) SaveHistory(ctx context.Context, workerID string, history []attendance.Record) ([]attendance.Record, error) {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return nil, ErrNoWorker
	}
	pruned := s.Prune(history)
	if err := s.write(ctx, ns, store.KeyHistory, pruned); err != nil {
		return pruned, err
	}
	return pruned, nil
}

func (s *Store) DBUpdatedAt(ctx context.Context, workerID string) time.Time {
	return s.readTime(ctx, workerID, store.KeyDBUpdatedAt)
}

// SetDBUpdatedAt stores the remote freshness marker; a zero time clears it.
func (s *Store) SetDBUpdatedAt(ctx context.Context, workerID string, t time.Time) error {
	return s.writeTime(ctx, workerID, store.KeyDBUpdatedAt, t)
}

func (s *Store) LastSyncAt(ctx context.Context, workerID string) time.Time {
	return s.readTime(ctx, workerID, store.KeyLastSyncAt)
}

// SetLastSyncAt stores the last successful sync; a zero time clears it.
func (s *Store) SetLastSyncAt(ctx context.Context, workerID string, t time.Time) error {
	return s.writeTime(ctx, workerID, store.KeyLastSyncAt, t)
}

func (s *Store) SyncState(ctx context.Context, workerID string) store.WorkerSyncState {
	return store.WorkerSyncState{
		WorkerID:    workerID,
		LastSyncAt:  s.LastSyncAt(ctx, workerID),
		DBUpdatedAt: s.DBUpdatedAt(ctx, workerID),
	}
}

func (s *Store) LoadQueue(ctx context.Context, workerID string) []attendance.PendingWrite {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.loadQueue(ctx, workerID)
}

func (s *Store) SaveQueue(ctx context.Context, workerID string, queue []attendance.PendingWrite) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.saveQueue(ctx, workerID, queue)
}

// Enqueue appends payload to the worker's queue as a new PendingWrite.
func (s *Store) Enqueue(ctx context.Context, workerID string, payload attendance.ShiftPayload) (attendance.PendingWrite, error) {
	if workerID == "" {
		return attendance.PendingWrite{}, ErrNoWorker
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	item := attendance.NewPendingWrite(s.now(), payload)
	queue := append(s.loadQueue(ctx, workerID), item)
	if err := s.saveQueue(ctx, workerID, queue); err != nil {
		return item, err
	}
	return item, nil
}

// RemoveQueued drops the items with the given ids and returns what remains.
// Removing an id that is already gone is a no-op.
func (s *Store) RemoveQueued(ctx context.Context, workerID string, ids ...string) ([]attendance.PendingWrite, error) {
	if workerID == "" {
		return nil, ErrNoWorker
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	queue := s.loadQueue(ctx, workerID)
	remaining := queue[:0]
	for _, item := range queue {
		if _, ok := drop[item.ID]; !ok {
			remaining = append(remaining, item)
		}
	}
	if len(remaining) == len(queue) {
		return remaining, nil
	}
	return remaining, s.saveQueue(ctx, workerID, remaining)
}

func (s *Store) loadQueue(ctx context.Context, workerID string) []attendance.PendingWrite {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return []attendance.PendingWrite{}
	}
	raw, ok := s.read(ctx, ns, store.KeyQueue)
	if !ok {
		return []attendance.PendingWrite{}
	}
	var queue []attendance.PendingWrite
	if err := json.Unmarshal(raw, &queue); err != nil {
		logger.Log.Warn("Discarding corrupt offline queue", zap.String("worker", workerID), zap.Error(err))
		return []attendance.PendingWrite{}
	}
	if queue == nil {
		queue = []attendance.PendingWrite{}
	}
	return queue
}

func (s *Store) saveQueue(ctx context.Context, workerID string, queue []attendance.PendingWrite) error {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return ErrNoWorker
	}
	if queue == nil {
		queue = []attendance.PendingWrite{}
	}
	return s.write(ctx, ns, store.KeyQueue, queue)
}

func (s *Store) read(ctx context.Context, ns, key string) ([]byte, bool) {
	raw, err := s.kv.Get(ctx, ns, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		logger.Log.Warn("Failed to read offline state", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return raw, len(raw) > 0
}

func (s *Store) write(ctx context.Context, ns, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, ns, key, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func (s *Store) readTime(ctx context.Context, workerID, key string) time.Time {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return time.Time{}
	}
	raw, ok := s.read(ctx, ns, key)
	if !ok {
		return time.Time{}
	}
	t, _ := attendance.ParseTimestamp(string(raw))
	return t
}

func (s *Store) writeTime(ctx context.Context, workerID, key string, t time.Time) error {
	ns := store.WorkerNamespace(workerID)
	if ns == "" {
		return ErrNoWorker
	}
	if t.IsZero() {
		return s.kv.Delete(ctx, ns, key)
	}
	if err := s.kv.Put(ctx, ns, key, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}
