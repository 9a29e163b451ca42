package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/offline"
	"attendance-sync-service/internal/portal"
)

// Portal is the remote side of the sync: *portal.Client in production.
type Portal interface {
	UpsertShift(ctx context.Context, csrf string, payload attendance.ShiftPayload) (*portal.ShiftResponse, error)
	LookupShift(ctx context.Context, csrf, date string) (*portal.ShiftResponse, error)
	FetchHistory(ctx context.Context) (*portal.HistoryResponse, error)
}

type QueueOptions struct {
	WorkerID  string
	AuthToken string
	// OnRecordSynced receives the portal's copy of every acknowledged write.
	OnRecordSynced func(attendance.Record)
}

// QueueProcessor delivers a worker's pending writes to the portal.
type QueueProcessor struct {
	local  *offline.Store
	portal Portal

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewQueueProcessor(local *offline.Store, p Portal) *QueueProcessor {
	return &QueueProcessor{
		local:  local,
		portal: p,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (q *QueueProcessor) workerLock(workerID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[workerID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[workerID] = l
	}
	return l
}

// SyncQueue submits every queued write one at a time, oldest first. An
// acknowledged item is removed from the persisted queue before the next one
// is sent; a failed item stays for the next flush and does not stop the rest.
// It returns the items still pending afterwards.
func (q *QueueProcessor) SyncQueue(ctx context.Context, opts QueueOptions) ([]attendance.PendingWrite, error) {
	if opts.WorkerID == "" {
		return []attendance.PendingWrite{}, nil
	}

	lock := q.workerLock(opts.WorkerID)
	lock.Lock()
	defer lock.Unlock()

	queue := q.local.LoadQueue(ctx, opts.WorkerID)
	if len(queue) == 0 {
		return []attendance.PendingWrite{}, nil
	}

	logger.Log.Info("Flushing offline queue", zap.String("worker", opts.WorkerID), zap.Int("items", len(queue)))

	var (
		synced  int
		saveErr error
	)
	for _, item := range queue {
		if ctx.Err() != nil {
			break
		}
		rec, ok := q.deliver(ctx, opts, item)
		if !ok {
			continue
		}
		if opts.OnRecordSynced != nil {
			opts.OnRecordSynced(rec)
		}
		if _, err := q.local.RemoveQueued(ctx, opts.WorkerID, item.ID); err != nil {
			logger.Log.Error("Failed to drop synced queue item",
				zap.String("worker", opts.WorkerID),
				zap.String("id", item.ID),
				zap.Error(err),
			)
			if saveErr == nil {
				saveErr = err
			}
			continue
		}
		synced++
	}

	remaining := q.local.LoadQueue(ctx, opts.WorkerID)
	logger.Log.Info("Offline queue flushed",
		zap.String("worker", opts.WorkerID),
		zap.Int("synced", synced),
		zap.Int("remaining", len(remaining)),
	)
	return remaining, saveErr
}

func (q *QueueProcessor) deliver(ctx context.Context, opts QueueOptions, item attendance.PendingWrite) (attendance.Record, bool) {
	resp, err := q.portal.UpsertShift(ctx, opts.AuthToken, item.Payload)
	if err != nil {
		logger.Log.Warn("Queued write not delivered",
			zap.String("id", item.ID),
			zap.String("date", item.Payload.AttendanceDate),
			zap.Error(err),
		)
		return attendance.Record{}, false
	}
	if resp == nil || !resp.OK || resp.Data == nil {
		logger.Log.Warn("Queued write not acknowledged", zap.String("id", item.ID), zap.String("date", item.Payload.AttendanceDate))
		return attendance.Record{}, false
	}
	return *resp.Data, true
}
