package store

import (
	"time"
)

const NamespacePrefix = "worker_portal_offline"

// Per-worker keys.
const (
	KeyHistory     = "attendance_history"
	KeyQueue       = "offline_queue"
	KeyDBUpdatedAt = "db_updated_at"
	KeyLastSyncAt  = "last_sync_at"
)

// WorkerNamespace scopes every key of one worker. Empty for an empty id.
func WorkerNamespace(workerID string) string {
	if workerID == "" {
		return ""
	}
	return NamespacePrefix + ":" + workerID
}

// WorkerSyncState is the per-worker sync bookkeeping. Zero times mean unset.
type WorkerSyncState struct {
	WorkerID    string    `json:"worker_id"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	DBUpdatedAt time.Time `json:"db_updated_at"`
}
