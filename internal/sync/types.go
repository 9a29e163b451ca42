package sync

import (
	"fmt"
	"time"

	"attendance-sync-service/internal/attendance"
)

// State is where the active worker's session sits in the sync lifecycle.
type State string

const (
	StateUnsynced      State = "unsynced"
	StateSyncing       State = "syncing"
	StateSynced        State = "synced"
	StateOfflineCached State = "offline_cached"
)

type NoticeKind string

const (
	NoticeSaved          NoticeKind = "saved"
	NoticeSavedOffline   NoticeKind = "saved_offline"
	NoticeUpdateFailed   NoticeKind = "update_failed"
	NoticeOnlineRequired NoticeKind = "online_required"
)

const (
	msgSaved          = "Record updated successfully"
	msgSavedOffline   = "Saved offline. Will sync when online."
	msgOnlineRequired = "Online required to view attendance older than 7 days."
)

// Notice is a toast-style message for the presentation layer.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Transition is a connectivity change observed by a Monitor.
type Transition struct {
	Online bool
	At     time.Time
}

func (t Transition) String() string {
	if t.Online {
		return fmt.Sprintf("[online] %s", t.At.Format(time.RFC3339))
	}
	return fmt.Sprintf("[offline] %s", t.At.Format(time.RFC3339))
}

// SaveResult is the outcome of Manager.SaveShift. OK is true for anything
// that was persisted, remotely or in the offline queue.
type SaveResult struct {
	OK      bool               `json:"ok"`
	Offline bool               `json:"offline,omitempty"`
	Record  *attendance.Record `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
}
