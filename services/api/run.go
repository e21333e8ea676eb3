package api

import (
	"time"

	"github.com/google/uuid"
)

// Run represents one execution attempt of a flow version within a collection
// version. Display names are captured at creation time and are not kept in
// sync with later renames.
type Run struct {
	ID                    uuid.UUID  `json:"id"`
	ProjectID             uuid.UUID  `json:"project_id"`
	CollectionID          uuid.UUID  `json:"collection_id"`
	CollectionVersionID   uuid.UUID  `json:"collection_version_id"`
	FlowID                uuid.UUID  `json:"flow_id"`
	FlowVersionID         uuid.UUID  `json:"flow_version_id"`
	InstanceID            *uuid.UUID `json:"instance_id"`
	FlowDisplayName       string     `json:"flow_display_name"`
	CollectionDisplayName string     `json:"collection_display_name"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at"`
	LogsFileID            *uuid.UUID `json:"logs_file_id"`
}

// Run statuses. Running and paused are the only non-terminal states.
const (
	StatusRunning       = "running"
	StatusPaused        = "paused"
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusStopped       = "stopped"
	StatusInternalError = "internal_error"
	StatusTimeout       = "timeout"
	StatusQuotaExceeded = "quota_exceeded"
)

// IsTerminal reports whether a run in the given status will never transition
// again.
func IsTerminal(status string) bool {
	switch status {
	case StatusRunning, StatusPaused:
		return false
	case StatusSucceeded, StatusFailed, StatusStopped, StatusInternalError, StatusTimeout, StatusQuotaExceeded:
		return true
	default:
		return false
	}
}
