package models

import (
	"time"

	"github.com/google/uuid"
)

// Job run kinds, one per pipeline stage invocation.
const (
	JobKindIngest      = "INGEST"
	JobKindParse       = "PARSE"
	JobKindEnrich      = "ENRICH"
	JobKindUrgentScan  = "URGENT_SCAN"
	JobKindMaintenance = "MAINTENANCE"
)

// Job run statuses.
const (
	JobStatusRunning        = "RUNNING"
	JobStatusCompleted      = "COMPLETED"
	JobStatusPartialFailure = "PARTIAL_FAILURE"
	JobStatusFailed         = "FAILED"
)

// JobRun records one invocation of a pipeline stage: when it ran, how
// many items it processed and failed, and how it ended. History is
// append-only and is the sole basis for pipeline health monitoring.
type JobRun struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	Kind           string     `db:"kind"            json:"kind"`
	Status         string     `db:"status"          json:"status"`
	ItemsProcessed int        `db:"items_processed" json:"items_processed"`
	ItemsFailed    int        `db:"items_failed"    json:"items_failed"`
	ErrorDetail    *string    `db:"error_detail"    json:"error_detail,omitempty"`
	StartedAt      time.Time  `db:"started_at"      json:"started_at"`
	EndedAt        *time.Time `db:"ended_at"        json:"ended_at,omitempty"`
}

// DeriveJobStatus maps item counts onto a terminal job status:
// nothing failed means COMPLETED, everything failed means FAILED,
// anything in between is PARTIAL_FAILURE. An empty run completes.
func DeriveJobStatus(processed, failed int) string {
	switch {
	case failed == 0:
		return JobStatusCompleted
	case processed == 0:
		return JobStatusFailed
	default:
		return JobStatusPartialFailure
	}
}
