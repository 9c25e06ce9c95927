package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mkale/inboxtriage/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrWrongStatus is returned when a conditional status transition finds
// the row in an unexpected state (e.g. a double-claim). The row is left
// untouched for the next cycle.
var ErrWrongStatus = errors.New("row not in expected status")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Raw email files.
	CreateRawEmail(ctx context.Context, raw *models.RawEmailFile) error
	GetRawEmail(ctx context.Context, id uuid.UUID) (*models.RawEmailFile, error)
	// ClaimRawEmail transitions PENDING -> PROCESSING for exactly one
	// worker; returns ErrWrongStatus if the row was already claimed.
	ClaimRawEmail(ctx context.Context, id uuid.UUID) error
	// FinishRawEmail transitions PROCESSING -> COMPLETED or FAILED.
	FinishRawEmail(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error
	// RequeueStuckRawEmails moves rows stuck in PROCESSING longer than
	// age back to PENDING and returns how many were requeued.
	RequeueStuckRawEmails(ctx context.Context, age time.Duration) (int, error)
	RawEmailsSince(ctx context.Context, seq int64, limit int) ([]*models.RawEmailFile, error)
	HasRawEmailsSince(ctx context.Context, seq int64) (bool, error)

	// Canonical emails.
	CreateEmail(ctx context.Context, email *models.CanonicalEmail) error
	GetEmail(ctx context.Context, id uuid.UUID) (*models.CanonicalEmail, error)
	SetEmailClassification(ctx context.Context, id uuid.UUID, classification string) error
	SetEmailEntities(ctx context.Context, id uuid.UUID, entities *models.EntityBag) error
	EmailsSince(ctx context.Context, seq int64, limit int) ([]*models.CanonicalEmail, error)
	HasEmailsSince(ctx context.Context, seq int64) (bool, error)
	// ListUnenrichedEmails returns emails with no insights yet, oldest first.
	ListUnenrichedEmails(ctx context.Context, limit int) ([]*models.CanonicalEmail, error)

	// Insights (append-only).
	CreateInsight(ctx context.Context, insight *models.Insight) error
	ListInsightsByEmail(ctx context.Context, emailID uuid.UUID) ([]*models.Insight, error)

	// Job runs.
	CreateJobRun(ctx context.Context, run *models.JobRun) error
	FinishJobRun(ctx context.Context, id uuid.UUID, status string, processed, failed int, errorDetail *string) error
	GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error)
	ListJobRuns(ctx context.Context, filter JobRunFilter) ([]*models.JobRun, error)

	// Checkpoints. AdvanceCheckpoint is a no-op when seq is not greater
	// than the committed value, so advancement is strictly increasing.
	GetCheckpoint(ctx context.Context, feedName string) (*models.Checkpoint, error)
	AdvanceCheckpoint(ctx context.Context, feedName string, seq int64) error

	// Alerts. CreateAlertIfNone inserts only when the email has no
	// unresolved alert; returns false when deduplicated away.
	CreateAlertIfNone(ctx context.Context, alert *models.AlertEvent) (bool, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*models.AlertEvent, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.AlertEvent, error)
	ResolveAlert(ctx context.Context, id uuid.UUID) error
	PurgeResolvedAlerts(ctx context.Context, olderThan time.Duration) (int, error)

	// API keys.
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// JobRunFilter narrows ListJobRuns. Zero values mean "no filter".
type JobRunFilter struct {
	Kind   string
	Status string
	Since  time.Time
	Limit  int
}
