// Package jobs records pipeline stage invocations as JobRun rows and
// mirrors their live status into the cache for cheap polling.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/cache"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

const statusTTL = 24 * time.Hour

// Tracker creates and finalizes job runs. History is append-only; a
// run is never updated after it reaches a terminal status.
type Tracker struct {
	store store.Store
	cache cache.Cache
}

func NewTracker(s store.Store, c cache.Cache) *Tracker {
	return &Tracker{store: s, cache: c}
}

// Begin opens a RUNNING job run for one stage invocation.
func (t *Tracker) Begin(ctx context.Context, kind string) (*models.JobRun, error) {
	run := &models.JobRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := t.store.CreateJobRun(ctx, run); err != nil {
		return nil, err
	}
	t.mirrorStatus(ctx, run.ID, run.Status)
	return run, nil
}

// Complete finalizes a run from its item counts. The terminal status is
// derived, never passed in, so every stage reports outcomes the same way.
func (t *Tracker) Complete(ctx context.Context, run *models.JobRun, processed, failed int) error {
	status := models.DeriveJobStatus(processed, failed)
	if err := t.store.FinishJobRun(ctx, run.ID, status, processed, failed, nil); err != nil {
		return err
	}
	run.Status = status
	run.ItemsProcessed = processed
	run.ItemsFailed = failed
	t.mirrorStatus(ctx, run.ID, status)
	return nil
}

// Fail finalizes a run that aborted before processing anything, with a
// stage-level error detail.
func (t *Tracker) Fail(ctx context.Context, run *models.JobRun, errDetail string) error {
	if err := t.store.FinishJobRun(ctx, run.ID, models.JobStatusFailed, run.ItemsProcessed, run.ItemsFailed, &errDetail); err != nil {
		return err
	}
	run.Status = models.JobStatusFailed
	run.ErrorDetail = &errDetail
	t.mirrorStatus(ctx, run.ID, models.JobStatusFailed)
	return nil
}

// mirrorStatus is best-effort: the store row is the source of truth.
func (t *Tracker) mirrorStatus(ctx context.Context, id uuid.UUID, status string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SetJobStatus(ctx, id, status, statusTTL); err != nil {
		slog.Warn("failed to mirror job status to cache", "job_id", id, "error", err)
	}
}
