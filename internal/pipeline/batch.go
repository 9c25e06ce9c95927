package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/enrich"
	"github.com/mkale/inboxtriage/internal/jobs"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

// Summary is the typed outcome of an on-demand enrichment request.
// Partial failure is carried in Status, never as an error.
type Summary struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
}

// Controller runs deep enrichment on demand, outside the scheduled
// realtime path.
type Controller struct {
	store    store.Store
	enricher *enrich.Enricher
	tracker  *jobs.Tracker
}

func NewController(s store.Store, enricher *enrich.Enricher, tracker *jobs.Tracker) *Controller {
	return &Controller{store: s, enricher: enricher, tracker: tracker}
}

// EnrichOne runs the deep analysis set over a single email. Returns
// store.ErrNotFound for an unknown id.
func (c *Controller) EnrichOne(ctx context.Context, emailID uuid.UUID) (*Summary, error) {
	email, err := c.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}

	run, err := c.tracker.Begin(ctx, models.JobKindEnrich)
	if err != nil {
		return nil, fmt.Errorf("starting enrich job: %w", err)
	}

	outcome, err := c.enricher.Enrich(ctx, email, enrich.ModeDeep)
	if err != nil {
		_ = c.tracker.Fail(ctx, run, err.Error())
		return nil, err
	}

	processed, failed := 1, 0
	if outcome.Status == models.JobStatusFailed {
		processed, failed = 0, 1
	}
	if err := c.tracker.Complete(ctx, run, processed, failed); err != nil {
		return nil, err
	}
	return &Summary{JobID: run.ID, Status: run.Status, Processed: processed, Failed: failed}, nil
}

// EnrichPending runs deep enrichment over up to limit emails that have
// no insights yet, oldest first.
func (c *Controller) EnrichPending(ctx context.Context, limit int) (*Summary, error) {
	emails, err := c.store.ListUnenrichedEmails(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unenriched emails: %w", err)
	}

	run, err := c.tracker.Begin(ctx, models.JobKindEnrich)
	if err != nil {
		return nil, fmt.Errorf("starting enrich job: %w", err)
	}

	var processed, failed int
	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}
		outcome, err := c.enricher.Enrich(ctx, email, enrich.ModeDeep)
		if err != nil {
			slog.Error("batch enrichment aborted for email", "email_id", email.ID, "error", err)
			failed++
			continue
		}
		if outcome.Status == models.JobStatusFailed {
			failed++
		} else {
			processed++
		}
	}

	if err := c.tracker.Complete(ctx, run, processed, failed); err != nil {
		return nil, err
	}
	return &Summary{JobID: run.ID, Status: run.Status, Processed: processed, Failed: failed}, nil
}
