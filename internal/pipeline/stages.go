package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkale/inboxtriage/internal/config"
	"github.com/mkale/inboxtriage/internal/enrich"
	"github.com/mkale/inboxtriage/internal/feed"
	"github.com/mkale/inboxtriage/internal/jobs"
	"github.com/mkale/inboxtriage/internal/parser"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/internal/urgency"
	"github.com/mkale/inboxtriage/pkg/models"
)

// Stages holds the bodies of the scheduled pipeline stages. Each body
// is one batch: poll a feed, process items with per-item isolation,
// commit the checkpoint for what was fully accounted, record a JobRun.
type Stages struct {
	store      store.Store
	rawFeed    *feed.RawReader
	enrichFeed *feed.EmailReader
	urgentFeed *feed.EmailReader
	enricher   *enrich.Enricher
	detector   *urgency.Detector
	tracker    *jobs.Tracker
	cfg        config.PipelineConfig
}

func NewStages(s store.Store, rawFeed *feed.RawReader, enrichFeed, urgentFeed *feed.EmailReader,
	enricher *enrich.Enricher, detector *urgency.Detector, tracker *jobs.Tracker, cfg config.PipelineConfig) *Stages {
	return &Stages{
		store:      s,
		rawFeed:    rawFeed,
		enrichFeed: enrichFeed,
		urgentFeed: urgentFeed,
		enricher:   enricher,
		detector:   detector,
		tracker:    tracker,
		cfg:        cfg,
	}
}

// Register wires the stage bodies into a scheduler.
func (st *Stages) Register(sched *Scheduler) {
	sched.Register(StageParse, st.cfg.PollInterval, st.rawFeed.HasData, st.RunParse)
	sched.Register(StageEnrich, st.cfg.PollInterval, st.enrichFeed.HasData, st.RunEnrich)
	sched.Register(StageUrgentScan, st.cfg.PollInterval, st.urgentFeed.HasData, st.RunUrgentScan)
	sched.Register(StageMaintenance, st.cfg.MaintenanceInterval, nil, st.RunMaintenance)
}

// RunParse consumes the raw email feed: claim, parse, persist, finish.
// A file that fails to parse is marked FAILED and never blocks the rest
// of the batch.
func (st *Stages) RunParse(ctx context.Context) error {
	run, err := st.tracker.Begin(ctx, models.JobKindParse)
	if err != nil {
		return fmt.Errorf("starting parse job: %w", err)
	}

	batch, err := st.rawFeed.Poll(ctx, st.cfg.BatchLimit)
	if err != nil {
		_ = st.tracker.Fail(ctx, run, err.Error())
		return err
	}

	var processed, failed int
	var lastSeq int64

	for _, raw := range batch {
		if ctx.Err() != nil {
			// Batch timeout: keep what finished, leave the rest for next cycle.
			break
		}

		if err := st.store.ClaimRawEmail(ctx, raw.ID); err != nil {
			if errors.Is(err, store.ErrWrongStatus) {
				// Another worker owns it, or it already finished. Skip past.
				lastSeq = raw.Seq
				continue
			}
			slog.Error("claiming raw email failed", "raw_id", raw.ID, "error", err)
			failed++
			lastSeq = raw.Seq
			continue
		}

		if err := st.parseOne(ctx, raw); err != nil {
			failed++
		} else {
			processed++
		}
		lastSeq = raw.Seq
	}

	if lastSeq > 0 {
		if err := st.rawFeed.Commit(ctx, lastSeq); err != nil {
			slog.Error("committing raw feed checkpoint failed", "seq", lastSeq, "error", err)
		}
	}
	return st.tracker.Complete(ctx, run, processed, failed)
}

func (st *Stages) parseOne(ctx context.Context, raw *models.RawEmailFile) error {
	email, err := parser.Parse(*raw)
	if err != nil {
		msg := err.Error()
		if ferr := st.store.FinishRawEmail(ctx, raw.ID, models.RawStatusFailed, &msg); ferr != nil {
			slog.Error("marking raw email FAILED failed", "raw_id", raw.ID, "error", ferr)
		}
		return err
	}

	if err := st.store.CreateEmail(ctx, email); err != nil {
		msg := err.Error()
		if ferr := st.store.FinishRawEmail(ctx, raw.ID, models.RawStatusFailed, &msg); ferr != nil {
			slog.Error("marking raw email FAILED failed", "raw_id", raw.ID, "error", ferr)
		}
		return err
	}

	if len(email.ValidationErrors) > 0 {
		slog.Warn("email parsed with validation errors",
			"email_id", email.ID, "format", email.SourceFormat, "errors", email.ValidationErrors)
	}
	return st.store.FinishRawEmail(ctx, raw.ID, models.RawStatusCompleted, nil)
}

// RunEnrich consumes the canonical email feed with realtime analyses.
func (st *Stages) RunEnrich(ctx context.Context) error {
	run, err := st.tracker.Begin(ctx, models.JobKindEnrich)
	if err != nil {
		return fmt.Errorf("starting enrich job: %w", err)
	}

	batch, err := st.enrichFeed.Poll(ctx, st.cfg.BatchLimit)
	if err != nil {
		_ = st.tracker.Fail(ctx, run, err.Error())
		return err
	}

	var processed, failed int
	var lastSeq int64

	for _, email := range batch {
		if ctx.Err() != nil {
			break
		}

		outcome, err := st.enricher.Enrich(ctx, email, enrich.ModeRealtime)
		if err != nil {
			slog.Error("enrichment aborted", "email_id", email.ID, "error", err)
			failed++
			lastSeq = email.Seq
			continue
		}
		if outcome.Status == models.JobStatusFailed {
			failed++
		} else {
			processed++
		}
		lastSeq = email.Seq
	}

	if lastSeq > 0 {
		if err := st.enrichFeed.Commit(ctx, lastSeq); err != nil {
			slog.Error("committing enrich feed checkpoint failed", "seq", lastSeq, "error", err)
		}
	}
	return st.tracker.Complete(ctx, run, processed, failed)
}

// RunUrgentScan consumes the canonical email feed on its own checkpoint
// and raises deduplicated alerts for urgent emails.
func (st *Stages) RunUrgentScan(ctx context.Context) error {
	run, err := st.tracker.Begin(ctx, models.JobKindUrgentScan)
	if err != nil {
		return fmt.Errorf("starting urgent scan job: %w", err)
	}

	batch, err := st.urgentFeed.Poll(ctx, st.cfg.BatchLimit)
	if err != nil {
		_ = st.tracker.Fail(ctx, run, err.Error())
		return err
	}

	var processed, failed int
	var lastSeq int64

	for _, email := range batch {
		if ctx.Err() != nil {
			break
		}

		if urgent, reasons := st.detector.Scan(email); urgent {
			if _, err := st.detector.Alert(ctx, email, reasons); err != nil {
				slog.Error("raising alert failed", "email_id", email.ID, "error", err)
				failed++
				lastSeq = email.Seq
				continue
			}
		}
		processed++
		lastSeq = email.Seq
	}

	if lastSeq > 0 {
		if err := st.urgentFeed.Commit(ctx, lastSeq); err != nil {
			slog.Error("committing urgent feed checkpoint failed", "seq", lastSeq, "error", err)
		}
	}
	return st.tracker.Complete(ctx, run, processed, failed)
}

// RunMaintenance requeues raw files stuck in PROCESSING (crashed
// workers) and purges resolved alerts past retention.
func (st *Stages) RunMaintenance(ctx context.Context) error {
	run, err := st.tracker.Begin(ctx, models.JobKindMaintenance)
	if err != nil {
		return fmt.Errorf("starting maintenance job: %w", err)
	}

	requeued, err := st.store.RequeueStuckRawEmails(ctx, st.cfg.StuckClaimAge)
	if err != nil {
		_ = st.tracker.Fail(ctx, run, err.Error())
		return fmt.Errorf("requeueing stuck raw emails: %w", err)
	}
	if requeued > 0 {
		slog.Warn("requeued stuck raw emails", "count", requeued, "older_than", st.cfg.StuckClaimAge)
	}

	purged, err := st.store.PurgeResolvedAlerts(ctx, st.cfg.ResolvedAlertRetention)
	if err != nil {
		_ = st.tracker.Fail(ctx, run, err.Error())
		return fmt.Errorf("purging resolved alerts: %w", err)
	}
	if purged > 0 {
		slog.Info("purged resolved alerts", "count", purged)
	}

	return st.tracker.Complete(ctx, run, requeued+purged, 0)
}
