// Package feed reads change feeds off the store using per-feed
// checkpoints. Delivery is at-least-once: the checkpoint only advances
// after the caller has fully accounted for a batch, so a crash between
// processing and commit re-offers the same rows on the next poll.
package feed

import (
	"context"
	"fmt"

	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

// RawReader polls the raw email feed.
type RawReader struct {
	store store.Store
	name  string
}

func NewRawReader(s store.Store) *RawReader {
	return &RawReader{store: s, name: models.FeedRawEmails}
}

func (r *RawReader) Name() string { return r.name }

// Poll returns up to limit raw email files past the committed checkpoint.
func (r *RawReader) Poll(ctx context.Context, limit int) ([]*models.RawEmailFile, error) {
	cp, err := r.store.GetCheckpoint(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", r.name, err)
	}
	rows, err := r.store.RawEmailsSince(ctx, cp.LastSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("polling feed %s: %w", r.name, err)
	}
	return rows, nil
}

// Commit advances the checkpoint to seq. Advancing to an older seq is a
// no-op, so a late commit from a stale batch cannot move the feed backwards.
func (r *RawReader) Commit(ctx context.Context, seq int64) error {
	return r.store.AdvanceCheckpoint(ctx, r.name, seq)
}

// HasData reports whether any rows sit past the checkpoint. Used to
// skip empty scheduler cycles without pulling a batch.
func (r *RawReader) HasData(ctx context.Context) (bool, error) {
	cp, err := r.store.GetCheckpoint(ctx, r.name)
	if err != nil {
		return false, err
	}
	return r.store.HasRawEmailsSince(ctx, cp.LastSeq)
}

// EmailReader polls the canonical email feed. Multiple independent
// consumers (enrichment, urgent scan) each own a feed name and
// therefore their own checkpoint.
type EmailReader struct {
	store store.Store
	name  string
}

func NewEmailReader(s store.Store, feedName string) *EmailReader {
	return &EmailReader{store: s, name: feedName}
}

func (r *EmailReader) Name() string { return r.name }

func (r *EmailReader) Poll(ctx context.Context, limit int) ([]*models.CanonicalEmail, error) {
	cp, err := r.store.GetCheckpoint(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", r.name, err)
	}
	rows, err := r.store.EmailsSince(ctx, cp.LastSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("polling feed %s: %w", r.name, err)
	}
	return rows, nil
}

func (r *EmailReader) Commit(ctx context.Context, seq int64) error {
	return r.store.AdvanceCheckpoint(ctx, r.name, seq)
}

func (r *EmailReader) HasData(ctx context.Context) (bool, error) {
	cp, err := r.store.GetCheckpoint(ctx, r.name)
	if err != nil {
		return false, err
	}
	return r.store.HasEmailsSince(ctx, cp.LastSeq)
}
