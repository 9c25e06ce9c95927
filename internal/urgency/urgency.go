// Package urgency detects urgent emails and raises deduplicated alerts.
// Detection is deterministic: identical input always yields the same
// verdict and the same set of reasons.
package urgency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/cache"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

const alertDedupTTL = 24 * time.Hour

// Detector scans canonical emails for urgency signals.
type Detector struct {
	keywords []string
	store    store.Store
	cache    cache.Cache
}

func NewDetector(keywords []string, s store.Store, c cache.Cache) *Detector {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	return &Detector{keywords: lowered, store: s, cache: c}
}

// Scan reports whether the email is urgent and enumerates every matched
// signal. An email is urgent when its classification is URGENT or any
// configured keyword appears in the subject or body, case-insensitively.
func (d *Detector) Scan(email *models.CanonicalEmail) (bool, []string) {
	var reasons []string

	if email.Classification != nil && *email.Classification == models.ClassUrgent {
		reasons = append(reasons, "classified as URGENT")
	}

	subject := strings.ToLower(email.Subject)
	body := strings.ToLower(email.Body)
	for _, kw := range d.keywords {
		if strings.Contains(subject, kw) {
			reasons = append(reasons, fmt.Sprintf("keyword %q in subject", kw))
		}
		if strings.Contains(body, kw) {
			reasons = append(reasons, fmt.Sprintf("keyword %q in body", kw))
		}
	}
	return len(reasons) > 0, reasons
}

// Alert raises at most one unresolved alert per email. The cache SETNX
// is the fast path; the store's conditional insert is authoritative, so
// a lost cache entry cannot cause a duplicate. Returns whether a new
// alert was created.
func (d *Detector) Alert(ctx context.Context, email *models.CanonicalEmail, reasons []string) (bool, error) {
	marked := false
	if d.cache != nil {
		fresh, err := d.cache.IsNewAlert(ctx, email.ID, alertDedupTTL)
		if err != nil {
			// Cache down: fall through to the store, which dedups correctly.
			slog.Warn("alert dedup cache unavailable", "email_id", email.ID, "error", err)
		} else if !fresh {
			return false, nil
		} else {
			marked = true
		}
	}

	alert := &models.AlertEvent{
		ID:        uuid.New(),
		EmailID:   email.ID,
		Reason:    strings.Join(reasons, "; "),
		CreatedAt: time.Now().UTC(),
	}
	created, err := d.store.CreateAlertIfNone(ctx, alert)
	if err != nil {
		// A marker without a stored alert would suppress the retry for
		// the full TTL.
		if marked {
			if cerr := d.cache.ClearAlert(ctx, email.ID); cerr != nil {
				slog.Warn("failed to clear alert dedup marker", "email_id", email.ID, "error", cerr)
			}
		}
		return false, fmt.Errorf("creating alert for email %s: %w", email.ID, err)
	}
	if created {
		slog.Info("urgent email alert raised", "email_id", email.ID, "reason", alert.Reason)
	}
	return created, nil
}
