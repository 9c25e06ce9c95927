// Package enrich orchestrates AI analyses over canonical emails. Each
// analysis kind runs independently: one failing kind never blocks the
// others, and the outcome reports exactly which kinds succeeded.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

// Mode selects which analysis kinds run.
type Mode string

const (
	// ModeRealtime is the cost-bounded path run on every new email.
	ModeRealtime Mode = "realtime"
	// ModeDeep adds the expensive analyses, run in batch or on demand.
	ModeDeep Mode = "deep"
)

// maxRetries bounds retry attempts per analysis call, transient errors only.
const maxRetries = 2

var realtimeKinds = []models.AnalysisKind{
	models.KindBriefSummary,
	models.KindSentiment,
	models.KindClassify,
}

var deepKinds = []models.AnalysisKind{
	models.KindBriefSummary,
	models.KindSentiment,
	models.KindClassify,
	models.KindDetailedSummary,
	models.KindActionItems,
	models.KindExtractEntities,
}

// KindsFor returns the analysis kinds a mode runs.
func KindsFor(mode Mode) []models.AnalysisKind {
	if mode == ModeDeep {
		return deepKinds
	}
	return realtimeKinds
}

// Outcome summarizes one enrichment run over one email.
type Outcome struct {
	EmailID   uuid.UUID
	Status    string // COMPLETED, PARTIAL_FAILURE or FAILED
	Succeeded []models.AnalysisKind
	Failures  map[models.AnalysisKind]error
}

// Enricher runs analyses against the configured AI backend under a
// bounded concurrency budget shared across all callers.
type Enricher struct {
	provider    models.AIProvider
	store       store.Store
	sem         chan struct{}
	maxChars    int
	callTimeout time.Duration
}

func NewEnricher(provider models.AIProvider, s store.Store, concurrency, maxChars int, callTimeout time.Duration) *Enricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Enricher{
		provider:    provider,
		store:       s,
		sem:         make(chan struct{}, concurrency),
		maxChars:    maxChars,
		callTimeout: callTimeout,
	}
}

// Enrich runs every analysis kind for the mode over one email and
// persists the results. Partial failure is reported in the Outcome,
// never as an error: the returned error is reserved for invariant
// violations like a nil email.
func (e *Enricher) Enrich(ctx context.Context, email *models.CanonicalEmail, mode Mode) (*Outcome, error) {
	if email == nil {
		return nil, fmt.Errorf("enrich: nil email")
	}

	body := truncate(email.Body, e.maxChars)
	kinds := KindsFor(mode)

	var (
		mu       sync.Mutex
		outcome  = &Outcome{EmailID: email.ID, Failures: map[models.AnalysisKind]error{}}
		wg       sync.WaitGroup
	)

	for _, kind := range kinds {
		wg.Add(1)
		go func(kind models.AnalysisKind) {
			defer wg.Done()

			e.sem <- struct{}{}
			defer func() { <-e.sem }()

			err := e.runOne(ctx, email, kind, body)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failures[kind] = err
				slog.Error("analysis failed",
					"email_id", email.ID, "kind", kind, "provider", e.provider.Name(), "error", err)
				return
			}
			outcome.Succeeded = append(outcome.Succeeded, kind)
		}(kind)
	}
	wg.Wait()

	outcome.Status = models.DeriveJobStatus(len(outcome.Succeeded), len(outcome.Failures))
	return outcome, nil
}

// runOne executes a single analysis kind, retrying transient errors,
// and persists its result.
func (e *Enricher) runOne(ctx context.Context, email *models.CanonicalEmail, kind models.AnalysisKind, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis %s panicked: %v", kind, r)
		}
	}()

	output, err := e.analyzeWithRetry(ctx, kind, body, email.Subject)
	if err != nil {
		return err
	}
	return e.persist(ctx, email, kind, output)
}

func (e *Enricher) analyzeWithRetry(ctx context.Context, kind models.AnalysisKind, body, subject string) (string, error) {
	var output string

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		result, err := e.provider.Analyze(callCtx, kind, body, models.AnalyzeOptions{Subject: subject})
		if err != nil {
			if models.IsTransientAIError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		output = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return output, nil
}

func (e *Enricher) persist(ctx context.Context, email *models.CanonicalEmail, kind models.AnalysisKind, output string) error {
	switch kind {
	case models.KindClassify:
		label := e.coerceClassification(email.ID, output)
		return e.store.SetEmailClassification(ctx, email.ID, label)

	case models.KindExtractEntities:
		bag := e.parseEntities(email.ID, output)
		return e.store.SetEmailEntities(ctx, email.ID, bag)

	default:
		insight := &models.Insight{
			ID:        uuid.New(),
			EmailID:   email.ID,
			Kind:      kind,
			Text:      strings.TrimSpace(output),
			ModelUsed: e.provider.Model(),
			CreatedAt: time.Now().UTC(),
		}
		return e.store.CreateInsight(ctx, insight)
	}
}

// coerceClassification maps raw model output into the closed label set.
// Out-of-set output is a model contract violation: logged, coerced to
// OTHER, never an error.
func (e *Enricher) coerceClassification(emailID uuid.UUID, output string) string {
	normalized := strings.ToUpper(strings.TrimSpace(output))
	normalized = strings.Trim(normalized, ".\"'`")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if models.ValidClassification(normalized) {
		return normalized
	}
	// Models sometimes wrap the label in prose; take the first label found.
	for _, label := range models.Classifications {
		if strings.Contains(normalized, label) {
			return label
		}
	}
	slog.Warn("classification outside closed set, coerced to OTHER",
		"email_id", emailID, "output", truncate(output, 120))
	return models.ClassOther
}

// parseEntities decodes the entity JSON. Malformed output yields an
// empty bag rather than a failure.
func (e *Enricher) parseEntities(emailID uuid.UUID, output string) *models.EntityBag {
	// Strip markdown fences some models insist on.
	cleaned := strings.TrimSpace(output)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var bag models.EntityBag
	if err := json.Unmarshal([]byte(cleaned), &bag); err != nil {
		slog.Warn("entity extraction output is not valid JSON, storing empty bag",
			"email_id", emailID, "error", err)
		return &models.EntityBag{}
	}
	return &bag
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
