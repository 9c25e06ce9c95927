package models

import (
	"context"
	"errors"
)

// Sentinel errors shared by every AI backend implementation. They live
// next to the AIProvider interface so that callers and providers agree
// on the retry classification without importing each other.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// IsTransientAIError reports whether an analysis error is worth retrying.
// Malformed input and invalid responses are not: the same call would
// fail the same way.
func IsTransientAIError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AnalysisKind names one AI analysis the pipeline can request per email.
type AnalysisKind string

const (
	KindBriefSummary    AnalysisKind = "BRIEF_SUMMARY"
	KindDetailedSummary AnalysisKind = "DETAILED_SUMMARY"
	KindActionItems     AnalysisKind = "ACTION_ITEMS"
	KindSentiment       AnalysisKind = "SENTIMENT"
	KindClassify        AnalysisKind = "CLASSIFY"
	KindExtractEntities AnalysisKind = "ENTITY_EXTRACT"
)

// InsightKinds lists the analysis kinds persisted as Insight rows.
// CLASSIFY and ENTITY_EXTRACT update the email record instead.
var InsightKinds = []AnalysisKind{
	KindBriefSummary,
	KindDetailedSummary,
	KindActionItems,
	KindSentiment,
}

// AnalyzeOptions carries per-call hints for a provider.
type AnalyzeOptions struct {
	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
	// Subject gives the provider the email subject alongside the body text.
	Subject string
}

// AIProvider is the core interface all AI backend integrations implement.
// Never call a specific backend directly — always inject this interface.
type AIProvider interface {
	// Analyze runs one analysis kind over the given text and returns the
	// raw model output. Callers own truncation, timeouts and retries.
	Analyze(ctx context.Context, kind AnalysisKind, text string, opts AnalyzeOptions) (string, error)
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string
	// Model returns the configured model identifier.
	Model() string
}
