// Package mock provides a configurable AIProvider for tests and local
// development without a real model backend.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/mkale/inboxtriage/pkg/models"
)

// Provider is a fake AI backend. Set AnalyzeFunc to script responses;
// the default returns a canned answer per analysis kind.
type Provider struct {
	AnalyzeFunc func(ctx context.Context, kind models.AnalysisKind, text string, opts models.AnalyzeOptions) (string, error)
	name        string
	model       string

	mu    sync.Mutex
	calls []models.AnalysisKind
}

func NewMockProvider() *Provider {
	return &Provider{name: "mock", model: "mock-model"}
}

// NewFailingProvider returns a provider whose Analyze always fails with err.
func NewFailingProvider(err error) *Provider {
	p := NewMockProvider()
	p.AnalyzeFunc = func(context.Context, models.AnalysisKind, string, models.AnalyzeOptions) (string, error) {
		return "", err
	}
	return p
}

// NewTimeoutProvider returns a provider whose Analyze blocks until the
// context is done, then reports an inference timeout.
func NewTimeoutProvider() *Provider {
	p := NewMockProvider()
	p.AnalyzeFunc = func(ctx context.Context, _ models.AnalysisKind, _ string, _ models.AnalyzeOptions) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", models.ErrInferenceTimeout, ctx.Err())
	}
	return p
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

// Calls returns every analysis kind Analyze has been asked for so far.
func (p *Provider) Calls() []models.AnalysisKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.AnalysisKind, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) Analyze(ctx context.Context, kind models.AnalysisKind, text string, opts models.AnalyzeOptions) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, kind)
	p.mu.Unlock()
	if p.AnalyzeFunc != nil {
		return p.AnalyzeFunc(ctx, kind, text, opts)
	}
	switch kind {
	case models.KindBriefSummary:
		return "Mock brief summary.", nil
	case models.KindDetailedSummary:
		return "Mock detailed summary of the email contents.", nil
	case models.KindActionItems:
		return "- mock action item", nil
	case models.KindSentiment:
		return "0.0", nil
	case models.KindClassify:
		return models.ClassInformational, nil
	case models.KindExtractEntities:
		return `{"people":[],"companies":[],"dates":[],"locations":[],"amounts":[],"phone_numbers":[],"email_addresses":[]}`, nil
	default:
		return "", fmt.Errorf("%w: unknown analysis kind %q", models.ErrInvalidResponse, kind)
	}
}

var _ models.AIProvider = (*Provider)(nil)
