package ai

import (
	"fmt"

	"github.com/mkale/inboxtriage/internal/ai/anthropic"
	"github.com/mkale/inboxtriage/internal/ai/mock"
	"github.com/mkale/inboxtriage/internal/ai/ollama"
	"github.com/mkale/inboxtriage/internal/ai/openai"
	"github.com/mkale/inboxtriage/internal/config"
	"github.com/mkale/inboxtriage/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, openai, anthropic, mock", cfg.Provider)
	}
}
