package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the InboxTriage server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// PipelineConfig tunes the stage scheduler and enrichment cost controls.
type PipelineConfig struct {
	// PollInterval is how often feed-gated stages check for new rows.
	PollInterval time.Duration
	// MaintenanceInterval is the fixed cadence of the maintenance stage.
	MaintenanceInterval time.Duration
	// BatchLimit caps rows consumed from a feed per cycle.
	BatchLimit int
	// BatchTimeout bounds one stage invocation; unfinished items are left
	// for the next cycle.
	BatchTimeout time.Duration
	// EnrichConcurrency bounds parallel AI calls, sized to backend rate limits.
	EnrichConcurrency int
	// MaxAnalysisChars truncates email bodies before submission to the AI
	// backend. A cost control, not a correctness requirement.
	MaxAnalysisChars int
	// UrgentKeywords are matched case-insensitively against subject and body.
	UrgentKeywords []string
	// StuckClaimAge is how long a file may sit in PROCESSING before the
	// maintenance stage requeues it.
	StuckClaimAge time.Duration
	// ResolvedAlertRetention is how long resolved alerts are kept.
	ResolvedAlertRetention time.Duration
}

var validProviders = map[string]bool{
	"ollama":    true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var defaultUrgentKeywords = []string{"urgent", "asap", "critical", "emergency", "immediate"}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("INBOXTRIAGE_PORT", 8080),
			Env:  envString("INBOXTRIAGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Pipeline: PipelineConfig{
			PollInterval:           envDuration("PIPELINE_POLL_INTERVAL", 30*time.Second),
			MaintenanceInterval:    envDuration("PIPELINE_MAINTENANCE_INTERVAL", 10*time.Minute),
			BatchLimit:             envInt("PIPELINE_BATCH_LIMIT", 50),
			BatchTimeout:           envDuration("PIPELINE_BATCH_TIMEOUT", 4*time.Minute),
			EnrichConcurrency:      envInt("PIPELINE_ENRICH_CONCURRENCY", 4),
			MaxAnalysisChars:       envInt("PIPELINE_MAX_ANALYSIS_CHARS", 6000),
			UrgentKeywords:         envList("PIPELINE_URGENT_KEYWORDS", defaultUrgentKeywords),
			StuckClaimAge:          envDuration("PIPELINE_STUCK_CLAIM_AGE", 30*time.Minute),
			ResolvedAlertRetention: envDuration("PIPELINE_RESOLVED_ALERT_RETENTION", 30*24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, openai, anthropic, mock; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.Pipeline.BatchLimit <= 0 {
		return fmt.Errorf("PIPELINE_BATCH_LIMIT must be positive, got %d", c.Pipeline.BatchLimit)
	}
	if c.Pipeline.EnrichConcurrency <= 0 {
		return fmt.Errorf("PIPELINE_ENRICH_CONCURRENCY must be positive, got %d", c.Pipeline.EnrichConcurrency)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
