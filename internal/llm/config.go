package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "anthropic", "openai", "gemini", "openrouter",
	// "mock", or "" for none.
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds a single Generate call including retries.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RetryConfig drives the exponential backoff of transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig has no provider selected.
func DefaultConfig() Config {
	return Config{
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.5-flash"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2.0,
		},
		Timeout: 30 * time.Second,
	}
}

// ConfigFromEnv reads LEARN_LLM_* variables over the defaults. When no
// provider is named, the first of GEMINI_API_KEY, OPENAI_API_KEY,
// ANTHROPIC_API_KEY and OPENROUTER_API_KEY that is set picks one.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Provider, "LEARN_LLM_PROVIDER")
	set(&cfg.Anthropic.APIKey, "LEARN_LLM_ANTHROPIC_API_KEY")
	set(&cfg.Anthropic.Model, "LEARN_LLM_ANTHROPIC_MODEL")
	set(&cfg.OpenAI.APIKey, "LEARN_LLM_OPENAI_API_KEY")
	set(&cfg.OpenAI.Model, "LEARN_LLM_OPENAI_MODEL")
	set(&cfg.OpenAI.BaseURL, "LEARN_LLM_OPENAI_BASE_URL")
	set(&cfg.Gemini.APIKey, "LEARN_LLM_GEMINI_API_KEY")
	set(&cfg.Gemini.Model, "LEARN_LLM_GEMINI_MODEL")
	set(&cfg.OpenRouter.APIKey, "LEARN_LLM_OPENROUTER_API_KEY")
	set(&cfg.OpenRouter.Model, "LEARN_LLM_OPENROUTER_MODEL")

	if v := os.Getenv("LEARN_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("LEARN_LLM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}

	if cfg.Provider == "" {
		discover(&cfg)
	}
	return cfg
}

func discover(cfg *Config) {
	candidates := []struct {
		provider string
		env      string
		key      *string
	}{
		{"gemini", "GEMINI_API_KEY", &cfg.Gemini.APIKey},
		{"openai", "OPENAI_API_KEY", &cfg.OpenAI.APIKey},
		{"anthropic", "ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey},
		{"openrouter", "OPENROUTER_API_KEY", &cfg.OpenRouter.APIKey},
	}
	for _, c := range candidates {
		if k := os.Getenv(c.env); k != "" {
			cfg.Provider = c.provider
			*c.key = k
			return
		}
	}
}

// Enabled reports whether a provider is selected.
func (c Config) Enabled() bool {
	return c.Provider != ""
}

// Validate checks that the selected provider has a key.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case "", "mock":
		return nil
	case "anthropic":
		key = c.Anthropic.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "gemini":
		key = c.Gemini.APIKey
	case "openrouter":
		key = c.OpenRouter.APIKey
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("an API key is required for the %s provider (LEARN_LLM_%s_API_KEY)", c.Provider, strings.ToUpper(c.Provider))
	}
	return nil
}
