package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

// ErrNoProvider is returned by NewProvider when none is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

// NewProvider builds the configured provider wrapped as
// caller -> resilience -> logging -> provider.
func NewProvider(ctx context.Context, cfg Config, log *logger.Logger, m *metrics.Metrics) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "":
		return nil, ErrNoProvider
	case "mock":
		return NewMockProvider(), nil
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithResilience(WithLogging(base, log, m), cfg.Retry, log), nil
}
