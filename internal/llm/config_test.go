package llm

import (
	"context"
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none selected", Config{}, false},
		{"mock", Config{Provider: "mock"}, false},
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "k"}}, false},
		{"gemini without key", Config{Provider: "gemini"}, true},
		{"openrouter with key", Config{Provider: "openrouter", OpenRouter: OpenRouterConfig{APIKey: "k"}}, false},
		{"unknown", Config{Provider: "llama"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LEARN_LLM_PROVIDER", "openai")
	t.Setenv("LEARN_LLM_OPENAI_API_KEY", "sk-1")
	t.Setenv("LEARN_LLM_OPENAI_MODEL", "gpt-4.1-mini")
	t.Setenv("LEARN_LLM_TIMEOUT", "5s")

	cfg := ConfigFromEnv()
	if cfg.Provider != "openai" || cfg.OpenAI.APIKey != "sk-1" || cfg.OpenAI.Model != "gpt-4.1-mini" {
		t.Errorf("unexpected config %+v", cfg.OpenAI)
	}
	if cfg.Timeout.String() != "5s" {
		t.Errorf("timeout = %s", cfg.Timeout)
	}
}

func TestConfigFromEnv_Discovers(t *testing.T) {
	t.Setenv("LEARN_LLM_PROVIDER", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	cfg := ConfigFromEnv()
	if cfg.Provider != "anthropic" || cfg.Anthropic.APIKey != "ak" {
		t.Errorf("discovered %q", cfg.Provider)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{}, nil, nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("got %v, want ErrNoProvider", err)
	}
	p, err := NewProvider(context.Background(), Config{Provider: "mock"}, nil, nil)
	if err != nil || p.ModelID() != "mock" {
		t.Errorf("mock provider: %v %v", p, err)
	}
	p, err = NewProvider(context.Background(), Config{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini"}, Retry: fastRetry()}, nil, nil)
	if err != nil || p.ModelID() != "gpt-4o-mini" {
		t.Errorf("openai provider: %v %v", p, err)
	}
}
