package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
)

var verdictSchema = &Schema{
	Name: "test-verdict",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correct":     map[string]any{"type": "boolean"},
			"explanation": map[string]any{"type": "string"},
		},
		"required": []any{"correct", "explanation"},
	},
}

func serve(t *testing.T, status int, body any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func anthropicMessage(text, stop string) map[string]any {
	return map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 40, "output_tokens": 12},
	}
}

func newAnthropic(t *testing.T, url string) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Model: "claude-haiku"}, option.WithBaseURL(url), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAnthropic_StructuredOutput(t *testing.T) {
	url := serve(t, http.StatusOK, anthropicMessage(`{"correct":true,"explanation":"7 x 8 = 56"}`, "end_turn"))
	resp, err := newAnthropic(t, url).Generate(context.Background(), Request{
		System:    "grade the answer",
		Messages:  []Message{{Role: RoleUser, Content: "7 x 8 = 56?"}},
		Schema:    verdictSchema,
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage.TotalTokens != 52 || resp.StopReason != "end" {
		t.Errorf("usage=%+v stop=%q", resp.Usage, resp.StopReason)
	}
}

func TestAnthropic_SchemaMismatchIsInvalidResponse(t *testing.T) {
	url := serve(t, http.StatusOK, anthropicMessage(`{"correct":"yes"}`, "end_turn"))
	_, err := newAnthropic(t, url).Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "x"}}, Schema: verdictSchema, MaxTokens: 64,
	})
	var invalid *ErrInvalidResponse
	if !errors.As(err, &invalid) {
		t.Fatalf("got %T (%v), want ErrInvalidResponse", err, err)
	}
}

func TestAnthropic_TruncatedStructuredOutput(t *testing.T) {
	url := serve(t, http.StatusOK, anthropicMessage(`{"correct":tr`, "max_tokens"))
	_, err := newAnthropic(t, url).Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "x"}}, Schema: verdictSchema, MaxTokens: 4,
	})
	var trunc *ErrMaxTokensExceeded
	if !errors.As(err, &trunc) {
		t.Fatalf("got %T (%v), want ErrMaxTokensExceeded", err, err)
	}
}

func TestAnthropic_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusTooManyRequests, func(err error) bool { var e *ErrRateLimit; return errors.As(err, &e) }},
		{http.StatusInternalServerError, func(err error) bool { var e *ErrProviderUnavailable; return errors.As(err, &e) }},
	}
	for _, tt := range tests {
		url := serve(t, tt.status, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "boom"},
		})
		_, err := newAnthropic(t, url).Generate(context.Background(), Request{
			Messages: []Message{{Role: RoleUser, Content: "x"}}, MaxTokens: 16,
		})
		if !tt.check(err) {
			t.Errorf("status %d: got %T (%v)", tt.status, err, err)
		}
	}
}

func TestOpenAI_HappyPath(t *testing.T) {
	url := serve(t, http.StatusOK, map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": `{"correct":false,"explanation":"no"}`},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28},
	})
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini", BaseURL: url + "/v1"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Generate(context.Background(), Request{
		System: "grade", Messages: []Message{{Role: RoleUser, Content: "x"}}, Schema: verdictSchema, MaxTokens: 64,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "gpt-4o-mini" || resp.Usage.TotalTokens != 28 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAI_RateLimited(t *testing.T) {
	url := serve(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "slow down", "type": "rate_limit"},
	})
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini", BaseURL: url + "/v1"})
	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("got %T (%v), want ErrRateLimit", err, err)
	}
}

func TestOpenRouter_DefaultsBaseURL(t *testing.T) {
	if _, err := NewOpenRouterProvider(OpenRouterConfig{}); err == nil {
		t.Fatal("expected missing key error")
	}
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "k", Model: "google/gemini-2.5-flash"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != "google/gemini-2.5-flash" {
		t.Errorf("model = %q", p.ModelID())
	}
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name    string
		aliases map[string]string
		want    string
	}{
		{"claude-haiku", anthropicAliases, "claude-haiku-4-5-20251001"},
		{"gemini-flash", geminiAliases, "gemini-2.5-flash"},
		{"gemini-2.0-flash", geminiAliases, "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		if got := resolveModel(tt.name, tt.aliases); got != tt.want {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer":  map[string]any{"type": "string", "enum": []any{"a", "b"}},
			"steps":   map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"correct": map[string]any{"type": "boolean"},
		},
		"required": []any{"answer"},
	})
	if s.Type != "OBJECT" || len(s.Properties) != 3 {
		t.Fatalf("got type %s with %d properties", s.Type, len(s.Properties))
	}
	if s.Properties["steps"].Items.Type != "INTEGER" {
		t.Errorf("steps items = %s", s.Properties["steps"].Items.Type)
	}
	if len(s.Properties["answer"].Enum) != 2 || len(s.Required) != 1 {
		t.Errorf("enum=%v required=%v", s.Properties["answer"].Enum, s.Required)
	}
	if s.Properties["correct"].Type != "BOOLEAN" {
		t.Errorf("correct = %s", s.Properties["correct"].Type)
	}
}
