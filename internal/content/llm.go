package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/llm"
)

const generateSystemPrompt = `You write practice questions for primary school children.

Rules:
- Every question targets the given knowledge point, grade and difficulty (1 easiest, 5 hardest).
- Question text is short, self-contained and age-appropriate.
- The answer is correct and in simplest form: reduced fractions, no trailing zeros.
- Use "free" format for computation and "multiple_choice" for recognition; multiple choice lists 4 options with exactly one correct.
- answer_type is integer, decimal or fraction for numeric answers, text otherwise.
- The explanation walks through the solution in one or two sentences a child can follow.`

const evaluateSystemPrompt = `You grade a child's answer to a practice question.
Accept answers that are equivalent to the expected answer even when worded or formatted differently, and ignore spelling slips that do not change meaning.
Reply with whether the answer is correct and a one-sentence explanation addressed to the child.`

var questionsSchema = &llm.Schema{
	Name:        "practice-questions",
	Description: "A batch of practice questions for one knowledge point",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":        map[string]any{"type": "string"},
						"format":      map[string]any{"type": "string", "enum": []any{"free", "multiple_choice"}},
						"answer":      map[string]any{"type": "string"},
						"answer_type": map[string]any{"type": "string", "enum": []any{"integer", "decimal", "fraction", "text"}},
						"choices":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"hint":        map[string]any{"type": "string"},
						"explanation": map[string]any{"type": "string"},
					},
					"required":             []any{"text", "format", "answer", "answer_type", "choices", "hint", "explanation"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"questions"},
		"additionalProperties": false,
	},
}

var verdictSchema = &llm.Schema{
	Name:        "answer-verdict",
	Description: "Whether a child's answer is correct",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correct":     map[string]any{"type": "boolean"},
			"explanation": map[string]any{"type": "string"},
		},
		"required":             []any{"correct", "explanation"},
		"additionalProperties": false,
	},
}

// LLMProvider generates questions with a language model. Generated items
// that fail Question.Validate are dropped.
type LLMProvider struct {
	provider  llm.Provider
	graph     *knowledge.Graph
	batch     int
	maxTokens int
}

// NewLLMProvider asks for batch questions per call.
func NewLLMProvider(p llm.Provider, graph *knowledge.Graph, batch int) *LLMProvider {
	if batch < 1 {
		batch = 3
	}
	return &LLMProvider{provider: p, graph: graph, batch: batch, maxTokens: 400 * batch}
}

func (l *LLMProvider) FetchQuestions(ctx context.Context, knowledgePointID string, difficulty int) ([]Question, error) {
	kp, err := l.graph.Get(knowledgePointID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge point: %s\n", kp.Name)
	fmt.Fprintf(&b, "Subject: %s\n", kp.Subject)
	fmt.Fprintf(&b, "Grade: %d\n", kp.Grade)
	fmt.Fprintf(&b, "Difficulty: %d\n", difficulty)
	if len(kp.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(kp.Tags, ", "))
	}
	fmt.Fprintf(&b, "Write %d distinct questions.", l.batch)

	resp, err := l.provider.Generate(llm.WithPurpose(ctx, "question-gen"), llm.Request{
		System:    generateSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:    questionsSchema,
		MaxTokens: l.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating questions: %w", err)
	}

	var out struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("decoding questions: %w", err)
	}
	var qs []Question
	for _, q := range out.Questions {
		q.ID = uuid.NewString()
		q.KnowledgePointID = knowledgePointID
		q.Difficulty = difficulty
		if q.Validate() != nil {
			continue
		}
		qs = append(qs, q)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%s: model returned no usable questions: %w", knowledgePointID, ErrNoQuestionsAvailable)
	}
	return qs, nil
}

// LLMEvaluator grades numeric and multiple choice answers exactly and asks
// the model only for free-text answers.
type LLMEvaluator struct {
	provider llm.Provider
	exact    ExactEvaluator
}

// NewLLMEvaluator wraps a provider.
func NewLLMEvaluator(p llm.Provider) *LLMEvaluator {
	return &LLMEvaluator{provider: p}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, q Question, answer string) (Evaluation, error) {
	if q.AnswerType != AnswerText || q.Format == FormatMultipleChoice || Check(q, answer) {
		return e.exact.Evaluate(ctx, q, answer)
	}

	msg := fmt.Sprintf("Question: %s\nExpected answer: %s\nChild's answer: %s", q.Text, q.Answer, answer)
	resp, err := e.provider.Generate(llm.WithPurpose(ctx, "answer-eval"), llm.Request{
		System:    evaluateSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: msg}},
		Schema:    verdictSchema,
		MaxTokens: 200,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluating answer: %w", err)
	}

	correct := gjson.GetBytes(resp.Content, "correct")
	if !correct.Exists() || (correct.Type != gjson.True && correct.Type != gjson.False) {
		return Evaluation{}, errors.New("evaluating answer: verdict missing")
	}
	return Evaluation{
		Correct:     correct.Bool(),
		Explanation: gjson.GetBytes(resp.Content, "explanation").String(),
	}, nil
}
