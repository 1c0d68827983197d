// Package content defines the question and grading collaborators a practice
// session depends on, with a YAML question bank, an exact-match grader and
// LLM-backed implementations.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoQuestionsAvailable is returned when a provider has nothing to serve.
var ErrNoQuestionsAvailable = errors.New("no questions available")

// AnswerType tells the evaluator how to normalize answers.
type AnswerType string

const (
	AnswerInteger  AnswerType = "integer"
	AnswerDecimal  AnswerType = "decimal"
	AnswerFraction AnswerType = "fraction"
	AnswerText     AnswerType = "text"
)

// Format is how the learner answers.
type Format string

const (
	FormatFree           Format = "free"
	FormatMultipleChoice Format = "multiple_choice"
)

// Question is a single practice item.
type Question struct {
	ID               string     `yaml:"id" json:"id"`
	KnowledgePointID string     `yaml:"knowledge_point" json:"knowledge_point_id"`
	Difficulty       int        `yaml:"difficulty" json:"difficulty"`
	Text             string     `yaml:"text" json:"text"`
	Format           Format     `yaml:"format" json:"format"`
	Answer           string     `yaml:"answer" json:"answer"`
	AnswerType       AnswerType `yaml:"answer_type" json:"answer_type"`
	Choices          []string   `yaml:"choices,omitempty" json:"choices,omitempty"`
	Hint             string     `yaml:"hint,omitempty" json:"hint,omitempty"`
	Explanation      string     `yaml:"explanation,omitempty" json:"explanation,omitempty"`
}

// Validate checks that the answer matches its declared type and that
// multiple choice questions list the answer exactly once.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("question text is empty")
	}
	if q.Difficulty < 1 || q.Difficulty > 5 {
		return fmt.Errorf("difficulty %d out of range 1-5", q.Difficulty)
	}
	if q.AnswerType != AnswerText {
		if _, err := normalize(q.Answer, q.AnswerType); err != nil {
			return fmt.Errorf("answer %q is not a valid %s: %w", q.Answer, q.AnswerType, err)
		}
	}
	if q.Format != FormatMultipleChoice {
		return nil
	}
	if len(q.Choices) < 2 {
		return fmt.Errorf("multiple choice needs at least 2 choices, got %d", len(q.Choices))
	}
	seen := make(map[string]bool, len(q.Choices))
	matches := 0
	for i, c := range q.Choices {
		key := fold(c)
		if key == "" {
			return fmt.Errorf("choice %d is empty", i+1)
		}
		if seen[key] {
			return fmt.Errorf("duplicate choice %q", c)
		}
		seen[key] = true
		if key == fold(q.Answer) {
			matches++
		}
	}
	if matches != 1 {
		return fmt.Errorf("answer %q must match exactly one choice", q.Answer)
	}
	return nil
}

// Provider supplies candidate questions. Implementations return at least one
// question or an error wrapping ErrNoQuestionsAvailable.
type Provider interface {
	FetchQuestions(ctx context.Context, knowledgePointID string, difficulty int) ([]Question, error)
}

// Evaluation is the verdict on one answer.
type Evaluation struct {
	Correct     bool
	Explanation string
}

// Evaluator grades a learner's answer.
type Evaluator interface {
	Evaluate(ctx context.Context, q Question, answer string) (Evaluation, error)
}
