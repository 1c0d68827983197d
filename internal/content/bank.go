package content

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultBank []byte

type bankFile struct {
	Questions []Question `yaml:"questions"`
}

// Bank serves questions from a static set. When nothing matches the
// requested difficulty it falls back to the nearest one, preferring easier.
type Bank struct {
	byPoint map[string][]Question
}

// NewBank validates and indexes questions. Ids must be unique.
func NewBank(questions []Question) (*Bank, error) {
	b := &Bank{byPoint: make(map[string][]Question)}
	seen := make(map[string]bool, len(questions))
	var errs []error
	for i, q := range questions {
		if q.Format == "" {
			q.Format = FormatFree
		}
		if q.AnswerType == "" {
			q.AnswerType = AnswerText
		}
		switch {
		case q.ID == "":
			errs = append(errs, fmt.Errorf("question %d: missing id", i))
			continue
		case seen[q.ID]:
			errs = append(errs, fmt.Errorf("question %s: duplicate id", q.ID))
			continue
		case q.KnowledgePointID == "":
			errs = append(errs, fmt.Errorf("question %s: missing knowledge_point", q.ID))
			continue
		}
		seen[q.ID] = true
		if err := q.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("question %s: %w", q.ID, err))
			continue
		}
		b.byPoint[q.KnowledgePointID] = append(b.byPoint[q.KnowledgePointID], q)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid question bank: %w", err)
	}
	for _, qs := range b.byPoint {
		slices.SortFunc(qs, func(a, b Question) int { return cmp.Compare(a.ID, b.ID) })
	}
	return b, nil
}

// ParseBank decodes a YAML bank.
func ParseBank(data []byte) (*Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing question bank: %w", err)
	}
	return NewBank(f.Questions)
}

// LoadBank reads a YAML bank from disk.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question bank: %w", err)
	}
	return ParseBank(data)
}

// DefaultBank returns the embedded bank covering the default catalog.
func DefaultBank() (*Bank, error) {
	return ParseBank(defaultBank)
}

// FetchQuestions implements Provider.
func (b *Bank) FetchQuestions(_ context.Context, knowledgePointID string, difficulty int) ([]Question, error) {
	qs := b.byPoint[knowledgePointID]
	if len(qs) == 0 {
		return nil, fmt.Errorf("%s: %w", knowledgePointID, ErrNoQuestionsAvailable)
	}
	best := -1
	for _, q := range qs {
		d := distance(q.Difficulty, difficulty)
		if best < 0 || d < distance(best, difficulty) || (d == distance(best, difficulty) && q.Difficulty < best) {
			best = q.Difficulty
		}
	}
	var out []Question
	for _, q := range qs {
		if q.Difficulty == best {
			out = append(out, q)
		}
	}
	return out, nil
}

// Len returns the number of questions.
func (b *Bank) Len() int {
	n := 0
	for _, qs := range b.byPoint {
		n += len(qs)
	}
	return n
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
