package practice

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
)

// Difficulty bounds.
const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// Config tunes difficulty adaptation.
type Config struct {
	// Window is how many trailing answers must agree before difficulty moves.
	Window        int     `yaml:"window"`
	RaiseAccuracy float64 `yaml:"raise_accuracy"`
	LowerAccuracy float64 `yaml:"lower_accuracy"`

	// SeedHistory is how many past sessions seed a new one.
	SeedHistory       int     `yaml:"seed_history"`
	SeedRaiseAccuracy float64 `yaml:"seed_raise_accuracy"`
	SeedLowerAccuracy float64 `yaml:"seed_lower_accuracy"`

	// Timeout bounds each question fetch and answer evaluation.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Window:            3,
		RaiseAccuracy:     80,
		LowerAccuracy:     40,
		SeedHistory:       5,
		SeedRaiseAccuracy: 80,
		SeedLowerAccuracy: 50,
		Timeout:           10 * time.Second,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("%w: session window must be positive", domain.ErrInvalidInput)
	case c.LowerAccuracy < 0 || c.RaiseAccuracy > 100 || c.LowerAccuracy >= c.RaiseAccuracy:
		return fmt.Errorf("%w: session accuracies need 0 <= lower < raise <= 100", domain.ErrInvalidInput)
	case c.SeedHistory < 1:
		return fmt.Errorf("%w: seed history must be positive", domain.ErrInvalidInput)
	case c.SeedLowerAccuracy < 0 || c.SeedRaiseAccuracy > 100 || c.SeedLowerAccuracy >= c.SeedRaiseAccuracy:
		return fmt.Errorf("%w: seed accuracies need 0 <= lower < raise <= 100", domain.ErrInvalidInput)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: collaborator timeout must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// Seed picks the starting difficulty from past sessions: the rounded mean of
// their final difficulties, nudged by the answer-weighted accuracy across
// them. No history starts at MinDifficulty.
func (c Config) Seed(history []Summary) int {
	var diffs, rates, weights []float64
	for _, h := range history {
		if h.TotalCount == 0 {
			continue
		}
		diffs = append(diffs, float64(h.Difficulty))
		rates = append(rates, float64(h.CorrectCount)/float64(h.TotalCount)*100)
		weights = append(weights, float64(h.TotalCount))
	}
	if len(diffs) == 0 {
		return MinDifficulty
	}

	seed := int(math.Round(stat.Mean(diffs, nil)))
	switch accuracy := stat.Mean(rates, weights); {
	case accuracy >= c.SeedRaiseAccuracy:
		seed++
	case accuracy <= c.SeedLowerAccuracy:
		seed--
	}
	return clamp(seed)
}

// Next returns the difficulty after an answer. It moves only when the last
// Window answers all agree and the whole-session accuracy confirms them.
func (c Config) Next(difficulty int, answers []Answer, correct, total int) int {
	if len(answers) < c.Window || total == 0 {
		return difficulty
	}
	tail := answers[len(answers)-c.Window:]
	allCorrect, allWrong := true, true
	for _, a := range tail {
		if a.Correct {
			allWrong = false
		} else {
			allCorrect = false
		}
	}

	accuracy := float64(correct) / float64(total) * 100
	switch {
	case allCorrect && accuracy >= c.RaiseAccuracy:
		return min(MaxDifficulty, difficulty+1)
	case allWrong && accuracy <= c.LowerAccuracy:
		return max(MinDifficulty, difficulty-1)
	}
	return difficulty
}

func clamp(d int) int {
	return max(MinDifficulty, min(MaxDifficulty, d))
}
