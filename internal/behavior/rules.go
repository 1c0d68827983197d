package behavior

import (
	"fmt"
	"strings"
)

// Rule maps a statistics threshold to a mastery level. Rules are evaluated
// in order and the first match wins.
type Rule struct {
	Level       int     `yaml:"level"`
	MinAccuracy float64 `yaml:"min_accuracy"`

	// StrictAccuracy requires accuracy > MinAccuracy instead of >=.
	StrictAccuracy        bool `yaml:"strict_accuracy"`
	MinConsecutiveCorrect int  `yaml:"min_consecutive_correct"`
}

// Matches reports whether r applies to rec.
func (r Rule) Matches(rec Record) bool {
	if r.StrictAccuracy {
		if rec.AccuracyRate <= r.MinAccuracy {
			return false
		}
	} else if rec.AccuracyRate < r.MinAccuracy {
		return false
	}
	return rec.ConsecutiveCorrect >= r.MinConsecutiveCorrect
}

func (r Rule) String() string {
	op := ">="
	if r.StrictAccuracy {
		op = ">"
	}
	s := fmt.Sprintf("level %d: accuracy %s %g", r.Level, op, r.MinAccuracy)
	if r.MinConsecutiveCorrect > 0 {
		s += fmt.Sprintf(" and streak >= %d", r.MinConsecutiveCorrect)
	}
	return s
}

// Policy derives mastery levels from a record.
type Policy struct {
	Rules []Rule `yaml:"rules"`

	// MinAttempts is the floor below which mastery keeps its previous value.
	MinAttempts int `yaml:"min_attempts"`

	// CollapseStreak is the wrong-answer run that forces mastery one level
	// below what it was when the run began, and one more level for every
	// further full streak.
	CollapseStreak int `yaml:"collapse_streak"`
}

// DefaultPolicy returns the standard threshold table.
func DefaultPolicy() Policy {
	return Policy{
		Rules: []Rule{
			{Level: 5, MinAccuracy: 90, MinConsecutiveCorrect: 5},
			{Level: 4, MinAccuracy: 80, MinConsecutiveCorrect: 3},
			{Level: 3, MinAccuracy: 70},
			{Level: 2, MinAccuracy: 50},
			{Level: 1, MinAccuracy: 0, StrictAccuracy: true},
		},
		MinAttempts:    3,
		CollapseStreak: 3,
	}
}

// Validate checks the policy for out-of-range values.
func (p Policy) Validate() error {
	var errs []string
	if len(p.Rules) == 0 {
		errs = append(errs, "no mastery rules")
	}
	for i, r := range p.Rules {
		if r.Level < 0 || r.Level > 5 {
			errs = append(errs, fmt.Sprintf("rule %d: level must be in [0, 5], got %d", i, r.Level))
		}
		if r.MinAccuracy < 0 || r.MinAccuracy > 100 {
			errs = append(errs, fmt.Sprintf("rule %d: accuracy must be in [0, 100], got %g", i, r.MinAccuracy))
		}
		if r.MinConsecutiveCorrect < 0 {
			errs = append(errs, fmt.Sprintf("rule %d: streak must be >= 0", i))
		}
	}
	if p.MinAttempts < 1 {
		errs = append(errs, fmt.Sprintf("min attempts must be >= 1, got %d", p.MinAttempts))
	}
	if p.CollapseStreak < 1 {
		errs = append(errs, fmt.Sprintf("collapse streak must be >= 1, got %d", p.CollapseStreak))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid mastery policy:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Classify returns the level of the first matching rule, or 0.
func (p Policy) Classify(rec Record) int {
	for _, r := range p.Rules {
		if r.Matches(rec) {
			return r.Level
		}
	}
	return 0
}

// Evaluate returns the mastery level for rec given the level it held
// before the latest attempt.
func (p Policy) Evaluate(rec Record, previous int) int {
	if rec.TotalAttempts < p.MinAttempts {
		return previous
	}
	if rec.ConsecutiveWrong >= p.CollapseStreak {
		return p.Collapsed(rec)
	}
	return p.Classify(rec)
}

// Collapsed is the level forced by a wrong run of at least CollapseStreak
// answers. It is always below RunStartMastery unless that was already 0.
func (p Policy) Collapsed(rec Record) int {
	return max(0, rec.RunStartMastery-rec.ConsecutiveWrong/p.CollapseStreak)
}
