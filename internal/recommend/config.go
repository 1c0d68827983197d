package recommend

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the classification and scoring tunables.
type Config struct {
	WeakMinAttempts int     `yaml:"weak_min_attempts"`
	WeakAccuracy    float64 `yaml:"weak_accuracy"`

	// ReviewMinMastery is the mastery from which review decay applies.
	ReviewMinMastery int `yaml:"review_min_mastery"`
	// DecayBaseDays scales the review interval: DecayBaseDays * (6 - mastery).
	DecayBaseDays int `yaml:"decay_base_days"`

	WeakBase    int `yaml:"weak_base"`
	ReviewBase  int `yaml:"review_base"`
	AdvanceBase int `yaml:"advance_base"`
	MaxPriority int `yaml:"max_priority"`

	// JustMasteredWithin is how recently a parent must have been practiced at
	// ready level for its children to get the advance bonus.
	JustMasteredWithin time.Duration `yaml:"just_mastered_within"`

	TopN     int           `yaml:"top_n"`
	Validity time.Duration `yaml:"validity"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WeakMinAttempts:    3,
		WeakAccuracy:       60,
		ReviewMinMastery:   3,
		DecayBaseDays:      7,
		WeakBase:           9,
		ReviewBase:         6,
		AdvanceBase:        4,
		MaxPriority:        10,
		JustMasteredWithin: 24 * time.Hour,
		TopN:               10,
		Validity:           7 * 24 * time.Hour,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []string
	if c.WeakMinAttempts < 1 {
		errs = append(errs, "weak_min_attempts must be >= 1")
	}
	if c.WeakAccuracy <= 0 || c.WeakAccuracy > 100 {
		errs = append(errs, fmt.Sprintf("weak_accuracy must be in (0, 100], got %g", c.WeakAccuracy))
	}
	if c.ReviewMinMastery < 1 || c.ReviewMinMastery > 5 {
		errs = append(errs, "review_min_mastery must be in [1, 5]")
	}
	if c.DecayBaseDays < 1 {
		errs = append(errs, "decay_base_days must be >= 1")
	}
	if c.MaxPriority < 1 {
		errs = append(errs, "max_priority must be >= 1")
	}
	if c.TopN < 1 {
		errs = append(errs, "top_n must be >= 1")
	}
	if c.Validity <= 0 {
		errs = append(errs, "validity must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid recommendation config:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// ReviewInterval is how long mastery m holds before a review is due.
func (c Config) ReviewInterval(m int) time.Duration {
	return time.Duration(c.DecayBaseDays*(6-m)) * 24 * time.Hour
}
