package behavior

import (
	"fmt"
	"math"
	"time"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
)

// Record is the rolling statistics for one (user, knowledge point) pair.
// MasteryLevel is derived by a Policy and never set directly.
type Record struct {
	UserID           string
	KnowledgePointID string

	TotalAttempts int
	CorrectCount  int
	WrongCount    int
	AccuracyRate  float64 // 0-100, two decimals

	AvgAnswerTime     float64 // seconds
	FastestAnswerTime float64
	SlowestAnswerTime float64

	ConsecutiveCorrect int
	ConsecutiveWrong   int

	MasteryLevel int

	// RunStartMastery is the level held when the current wrong run began.
	// Zero while the last answer was correct.
	RunStartMastery int

	FirstPracticeAt time.Time
	LastPracticeAt  time.Time
	PracticeDays    int

	// Version increments on every write; stores use it to detect lost updates.
	Version int64
}

// Exists reports whether the record has seen at least one attempt.
func (r Record) Exists() bool {
	return r.TotalAttempts > 0
}

// Attempt is a single answer event for a knowledge point.
type Attempt struct {
	// ID makes the attempt idempotent; replaying an id never double-counts.
	ID               string
	UserID           string
	KnowledgePointID string
	Correct          bool
	AnswerTime       float64 // seconds
	At               time.Time

	// SessionID is set when the attempt comes from a practice session.
	SessionID string
}

// Validate checks the caller-supplied fields.
func (a Attempt) Validate() error {
	switch {
	case a.UserID == "":
		return fmt.Errorf("%w: attempt has no user", domain.ErrInvalidInput)
	case a.KnowledgePointID == "":
		return fmt.Errorf("%w: attempt has no knowledge point", domain.ErrInvalidInput)
	case a.AnswerTime < 0 || math.IsNaN(a.AnswerTime) || math.IsInf(a.AnswerTime, 0):
		return fmt.Errorf("%w: answer time must be a non-negative number, got %v", domain.ErrInvalidInput, a.AnswerTime)
	}
	return nil
}

// Outcome is what recording an attempt produced.
type Outcome struct {
	Record   Record
	Previous Record

	// Duplicate is true when the attempt id had already been applied and
	// Record is the unchanged current state.
	Duplicate bool
}

// MasteryChanged reports whether the attempt moved the mastery level.
func (o Outcome) MasteryChanged() bool {
	return !o.Duplicate && o.Record.MasteryLevel != o.Previous.MasteryLevel
}

// Accuracy returns correct/total*100 rounded to two decimals, or 0 when total is 0.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*100*100) / 100
}
