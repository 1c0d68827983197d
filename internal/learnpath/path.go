// Package learnpath sequences a subject and grade into an ordered curriculum
// and tracks progress through it. The step pointer is always derived from
// mastery, never incremented by hand.
package learnpath

import (
	"errors"
	"math"
	"time"
)

// ErrPathNotFound is returned when a path id is unknown or owned by another user.
var ErrPathNotFound = errors.New("learning path not found")

// Status is the path lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Path is an ordered sequence of knowledge points for one subject and grade.
type Path struct {
	ID      string
	UserID  string
	Subject string
	Grade   int

	// KnowledgePoints is a topological order of the subject/grade slice.
	KnowledgePoints []string
	CurrentStep     int
	TotalSteps      int
	Progress        int // 0-100
	Status          Status

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Current returns the knowledge point at the step pointer, or "" when the
// path is finished.
func (p Path) Current() string {
	if p.CurrentStep >= len(p.KnowledgePoints) {
		return ""
	}
	return p.KnowledgePoints[p.CurrentStep]
}

// Remaining returns the points from the step pointer on.
func (p Path) Remaining() []string {
	if p.CurrentStep >= len(p.KnowledgePoints) {
		return nil
	}
	return p.KnowledgePoints[p.CurrentStep:]
}

// derive recomputes the step pointer, progress and completion from mastery.
// Completed paths are terminal; a paused path stays paused unless finished.
func derive(p Path, mastery func(string) int, ready int, now time.Time) Path {
	if p.Status == StatusCompleted {
		return p
	}
	step := 0
	for _, id := range p.KnowledgePoints {
		if mastery(id) < ready {
			break
		}
		step++
	}
	p.CurrentStep = step
	p.TotalSteps = len(p.KnowledgePoints)
	p.Progress = progress(step, p.TotalSteps)
	if step == p.TotalSteps {
		p.Status = StatusCompleted
		p.CompletedAt = &now
	}
	return p
}

func progress(step, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(step) / float64(total) * 100))
}
