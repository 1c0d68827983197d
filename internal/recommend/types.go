package recommend

import (
	"slices"
	"time"
)

// Type classifies why a point is recommended.
type Type string

const (
	TypeWeakPoint Type = "weak_point"
	TypeReview    Type = "review"
	TypeAdvance   Type = "advance"
)

// Status is the recommendation lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// OpenStatuses are the statuses of unresolved recommendations. At most one
// recommendation per (user, knowledge point) may be open.
var OpenStatuses = []Status{StatusPending, StatusInProgress}

// Open reports whether s is unresolved.
func (s Status) Open() bool {
	return slices.Contains(OpenStatuses, s)
}

// Recommendation is a typed, prioritized suggestion of what to study next.
type Recommendation struct {
	ID               string
	UserID           string
	KnowledgePointID string
	Subject          string
	Grade            int

	Type     Type
	Reason   string
	Priority int // 1-10, higher is more urgent
	Status   Status
	Progress int // 0-100

	// EffectivenessScore is set when the recommendation completes.
	EffectivenessScore *float64

	// BaselineMastery is the mastery level when the recommendation was issued.
	BaselineMastery int
	Difficulty      int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ValidUntil  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Expired reports whether the validity window has passed at now.
func (r Recommendation) Expired(now time.Time) bool {
	return !r.ValidUntil.IsZero() && now.After(r.ValidUntil)
}
