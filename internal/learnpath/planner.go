package learnpath

import (
	"context"
	"errors"
	"fmt"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

// Records reads behavior state.
type Records interface {
	Snapshot(ctx context.Context, userID string) (behavior.Snapshot, error)
}

// Store persists learning paths.
type Store interface {
	// CreatePath inserts p with a fresh id. When p is active, every other
	// active path of the same (user, subject, grade) is paused in the same
	// transaction.
	CreatePath(ctx context.Context, p Path) (Path, error)

	// UpdatePath saves p, pausing other active paths of its key when p is active.
	UpdatePath(ctx context.Context, p Path) error

	// GetPath returns domain.ErrNotFound for unknown ids.
	GetPath(ctx context.Context, id string) (Path, error)

	// ActivePath returns the active path of a key, or domain.ErrNotFound.
	ActivePath(ctx context.Context, userID, subject string, grade int) (Path, error)

	ListPaths(ctx context.Context, userID string) ([]Path, error)
}

// Deps bundles the optional collaborators of a Planner.
type Deps struct {
	Clock   domain.Clock
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Planner builds and advances learning paths.
type Planner struct {
	graph   *knowledge.Graph
	records Records
	store   Store
	clock   domain.Clock
	events  events.Publisher
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewPlanner wires a planner.
func NewPlanner(graph *knowledge.Graph, records Records, store Store, deps Deps) *Planner {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	return &Planner{
		graph:   graph,
		records: records,
		store:   store,
		clock:   deps.Clock,
		events:  events.OrNop(deps.Events),
		log:     logger.OrNop(deps.Logger).With("component", "learnpath"),
		metrics: metrics.OrNop(deps.Metrics),
	}
}

// Build stores a new active path over the subject/grade points not yet at
// top mastery, in topological order. Older active paths for the same key
// are paused.
func (pl *Planner) Build(ctx context.Context, userID, subject string, grade int) (Path, error) {
	snap, err := pl.records.Snapshot(ctx, userID)
	if err != nil {
		return Path{}, err
	}
	now := pl.clock.Now()

	ids := []string{}
	for _, p := range pl.graph.TopologicalOrder(subject, grade) {
		if snap.Mastery(p.ID) >= knowledge.MaxMastery {
			continue
		}
		ids = append(ids, p.ID)
	}

	p := Path{
		UserID:          userID,
		Subject:         subject,
		Grade:           grade,
		KnowledgePoints: ids,
		TotalSteps:      len(ids),
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(ids) == 0 {
		p.Progress = 100
		p.Status = StatusCompleted
		p.CompletedAt = &now
	}

	p, err = pl.store.CreatePath(ctx, p)
	if err != nil {
		return Path{}, fmt.Errorf("creating learning path: %w", err)
	}
	pl.metrics.PathsBuilt.Inc()
	pl.log.Info("learning path built",
		"user_id", userID,
		"subject", subject,
		"grade", grade,
		"steps", p.TotalSteps,
	)
	return p, nil
}

// Advance recomputes the step pointer of a path from current mastery.
func (pl *Planner) Advance(ctx context.Context, userID, pathID string) (Path, error) {
	p, err := pl.load(ctx, userID, pathID)
	if err != nil {
		return Path{}, err
	}
	return pl.advance(ctx, p)
}

func (pl *Planner) advance(ctx context.Context, p Path) (Path, error) {
	if p.Status == StatusCompleted {
		return p, nil
	}
	snap, err := pl.records.Snapshot(ctx, p.UserID)
	if err != nil {
		return Path{}, err
	}
	now := pl.clock.Now()
	next := derive(p, snap.Mastery, pl.graph.ReadyLevel(), now)
	if next.CurrentStep == p.CurrentStep && next.Status == p.Status && next.TotalSteps == p.TotalSteps {
		return next, nil
	}

	next.UpdatedAt = now
	if err := pl.store.UpdatePath(ctx, next); err != nil {
		return Path{}, fmt.Errorf("updating learning path: %w", err)
	}
	pl.metrics.PathsAdvanced.WithLabelValues(string(next.Status)).Inc()
	pl.log.Debug("learning path advanced",
		"user_id", p.UserID,
		"path", p.ID,
		"from", p.CurrentStep,
		"to", next.CurrentStep,
		"status", next.Status,
	)
	if next.Status == StatusCompleted {
		ev := events.New(events.PathCompleted, p.UserID, now, map[string]any{
			"path_id": p.ID,
			"subject": p.Subject,
			"grade":   p.Grade,
			"steps":   p.TotalSteps,
		})
		if err := pl.events.Publish(ctx, ev); err != nil {
			pl.log.Warn("publishing path event failed", "error", err)
		}
	}
	return next, nil
}

// BuildOrAdvance advances the active path of the key, or builds one when
// none is active. built reports which happened.
func (pl *Planner) BuildOrAdvance(ctx context.Context, userID, subject string, grade int) (p Path, built bool, err error) {
	p, err = pl.store.ActivePath(ctx, userID, subject, grade)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p, err = pl.Build(ctx, userID, subject, grade)
		return p, true, err
	case err != nil:
		return Path{}, false, fmt.Errorf("loading active path: %w", err)
	}
	p, err = pl.advance(ctx, p)
	return p, false, err
}

// Pause stops an active path without discarding its progress.
func (pl *Planner) Pause(ctx context.Context, userID, pathID string) (Path, error) {
	return pl.setStatus(ctx, userID, pathID, StatusActive, StatusPaused)
}

// Resume reactivates a paused path, pausing any other active path of the
// same subject and grade, and refreshes its progress.
func (pl *Planner) Resume(ctx context.Context, userID, pathID string) (Path, error) {
	p, err := pl.setStatus(ctx, userID, pathID, StatusPaused, StatusActive)
	if err != nil {
		return Path{}, err
	}
	return pl.advance(ctx, p)
}

func (pl *Planner) setStatus(ctx context.Context, userID, pathID string, from, to Status) (Path, error) {
	p, err := pl.load(ctx, userID, pathID)
	if err != nil {
		return Path{}, err
	}
	if p.Status == to {
		return p, nil
	}
	if p.Status != from {
		return Path{}, fmt.Errorf("path %s is %s, not %s: %w", p.ID, p.Status, from, domain.ErrInvalidInput)
	}
	p.Status = to
	p.UpdatedAt = pl.clock.Now()
	if err := pl.store.UpdatePath(ctx, p); err != nil {
		return Path{}, fmt.Errorf("updating learning path: %w", err)
	}
	return p, nil
}

// Get returns a path owned by userID with its step pointer, progress and
// status derived from current mastery. Nothing is written; Advance persists.
func (pl *Planner) Get(ctx context.Context, userID, pathID string) (Path, error) {
	p, err := pl.load(ctx, userID, pathID)
	if err != nil {
		return Path{}, err
	}
	snap, err := pl.records.Snapshot(ctx, userID)
	if err != nil {
		return Path{}, err
	}
	return derive(p, snap.Mastery, pl.graph.ReadyLevel(), pl.clock.Now()), nil
}

// List returns every path of a user, derived from current mastery like Get.
func (pl *Planner) List(ctx context.Context, userID string) ([]Path, error) {
	paths, err := pl.store.ListPaths(ctx, userID)
	if err != nil || len(paths) == 0 {
		return paths, err
	}
	snap, err := pl.records.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := pl.clock.Now()
	for i, p := range paths {
		paths[i] = derive(p, snap.Mastery, pl.graph.ReadyLevel(), now)
	}
	return paths, nil
}

// load returns the stored path owned by userID.
func (pl *Planner) load(ctx context.Context, userID, pathID string) (Path, error) {
	p, err := pl.store.GetPath(ctx, pathID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && p.UserID != userID) {
		return Path{}, fmt.Errorf("%s: %w", pathID, ErrPathNotFound)
	}
	if err != nil {
		return Path{}, err
	}
	return p, nil
}
