package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

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

// Store persists recommendations.
type Store interface {
	// OpenRecommendations lists pending and in-progress recommendations of a
	// user for one subject and grade.
	OpenRecommendations(ctx context.Context, userID, subject string, grade int) ([]Recommendation, error)

	// OpenRecommendation returns the open recommendation for a point, or
	// domain.ErrNotFound.
	OpenRecommendation(ctx context.Context, userID, knowledgePointID string) (Recommendation, error)

	// SaveRun applies closures first, then upserts, in one transaction.
	// Upserts with an ID refresh that open row; upserts without one insert
	// a new pending row.
	SaveRun(ctx context.Context, closed, upserts []Recommendation) error

	UpdateRecommendation(ctx context.Context, r Recommendation) error
	ListRecommendations(ctx context.Context, userID string, statuses ...Status) ([]Recommendation, error)
}

// Engine turns mastery state into a ranked, stateful study plan.
type Engine struct {
	cfg     Config
	graph   *knowledge.Graph
	records Records
	store   Store
	clock   domain.Clock
	events  events.Publisher
	log     *logger.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

// Deps bundles the optional collaborators of an Engine.
type Deps struct {
	Clock   domain.Clock
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// NewEngine wires an engine.
func NewEngine(cfg Config, graph *knowledge.Graph, records Records, store Store, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	return &Engine{
		cfg:     cfg,
		graph:   graph,
		records: records,
		store:   store,
		clock:   deps.Clock,
		events:  events.OrNop(deps.Events),
		log:     logger.OrNop(deps.Logger).With("component", "recommend"),
		metrics: metrics.OrNop(deps.Metrics),
	}, nil
}

// Generate refreshes the user's open recommendations for a subject and
// grade and returns the top N by priority. Re-running without new attempts
// returns the same open set. Concurrent calls for the same key share one run;
// the run is detached from any single caller's cancellation, and a caller
// that gives up returns its context error while the others keep waiting.
func (e *Engine) Generate(ctx context.Context, userID, subject string, grade int) ([]Recommendation, error) {
	key := userID + "\x00" + subject + "\x00" + strconv.Itoa(grade)
	runCtx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		ctx := runCtx
		var recs []Recommendation
		var err error
		// A concurrent run from another process can win the insert race; the
		// second pass sees its rows as open and refreshes them instead.
		for range 2 {
			recs, err = e.generate(ctx, userID, subject, grade)
			if !errors.Is(err, domain.ErrConflict) {
				break
			}
		}
		return recs, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]Recommendation)), nil
	}
}

func (e *Engine) generate(ctx context.Context, userID, subject string, grade int) ([]Recommendation, error) {
	now := e.clock.Now()

	snap, err := e.records.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	open, err := e.store.OpenRecommendations(ctx, userID, subject, grade)
	if err != nil {
		return nil, fmt.Errorf("loading open recommendations: %w", err)
	}
	openByPoint := make(map[string]Recommendation, len(open))
	for _, r := range open {
		openByPoint[r.KnowledgePointID] = r
	}

	candidates := make(map[string]candidate)
	for _, p := range e.graph.TopologicalOrder(subject, grade) {
		if snap.Mastery(p.ID) >= knowledge.MaxMastery {
			continue
		}
		ready, err := e.graph.IsReady(p.ID, snap.Lookup())
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		if c, ok := e.cfg.classify(e.graph, p, snap, now); ok {
			candidates[p.ID] = c
		}
	}

	var closed, upserts []Recommendation
	for _, r := range open {
		if _, ok := candidates[r.KnowledgePointID]; !ok {
			closed = append(closed, e.resolve(r, snap.Mastery(r.KnowledgePointID), now))
			continue
		}
		// Unstarted recommendations past their window are superseded by a fresh one.
		if r.Status == StatusPending && r.Expired(now) {
			r.Status = StatusSkipped
			r.UpdatedAt = now
			closed = append(closed, r)
			delete(openByPoint, r.KnowledgePointID)
		}
	}

	for _, p := range e.graph.TopologicalOrder(subject, grade) {
		c, ok := candidates[p.ID]
		if !ok {
			continue
		}
		r, exists := openByPoint[p.ID]
		if !exists {
			r = Recommendation{
				UserID:           userID,
				KnowledgePointID: p.ID,
				Subject:          subject,
				Grade:            grade,
				Status:           StatusPending,
				BaselineMastery:  c.mastery,
				CreatedAt:        now,
				ValidUntil:       now.Add(e.cfg.Validity),
			}
		}
		r.Type = c.typ
		r.Reason = c.reason
		r.Priority = c.priority
		r.Difficulty = p.Difficulty
		r.Progress = progress(c.mastery, e.graph.ReadyLevel())
		r.UpdatedAt = now
		upserts = append(upserts, r)
		e.metrics.RecommendationsGenerated.WithLabelValues(string(c.typ)).Inc()
	}

	if err := e.store.SaveRun(ctx, closed, upserts); err != nil {
		return nil, fmt.Errorf("saving recommendations: %w", err)
	}
	for _, r := range closed {
		e.metrics.RecommendationTransitions.WithLabelValues(string(r.Status)).Inc()
		if r.Status == StatusCompleted {
			e.publishCompleted(ctx, r, now)
		}
	}

	result, err := e.store.OpenRecommendations(ctx, userID, subject, grade)
	if err != nil {
		return nil, fmt.Errorf("loading open recommendations: %w", err)
	}
	Sort(result)
	if len(result) > e.cfg.TopN {
		result = result[:e.cfg.TopN]
	}

	e.log.Debug("recommendations generated",
		"user_id", userID,
		"subject", subject,
		"grade", grade,
		"candidates", len(candidates),
		"closed", len(closed),
		"returned", len(result),
	)
	return result, nil
}

// resolve resolves an open recommendation that no longer qualifies. Points at
// ready level count as completed; unstarted ones are skipped.
func (e *Engine) resolve(r Recommendation, mastery int, now time.Time) Recommendation {
	r.UpdatedAt = now
	r.Progress = progress(mastery, e.graph.ReadyLevel())
	if mastery < e.graph.ReadyLevel() && r.Status == StatusPending {
		r.Status = StatusSkipped
		return r
	}
	score := effectiveness(r, mastery)
	r.Status = StatusCompleted
	r.EffectivenessScore = &score
	r.CompletedAt = &now
	return r
}

// OnAttempt advances the open recommendation for the attempted point:
// pending becomes in_progress, and reaching ready level inside the validity
// window completes it. It reports whether anything changed.
func (e *Engine) OnAttempt(ctx context.Context, out behavior.Outcome) (Recommendation, bool, error) {
	if out.Duplicate {
		return Recommendation{}, false, nil
	}
	rec := out.Record
	r, err := e.store.OpenRecommendation(ctx, rec.UserID, rec.KnowledgePointID)
	if errors.Is(err, domain.ErrNotFound) {
		return Recommendation{}, false, nil
	}
	if err != nil {
		return Recommendation{}, false, fmt.Errorf("loading open recommendation: %w", err)
	}

	now := e.clock.Now()
	before := r
	if r.Status == StatusPending {
		r.Status = StatusInProgress
		r.StartedAt = &now
	}
	r.Progress = progress(rec.MasteryLevel, e.graph.ReadyLevel())
	if rec.MasteryLevel >= e.graph.ReadyLevel() && !r.Expired(now) {
		score := effectiveness(r, rec.MasteryLevel)
		r.Status = StatusCompleted
		r.EffectivenessScore = &score
		r.CompletedAt = &now
	}
	if r.Status == before.Status && r.Progress == before.Progress {
		return r, false, nil
	}

	r.UpdatedAt = now
	if err := e.store.UpdateRecommendation(ctx, r); err != nil {
		return Recommendation{}, false, fmt.Errorf("updating recommendation: %w", err)
	}
	if r.Status != before.Status {
		e.metrics.RecommendationTransitions.WithLabelValues(string(r.Status)).Inc()
		e.log.Debug("recommendation transition", "user_id", r.UserID, "kp", r.KnowledgePointID, "from", before.Status, "to", r.Status)
	}
	if r.Status == StatusCompleted {
		e.publishCompleted(ctx, r, now)
	}
	return r, true, nil
}

// List returns a user's recommendations filtered by status, ranked.
func (e *Engine) List(ctx context.Context, userID string, statuses ...Status) ([]Recommendation, error) {
	rs, err := e.store.ListRecommendations(ctx, userID, statuses...)
	if err != nil {
		return nil, err
	}
	Sort(rs)
	return rs, nil
}

func (e *Engine) publishCompleted(ctx context.Context, r Recommendation, now time.Time) {
	data := map[string]any{
		"recommendation_id":  r.ID,
		"knowledge_point_id": r.KnowledgePointID,
		"type":               string(r.Type),
	}
	if r.EffectivenessScore != nil {
		data["effectiveness"] = *r.EffectivenessScore
	}
	if err := e.events.Publish(ctx, events.New(events.RecommendationCompleted, r.UserID, now, data)); err != nil {
		e.log.Warn("publishing recommendation event failed", "error", err)
	}
}

// Sort orders by priority descending, then difficulty ascending, then
// knowledge point id.
func Sort(rs []Recommendation) {
	slices.SortFunc(rs, func(a, b Recommendation) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Difficulty, b.Difficulty); c != 0 {
			return c
		}
		return cmp.Compare(a.KnowledgePointID, b.KnowledgePointID)
	})
}

func progress(mastery, ready int) int {
	if ready <= 0 {
		return 100
	}
	return min(100, mastery*100/ready)
}
