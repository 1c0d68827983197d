// Package engine is the outward face of the adaptive learning engine. It
// wires the knowledge graph, behavior aggregation, recommendations, learning
// paths and practice sessions over one set of stores.
package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/config"
	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/learnpath"
	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
	"github.com/wsaxqd/home-work2-sub001/internal/practice"
	"github.com/wsaxqd/home-work2-sub001/internal/recommend"
	"github.com/wsaxqd/home-work2-sub001/internal/store"
)

const tracerName = "github.com/wsaxqd/home-work2-sub001/internal/engine"

// Stores bundles the persistence the engine runs on.
type Stores struct {
	Behavior        behavior.Store
	Recommendations recommend.Store
	Paths           learnpath.Store
	Sessions        practice.History
	Live            practice.LiveStore
}

// StoresFrom uses the repositories of s. A nil live store keeps live
// sessions in process memory.
func StoresFrom(s *store.Store, live practice.LiveStore) Stores {
	if live == nil {
		live = practice.NewMemoryLiveStore()
	}
	return Stores{
		Behavior:        s.Behavior(),
		Recommendations: s.Recommendations(),
		Paths:           s.Paths(),
		Sessions:        s.Sessions(),
		Live:            live,
	}
}

// Deps bundles the optional collaborators of an Engine.
type Deps struct {
	Clock   domain.Clock
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.TracerProvider
}

// Engine serves the outward operations. It holds no state of its own beyond
// its collaborators.
type Engine struct {
	graph     *knowledge.Graph
	behavior  *behavior.Aggregator
	recommend *recommend.Engine
	paths     *learnpath.Planner
	sessions  *practice.Controller

	clock  domain.Clock
	events events.Publisher
	log    *logger.Logger
	tracer trace.Tracer
}

// New wires an engine. The graph must have been built with the same ready
// level as the tunables.
func New(graph *knowledge.Graph, stores Stores, questions content.Provider, evaluator content.Evaluator, tun config.Tunables, deps Deps) (*Engine, error) {
	if err := tun.Validate(); err != nil {
		return nil, err
	}
	if graph.ReadyLevel() != tun.ReadyLevel {
		return nil, fmt.Errorf("%w: graph ready level %d does not match tunables (%d)", domain.ErrInvalidInput, graph.ReadyLevel(), tun.ReadyLevel)
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.GetTracerProvider()
	}
	log := logger.OrNop(deps.Logger)

	agg, err := behavior.NewAggregator(stores.Behavior, graph, tun.Behavior(), deps.Clock, log, deps.Metrics)
	if err != nil {
		return nil, err
	}
	rec, err := recommend.NewEngine(tun.Recommend, graph, agg, stores.Recommendations, recommend.Deps{
		Clock:   deps.Clock,
		Events:  deps.Events,
		Logger:  log,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	paths := learnpath.NewPlanner(graph, agg, stores.Paths, learnpath.Deps{
		Clock:   deps.Clock,
		Events:  deps.Events,
		Logger:  log,
		Metrics: deps.Metrics,
	})

	e := &Engine{
		graph:     graph,
		behavior:  agg,
		recommend: rec,
		paths:     paths,
		clock:     deps.Clock,
		events:    events.OrNop(deps.Events),
		log:       log.With("component", "engine"),
		tracer:    deps.Tracer.Tracer(tracerName),
	}
	e.sessions, err = practice.NewController(graph, questions, evaluator, attemptRecorder{e}, stores.Live, stores.Sessions, tun.Session, practice.Deps{
		Clock:   deps.Clock,
		Events:  deps.Events,
		Logger:  log,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Graph returns the knowledge graph.
func (e *Engine) Graph() *knowledge.Graph { return e.graph }

// Behavior returns the aggregator for read access.
func (e *Engine) Behavior() *behavior.Aggregator { return e.behavior }

// Recommendations returns the recommendation engine.
func (e *Engine) Recommendations() *recommend.Engine { return e.recommend }

// Paths returns the learning path planner.
func (e *Engine) Paths() *learnpath.Planner { return e.paths }

// Sessions returns the practice session controller.
func (e *Engine) Sessions() *practice.Controller { return e.sessions }

// RecordAttempt applies one answer to the user's behavior record, announces
// a mastery change and advances the open recommendation of the point. The
// recommendation update is best effort: once the attempt is stored it is
// never reported as failed, and the next run corrects a missed transition.
func (e *Engine) RecordAttempt(ctx context.Context, at behavior.Attempt) (out behavior.Outcome, err error) {
	ctx, span := e.startSpan(ctx, "record_attempt",
		attribute.String("kp", at.KnowledgePointID),
		attribute.Bool("correct", at.Correct),
	)
	defer finishSpan(span, &err)

	out, err = e.behavior.RecordAttempt(ctx, at)
	if err != nil {
		return behavior.Outcome{}, err
	}
	span.SetAttributes(
		attribute.Bool("duplicate", out.Duplicate),
		attribute.Int("mastery", out.Record.MasteryLevel),
	)
	if out.Duplicate {
		return out, nil
	}

	if out.MasteryChanged() {
		ev := events.New(events.MasteryChanged, at.UserID, out.Record.LastPracticeAt, map[string]any{
			"knowledge_point_id": at.KnowledgePointID,
			"from":               out.Previous.MasteryLevel,
			"to":                 out.Record.MasteryLevel,
			"accuracy":           out.Record.AccuracyRate,
		})
		if err := e.events.Publish(ctx, ev); err != nil {
			e.log.Warn("publishing mastery event failed", "user_id", at.UserID, "error", err)
		}
	}
	if _, _, err := e.recommend.OnAttempt(ctx, out); err != nil {
		e.log.Warn("updating recommendation after attempt failed", "user_id", at.UserID, "kp", at.KnowledgePointID, "error", err)
	}
	return out, nil
}

// GenerateRecommendations refreshes and returns the ranked open
// recommendations of a user for a subject and grade.
func (e *Engine) GenerateRecommendations(ctx context.Context, userID, subject string, grade int) (rs []recommend.Recommendation, err error) {
	ctx, span := e.startSpan(ctx, "generate_recommendations",
		attribute.String("subject", subject),
		attribute.Int("grade", grade),
	)
	defer finishSpan(span, &err)

	rs, err = e.recommend.Generate(ctx, userID, subject, grade)
	span.SetAttributes(attribute.Int("count", len(rs)))
	return rs, err
}

// BuildOrAdvancePath advances the active path for (user, subject, grade) or
// builds one when none is active.
func (e *Engine) BuildOrAdvancePath(ctx context.Context, userID, subject string, grade int) (p learnpath.Path, built bool, err error) {
	ctx, span := e.startSpan(ctx, "build_or_advance_path",
		attribute.String("subject", subject),
		attribute.Int("grade", grade),
	)
	defer finishSpan(span, &err)

	p, built, err = e.paths.BuildOrAdvance(ctx, userID, subject, grade)
	span.SetAttributes(
		attribute.Bool("built", built),
		attribute.Int("step", p.CurrentStep),
		attribute.Int("total", p.TotalSteps),
	)
	return p, built, err
}

// StartSession opens a practice session, superseding any open one for the
// same user and subject.
func (e *Engine) StartSession(ctx context.Context, req practice.StartRequest) (s practice.Session, err error) {
	ctx, span := e.startSpan(ctx, "start_session",
		attribute.String("subject", req.Subject),
		attribute.String("kp", req.KnowledgePointID),
	)
	defer finishSpan(span, &err)

	s, err = e.sessions.Start(ctx, req)
	span.SetAttributes(attribute.Int("difficulty", s.Difficulty))
	return s, err
}

// NextQuestion serves the next question of a session.
func (e *Engine) NextQuestion(ctx context.Context, sessionID string) (q content.Question, err error) {
	ctx, span := e.startSpan(ctx, "next_question", attribute.String("session_id", sessionID))
	defer finishSpan(span, &err)

	q, err = e.sessions.NextQuestion(ctx, sessionID)
	span.SetAttributes(attribute.Int("difficulty", q.Difficulty))
	return q, err
}

// SubmitAnswer evaluates an answer to the outstanding question.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (fb practice.Feedback, err error) {
	ctx, span := e.startSpan(ctx, "submit_answer", attribute.String("session_id", sessionID))
	defer finishSpan(span, &err)

	fb, err = e.sessions.SubmitAnswer(ctx, sessionID, answer)
	span.SetAttributes(
		attribute.Bool("correct", fb.Correct),
		attribute.Int("difficulty", fb.Difficulty),
	)
	return fb, err
}

// EndSession closes a session and returns its summary.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (sum practice.Summary, err error) {
	ctx, span := e.startSpan(ctx, "end_session", attribute.String("session_id", sessionID))
	defer finishSpan(span, &err)

	return e.sessions.End(ctx, sessionID)
}

// attemptRecorder routes session answers through RecordAttempt so they get
// the same events and recommendation updates as direct attempts.
type attemptRecorder struct {
	e *Engine
}

func (r attemptRecorder) RecordAttempt(ctx context.Context, a behavior.Attempt) (behavior.Outcome, error) {
	return r.e.RecordAttempt(ctx, a)
}

func (r attemptRecorder) Snapshot(ctx context.Context, userID string) (behavior.Snapshot, error) {
	return r.e.behavior.Snapshot(ctx, userID)
}
