package practice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

// Recorder feeds answers into behavior records.
type Recorder interface {
	RecordAttempt(ctx context.Context, a behavior.Attempt) (behavior.Outcome, error)
	Snapshot(ctx context.Context, userID string) (behavior.Snapshot, error)
}

// History persists finished sessions.
type History interface {
	SaveSession(ctx context.Context, s Session) error

	// FinishedSession returns domain.ErrNotFound for unknown ids.
	FinishedSession(ctx context.Context, id string) (Session, error)

	// RecentSummaries returns up to limit sessions of (user, subject) that
	// ended completed or superseded with at least one answer, newest first.
	RecentSummaries(ctx context.Context, userID, subject string, limit int) ([]Summary, error)
}

// Deps bundles the optional collaborators of a Controller.
type Deps struct {
	Clock   domain.Clock
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Controller drives practice sessions through ready, awaiting_answer and
// finished.
type Controller struct {
	graph     *knowledge.Graph
	questions content.Provider
	evaluator content.Evaluator
	recorder  Recorder
	live      LiveStore
	history   History
	cfg       Config

	clock   domain.Clock
	events  events.Publisher
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewController wires a controller.
func NewController(graph *knowledge.Graph, questions content.Provider, evaluator content.Evaluator, recorder Recorder, live LiveStore, history History, cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	return &Controller{
		graph:     graph,
		questions: questions,
		evaluator: evaluator,
		recorder:  recorder,
		live:      live,
		history:   history,
		cfg:       cfg,
		clock:     deps.Clock,
		events:    events.OrNop(deps.Events),
		log:       logger.OrNop(deps.Logger).With("component", "practice"),
		metrics:   metrics.OrNop(deps.Metrics),
	}, nil
}

// StartRequest opens a session. KnowledgePointID is optional; without it the
// first ready point of the subject that is not yet mastered is used. Grade 0
// means every grade of the subject.
type StartRequest struct {
	UserID           string
	Subject          string
	Grade            int
	KnowledgePointID string
}

// Start opens a session seeded from the user's recent history. An open
// session of the same (user, subject) is ended as superseded.
func (c *Controller) Start(ctx context.Context, req StartRequest) (Session, error) {
	if req.UserID == "" || req.Subject == "" {
		return Session{}, fmt.Errorf("%w: session needs a user and a subject", domain.ErrInvalidInput)
	}
	snap, err := c.recorder.Snapshot(ctx, req.UserID)
	if err != nil {
		return Session{}, err
	}
	kpID, err := c.focus(req, snap.Lookup())
	if err != nil {
		return Session{}, err
	}
	history, err := c.history.RecentSummaries(ctx, req.UserID, req.Subject, c.cfg.SeedHistory)
	if err != nil {
		return Session{}, fmt.Errorf("loading session history: %w", err)
	}

	d := c.cfg.Seed(history)
	s := Session{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Subject:          req.Subject,
		KnowledgePointID: kpID,
		State:            StateReady,
		Difficulty:       d,
		StartDifficulty:  d,
		StartedAt:        c.clock.Now(),
	}
	prev, err := c.live.Open(ctx, s)
	if err != nil {
		return Session{}, fmt.Errorf("opening session: %w", err)
	}
	if prev != nil {
		if _, err := c.finish(ctx, *prev, ReasonSuperseded); err != nil {
			c.log.Warn("finishing superseded session failed", "session_id", prev.ID, "error", err)
		}
	}

	c.metrics.SessionsStarted.Inc()
	c.log.Info("session started",
		"session_id", s.ID,
		"user_id", s.UserID,
		"subject", s.Subject,
		"kp", kpID,
		"difficulty", d,
		"history", len(history),
	)
	return s, nil
}

// NextQuestion serves a question at the current difficulty. A failed fetch
// finishes the session and returns a *FinishedError.
func (c *Controller) NextQuestion(ctx context.Context, sessionID string) (content.Question, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return content.Question{}, err
	}
	if s.State != StateReady {
		return content.Question{}, fmt.Errorf("%w: next question needs %s, session %s is %s", ErrInvalidState, StateReady, s.ID, s.State)
	}

	qs, err := withTimeout(ctx, c.cfg.Timeout, func(ctx context.Context) ([]content.Question, error) {
		qs, err := c.questions.FetchQuestions(ctx, s.KnowledgePointID, s.Difficulty)
		if err == nil && len(qs) == 0 {
			err = fmt.Errorf("%s: %w", s.KnowledgePointID, content.ErrNoQuestionsAvailable)
		}
		return qs, err
	}, c.observer("fetch"))
	if err != nil {
		if ctx.Err() != nil {
			return content.Question{}, ctx.Err()
		}
		if errors.Is(err, content.ErrNoQuestionsAvailable) {
			return content.Question{}, c.abort(ctx, s, ReasonNoQuestions, err)
		}
		return content.Question{}, c.abort(ctx, s, ReasonEvaluationUnavailable, fmt.Errorf("%w: fetching question: %w", ErrEvaluationUnavailable, err))
	}

	q := qs[0]
	for _, cand := range qs {
		if !slices.Contains(s.QuestionsAsked, cand.ID) {
			q = cand
			break
		}
	}

	s.QuestionsAsked = append(s.QuestionsAsked, q.ID)
	s.Current = &q
	s.AskedAt = c.clock.Now()
	s.State = StateAwaitingAnswer
	if err := c.save(ctx, &s); err != nil {
		return content.Question{}, err
	}
	return q, nil
}

// SubmitAnswer evaluates the answer to the pending question, records it as an
// attempt and adapts difficulty. A failed evaluation finishes the session and
// returns a *FinishedError.
//
// The pending question is claimed before evaluation: of two concurrent
// submissions only one gets past the claim, the other fails with
// ErrInvalidState and records nothing.
func (c *Controller) SubmitAnswer(ctx context.Context, sessionID, answer string) (Feedback, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return Feedback{}, err
	}
	if s.State != StateAwaitingAnswer || s.Current == nil {
		return Feedback{}, fmt.Errorf("%w: submit needs %s, session %s is %s", ErrInvalidState, StateAwaitingAnswer, s.ID, s.State)
	}
	q := *s.Current

	s.State = StateEvaluating
	if err := c.save(ctx, &s); err != nil {
		return Feedback{}, err
	}

	ev, err := withTimeout(ctx, c.cfg.Timeout, func(ctx context.Context) (content.Evaluation, error) {
		return c.evaluator.Evaluate(ctx, q, answer)
	}, c.observer("evaluate"))
	if err != nil {
		if ctx.Err() != nil {
			return Feedback{}, c.release(ctx, &s, ctx.Err())
		}
		return Feedback{}, c.abort(ctx, s, ReasonEvaluationUnavailable, fmt.Errorf("%w: %w", ErrEvaluationUnavailable, err))
	}

	now := c.clock.Now()
	answerTime := max(0, now.Sub(s.AskedAt).Seconds())
	out, err := c.recorder.RecordAttempt(ctx, behavior.Attempt{
		ID:               s.ID + "-" + strconv.Itoa(len(s.Answers)+1),
		UserID:           s.UserID,
		KnowledgePointID: s.KnowledgePointID,
		Correct:          ev.Correct,
		AnswerTime:       answerTime,
		At:               now,
		SessionID:        s.ID,
	})
	if err != nil {
		return Feedback{}, c.release(ctx, &s, fmt.Errorf("recording answer: %w", err))
	}

	prev := s.Difficulty
	s.Answers = append(s.Answers, Answer{
		QuestionID:  q.ID,
		Answer:      answer,
		Correct:     ev.Correct,
		Explanation: ev.Explanation,
		Difficulty:  prev,
		AnswerTime:  answerTime,
		AnsweredAt:  now,
	})
	s.TotalCount++
	if ev.Correct {
		s.CorrectCount++
	}
	s.Difficulty = c.cfg.Next(prev, s.Answers, s.CorrectCount, s.TotalCount)
	s.Current = nil
	s.State = StateReady
	if err := c.save(ctx, &s); err != nil {
		return Feedback{}, err
	}

	if s.Difficulty != prev {
		c.log.Debug("difficulty adjusted", "session_id", s.ID, "from", prev, "to", s.Difficulty)
	}
	return Feedback{
		Correct:            ev.Correct,
		Explanation:        ev.Explanation,
		PreviousDifficulty: prev,
		Difficulty:         s.Difficulty,
		CorrectCount:       s.CorrectCount,
		TotalCount:         s.TotalCount,
		Mastery:            out.Record.MasteryLevel,
	}, nil
}

// End finishes the session and returns its summary.
func (c *Controller) End(ctx context.Context, sessionID string) (Summary, error) {
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	return c.finish(ctx, s, ReasonCompleted)
}

// Get returns an open or finished session.
func (c *Controller) Get(ctx context.Context, sessionID string) (Session, error) {
	s, err := c.live.Get(ctx, sessionID)
	if !errors.Is(err, ErrSessionNotFound) {
		return s, err
	}
	s, err = c.history.FinishedSession(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return s, err
}

// Current returns the open session of (user, subject).
func (c *Controller) Current(ctx context.Context, userID, subject string) (Session, error) {
	return c.live.Current(ctx, userID, subject)
}

// load returns an open session, ErrSessionClosed for finished ones and
// ErrSessionNotFound otherwise.
func (c *Controller) load(ctx context.Context, id string) (Session, error) {
	s, err := c.live.Get(ctx, id)
	switch {
	case err == nil:
		if !s.Open() {
			return Session{}, fmt.Errorf("session %s: %w", id, ErrSessionClosed)
		}
		return s, nil
	case !errors.Is(err, ErrSessionNotFound):
		return Session{}, err
	}

	_, err = c.history.FinishedSession(ctx, id)
	switch {
	case err == nil:
		return Session{}, fmt.Errorf("session %s: %w", id, ErrSessionClosed)
	case errors.Is(err, domain.ErrNotFound):
		return Session{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	default:
		return Session{}, err
	}
}

func (c *Controller) save(ctx context.Context, s *Session) error {
	err := c.live.Update(ctx, s)
	switch {
	case errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("%w: session %s changed concurrently", ErrInvalidState, s.ID)
	case errors.Is(err, ErrSessionNotFound):
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionClosed)
	}
	return err
}

// release hands a claimed question back so the answer can be submitted
// again, and returns cause.
func (c *Controller) release(ctx context.Context, s *Session, cause error) error {
	s.State = StateAwaitingAnswer
	if err := c.save(context.WithoutCancel(ctx), s); err != nil {
		c.log.Warn("releasing claimed question failed", "session_id", s.ID, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (c *Controller) abort(ctx context.Context, s Session, reason EndReason, cause error) error {
	c.log.Warn("collaborator failed, finishing session", "session_id", s.ID, "reason", string(reason), "error", cause)
	sum, err := c.finish(ctx, s, reason)
	if err != nil {
		return errors.Join(cause, err)
	}
	return &FinishedError{Summary: sum, Err: cause}
}

// finish marks s finished, moves it to history and emits the summary. A
// superseded session has already left the live store.
func (c *Controller) finish(ctx context.Context, s Session, reason EndReason) (Summary, error) {
	now := c.clock.Now()
	s.State = StateFinished
	s.EndedAt = &now
	s.EndReason = reason
	s.Current = nil
	if reason != ReasonSuperseded {
		if err := c.save(ctx, &s); err != nil {
			return Summary{}, err
		}
	}
	if err := c.history.SaveSession(ctx, s); err != nil {
		c.log.Error("saving session history failed", "session_id", s.ID, "error", err)
		return Summary{}, fmt.Errorf("saving session history: %w", err)
	}
	if err := c.live.Close(ctx, s); err != nil {
		c.log.Warn("closing live session failed", "session_id", s.ID, "error", err)
	}

	sum := Summarize(s)
	c.metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	c.metrics.SessionDifficulty.Observe(float64(sum.Difficulty))
	if err := c.events.Publish(ctx, events.New(events.SessionEnded, s.UserID, now, map[string]any{
		"session_id":         s.ID,
		"subject":            s.Subject,
		"knowledge_point_id": s.KnowledgePointID,
		"difficulty":         sum.Difficulty,
		"correct_rate":       sum.CorrectRate,
		"total":              sum.TotalCount,
		"reason":             string(reason),
	})); err != nil {
		c.log.Warn("publishing session end failed", "session_id", s.ID, "error", err)
	}
	c.log.Info("session ended",
		"session_id", s.ID,
		"reason", string(reason),
		"difficulty", sum.Difficulty,
		"correct_rate", sum.CorrectRate,
		"answers", sum.TotalCount,
	)
	return sum, nil
}

// focus picks the knowledge point a session practices.
func (c *Controller) focus(req StartRequest, mastery knowledge.MasteryLookup) (string, error) {
	if req.KnowledgePointID != "" {
		kp, err := c.graph.Get(req.KnowledgePointID)
		if err != nil {
			return "", err
		}
		if kp.Subject != req.Subject {
			return "", fmt.Errorf("%w: %s belongs to %s, not %s", domain.ErrInvalidInput, kp.ID, kp.Subject, req.Subject)
		}
		return kp.ID, nil
	}

	var candidates []knowledge.KnowledgePoint
	for _, g := range c.grades(req.Subject, req.Grade) {
		candidates = append(candidates, c.graph.TopologicalOrder(req.Subject, g)...)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no knowledge points for %s grade %d", domain.ErrInvalidInput, req.Subject, req.Grade)
	}
	for _, p := range candidates {
		if mastery(p.ID) >= c.graph.ReadyLevel() {
			continue
		}
		if ok, _ := c.graph.IsReady(p.ID, mastery); ok {
			return p.ID, nil
		}
	}
	for _, p := range candidates {
		if mastery(p.ID) < knowledge.MaxMastery {
			return p.ID, nil
		}
	}
	return candidates[0].ID, nil
}

func (c *Controller) grades(subject string, grade int) []int {
	if grade > 0 {
		return []int{grade}
	}
	var out []int
	for _, p := range c.graph.Points() {
		if p.Subject == subject && !slices.Contains(out, p.Grade) {
			out = append(out, p.Grade)
		}
	}
	slices.Sort(out)
	return out
}

func (c *Controller) observer(op string) func(time.Duration, error) {
	return func(d time.Duration, err error) {
		outcome := "ok"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		c.metrics.CollaboratorLatency.WithLabelValues(op, outcome).Observe(d.Seconds())
	}
}

// withTimeout runs fn under a deadline and returns when it elapses even if fn
// ignores its context.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), observe func(time.Duration, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		observe(time.Since(start), r.err)
		return r.v, r.err
	case <-ctx.Done():
		observe(time.Since(start), ctx.Err())
		var zero T
		return zero, ctx.Err()
	}
}
