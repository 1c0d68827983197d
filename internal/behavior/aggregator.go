package behavior

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
)

// Store persists behavior records.
type Store interface {
	// ApplyAttempt atomically loads the record for the attempt's (user,
	// point), passes it to apply (the zero Record when absent), and writes
	// the result together with the attempt id. If the attempt id was already
	// applied it returns the current record with Duplicate set. A lost race
	// is reported as domain.ErrConflict and leaves the stored record untouched.
	ApplyAttempt(ctx context.Context, a Attempt, apply func(prev Record) Record) (Outcome, error)

	GetRecord(ctx context.Context, userID, knowledgePointID string) (Record, error)
	ListRecords(ctx context.Context, userID string) ([]Record, error)
}

// Config tunes the aggregator.
type Config struct {
	Policy Policy

	// MaxConflictRetries bounds how often a conflicting write is retried.
	MaxConflictRetries int
	RetryDelay         time.Duration
}

// DefaultConfig returns the default policy and retry bound.
func DefaultConfig() Config {
	return Config{
		Policy:             DefaultPolicy(),
		MaxConflictRetries: 4,
		RetryDelay:         10 * time.Millisecond,
	}
}

// Aggregator is the only write path into behavior records.
type Aggregator struct {
	store   Store
	graph   *knowledge.Graph
	policy  Policy
	retrier retry.Retry[Outcome]
	clock   domain.Clock
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewAggregator wires an aggregator. log, m and clock may be nil.
func NewAggregator(store Store, graph *knowledge.Graph, cfg Config, clock domain.Clock, log *logger.Logger, m *metrics.Metrics) (*Aggregator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConflictRetries < 1 {
		cfg.MaxConflictRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	if clock == nil {
		clock = domain.SystemClock
	}
	return &Aggregator{
		store:  store,
		graph:  graph,
		policy: cfg.Policy,
		retrier: retry.New[Outcome](retry.Config{
			MaxAttempts:   cfg.MaxConflictRetries,
			InitialDelay:  cfg.RetryDelay,
			MaxDelay:      20 * cfg.RetryDelay,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return errors.Is(err, domain.ErrConflict)
			},
		}),
		clock:   clock,
		log:     logger.OrNop(log).With("component", "behavior"),
		metrics: metrics.OrNop(m),
	}, nil
}

// Policy returns the mastery policy in use.
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// RecordAttempt applies one attempt atomically. Conflicting concurrent
// writes are retried with the same attempt id, so a retry never double-counts.
// On any error the stored record is unchanged.
func (a *Aggregator) RecordAttempt(ctx context.Context, at Attempt) (Outcome, error) {
	if err := at.Validate(); err != nil {
		return Outcome{}, err
	}
	if !a.graph.Has(at.KnowledgePointID) {
		return Outcome{}, &knowledge.UnknownPointError{ID: at.KnowledgePointID}
	}
	if at.ID == "" {
		at.ID = uuid.NewString()
	}
	if at.At.IsZero() {
		at.At = a.clock.Now()
	}

	var lastErr error
	out, err := a.retrier.Do(ctx, func(ctx context.Context) (Outcome, error) {
		o, err := a.store.ApplyAttempt(ctx, at, func(prev Record) Record {
			return a.policy.Apply(prev, at)
		})
		if errors.Is(err, domain.ErrConflict) {
			a.metrics.AttemptConflicts.Inc()
			a.log.Debug("attempt write conflict, retrying", "user_id", at.UserID, "kp", at.KnowledgePointID, "attempt", at.ID)
		}
		lastErr = err
		return o, err
	})
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		a.log.Warn("recording attempt failed", "user_id", at.UserID, "kp", at.KnowledgePointID, "error", err)
		return Outcome{}, fmt.Errorf("recording attempt %s: %w", at.ID, err)
	}

	if out.Duplicate {
		a.metrics.AttemptDuplicates.Inc()
		a.log.Debug("duplicate attempt ignored", "user_id", at.UserID, "attempt", at.ID)
		return out, nil
	}

	a.metrics.AttemptsRecorded.WithLabelValues(strconv.FormatBool(at.Correct)).Inc()
	if out.MasteryChanged() {
		a.metrics.MasteryChanges.WithLabelValues(metrics.Direction(out.Previous.MasteryLevel, out.Record.MasteryLevel)).Inc()
		a.log.Info("mastery changed",
			"user_id", at.UserID,
			"kp", at.KnowledgePointID,
			"from", out.Previous.MasteryLevel,
			"to", out.Record.MasteryLevel,
			"accuracy", out.Record.AccuracyRate,
		)
	}
	return out, nil
}

// Record returns the record for (user, point). The zero Record with the ids
// filled in is returned when the pair has never been attempted.
func (a *Aggregator) Record(ctx context.Context, userID, knowledgePointID string) (Record, error) {
	if !a.graph.Has(knowledgePointID) {
		return Record{}, &knowledge.UnknownPointError{ID: knowledgePointID}
	}
	rec, err := a.store.GetRecord(ctx, userID, knowledgePointID)
	if errors.Is(err, domain.ErrNotFound) {
		return Record{UserID: userID, KnowledgePointID: knowledgePointID}, nil
	}
	return rec, err
}

// Snapshot loads every record of a user.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	recs, err := a.store.ListRecords(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading behavior records: %w", err)
	}
	return NewSnapshot(userID, recs), nil
}
