package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
)

const (
	tableRecords  = "behavior_records"
	tableAttempts = "behavior_attempts"
)

var recordColumns = []string{
	"user_id", "knowledge_point_id",
	"total_attempts", "correct_count", "wrong_count", "accuracy_rate",
	"avg_answer_time", "fastest_answer_time", "slowest_answer_time",
	"consecutive_correct", "consecutive_wrong", "mastery_level", "run_start_mastery",
	"first_practice_at", "last_practice_at", "practice_days", "version",
}

// BehaviorRepo implements behavior.Store. Writes combine a row lock
// (Postgres) with a version check so lost updates surface as ErrConflict
// on either dialect.
type BehaviorRepo struct {
	s *Store
}

// Behavior returns the behavior record repository.
func (s *Store) Behavior() *BehaviorRepo {
	return &BehaviorRepo{s: s}
}

func (r *BehaviorRepo) ApplyAttempt(ctx context.Context, a behavior.Attempt, apply func(prev behavior.Record) behavior.Record) (behavior.Outcome, error) {
	var out behavior.Outcome
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		b := r.s.builder()

		seen := b.Select("attempt_id").From(b.Table(tableAttempts)).Where(entsql.EQ("attempt_id", a.ID))
		query, args := seen.Query()
		var id string
		switch err := tx.QueryRowContext(ctx, query, args...).Scan(&id); {
		case err == nil:
			cur, _, err := r.get(ctx, tx, a.UserID, a.KnowledgePointID, false)
			if err != nil {
				return err
			}
			out = behavior.Outcome{Record: cur, Previous: cur, Duplicate: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return wrap(fmt.Errorf("check attempt %s: %w", a.ID, err))
		}

		prev, found, err := r.get(ctx, tx, a.UserID, a.KnowledgePointID, true)
		if err != nil {
			return err
		}
		next := apply(prev)
		next.UserID, next.KnowledgePointID = a.UserID, a.KnowledgePointID
		next.Version = prev.Version + 1

		if found {
			upd := b.Update(tableRecords)
			for i, v := range recordValues(next) {
				if i < 2 {
					continue
				}
				upd.Set(recordColumns[i], v)
			}
			upd.Where(entsql.And(
				entsql.EQ("user_id", a.UserID),
				entsql.EQ("knowledge_point_id", a.KnowledgePointID),
				entsql.EQ("version", prev.Version),
			))
			res, err := exec(ctx, tx, upd)
			if err != nil {
				return wrap(fmt.Errorf("update behavior record: %w", err))
			}
			if err := affected(res); err != nil {
				return err
			}
		} else {
			ins := b.Insert(tableRecords).Columns(recordColumns...).Values(recordValues(next)...)
			if _, err := exec(ctx, tx, ins); err != nil {
				return wrap(fmt.Errorf("insert behavior record: %w", err))
			}
		}

		ins := b.Insert(tableAttempts).
			Columns("attempt_id", "user_id", "knowledge_point_id", "correct", "answer_time", "session_id", "attempted_at").
			Values(a.ID, a.UserID, a.KnowledgePointID, a.Correct, a.AnswerTime, a.SessionID, a.At.UTC())
		if _, err := exec(ctx, tx, ins); err != nil {
			return wrap(fmt.Errorf("insert attempt: %w", err))
		}

		out = behavior.Outcome{Record: next, Previous: prev}
		return nil
	})
	if err != nil {
		return behavior.Outcome{}, err
	}
	return out, nil
}

func (r *BehaviorRepo) GetRecord(ctx context.Context, userID, knowledgePointID string) (behavior.Record, error) {
	rec, found, err := r.get(ctx, r.s.db, userID, knowledgePointID, false)
	if err != nil {
		return behavior.Record{}, err
	}
	if !found {
		return behavior.Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *BehaviorRepo) ListRecords(ctx context.Context, userID string) ([]behavior.Record, error) {
	b := r.s.builder()
	sel := b.Select(recordColumns...).From(b.Table(tableRecords)).Where(entsql.EQ("user_id", userID))
	sel.OrderBy(entsql.Asc(sel.C("knowledge_point_id")))
	query, args := sel.Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list behavior records: %w", err)
	}
	defer rows.Close()

	var out []behavior.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountAttempts returns how many attempts a user has applied.
func (r *BehaviorRepo) CountAttempts(ctx context.Context, userID string) (int, error) {
	b := r.s.builder()
	sel := b.Select(entsql.Count("*")).From(b.Table(tableAttempts)).Where(entsql.EQ("user_id", userID))
	query, args := sel.Query()
	var n int
	if err := r.s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// get loads one record; lock takes a row lock on Postgres.
func (r *BehaviorRepo) get(ctx context.Context, q querier, userID, kpID string, lock bool) (behavior.Record, bool, error) {
	b := r.s.builder()
	sel := b.Select(recordColumns...).From(b.Table(tableRecords)).Where(entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("knowledge_point_id", kpID),
	))
	if lock && r.s.dialect == dialect.Postgres {
		sel.ForUpdate()
	}
	query, args := sel.Query()
	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return behavior.Record{UserID: userID, KnowledgePointID: kpID}, false, nil
	}
	if err != nil {
		return behavior.Record{}, false, wrap(fmt.Errorf("load behavior record: %w", err))
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (behavior.Record, error) {
	var rec behavior.Record
	err := row.Scan(
		&rec.UserID, &rec.KnowledgePointID,
		&rec.TotalAttempts, &rec.CorrectCount, &rec.WrongCount, &rec.AccuracyRate,
		&rec.AvgAnswerTime, &rec.FastestAnswerTime, &rec.SlowestAnswerTime,
		&rec.ConsecutiveCorrect, &rec.ConsecutiveWrong, &rec.MasteryLevel, &rec.RunStartMastery,
		&rec.FirstPracticeAt, &rec.LastPracticeAt, &rec.PracticeDays, &rec.Version,
	)
	return rec, err
}

func recordValues(rec behavior.Record) []any {
	return []any{
		rec.UserID, rec.KnowledgePointID,
		rec.TotalAttempts, rec.CorrectCount, rec.WrongCount, rec.AccuracyRate,
		rec.AvgAnswerTime, rec.FastestAnswerTime, rec.SlowestAnswerTime,
		rec.ConsecutiveCorrect, rec.ConsecutiveWrong, rec.MasteryLevel, rec.RunStartMastery,
		rec.FirstPracticeAt.UTC(), rec.LastPracticeAt.UTC(), rec.PracticeDays, rec.Version,
	}
}
