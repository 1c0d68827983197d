package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wsaxqd/home-work2-sub001/internal/practice"
)

const tableSessions = "practice_sessions"

var sessionColumns = []string{
	"id", "user_id", "subject", "knowledge_point_id",
	"start_difficulty", "difficulty", "correct_count", "total_count",
	"end_reason", "questions", "answers", "started_at", "ended_at",
}

// SessionRepo implements practice.History.
type SessionRepo struct {
	s *Store
}

// Sessions returns the finished-session repository.
func (s *Store) Sessions() *SessionRepo {
	return &SessionRepo{s: s}
}

func (r *SessionRepo) SaveSession(ctx context.Context, sess practice.Session) error {
	if sess.EndedAt == nil {
		return fmt.Errorf("session %s has not ended", sess.ID)
	}
	questions, err := json.Marshal(sess.QuestionsAsked)
	if err != nil {
		return err
	}
	answers, err := json.Marshal(sess.Answers)
	if err != nil {
		return err
	}
	ins := r.s.builder().Insert(tableSessions).Columns(sessionColumns...).Values(
		sess.ID, sess.UserID, sess.Subject, sess.KnowledgePointID,
		sess.StartDifficulty, sess.Difficulty, sess.CorrectCount, sess.TotalCount,
		string(sess.EndReason), string(questions), string(answers),
		sess.StartedAt.UTC(), sess.EndedAt.UTC(),
	)
	if _, err := exec(ctx, r.s.db, ins); err != nil {
		return wrap(fmt.Errorf("insert practice session: %w", err))
	}
	return nil
}

func (r *SessionRepo) FinishedSession(ctx context.Context, id string) (practice.Session, error) {
	ss, err := r.query(ctx, entsql.EQ("id", id), 0)
	if err != nil {
		return practice.Session{}, err
	}
	if len(ss) == 0 {
		return practice.Session{}, ErrNotFound
	}
	return ss[0], nil
}

func (r *SessionRepo) RecentSummaries(ctx context.Context, userID, subject string, limit int) ([]practice.Summary, error) {
	ss, err := r.query(ctx, entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("subject", subject),
		entsql.In("end_reason", string(practice.ReasonCompleted), string(practice.ReasonSuperseded)),
		entsql.GT("total_count", 0),
	), limit)
	if err != nil {
		return nil, err
	}
	out := make([]practice.Summary, len(ss))
	for i, s := range ss {
		out[i] = practice.Summarize(s)
	}
	return out, nil
}

// ListSessions returns a user's finished sessions, newest first.
func (r *SessionRepo) ListSessions(ctx context.Context, userID string) ([]practice.Session, error) {
	return r.query(ctx, entsql.EQ("user_id", userID), 0)
}

func (r *SessionRepo) query(ctx context.Context, p *entsql.Predicate, limit int) ([]practice.Session, error) {
	b := r.s.builder()
	sel := b.Select(sessionColumns...).From(b.Table(tableSessions)).Where(p)
	sel.OrderBy(entsql.Desc(sel.C("ended_at")), entsql.Desc(sel.C("id")))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query practice sessions: %w", err)
	}
	defer rows.Close()

	var out []practice.Session
	for rows.Next() {
		var (
			s                  practice.Session
			reason             string
			questions, answers string
			ended              sql.NullTime
		)
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Subject, &s.KnowledgePointID,
			&s.StartDifficulty, &s.Difficulty, &s.CorrectCount, &s.TotalCount,
			&reason, &questions, &answers, &s.StartedAt, &ended,
		); err != nil {
			return nil, fmt.Errorf("scan practice session: %w", err)
		}
		if err := json.Unmarshal([]byte(questions), &s.QuestionsAsked); err != nil {
			return nil, fmt.Errorf("decode questions of session %s: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(answers), &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers of session %s: %w", s.ID, err)
		}
		s.State = practice.StateFinished
		s.EndReason = practice.EndReason(reason)
		s.EndedAt = timePtr(ended)
		out = append(out, s)
	}
	return out, rows.Err()
}
