package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/wsaxqd/home-work2-sub001/internal/recommend"
)

const tableRecommendations = "recommendations"

var recommendationColumns = []string{
	"id", "user_id", "knowledge_point_id", "subject", "grade",
	"type", "reason", "priority", "status", "progress",
	"effectiveness_score", "baseline_mastery", "difficulty",
	"created_at", "updated_at", "valid_until", "started_at", "completed_at",
}

// RecommendationRepo implements recommend.Store. A partial unique index
// keeps at most one open row per (user, knowledge point); losing that race
// surfaces as ErrConflict.
type RecommendationRepo struct {
	s *Store
}

// Recommendations returns the recommendation repository.
func (s *Store) Recommendations() *RecommendationRepo {
	return &RecommendationRepo{s: s}
}

func openStatuses() *entsql.Predicate {
	return entsql.In("status", string(recommend.StatusPending), string(recommend.StatusInProgress))
}

func (r *RecommendationRepo) OpenRecommendations(ctx context.Context, userID, subject string, grade int) ([]recommend.Recommendation, error) {
	return r.query(ctx, entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("subject", subject),
		entsql.EQ("grade", grade),
		openStatuses(),
	))
}

func (r *RecommendationRepo) OpenRecommendation(ctx context.Context, userID, knowledgePointID string) (recommend.Recommendation, error) {
	rs, err := r.query(ctx, entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("knowledge_point_id", knowledgePointID),
		openStatuses(),
	))
	if err != nil {
		return recommend.Recommendation{}, err
	}
	if len(rs) == 0 {
		return recommend.Recommendation{}, ErrNotFound
	}
	return rs[0], nil
}

func (r *RecommendationRepo) ListRecommendations(ctx context.Context, userID string, statuses ...recommend.Status) ([]recommend.Recommendation, error) {
	p := entsql.EQ("user_id", userID)
	if len(statuses) > 0 {
		args := make([]any, len(statuses))
		for i, st := range statuses {
			args[i] = string(st)
		}
		p = entsql.And(p, entsql.In("status", args...))
	}
	return r.query(ctx, p)
}

func (r *RecommendationRepo) SaveRun(ctx context.Context, closed, upserts []recommend.Recommendation) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range closed {
			if err := r.update(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, u := range upserts {
			if u.ID != "" {
				if err := r.update(ctx, tx, u); err != nil {
					return err
				}
				continue
			}
			u.ID = uuid.NewString()
			ins := r.s.builder().Insert(tableRecommendations).Columns(recommendationColumns...).Values(recommendationValues(u)...)
			if _, err := exec(ctx, tx, ins); err != nil {
				return wrap(fmt.Errorf("insert recommendation for %s: %w", u.KnowledgePointID, err))
			}
		}
		return nil
	})
}

func (r *RecommendationRepo) UpdateRecommendation(ctx context.Context, rec recommend.Recommendation) error {
	return r.update(ctx, r.s.db, rec)
}

// update rewrites the mutable columns of an open row. Resolved rows are
// terminal, so touching one reports ErrConflict.
func (r *RecommendationRepo) update(ctx context.Context, q querier, rec recommend.Recommendation) error {
	upd := r.s.builder().Update(tableRecommendations).
		Set("type", string(rec.Type)).
		Set("reason", rec.Reason).
		Set("priority", rec.Priority).
		Set("status", string(rec.Status)).
		Set("progress", rec.Progress).
		Set("effectiveness_score", nullFloat(rec.EffectivenessScore)).
		Set("difficulty", rec.Difficulty).
		Set("updated_at", rec.UpdatedAt.UTC()).
		Set("valid_until", rec.ValidUntil.UTC()).
		Set("started_at", nullTime(rec.StartedAt)).
		Set("completed_at", nullTime(rec.CompletedAt)).
		Where(entsql.And(entsql.EQ("id", rec.ID), openStatuses()))
	res, err := exec(ctx, q, upd)
	if err != nil {
		return wrap(fmt.Errorf("update recommendation %s: %w", rec.ID, err))
	}
	return affected(res)
}

func (r *RecommendationRepo) query(ctx context.Context, p *entsql.Predicate) ([]recommend.Recommendation, error) {
	b := r.s.builder()
	sel := b.Select(recommendationColumns...).From(b.Table(tableRecommendations)).Where(p)
	sel.OrderBy(entsql.Asc(sel.C("created_at")), entsql.Asc(sel.C("knowledge_point_id")))
	query, args := sel.Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var out []recommend.Recommendation
	for rows.Next() {
		var (
			rec                recommend.Recommendation
			typ, status        string
			score              sql.NullFloat64
			started, completed sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.KnowledgePointID, &rec.Subject, &rec.Grade,
			&typ, &rec.Reason, &rec.Priority, &status, &rec.Progress,
			&score, &rec.BaselineMastery, &rec.Difficulty,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.ValidUntil, &started, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		rec.Type = recommend.Type(typ)
		rec.Status = recommend.Status(status)
		if score.Valid {
			rec.EffectivenessScore = &score.Float64
		}
		rec.StartedAt = timePtr(started)
		rec.CompletedAt = timePtr(completed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func recommendationValues(rec recommend.Recommendation) []any {
	return []any{
		rec.ID, rec.UserID, rec.KnowledgePointID, rec.Subject, rec.Grade,
		string(rec.Type), rec.Reason, rec.Priority, string(rec.Status), rec.Progress,
		nullFloat(rec.EffectivenessScore), rec.BaselineMastery, rec.Difficulty,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), rec.ValidUntil.UTC(), nullTime(rec.StartedAt), nullTime(rec.CompletedAt),
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
