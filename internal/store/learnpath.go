package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/wsaxqd/home-work2-sub001/internal/learnpath"
)

const tablePaths = "learning_paths"

var pathColumns = []string{
	"id", "user_id", "subject", "grade", "knowledge_points",
	"current_step", "total_steps", "progress", "status",
	"created_at", "updated_at", "completed_at",
}

// PathRepo implements learnpath.Store.
type PathRepo struct {
	s *Store
}

// Paths returns the learning path repository.
func (s *Store) Paths() *PathRepo {
	return &PathRepo{s: s}
}

func (r *PathRepo) CreatePath(ctx context.Context, p learnpath.Path) (learnpath.Path, error) {
	p.ID = uuid.NewString()
	values, err := pathValues(p)
	if err != nil {
		return learnpath.Path{}, err
	}
	err = r.s.inTx(ctx, func(tx *sql.Tx) error {
		if p.Status == learnpath.StatusActive {
			if err := r.pauseOthers(ctx, tx, p); err != nil {
				return err
			}
		}
		ins := r.s.builder().Insert(tablePaths).Columns(pathColumns...).Values(values...)
		if _, err := exec(ctx, tx, ins); err != nil {
			return wrap(fmt.Errorf("insert learning path: %w", err))
		}
		return nil
	})
	if err != nil {
		return learnpath.Path{}, err
	}
	return p, nil
}

func (r *PathRepo) UpdatePath(ctx context.Context, p learnpath.Path) error {
	kps, err := json.Marshal(p.KnowledgePoints)
	if err != nil {
		return fmt.Errorf("encode knowledge points: %w", err)
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		if p.Status == learnpath.StatusActive {
			if err := r.pauseOthers(ctx, tx, p); err != nil {
				return err
			}
		}
		upd := r.s.builder().Update(tablePaths).
			Set("knowledge_points", string(kps)).
			Set("current_step", p.CurrentStep).
			Set("total_steps", p.TotalSteps).
			Set("progress", p.Progress).
			Set("status", string(p.Status)).
			Set("updated_at", p.UpdatedAt.UTC()).
			Set("completed_at", nullTime(p.CompletedAt)).
			Where(entsql.EQ("id", p.ID))
		res, err := exec(ctx, tx, upd)
		if err != nil {
			return wrap(fmt.Errorf("update learning path %s: %w", p.ID, err))
		}
		if errors.Is(affected(res), ErrConflict) {
			return ErrNotFound
		}
		return nil
	})
}

// pauseOthers pauses every other active path of p's (user, subject, grade).
func (r *PathRepo) pauseOthers(ctx context.Context, tx *sql.Tx, p learnpath.Path) error {
	upd := r.s.builder().Update(tablePaths).
		Set("status", string(learnpath.StatusPaused)).
		Set("updated_at", p.UpdatedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("user_id", p.UserID),
			entsql.EQ("subject", p.Subject),
			entsql.EQ("grade", p.Grade),
			entsql.EQ("status", string(learnpath.StatusActive)),
			entsql.NEQ("id", p.ID),
		))
	if _, err := exec(ctx, tx, upd); err != nil {
		return wrap(fmt.Errorf("pause active paths: %w", err))
	}
	return nil
}

func (r *PathRepo) GetPath(ctx context.Context, id string) (learnpath.Path, error) {
	ps, err := r.query(ctx, entsql.EQ("id", id))
	if err != nil {
		return learnpath.Path{}, err
	}
	if len(ps) == 0 {
		return learnpath.Path{}, ErrNotFound
	}
	return ps[0], nil
}

func (r *PathRepo) ActivePath(ctx context.Context, userID, subject string, grade int) (learnpath.Path, error) {
	ps, err := r.query(ctx, entsql.And(
		entsql.EQ("user_id", userID),
		entsql.EQ("subject", subject),
		entsql.EQ("grade", grade),
		entsql.EQ("status", string(learnpath.StatusActive)),
	))
	if err != nil {
		return learnpath.Path{}, err
	}
	if len(ps) == 0 {
		return learnpath.Path{}, ErrNotFound
	}
	return ps[len(ps)-1], nil
}

func (r *PathRepo) ListPaths(ctx context.Context, userID string) ([]learnpath.Path, error) {
	return r.query(ctx, entsql.EQ("user_id", userID))
}

func (r *PathRepo) query(ctx context.Context, p *entsql.Predicate) ([]learnpath.Path, error) {
	b := r.s.builder()
	sel := b.Select(pathColumns...).From(b.Table(tablePaths)).Where(p)
	sel.OrderBy(entsql.Asc(sel.C("created_at")), entsql.Asc(sel.C("id")))
	query, args := sel.Query()
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query learning paths: %w", err)
	}
	defer rows.Close()

	var out []learnpath.Path
	for rows.Next() {
		var (
			p         learnpath.Path
			kps       string
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Subject, &p.Grade, &kps,
			&p.CurrentStep, &p.TotalSteps, &p.Progress, &status,
			&p.CreatedAt, &p.UpdatedAt, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan learning path: %w", err)
		}
		if err := json.Unmarshal([]byte(kps), &p.KnowledgePoints); err != nil {
			return nil, fmt.Errorf("decode knowledge points of path %s: %w", p.ID, err)
		}
		p.Status = learnpath.Status(status)
		p.CompletedAt = timePtr(completed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func pathValues(p learnpath.Path) ([]any, error) {
	kps, err := json.Marshal(p.KnowledgePoints)
	if err != nil {
		return nil, fmt.Errorf("encode knowledge points: %w", err)
	}
	return []any{
		p.ID, p.UserID, p.Subject, p.Grade, string(kps),
		p.CurrentStep, p.TotalSteps, p.Progress, string(p.Status),
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.CompletedAt),
	}, nil
}
