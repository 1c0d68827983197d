package recommend

import (
	"fmt"
	"time"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
)

const week = 7 * 24 * time.Hour

// candidate is a point that qualifies for a recommendation in this run.
type candidate struct {
	point    knowledge.KnowledgePoint
	typ      Type
	priority int
	reason   string
	mastery  int
}

// classify assigns at most one type to p. Precedence is weak_point, then
// review, then advance. p is assumed ready and below top mastery.
func (c Config) classify(g *knowledge.Graph, p knowledge.KnowledgePoint, snap behavior.Snapshot, now time.Time) (candidate, bool) {
	rec, has := snap.Get(p.ID)
	cand := candidate{point: p, mastery: rec.MasteryLevel}

	switch {
	case has && rec.TotalAttempts >= c.WeakMinAttempts && rec.AccuracyRate < c.WeakAccuracy:
		cand.typ = TypeWeakPoint
		cand.priority = c.WeakBase - rec.MasteryLevel
		cand.reason = fmt.Sprintf("Accuracy is %.1f%% over %d attempts, below the %.0f%% target", rec.AccuracyRate, rec.TotalAttempts, c.WeakAccuracy)

	case has && rec.MasteryLevel >= c.ReviewMinMastery:
		interval := c.ReviewInterval(rec.MasteryLevel)
		since := now.Sub(rec.LastPracticeAt)
		if since <= interval {
			return candidate{}, false
		}
		overdue := int((since - interval) / week)
		cand.typ = TypeReview
		cand.priority = min(c.ReviewBase+overdue, c.MaxPriority)
		cand.reason = fmt.Sprintf("Last practiced %d days ago; mastery level %d is due for review every %d days",
			int(since/(24*time.Hour)), rec.MasteryLevel, int(interval/(24*time.Hour)))

	case !rec.Exists():
		ok, err := g.ChainReady(p.ID, snap.Lookup())
		if err != nil || !ok {
			return candidate{}, false
		}
		cand.typ = TypeAdvance
		cand.priority = c.AdvanceBase
		cand.reason = "New topic; all prerequisites are mastered"
		if p.IsRoot() {
			cand.reason = "New topic with no prerequisites"
		}
		if c.justMastered(g, p, snap, now) {
			cand.priority++
			cand.reason = fmt.Sprintf("Builds directly on %s, which was just mastered", p.ParentID)
		}

	default:
		return candidate{}, false
	}

	cand.priority = clamp(cand.priority, 1, c.MaxPriority)
	return cand, true
}

// justMastered reports whether p's parent is at ready level and was
// practiced within the bonus window.
func (c Config) justMastered(g *knowledge.Graph, p knowledge.KnowledgePoint, snap behavior.Snapshot, now time.Time) bool {
	if p.IsRoot() {
		return false
	}
	parent, ok := snap.Get(p.ParentID)
	if !ok || parent.MasteryLevel < g.ReadyLevel() {
		return false
	}
	return now.Sub(parent.LastPracticeAt) <= c.JustMasteredWithin
}

// effectiveness scores a completed recommendation from the mastery gained
// relative to its baseline.
func effectiveness(r Recommendation, mastery int) float64 {
	if r.BaselineMastery >= knowledge.MaxMastery {
		return 1
	}
	if r.Type == TypeReview {
		return clamp01(float64(mastery) / float64(max(1, r.BaselineMastery)))
	}
	return clamp01(float64(mastery-r.BaselineMastery) / float64(knowledge.MaxMastery-r.BaselineMastery))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clamp01(v float64) float64 {
	return max(0, min(v, 1))
}
