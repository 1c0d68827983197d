package recommend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
)

var now0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]behavior.Record

	// entered and release, when set, hold Snapshot until release closes.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRecords) set(id string, r behavior.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.UserID = "u1"
	r.KnowledgePointID = id
	f.recs[id] = r
}

func (f *fakeRecords) Snapshot(ctx context.Context, userID string) (behavior.Snapshot, error) {
	if f.release != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.release
		if err := ctx.Err(); err != nil {
			return behavior.Snapshot{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []behavior.Record
	for _, r := range f.recs {
		out = append(out, r)
	}
	return behavior.NewSnapshot(userID, out), nil
}

type memStore struct {
	mu   sync.Mutex
	rows []Recommendation
	seq  int
}

func (s *memStore) OpenRecommendations(_ context.Context, userID, subject string, grade int) ([]Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Recommendation
	for _, r := range s.rows {
		if r.UserID == userID && r.Subject == subject && r.Grade == grade && r.Status.Open() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) OpenRecommendation(_ context.Context, userID, kp string) (Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && r.KnowledgePointID == kp && r.Status.Open() {
			return r, nil
		}
	}
	return Recommendation{}, domain.ErrNotFound
}

func (s *memStore) SaveRun(_ context.Context, closed, upserts []Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range closed {
		s.update(c)
	}
	for _, u := range upserts {
		if u.ID != "" {
			s.update(u)
			continue
		}
		for _, r := range s.rows {
			if r.UserID == u.UserID && r.KnowledgePointID == u.KnowledgePointID && r.Status.Open() {
				return domain.ErrConflict
			}
		}
		s.seq++
		u.ID = fmt.Sprintf("rec-%d", s.seq)
		s.rows = append(s.rows, u)
	}
	return nil
}

func (s *memStore) update(r Recommendation) {
	for i := range s.rows {
		if s.rows[i].ID == r.ID && s.rows[i].Status.Open() {
			s.rows[i] = r
		}
	}
}

func (s *memStore) UpdateRecommendation(_ context.Context, r Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(r)
	return nil
}

func (s *memStore) ListRecommendations(_ context.Context, userID string, statuses ...Status) ([]Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Recommendation
	for _, r := range s.rows {
		if r.UserID == userID && (len(statuses) == 0 || slices.Contains(statuses, r.Status)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

type fixture struct {
	engine  *Engine
	records *fakeRecords
	store   *memStore
	clock   *domain.ManualClock
	events  *events.Recorder
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	g, err := knowledge.New([]knowledge.KnowledgePoint{
		{ID: "root", Subject: "math", Grade: 3, Name: "Root", Difficulty: 1},
		{ID: "child-a", Subject: "math", Grade: 3, Name: "A", Difficulty: 2, ParentID: "root"},
		{ID: "child-b", Subject: "math", Grade: 3, Name: "B", Difficulty: 1, ParentID: "root"},
		{ID: "grand", Subject: "math", Grade: 3, Name: "Grand", Difficulty: 3, ParentID: "child-a"},
		{ID: "other", Subject: "math", Grade: 3, Name: "Other", Difficulty: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		records: &fakeRecords{recs: make(map[string]behavior.Record)},
		store:   &memStore{},
		clock:   &domain.ManualClock{T: now0},
		events:  &events.Recorder{},
	}
	f.engine, err = NewEngine(cfg, g, f.records, f.store, Deps{Clock: f.clock, Events: f.events})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func byPoint(rs []Recommendation) map[string]Recommendation {
	m := make(map[string]Recommendation, len(rs))
	for _, r := range rs {
		m[r.KnowledgePointID] = r
	}
	return m
}

func TestGenerate_NewUserGetsRootAdvances(t *testing.T) {
	f := newFixture(t)
	rs, err := f.engine.Generate(context.Background(), "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	got := byPoint(rs)
	if len(got) != 2 {
		t.Fatalf("got %d recommendations, want 2 (root, other): %+v", len(rs), rs)
	}
	for _, id := range []string{"root", "other"} {
		r, ok := got[id]
		if !ok {
			t.Fatalf("missing %s", id)
		}
		if r.Type != TypeAdvance || r.Priority != 4 || r.Status != StatusPending {
			t.Errorf("%s = %s/%d/%s, want advance/4/pending", id, r.Type, r.Priority, r.Status)
		}
	}
	// Easier first on equal priority.
	if rs[0].KnowledgePointID != "root" {
		t.Errorf("first = %s, want root", rs[0].KnowledgePointID)
	}
}

func TestGenerate_Classification(t *testing.T) {
	f := newFixture(t)
	f.records.set("root", behavior.Record{TotalAttempts: 10, CorrectCount: 9, AccuracyRate: 90, MasteryLevel: 4, LastPracticeAt: now0.Add(-2 * time.Hour)})
	f.records.set("child-a", behavior.Record{TotalAttempts: 10, CorrectCount: 4, AccuracyRate: 40, MasteryLevel: 1, LastPracticeAt: now0.Add(-time.Hour)})
	// mastery 3 decays after 21 days; 36 days is two full weeks overdue.
	f.records.set("other", behavior.Record{TotalAttempts: 10, CorrectCount: 7, AccuracyRate: 70, MasteryLevel: 3, LastPracticeAt: now0.Add(-36 * 24 * time.Hour)})

	rs, err := f.engine.Generate(context.Background(), "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	got := byPoint(rs)

	tests := []struct {
		id       string
		typ      Type
		priority int
	}{
		{"child-a", TypeWeakPoint, 8},
		{"other", TypeReview, 8},
		{"child-b", TypeAdvance, 5}, // parent at mastery 4 practiced within the day
	}
	for _, tt := range tests {
		r, ok := got[tt.id]
		if !ok {
			t.Errorf("missing recommendation for %s", tt.id)
			continue
		}
		if r.Type != tt.typ || r.Priority != tt.priority {
			t.Errorf("%s = %s/%d, want %s/%d", tt.id, r.Type, r.Priority, tt.typ, tt.priority)
		}
		if r.Reason == "" {
			t.Errorf("%s has no reason", tt.id)
		}
	}
	if _, ok := got["root"]; ok {
		t.Error("root is mastered and recently practiced; should not be recommended")
	}
	if _, ok := got["grand"]; ok {
		t.Error("grand is not ready; should not be recommended")
	}
	// Ranked by priority, then easier first.
	if rs[0].KnowledgePointID != "child-a" || rs[1].KnowledgePointID != "other" {
		t.Errorf("order = %v", ids(rs))
	}
}

func ids(rs []Recommendation) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.KnowledgePointID
	}
	return out
}

func TestGenerate_ReviewPriorityCapped(t *testing.T) {
	f := newFixture(t)
	f.records.set("other", behavior.Record{TotalAttempts: 10, CorrectCount: 8, AccuracyRate: 80, MasteryLevel: 4, LastPracticeAt: now0.Add(-400 * 24 * time.Hour)})
	rs, err := f.engine.Generate(context.Background(), "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	if r := byPoint(rs)["other"]; r.Type != TypeReview || r.Priority != 10 {
		t.Errorf("other = %s/%d, want review/10", r.Type, r.Priority)
	}
}

func TestGenerate_AllMasteredIsEmpty(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"root", "child-a", "child-b", "grand", "other"} {
		f.records.set(id, behavior.Record{TotalAttempts: 20, CorrectCount: 20, AccuracyRate: 100, ConsecutiveCorrect: 20, MasteryLevel: 5, LastPracticeAt: now0.Add(-365 * 24 * time.Hour)})
	}
	rs, err := f.engine.Generate(context.Background(), "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 0 {
		t.Errorf("got %d recommendations, want none", len(rs))
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.records.set("root", behavior.Record{TotalAttempts: 5, CorrectCount: 1, AccuracyRate: 20, MasteryLevel: 1, LastPracticeAt: now0})
	ctx := context.Background()

	first, err := f.engine.Generate(ctx, "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.Generate(ctx, "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(recIDs(first), recIDs(second)) {
		t.Errorf("open set changed between runs: %v vs %v", recIDs(first), recIDs(second))
	}
	if n := len(f.store.rows); n != len(first) {
		t.Errorf("store holds %d rows, want %d", n, len(first))
	}
}

func recIDs(rs []Recommendation) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	slices.Sort(out)
	return out
}

func TestGenerate_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Generate(ctx, "u1", "math", 3); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := f.store.count(StatusPending); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestGenerate_CancelledCallerDoesNotFailSharedRun(t *testing.T) {
	f := newFixture(t)
	f.records.entered = make(chan struct{}, 1)
	f.records.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.engine.Generate(ctx, "u1", "math", 3)
		first <- err
	}()
	<-f.records.entered
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v, want context.Canceled", err)
	}

	// The detached run is still blocked; a caller arriving now shares it.
	second := make(chan error, 1)
	var rs []Recommendation
	go func() {
		var err error
		rs, err = f.engine.Generate(context.Background(), "u1", "math", 3)
		second <- err
	}()
	close(f.records.release)
	if err := <-second; err != nil {
		t.Fatalf("waiting caller failed: %v", err)
	}
	if len(rs) != 2 {
		t.Errorf("got %d recommendations, want 2", len(rs))
	}
	if n := f.store.count(StatusPending); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestGenerate_ResolvesNoLongerQualifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.records.set("root", behavior.Record{TotalAttempts: 5, CorrectCount: 1, AccuracyRate: 20, MasteryLevel: 1, LastPracticeAt: now0})
	f.records.set("other", behavior.Record{TotalAttempts: 5, CorrectCount: 2, AccuracyRate: 40, MasteryLevel: 2, LastPracticeAt: now0})
	if _, err := f.engine.Generate(ctx, "u1", "math", 3); err != nil {
		t.Fatal(err)
	}

	// root is now mastered; other improved to 60% but not to ready level.
	f.records.set("root", behavior.Record{TotalAttempts: 20, CorrectCount: 16, AccuracyRate: 80, ConsecutiveCorrect: 8, MasteryLevel: 4, LastPracticeAt: now0})
	f.records.set("other", behavior.Record{TotalAttempts: 10, CorrectCount: 6, AccuracyRate: 60, MasteryLevel: 2, LastPracticeAt: now0})
	if _, err := f.engine.Generate(ctx, "u1", "math", 3); err != nil {
		t.Fatal(err)
	}

	all, _ := f.engine.List(ctx, "u1")
	got := map[string]Status{}
	for _, r := range all {
		if !r.Status.Open() {
			got[r.KnowledgePointID] = r.Status
			if r.KnowledgePointID == "root" {
				if r.EffectivenessScore == nil {
					t.Error("completed recommendation has no effectiveness score")
				} else if want := 0.75; *r.EffectivenessScore != want {
					t.Errorf("effectiveness = %v, want %v", *r.EffectivenessScore, want)
				}
			}
		}
	}
	if got["root"] != StatusCompleted {
		t.Errorf("root status = %q, want completed", got["root"])
	}
	if got["other"] != StatusSkipped {
		t.Errorf("other status = %q, want skipped", got["other"])
	}
	if n := len(f.events.OfType(events.RecommendationCompleted)); n != 1 {
		t.Errorf("completed events = %d, want 1", n)
	}
}

func TestGenerate_ExpiredPendingIsReplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.engine.Generate(ctx, "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	second, err := f.engine.Generate(ctx, "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first) {
		t.Fatalf("got %d, want %d", len(second), len(first))
	}
	for _, r := range second {
		if slices.Contains(recIDs(first), r.ID) {
			t.Errorf("expired recommendation %s still open", r.ID)
		}
	}
	if n := f.store.count(StatusSkipped); n != len(first) {
		t.Errorf("skipped = %d, want %d", n, len(first))
	}
}

func TestGenerate_TopN(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TopN = 1 })
	rs, err := f.engine.Generate(context.Background(), "u1", "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 {
		t.Errorf("got %d, want 1", len(rs))
	}
}

func TestOnAttempt_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Generate(ctx, "u1", "math", 3); err != nil {
		t.Fatal(err)
	}

	out := behavior.Outcome{Record: behavior.Record{UserID: "u1", KnowledgePointID: "root", TotalAttempts: 1, MasteryLevel: 0}}
	r, changed, err := f.engine.OnAttempt(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || r.Status != StatusInProgress || r.StartedAt == nil {
		t.Fatalf("after first attempt: %+v (changed=%v)", r, changed)
	}

	out.Record = behavior.Record{UserID: "u1", KnowledgePointID: "root", TotalAttempts: 3, MasteryLevel: 4}
	r, changed, err = f.engine.OnAttempt(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || r.Status != StatusCompleted || r.Progress != 100 {
		t.Fatalf("after reaching ready level: %+v", r)
	}
	if r.EffectivenessScore == nil || *r.EffectivenessScore != 0.8 {
		t.Errorf("effectiveness = %v, want 0.8", r.EffectivenessScore)
	}

	_, changed, err = f.engine.OnAttempt(ctx, out)
	if err != nil || changed {
		t.Errorf("no open recommendation should be a no-op, got changed=%v err=%v", changed, err)
	}
}

func TestOnAttempt_DuplicateIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Generate(ctx, "u1", "math", 3); err != nil {
		t.Fatal(err)
	}
	out := behavior.Outcome{Duplicate: true, Record: behavior.Record{UserID: "u1", KnowledgePointID: "root", MasteryLevel: 5}}
	if _, changed, _ := f.engine.OnAttempt(ctx, out); changed {
		t.Error("duplicate attempt changed a recommendation")
	}
}

func TestEffectiveness(t *testing.T) {
	tests := []struct {
		name    string
		r       Recommendation
		mastery int
		want    float64
	}{
		{"advance from zero", Recommendation{Type: TypeAdvance}, 3, 0.6},
		{"weak from two", Recommendation{Type: TypeWeakPoint, BaselineMastery: 2}, 5, 1},
		{"regressed", Recommendation{Type: TypeWeakPoint, BaselineMastery: 2}, 1, 0},
		{"review held", Recommendation{Type: TypeReview, BaselineMastery: 4}, 4, 1},
		{"review slipped", Recommendation{Type: TypeReview, BaselineMastery: 4}, 2, 0.5},
	}
	for _, tt := range tests {
		if got := effectiveness(tt.r, tt.mastery); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := DefaultConfig()
	bad.TopN = 0
	bad.WeakAccuracy = 200
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error")
	}
}
