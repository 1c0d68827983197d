package practice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
)

type fakeRecorder struct {
	mu       sync.Mutex
	policy   behavior.Policy
	recs     map[string]behavior.Record
	seen     map[string]bool
	attempts []behavior.Attempt
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		policy: behavior.DefaultPolicy(),
		recs:   make(map[string]behavior.Record),
		seen:   make(map[string]bool),
	}
}

func (f *fakeRecorder) setMastery(kp string, level int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[kp] = behavior.Record{KnowledgePointID: kp, MasteryLevel: level}
}

func (f *fakeRecorder) RecordAttempt(_ context.Context, a behavior.Attempt) (behavior.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[a.ID] {
		return behavior.Outcome{Record: f.recs[a.KnowledgePointID], Duplicate: true}, nil
	}
	f.seen[a.ID] = true
	prev := f.recs[a.KnowledgePointID]
	next := f.policy.Apply(prev, a)
	f.recs[a.KnowledgePointID] = next
	f.attempts = append(f.attempts, a)
	return behavior.Outcome{Record: next, Previous: prev}, nil
}

func (f *fakeRecorder) Snapshot(_ context.Context, userID string) (behavior.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []behavior.Record
	for _, r := range f.recs {
		recs = append(recs, r)
	}
	return behavior.NewSnapshot(userID, recs), nil
}

type memHistory struct {
	mu       sync.Mutex
	sessions []Session
}

func (m *memHistory) SaveSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *memHistory) FinishedSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return Session{}, domain.ErrNotFound
}

func (m *memHistory) RecentSummaries(_ context.Context, userID, subject string, limit int) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Summary
	for _, s := range m.sessions {
		if s.UserID != userID || s.Subject != subject || s.TotalCount == 0 {
			continue
		}
		if s.EndReason != ReasonCompleted && s.EndReason != ReasonSuperseded {
			continue
		}
		out = append(out, Summarize(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type providerFunc func(ctx context.Context, kp string, difficulty int) ([]content.Question, error)

func (f providerFunc) FetchQuestions(ctx context.Context, kp string, difficulty int) ([]content.Question, error) {
	return f(ctx, kp, difficulty)
}

type evaluatorFunc func(ctx context.Context, q content.Question, answer string) (content.Evaluation, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, q content.Question, answer string) (content.Evaluation, error) {
	return f(ctx, q, answer)
}

// bankFor returns two questions per difficulty for kp; answer is always "7".
func bankFor(t *testing.T, kps ...string) *content.Bank {
	t.Helper()
	var qs []content.Question
	for _, kp := range kps {
		for d := MinDifficulty; d <= MaxDifficulty; d++ {
			for n := 1; n <= 2; n++ {
				qs = append(qs, content.Question{
					ID:               kp + "-" + string(rune('0'+d)) + "-" + string(rune('0'+n)),
					KnowledgePointID: kp,
					Difficulty:       d,
					Text:             "3 + 4 = ?",
					Answer:           "7",
					AnswerType:       content.AnswerInteger,
				})
			}
		}
	}
	b, err := content.NewBank(qs)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type fixture struct {
	ctrl     *Controller
	recorder *fakeRecorder
	history  *memHistory
	live     *MemoryLiveStore
	events   *events.Recorder
	clock    *domain.ManualClock
}

type option func(*options)

type options struct {
	provider  content.Provider
	evaluator content.Evaluator
	cfg       Config
}

func withProvider(p content.Provider) option   { return func(o *options) { o.provider = p } }
func withEvaluator(e content.Evaluator) option { return func(o *options) { o.evaluator = e } }
func withTimeoutCfg(d time.Duration) option    { return func(o *options) { o.cfg.Timeout = d } }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	graph, err := knowledge.New([]knowledge.KnowledgePoint{
		{ID: "add", Subject: "math", Grade: 3, Name: "Addition", Difficulty: 1},
		{ID: "sub", Subject: "math", Grade: 3, Name: "Subtraction", Difficulty: 2, ParentID: "add"},
		{ID: "phonics", Subject: "english", Grade: 2, Name: "Phonics", Difficulty: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	o := options{
		provider:  bankFor(t, "add", "sub", "phonics"),
		evaluator: content.ExactEvaluator{},
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	f := &fixture{
		recorder: newFakeRecorder(),
		history:  &memHistory{},
		live:     NewMemoryLiveStore(),
		events:   &events.Recorder{},
		clock:    &domain.ManualClock{T: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	f.ctrl, err = NewController(graph, o.provider, o.evaluator, f.recorder, f.live, f.history, o.cfg, Deps{
		Clock:  f.clock,
		Events: f.events,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) start(t *testing.T, user, subject string) Session {
	t.Helper()
	s, err := f.ctrl.Start(context.Background(), StartRequest{UserID: user, Subject: subject})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (f *fixture) answer(t *testing.T, id, answer string) Feedback {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ctrl.NextQuestion(ctx, id); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(4 * time.Second)
	fb, err := f.ctrl.SubmitAnswer(ctx, id, answer)
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func TestStart_NewUser(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "u1", "math")
	if s.State != StateReady || s.Difficulty != 1 || s.KnowledgePointID != "add" {
		t.Errorf("got %+v", s)
	}
}

func TestStart_FocusSkipsReadyPoints(t *testing.T) {
	f := newFixture(t)
	f.recorder.setMastery("add", 3)
	if s := f.start(t, "u1", "math"); s.KnowledgePointID != "sub" {
		t.Errorf("focus = %s, want sub", s.KnowledgePointID)
	}
}

func TestStart_ExplicitPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "math", KnowledgePointID: "sub"})
	if err != nil || s.KnowledgePointID != "sub" {
		t.Fatalf("got %+v, %v", s, err)
	}
	if _, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "math", KnowledgePointID: "phonics"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("subject mismatch: got %v", err)
	}
	var unknown *knowledge.UnknownPointError
	if _, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "math", KnowledgePointID: "nope"}); !errors.As(err, &unknown) {
		t.Errorf("unknown point: got %v", err)
	}
	if _, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "art"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty subject: got %v", err)
	}
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctrl.NextQuestion(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: got %v", err)
	}

	s := f.start(t, "u1", "math")
	if _, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("submit before question: got %v", err)
	}
	if _, err := f.ctrl.NextQuestion(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.NextQuestion(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("next twice: got %v", err)
	}

	if _, err := f.ctrl.End(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.NextQuestion(ctx, s.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("next after end: got %v", err)
	}
	if _, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("submit after end: got %v", err)
	}
	if _, err := f.ctrl.End(ctx, s.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("end twice: got %v", err)
	}
}

func TestSession_RaisesDifficulty(t *testing.T) {
	f := newFixture(t)
	// One earlier session at difficulty 3 with neutral accuracy seeds 3.
	f.history.sessions = append(f.history.sessions, Session{
		ID: "old", UserID: "u1", Subject: "math", Difficulty: 3,
		CorrectCount: 7, TotalCount: 10, EndReason: ReasonCompleted,
		State: StateFinished,
	})

	s := f.start(t, "u1", "math")
	if s.Difficulty != 3 {
		t.Fatalf("seed = %d, want 3", s.Difficulty)
	}

	f.answer(t, s.ID, "7")
	fb := f.answer(t, s.ID, "7")
	if fb.Difficulty != 3 {
		t.Fatalf("difficulty moved after 2 answers: %+v", fb)
	}
	fb = f.answer(t, s.ID, "7")
	if !fb.Correct || fb.PreviousDifficulty != 3 || fb.Difficulty != 4 {
		t.Errorf("got %+v, want 3 -> 4", fb)
	}
	if fb.CorrectCount != 3 || fb.TotalCount != 3 || fb.Mastery != 4 {
		t.Errorf("counts/mastery: %+v", fb)
	}

	if len(f.recorder.attempts) != 3 {
		t.Fatalf("attempts = %d", len(f.recorder.attempts))
	}
	a := f.recorder.attempts[2]
	if a.ID != s.ID+"-3" || a.SessionID != s.ID || a.KnowledgePointID != "add" || a.AnswerTime != 4 {
		t.Errorf("attempt = %+v", a)
	}
}

func TestSession_LowersDifficulty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "math"})
	if err != nil {
		t.Fatal(err)
	}
	// Force a higher starting point.
	s.Difficulty = 4
	if err := f.live.Update(ctx, &s); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		f.answer(t, s.ID, "1")
	}
	if fb := f.answer(t, s.ID, "1"); fb.Difficulty != 3 {
		t.Errorf("difficulty = %d, want 3", fb.Difficulty)
	}
}

func TestSession_DoesNotRepeatQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, "u1", "math")

	q1, err := f.ctrl.NextQuestion(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7"); err != nil {
		t.Fatal(err)
	}
	q2, err := f.ctrl.NextQuestion(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if q1.ID == q2.ID {
		t.Errorf("question %s served twice", q1.ID)
	}
}

func TestEnd_SummarySeedsNextSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, "u1", "math")
	for range 3 {
		f.answer(t, s.ID, "7")
	}

	sum, err := f.ctrl.End(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Reason != ReasonCompleted || sum.Difficulty != 2 || sum.CorrectRate != 100 || sum.TotalCount != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if got, err := f.ctrl.Get(ctx, s.ID); err != nil || got.State != StateFinished || got.EndedAt == nil {
		t.Errorf("finished session = %+v, %v", got, err)
	}
	if ev := f.events.OfType(events.SessionEnded); len(ev) != 1 || ev[0].Data["reason"] != "completed" {
		t.Errorf("events = %+v", ev)
	}

	f.clock.Advance(time.Hour)
	if next := f.start(t, "u1", "math"); next.Difficulty != 3 {
		t.Errorf("next seed = %d, want 3", next.Difficulty)
	}
}

func TestStart_SupersedesOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.start(t, "u1", "math")
	f.answer(t, first.ID, "7")
	other := f.start(t, "u1", "english")
	second := f.start(t, "u1", "math")

	if _, err := f.ctrl.NextQuestion(ctx, first.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("superseded session: got %v", err)
	}
	old, err := f.ctrl.Get(ctx, first.ID)
	if err != nil || old.EndReason != ReasonSuperseded {
		t.Errorf("superseded = %+v, %v", old, err)
	}
	cur, err := f.ctrl.Current(ctx, "u1", "math")
	if err != nil || cur.ID != second.ID {
		t.Errorf("current = %+v, %v", cur, err)
	}
	if _, err := f.ctrl.NextQuestion(ctx, other.ID); err != nil {
		t.Errorf("other subject must stay open: %v", err)
	}
}

func TestConcurrentStartsLeaveOneOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.ctrl.Start(ctx, StartRequest{UserID: "u1", Subject: "math"})
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = s.ID
		}()
	}
	wg.Wait()

	open := 0
	for _, id := range ids {
		if s, err := f.live.Get(ctx, id); err == nil && s.Open() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open sessions = %d, want 1", open)
	}
	if n := len(f.history.sessions); n != len(ids)-1 {
		t.Errorf("superseded = %d, want %d", n, len(ids)-1)
	}
}

func TestNextQuestion_NoQuestions(t *testing.T) {
	f := newFixture(t, withProvider(providerFunc(func(context.Context, string, int) ([]content.Question, error) {
		return nil, content.ErrNoQuestionsAvailable
	})))
	ctx := context.Background()
	s := f.start(t, "u1", "math")

	_, err := f.ctrl.NextQuestion(ctx, s.ID)
	var finished *FinishedError
	if !errors.As(err, &finished) || !errors.Is(err, content.ErrNoQuestionsAvailable) {
		t.Fatalf("got %v", err)
	}
	if finished.Summary.Reason != ReasonNoQuestions {
		t.Errorf("reason = %s", finished.Summary.Reason)
	}
	if _, err := f.ctrl.End(ctx, s.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("end after failure: got %v", err)
	}
}

func TestNextQuestion_ProviderTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newFixture(t,
		withTimeoutCfg(20*time.Millisecond),
		withProvider(providerFunc(func(context.Context, string, int) ([]content.Question, error) {
			<-block
			return nil, nil
		})),
	)
	s := f.start(t, "u1", "math")

	_, err := f.ctrl.NextQuestion(context.Background(), s.ID)
	var finished *FinishedError
	if !errors.As(err, &finished) || !errors.Is(err, ErrEvaluationUnavailable) {
		t.Fatalf("got %v", err)
	}
	if finished.Summary.Reason != ReasonEvaluationUnavailable {
		t.Errorf("reason = %s", finished.Summary.Reason)
	}
}

func TestSubmitAnswer_EvaluatorTimeoutKeepsPartialSummary(t *testing.T) {
	var calls int
	var mu sync.Mutex
	f := newFixture(t,
		withTimeoutCfg(20*time.Millisecond),
		withEvaluator(evaluatorFunc(func(ctx context.Context, q content.Question, answer string) (content.Evaluation, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return content.Evaluation{Correct: true}, nil
			}
			<-ctx.Done()
			return content.Evaluation{}, ctx.Err()
		})),
	)
	s := f.start(t, "u1", "math")
	f.answer(t, s.ID, "7")

	ctx := context.Background()
	if _, err := f.ctrl.NextQuestion(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7")
	var finished *FinishedError
	if !errors.As(err, &finished) || !errors.Is(err, ErrEvaluationUnavailable) {
		t.Fatalf("got %v", err)
	}
	if finished.Summary.TotalCount != 1 || finished.Summary.CorrectCount != 1 {
		t.Errorf("partial summary = %+v", finished.Summary)
	}
	if len(f.recorder.attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(f.recorder.attempts))
	}
}

func TestSubmitAnswer_CallerCancelDoesNotFinish(t *testing.T) {
	f := newFixture(t, withEvaluator(evaluatorFunc(func(ctx context.Context, _ content.Question, _ string) (content.Evaluation, error) {
		<-ctx.Done()
		return content.Evaluation{}, ctx.Err()
	})))
	s := f.start(t, "u1", "math")
	if _, err := f.ctrl.NextQuestion(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	got, err := f.ctrl.Get(context.Background(), s.ID)
	if err != nil || got.State != StateAwaitingAnswer {
		t.Errorf("session = %+v, %v", got, err)
	}
}

func TestMemoryLiveStore_StaleUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLiveStore()
	s := Session{ID: "s1", UserID: "u", Subject: "math", State: StateReady}
	if _, err := m.Open(ctx, s); err != nil {
		t.Fatal(err)
	}
	a, b := s, s
	if err := m.Update(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if a.Version != 1 {
		t.Errorf("version = %d", a.Version)
	}
	if err := m.Update(ctx, &b); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale update: got %v", err)
	}
	if err := m.Close(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := m.Update(ctx, &a); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("update after close: got %v", err)
	}
	if _, err := m.Current(ctx, "u", "math"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("current after close: got %v", err)
	}
}

func TestMemoryLiveStore_RejectedUpdateLeavesStoredAnswers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLiveStore()
	s := Session{ID: "s1", UserID: "u", Subject: "math", State: StateReady, Answers: make([]Answer, 0, 4)}
	if _, err := m.Open(ctx, s); err != nil {
		t.Fatal(err)
	}
	winner, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	loser, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}

	winner.Answers = append(winner.Answers, Answer{Answer: "winner"})
	if err := m.Update(ctx, &winner); err != nil {
		t.Fatal(err)
	}
	loser.Answers = append(loser.Answers, Answer{Answer: "loser"})
	if err := m.Update(ctx, &loser); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: got %v", err)
	}

	got, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "winner" {
		t.Errorf("stored answers = %+v, want the winner's only", got.Answers)
	}

	// Mutating a returned copy never reaches the store.
	got.Answers[0].Answer = "edited"
	again, _ := m.Get(ctx, "s1")
	if again.Answers[0].Answer != "winner" {
		t.Errorf("stored answer changed through a copy: %q", again.Answers[0].Answer)
	}
}

func TestSubmitAnswer_ConcurrentSubmitsRecordOnce(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var calls int
	var mu sync.Mutex
	f := newFixture(t, withEvaluator(evaluatorFunc(func(ctx context.Context, q content.Question, answer string) (content.Evaluation, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-proceed
		}
		return content.ExactEvaluator{}.Evaluate(ctx, q, answer)
	})))
	s := f.start(t, "u1", "math")
	ctx := context.Background()
	if _, err := f.ctrl.NextQuestion(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	type result struct {
		fb  Feedback
		err error
	}
	done := make(chan result, 1)
	go func() {
		fb, err := f.ctrl.SubmitAnswer(ctx, s.ID, "7")
		done <- result{fb, err}
	}()
	<-entered

	got, err := f.ctrl.Get(ctx, s.ID)
	if err != nil || got.State != StateEvaluating {
		t.Fatalf("while evaluating: %+v, %v", got.State, err)
	}
	if _, err := f.ctrl.SubmitAnswer(ctx, s.ID, "8"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second submit: got %v, want ErrInvalidState", err)
	}
	if n := len(f.recorder.attempts); n != 0 {
		t.Fatalf("second submit recorded %d attempts", n)
	}

	close(proceed)
	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !r.fb.Correct {
		t.Error("first submit should be judged correct")
	}

	got, err = f.ctrl.Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "7" || !got.Answers[0].Correct {
		t.Errorf("answers = %+v, want the first submission only", got.Answers)
	}
	if len(f.recorder.attempts) != 1 || !f.recorder.attempts[0].Correct {
		t.Errorf("recorded attempts = %+v, want one correct", f.recorder.attempts)
	}
	if got.State != StateReady {
		t.Errorf("state = %s, want %s", got.State, StateReady)
	}
}
