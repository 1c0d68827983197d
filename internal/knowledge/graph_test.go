package knowledge

import (
	"errors"
	"slices"
	"testing"
)

func testPoints() []KnowledgePoint {
	return []KnowledgePoint{
		{ID: "b-root", Subject: "math", Grade: 3, Name: "B", Difficulty: 2},
		{ID: "a-root", Subject: "math", Grade: 3, Name: "A", Difficulty: 2},
		{ID: "a-hard", Subject: "math", Grade: 3, Name: "A hard", Difficulty: 4, ParentID: "a-root"},
		{ID: "a-easy", Subject: "math", Grade: 3, Name: "A easy", Difficulty: 1, ParentID: "a-root"},
		{ID: "a-easy-next", Subject: "math", Grade: 3, Name: "A easy next", Difficulty: 1, ParentID: "a-easy"},
		{ID: "g4-child", Subject: "math", Grade: 4, Name: "Grade 4", Difficulty: 1, ParentID: "a-hard"},
		{ID: "g4-grandchild", Subject: "math", Grade: 4, Name: "Grade 4 next", Difficulty: 2, ParentID: "g4-child"},
		{ID: "eng-root", Subject: "english", Grade: 3, Name: "Eng", Difficulty: 1, RelatedIDs: []string{"a-root"}},
	}
}

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New(testPoints())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func ids(points []KnowledgePoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}

func TestGet(t *testing.T) {
	g := newTestGraph(t)

	p, err := g.Get("a-easy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ParentID != "a-root" {
		t.Errorf("got parent %q, want %q", p.ParentID, "a-root")
	}

	_, err = g.Get("missing")
	if !errors.Is(err, ErrUnknownKnowledgePoint) {
		t.Fatalf("got %v, want ErrUnknownKnowledgePoint", err)
	}
	var upe *UnknownPointError
	if !errors.As(err, &upe) || upe.ID != "missing" {
		t.Errorf("expected UnknownPointError{ID: missing}, got %#v", err)
	}
}

func TestChildren(t *testing.T) {
	g := newTestGraph(t)

	kids, err := g.Children("a-root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ids(kids), []string{"a-easy", "a-hard"}; !slices.Equal(got, want) {
		t.Errorf("Children(a-root) = %v, want %v", got, want)
	}

	kids, err = g.Children("eng-root")
	if err != nil || len(kids) != 0 {
		t.Errorf("Children(eng-root) = %v, %v; want empty", kids, err)
	}

	if _, err := g.Children("nope"); !errors.Is(err, ErrUnknownKnowledgePoint) {
		t.Errorf("Children(nope) err = %v", err)
	}
}

func TestAncestors(t *testing.T) {
	g := newTestGraph(t)
	anc, err := g.Ancestors("g4-grandchild")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(anc), []string{"g4-child", "a-hard", "a-root"}; !slices.Equal(got, want) {
		t.Errorf("Ancestors = %v, want %v", got, want)
	}
}

func TestIsReady(t *testing.T) {
	g := newTestGraph(t)

	tests := []struct {
		name    string
		id      string
		mastery map[string]int
		want    bool
	}{
		{"root always ready", "a-root", nil, true},
		{"parent unmastered", "a-easy", map[string]int{"a-root": 2}, false},
		{"parent at ready level", "a-easy", map[string]int{"a-root": 3}, true},
		{"parent above ready level", "a-easy", map[string]int{"a-root": 5}, true},
		{"related never gates", "eng-root", map[string]int{"a-root": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.IsReady(tt.id, MasteryMap(tt.mastery))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsReady(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}

	if _, err := g.IsReady("ghost", MasteryMap(nil)); !errors.Is(err, ErrUnknownKnowledgePoint) {
		t.Errorf("IsReady(ghost) err = %v", err)
	}
}

func TestChainReady(t *testing.T) {
	g := newTestGraph(t)
	m := map[string]int{"a-root": 4, "a-hard": 2}
	ok, err := g.ChainReady("g4-grandchild", MasteryMap(m))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected chain not ready while a-hard is below ready level")
	}
	m["a-hard"] = 3
	m["g4-child"] = 3
	ok, _ = g.ChainReady("g4-grandchild", MasteryMap(m))
	if !ok {
		t.Error("expected chain ready")
	}
}

func TestWithReadyLevel(t *testing.T) {
	g, err := New(testPoints(), WithReadyLevel(4))
	if err != nil {
		t.Fatal(err)
	}
	ok, _ := g.IsReady("a-easy", MasteryMap(map[string]int{"a-root": 3}))
	if ok {
		t.Error("expected not ready with ready level 4")
	}
}

func TestTopologicalOrder_TieBreak(t *testing.T) {
	g := newTestGraph(t)
	got := ids(g.TopologicalOrder("math", 3))
	want := []string{"a-root", "a-easy", "a-easy-next", "b-root", "a-hard"}
	if !slices.Equal(got, want) {
		t.Errorf("TopologicalOrder(math, 3) = %v, want %v", got, want)
	}
}

func TestTopologicalOrder_ParentOutsideSlice(t *testing.T) {
	g := newTestGraph(t)
	got := ids(g.TopologicalOrder("math", 4))
	want := []string{"g4-child", "g4-grandchild"}
	if !slices.Equal(got, want) {
		t.Errorf("TopologicalOrder(math, 4) = %v, want %v", got, want)
	}
}

func TestTopologicalOrder_Empty(t *testing.T) {
	g := newTestGraph(t)
	if got := g.TopologicalOrder("art", 1); len(got) != 0 {
		t.Errorf("expected empty order, got %v", ids(got))
	}
}

func TestTopologicalOrder_Deterministic(t *testing.T) {
	g := newTestGraph(t)
	first := ids(g.TopologicalOrder("math", 3))
	for i := 0; i < 20; i++ {
		if got := ids(g.TopologicalOrder("math", 3)); !slices.Equal(got, first) {
			t.Fatalf("run %d: %v != %v", i, got, first)
		}
	}
}

func TestDefaultCatalog_ParentBeforeChild(t *testing.T) {
	g, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, subject := range g.Subjects() {
		for grade := 1; grade <= 6; grade++ {
			order := g.TopologicalOrder(subject, grade)
			pos := make(map[string]int, len(order))
			for i, p := range order {
				pos[p.ID] = i
			}
			for _, p := range order {
				if pp, ok := pos[p.ParentID]; ok && pp > pos[p.ID] {
					t.Errorf("%s/%d: %q placed before its parent %q", subject, grade, p.ID, p.ParentID)
				}
			}
		}
	}
}

func TestSubjects(t *testing.T) {
	g := newTestGraph(t)
	if got, want := g.Subjects(), []string{"english", "math"}; !slices.Equal(got, want) {
		t.Errorf("Subjects() = %v, want %v", got, want)
	}
}
