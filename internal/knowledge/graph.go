package knowledge

import (
	"cmp"
	"slices"
	"sort"
)

// Graph holds the knowledge-point forest with precomputed indices.
// It is immutable after construction and safe for concurrent reads.
type Graph struct {
	points     []KnowledgePoint
	byID       map[string]*KnowledgePoint
	children   map[string][]string
	roots      []KnowledgePoint
	topoIndex  map[string]int
	readyLevel int
	warnings   []string
}

// Option configures a Graph.
type Option func(*Graph)

// WithReadyLevel overrides the parent mastery required for readiness.
func WithReadyLevel(level int) Option {
	return func(g *Graph) {
		if level > 0 && level <= MaxMastery {
			g.readyLevel = level
		}
	}
}

// New validates the points and builds the graph indices.
func New(points []KnowledgePoint, opts ...Option) (*Graph, error) {
	warnings, err := validatePoints(points)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		points:     slices.Clone(points),
		byID:       make(map[string]*KnowledgePoint, len(points)),
		children:   make(map[string][]string),
		topoIndex:  make(map[string]int, len(points)),
		readyLevel: DefaultReadyLevel,
		warnings:   warnings,
	}
	for _, opt := range opts {
		opt(g)
	}

	for i := range g.points {
		g.byID[g.points[i].ID] = &g.points[i]
	}
	for i := range g.points {
		p := g.points[i]
		if p.IsRoot() {
			g.roots = append(g.roots, p)
			continue
		}
		g.children[p.ParentID] = append(g.children[p.ParentID], p.ID)
	}
	for parent := range g.children {
		sort.Strings(g.children[parent])
	}

	for i, p := range g.order(g.points) {
		g.topoIndex[p.ID] = i
	}
	return g, nil
}

// ReadyLevel returns the mastery level a parent needs for its children to be ready.
func (g *Graph) ReadyLevel() int {
	return g.readyLevel
}

// Warnings lists catalog problems that did not prevent construction.
func (g *Graph) Warnings() []string {
	return slices.Clone(g.warnings)
}

// Get returns a knowledge point by id.
func (g *Graph) Get(id string) (KnowledgePoint, error) {
	p, ok := g.byID[id]
	if !ok {
		return KnowledgePoint{}, unknown(id)
	}
	return *p, nil
}

// Has reports whether id is in the catalog.
func (g *Graph) Has(id string) bool {
	_, ok := g.byID[id]
	return ok
}

// Points returns every knowledge point in global topological order.
func (g *Graph) Points() []KnowledgePoint {
	out := slices.Clone(g.points)
	slices.SortFunc(out, func(a, b KnowledgePoint) int {
		return cmp.Compare(g.topoIndex[a.ID], g.topoIndex[b.ID])
	})
	return out
}

// Roots returns all points with no prerequisite.
func (g *Graph) Roots() []KnowledgePoint {
	return slices.Clone(g.roots)
}

// Children returns the points whose direct prerequisite is id, sorted by id.
func (g *Graph) Children(id string) ([]KnowledgePoint, error) {
	if !g.Has(id) {
		return nil, unknown(id)
	}
	ids := g.children[id]
	out := make([]KnowledgePoint, 0, len(ids))
	for _, cid := range ids {
		out = append(out, *g.byID[cid])
	}
	return out, nil
}

// Parent returns the direct prerequisite of id. ok is false for roots.
func (g *Graph) Parent(id string) (parent KnowledgePoint, ok bool, err error) {
	p, exists := g.byID[id]
	if !exists {
		return KnowledgePoint{}, false, unknown(id)
	}
	if p.IsRoot() {
		return KnowledgePoint{}, false, nil
	}
	return *g.byID[p.ParentID], true, nil
}

// Ancestors returns the prerequisite chain of id, nearest first.
func (g *Graph) Ancestors(id string) ([]KnowledgePoint, error) {
	p, ok := g.byID[id]
	if !ok {
		return nil, unknown(id)
	}
	var out []KnowledgePoint
	for p.ParentID != "" {
		p = g.byID[p.ParentID]
		out = append(out, *p)
	}
	return out, nil
}

// IsReady reports whether id can be studied: it is a root, or its parent's
// mastery meets the ready level.
func (g *Graph) IsReady(id string, mastery MasteryLookup) (bool, error) {
	p, ok := g.byID[id]
	if !ok {
		return false, unknown(id)
	}
	if p.IsRoot() {
		return true, nil
	}
	return mastery(p.ParentID) >= g.readyLevel, nil
}

// ChainReady reports whether id and every ancestor above it are ready.
func (g *Graph) ChainReady(id string, mastery MasteryLookup) (bool, error) {
	p, ok := g.byID[id]
	if !ok {
		return false, unknown(id)
	}
	for p.ParentID != "" {
		if mastery(p.ParentID) < g.readyLevel {
			return false, nil
		}
		p = g.byID[p.ParentID]
	}
	return true, nil
}

// BySubjectGrade returns the points of a subject and grade in topological order.
func (g *Graph) BySubjectGrade(subject string, grade int) []KnowledgePoint {
	return g.TopologicalOrder(subject, grade)
}

// Subjects returns the distinct subjects in the catalog, sorted.
func (g *Graph) Subjects() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range g.points {
		if !seen[p.Subject] {
			seen[p.Subject] = true
			out = append(out, p.Subject)
		}
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns the points of a subject and grade with every
// parent before its children. Among points whose prerequisites are already
// placed, lower difficulty comes first, then lexicographically smaller id.
// A parent outside the subject/grade slice counts as already placed.
func (g *Graph) TopologicalOrder(subject string, grade int) []KnowledgePoint {
	var subset []KnowledgePoint
	for _, p := range g.points {
		if p.Subject == subject && p.Grade == grade {
			subset = append(subset, p)
		}
	}
	return g.order(subset)
}

// order runs Kahn's algorithm over subset with the difficulty/id tie-break.
func (g *Graph) order(subset []KnowledgePoint) []KnowledgePoint {
	in := make(map[string]bool, len(subset))
	for _, p := range subset {
		in[p.ID] = true
	}

	inDegree := make(map[string]int, len(subset))
	var ready []KnowledgePoint
	for _, p := range subset {
		if p.ParentID != "" && in[p.ParentID] {
			inDegree[p.ID] = 1
			continue
		}
		ready = append(ready, p)
	}

	out := make([]KnowledgePoint, 0, len(subset))
	for len(ready) > 0 {
		slices.SortFunc(ready, byDifficultyThenID)
		p := ready[0]
		ready = ready[1:]
		out = append(out, p)

		for _, cid := range g.children[p.ID] {
			if !in[cid] {
				continue
			}
			inDegree[cid]--
			if inDegree[cid] == 0 {
				ready = append(ready, *g.byID[cid])
			}
		}
	}
	return out
}

func byDifficultyThenID(a, b KnowledgePoint) int {
	if c := cmp.Compare(a.Difficulty, b.Difficulty); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
