package knowledge

// DefaultReadyLevel is the parent mastery level at which a child becomes
// studyable.
const DefaultReadyLevel = 3

// MaxMastery is the top of the 0-5 mastery scale.
const MaxMastery = 5

// KnowledgePoint is a single node of the curriculum forest.
type KnowledgePoint struct {
	ID         string   `yaml:"id"`
	Subject    string   `yaml:"subject"`
	Grade      int      `yaml:"grade"`
	Name       string   `yaml:"name"`
	Difficulty int      `yaml:"difficulty"`
	Tags       []string `yaml:"tags,omitempty"`
	ParentID   string   `yaml:"parent,omitempty"`

	// RelatedIDs is informational; it never gates readiness or ordering.
	RelatedIDs []string `yaml:"related,omitempty"`
}

// IsRoot reports whether the point has no prerequisite.
func (p KnowledgePoint) IsRoot() bool {
	return p.ParentID == ""
}

// HasTag reports whether the point carries the given tag.
func (p KnowledgePoint) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MasteryLookup returns the current mastery level (0-5) for a knowledge point.
// Points never attempted report 0.
type MasteryLookup func(id string) int

// MasteryMap adapts a plain map to a MasteryLookup.
func MasteryMap(m map[string]int) MasteryLookup {
	return func(id string) int {
		return m[id]
	}
}
