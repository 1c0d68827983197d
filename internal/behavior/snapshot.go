package behavior

import "github.com/wsaxqd/home-work2-sub001/internal/knowledge"

// Snapshot is a read-only view of a user's records keyed by knowledge point.
type Snapshot struct {
	UserID  string
	Records map[string]Record
}

// NewSnapshot indexes records by knowledge point id.
func NewSnapshot(userID string, recs []Record) Snapshot {
	s := Snapshot{UserID: userID, Records: make(map[string]Record, len(recs))}
	for _, r := range recs {
		s.Records[r.KnowledgePointID] = r
	}
	return s
}

// Get returns the record for id and whether one exists.
func (s Snapshot) Get(id string) (Record, bool) {
	r, ok := s.Records[id]
	return r, ok
}

// Mastery returns the mastery level of id, 0 when never attempted.
func (s Snapshot) Mastery(id string) int {
	return s.Records[id].MasteryLevel
}

// Lookup adapts the snapshot for knowledge.Graph readiness checks.
func (s Snapshot) Lookup() knowledge.MasteryLookup {
	return s.Mastery
}
