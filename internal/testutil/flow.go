package testutil

// FixedRunIDs hands out the same run ID every time.
//
// Runs stamped with a fixed ID produce byte-identical stores and golden
// snapshots. It satisfies the harness IDGenerator interface.
//
// Thread-safety: FixedRunIDs is stateless and safe for concurrent use.
type FixedRunIDs struct {
	id string
}

// NewFixedRunIDs creates a generator that always returns id.
// If id is empty, Generate returns "test-run-default".
func NewFixedRunIDs(id string) *FixedRunIDs {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDs{id: id}
}

// Generate returns the fixed run ID.
func (g *FixedRunIDs) Generate() string {
	return g.id
}
