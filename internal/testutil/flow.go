package testutil

// FixedBootID generates the same boot ID every time.
//
// This enables deterministic test execution and golden trace comparison.
// The same scenario with the same FixedBootID produces byte-identical traces,
// even across simulated restarts.
//
// Unlike engine.FixedGenerator which returns IDs in sequence and panics when
// exhausted, this generator always returns the same ID.
//
// Thread-safety: FixedBootID is stateless and safe for concurrent use.
type FixedBootID struct {
	id string
}

// NewFixedBootID creates a new fixed boot ID generator.
//
// If id is empty, Generate() returns "test-boot-default".
func NewFixedBootID(id string) *FixedBootID {
	if id == "" {
		id = "test-boot-default"
	}
	return &FixedBootID{id: id}
}

// Generate returns the fixed boot ID.
//
// Implements engine.BootIDGenerator interface.
func (g *FixedBootID) Generate() string {
	return g.id
}
