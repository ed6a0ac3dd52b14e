package harness

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock time for durations and run timestamps.
// Ordering never depends on it; see Sequence.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sequence is a monotonic logical clock. Every trace event and case is
// stamped with a strictly increasing value, so the order of a run does not
// depend on wall-clock resolution.
//
// Safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run IDs, so stored runs list in
// creation order.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type fixedID string

func (id fixedID) Generate() string { return string(id) }
