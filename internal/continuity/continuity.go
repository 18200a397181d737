// Package continuity defines the Continuity tag and the alignment value
// types every chunk carries, and the merge rules the composite manager and
// processor wrappers apply to them.
package continuity

import "fmt"

// Continuity describes a chunk's relationship to its predecessor.
type Continuity int

const (
	// Invalid means the input driver dropped samples; the next chunk from
	// this producer must degrade to Discontinuous.
	Invalid Continuity = iota
	// Discontinuous means the stream restarted; downstream state must drop.
	Discontinuous
	// NewFile is a Discontinuous subtype signalling a source switch (new
	// file, new identifier). It ranks just above Discontinuous and below
	// WithPrevious.
	NewFile
	// Calibration marks a single special chunk carrying calibration
	// material; it is never a data chunk.
	Calibration
	// WithPrevious means the chunk is contiguous with chunk number-1.
	WithPrevious
	// Last is the mock-data terminator propagated end-to-end so every
	// processor can flush and finalize exactly once.
	Last
)

func (c Continuity) String() string {
	switch c {
	case Invalid:
		return "Invalid"
	case Discontinuous:
		return "Discontinuous"
	case NewFile:
		return "NewFile"
	case Calibration:
		return "Calibration"
	case WithPrevious:
		return "WithPrevious"
	case Last:
		return "Last"
	default:
		return fmt.Sprintf("Continuity(%d)", int(c))
	}
}

// AtLeast reports whether c is at least as contiguous as other, i.e. a chunk
// may be joined to its predecessor whenever AtLeast(WithPrevious) holds.
func (c Continuity) AtLeast(other Continuity) bool {
	return c >= other
}

// Min returns the lesser (less contiguous, more severe) of two continuities.
func Min(a, b Continuity) Continuity {
	if a < b {
		return a
	}
	return b
}

// MergeInputs folds the per-input continuities of a composite into the
// composite's raw continuity (chunk_continuity): the worst
// input wins. If any input is below WithPrevious, that value is the
// composite's (subject to the demotion rule the composite manager applies
// afterward based on last_completed); the composite is Last only when every
// input delivered its terminator, so the Last marker propagates through a
// multi-input processor exactly when all of its upstreams have ended.
func MergeInputs(inputs []Continuity) Continuity {
	worst := Last
	for _, c := range inputs {
		if c < worst {
			worst = c
		}
	}
	if len(inputs) == 0 {
		return WithPrevious
	}
	return worst
}
