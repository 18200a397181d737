// Package chunk defines the Chunk transport envelope and the CompositeChunk
// bundle the composite manager assembles from sibling inputs.
package chunk

import (
	"fmt"
	"time"

	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Payload carries a chunk's numeric data (rank-1 or rank-2, time along the
// last axis) or an opaque event payload for event-like features such as
// patch lists.
type Payload struct {
	// Values holds samples in row-major order: Rows x Cols, time along the
	// last axis (Cols). Rows == 1 for rank-1 data. Unused when Event != nil.
	Values []float64
	Rows   int
	Cols   int

	// Event holds an opaque payload for event-like (non-alignable) features.
	// Nil for numeric chunks.
	Event any
}

// IsEvent reports whether this payload is an event-like feature rather than
// a samplewise numeric array.
func (p Payload) IsEvent() bool {
	return p.Event != nil
}

// Rank reports the array rank of a numeric payload: 1 for a single-row
// time series, 2 for a scale x time matrix. Event payloads carry no
// numeric array and report 0.
func (p Payload) Rank() int {
	switch {
	case p.IsEvent():
		return 0
	case p.Rows > 1:
		return 2
	default:
		return 1
	}
}

// LastAxisLen returns the time-axis length, or 0 for event payloads.
func (p Payload) LastAxisLen() int {
	if p.IsEvent() {
		return 0
	}
	return p.Cols
}

// Row returns row r of the payload as a slice sharing the underlying array.
func (p Payload) Row(r int) []float64 {
	return p.Values[r*p.Cols : (r+1)*p.Cols]
}

// Slice returns a new Payload containing columns [lo:hi) of every row.
// Event payloads pass through verbatim.
func (p Payload) Slice(lo, hi int) Payload {
	if p.IsEvent() {
		return p
	}
	if lo < 0 {
		lo = 0
	}
	if hi > p.Cols {
		hi = p.Cols
	}
	if hi < lo {
		hi = lo
	}
	width := hi - lo
	out := Payload{Rows: p.Rows, Cols: width, Values: make([]float64, p.Rows*width)}
	for r := 0; r < p.Rows; r++ {
		copy(out.Row(r), p.Row(r)[lo:hi])
	}
	return out
}

// Concat joins p and other along the time axis; both must have the same
// Rows (or be events, in which case other is returned verbatim).
func (p Payload) Concat(other Payload) Payload {
	if p.IsEvent() || other.IsEvent() {
		return other
	}
	if p.Cols == 0 {
		return other
	}
	if other.Cols == 0 {
		return p
	}
	out := Payload{Rows: p.Rows, Cols: p.Cols + other.Cols, Values: make([]float64, p.Rows*(p.Cols+other.Cols))}
	for r := 0; r < p.Rows; r++ {
		dst := out.Row(r)
		copy(dst, p.Row(r))
		copy(dst[p.Cols:], other.Row(r))
	}
	return out
}

// ChunkMeta is one processor's contribution to a chunk's metadata map: a
// hash of its config, the config as JSON, and an optional annotation blob.
type ChunkMeta struct {
	ConfigHash     string
	ConfigJSON     string
	AnnotationJSON string
}

// Chunk is the immutable transport envelope published between processors.
type Chunk struct {
	Data       Payload
	StartTime  time.Time
	Fs         float64
	Number     int64
	Continuity continuity.Continuity
	Alignment  continuity.ChunkAlignment

	ProcessorName string
	Sources       map[string]struct{}
	Identifier    string

	// DataGenerationTime maps processor name to the wall-clock time that
	// processor published this chunk, for latency tracing.
	DataGenerationTime map[string]time.Time
	// Metadata maps processor name to that processor's ChunkMeta.
	Metadata map[string]ChunkMeta

	// InitialSampleTime is the wall-clock time of the first sample after
	// trimming; set by the composite manager.
	InitialSampleTime time.Time
}

// WithSource returns a copy of Sources with name added, used when
// publishing so sources = union(input sources, {self.name}).
func WithSource(sources map[string]struct{}, name string) map[string]struct{} {
	out := make(map[string]struct{}, len(sources)+1)
	for s := range sources {
		out[s] = struct{}{}
	}
	out[name] = struct{}{}
	return out
}

// ValidatePayload enforces the empty-payload legality rule: a numeric chunk
// of any rank with last-axis length 0 is only legal with continuity >=
// WithPrevious. Event payloads are exempt.
func (c Chunk) ValidatePayload() error {
	if c.Data.IsEvent() {
		return nil
	}
	if c.Data.LastAxisLen() == 0 && !c.Continuity.AtLeast(continuity.WithPrevious) {
		return fmt.Errorf("chunk: empty payload only legal with continuity >= WithPrevious, got %s", c.Continuity)
	}
	return nil
}

// SequenceTracker enforces the per-producer numbering and WithPrevious
// invariants: number strictly increases, and a WithPrevious
// chunk must directly follow number-1 or its continuity is demoted to
// Discontinuous.
type SequenceTracker struct {
	lastNumber int64
	hasLast    bool
}

// Admit validates and, if necessary, demotes c's continuity in place,
// returning the (possibly modified) chunk. It returns an error when the
// chunk number goes backward or repeats, or when the (possibly demoted)
// chunk fails ValidatePayload.
func (st *SequenceTracker) Admit(c Chunk) (Chunk, error) {
	if st.hasLast && c.Number <= st.lastNumber {
		return Chunk{}, fmt.Errorf("chunk: number %d did not strictly increase past %d", c.Number, st.lastNumber)
	}

	// Only WithPrevious itself is demoted on a gap; a Last terminator keeps
	// its meaning so downstream flushing is never lost to a dropped chunk.
	if c.Continuity == continuity.WithPrevious {
		expectedPrev := c.Number - 1
		if !st.hasLast || st.lastNumber != expectedPrev {
			c.Continuity = continuity.Discontinuous
		}
	}

	if err := c.ValidatePayload(); err != nil {
		return Chunk{}, err
	}

	st.lastNumber = c.Number
	st.hasLast = true
	return c, nil
}

// LastNumber returns the last admitted number and whether any chunk has
// been admitted yet.
func (st *SequenceTracker) LastNumber() (int64, bool) {
	return st.lastNumber, st.hasLast
}
