package chunk

import (
	"time"

	"github.com/soundmesh/soundmesh/internal/continuity"
)

// CompositeChunk is the bundle the composite manager assembles from sibling
// inputs sharing one chunk Number.
type CompositeChunk struct {
	Number int64

	// OpenKeys is the set of receiver keys still awaited before this
	// composite is Complete.
	OpenKeys map[string]struct{}
	// Received maps receiver key to the Chunk that arrived for it.
	Received map[string]Chunk

	// State tracks the composite's lifecycle: Incomplete -> Complete ->
	// Processed (exactly once).
	State CompositeState

	// Fields below are derived on completion.
	Continuity        continuity.Continuity
	ChunkContinuity   continuity.Continuity // the raw, pre-demotion continuity
	Alignment         continuity.ChunkAlignment
	StartTime         time.Time
	InitialSampleTime time.Time
	Metadata          map[string]ChunkMeta
	Identifier        string
}

// CompositeState is the lifecycle stage of a CompositeChunk.
type CompositeState int

const (
	Incomplete CompositeState = iota
	Complete
	Processed
)

// NewCompositeChunk creates an empty composite awaiting the given receiver
// keys for chunk number.
func NewCompositeChunk(number int64, keys []string) *CompositeChunk {
	open := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		open[k] = struct{}{}
	}
	return &CompositeChunk{
		Number:   number,
		OpenKeys: open,
		Received: make(map[string]Chunk, len(keys)),
		State:    Incomplete,
	}
}

// Deliver records chunk c against receiver key, returning true if this
// delivery completed the composite (all open keys now received).
func (cc *CompositeChunk) Deliver(key string, c Chunk) bool {
	cc.Received[key] = c
	delete(cc.OpenKeys, key)
	if len(cc.OpenKeys) == 0 && cc.State == Incomplete {
		cc.State = Complete
		return true
	}
	return false
}

// IsComplete reports whether every subscribed key has delivered.
func (cc *CompositeChunk) IsComplete() bool {
	return len(cc.OpenKeys) == 0
}

// Inputs returns the received chunks in map-iteration order, which is not
// stable between calls; the slice is suitable for folding because order
// does not matter for Merge/MergeInputs, both of which are commutative and
// associative.
func (cc *CompositeChunk) Inputs() []Chunk {
	out := make([]Chunk, 0, len(cc.Received))
	for _, c := range cc.Received {
		out = append(out, c)
	}
	return out
}
