// Package board implements the DAG runtime: the Board
// instantiates processors, wires them together with typed channels, and
// supervises them; the Processor base handles the prerun/poll/process/
// finalize lifecycle and the composite-manager-backed publish contract.
package board

import (
	"context"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Processor is the capability every non-source DAG node implements: it
// consumes one composite (a synchronised bundle of sibling chunks) at a
// time and produces zero or more output payloads keyed by sender key.
type Processor interface {
	Name() string

	// RequiredKeys lists the receiver keys this processor subscribes to.
	// The Board's TestRequiredKeys handshake checks this against the
	// subscription orders supplied to StartProcessor.
	RequiredKeys() []string

	// Prerun initialises kernels and returns this processor's per-output
	// ProcessorAlignment map.
	Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error)

	// Process runs on a completed composite and returns the produced
	// payloads keyed by output sender key. Keys absent from the map are not
	// published for this composite.
	Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error)

	// Finalize releases resources and flushes state; called exactly once,
	// after a Stop or a Last chunk has propagated through every input.
	Finalize() error
}

// SourceProcessor is an Input Processor: it has no inputs and
// no composite manager, and drives its own generation loop.
type SourceProcessor interface {
	Name() string

	Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error)

	// Generate produces the next chunk's worth of output payloads. ok is
	// false once the source is exhausted (after emitting a Last chunk);
	// Generate is not called again after that.
	Generate(ctx context.Context) (out GeneratedData, ok bool, err error)

	Finalize() error
}

// GeneratedData is what a SourceProcessor hands the runtime for one
// generation step: the per-key payloads plus the envelope fields a Board
// Processor would otherwise derive from a composite.
type GeneratedData struct {
	Payloads   map[string]chunk.Payload
	Continuity continuity.Continuity
	Identifier string
}

// ErrorMessage is what a processor reports to the Board when it cannot
// recover locally.
type ErrorMessage struct {
	Kind      string // mirrors errors.ErrorKind values
	Message   string
	Processor string
}
