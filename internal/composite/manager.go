// Package composite implements the per-processor synchroniser:
// it indexes pending composites by absolute chunk number, enforces ordering
// and loss detection, derives stream-stable alignment, and slices incoming
// arrays down to the common valid region before a processor ever sees them.
package composite

import (
	"log/slog"
	"time"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/errors"
)

// Result is one processed composite: the fused metadata the owning
// processor needs plus the per-key trimmed payload, ready for the
// processor's process() step.
type Result struct {
	Number            int64
	// Dropped counts earlier, still-incomplete composites this completion
	// condemned by the admission rule.
	Dropped           int
	Continuity        continuity.Continuity
	ChunkContinuity   continuity.Continuity
	AlignmentIn       continuity.ChunkAlignment
	AlignmentsOut     map[string]continuity.ChunkAlignment
	StartTime         time.Time
	InitialSampleTime time.Time
	Identifier         string
	Metadata           map[string]chunk.ChunkMeta
	DataGenerationTime map[string]time.Time
	Sources            map[string]struct{}
	Inputs             map[string]chunk.Payload
}

// Manager is a single processor's composite synchroniser. It is not safe
// for concurrent use from more than one goroutine; a processor's main loop
// is the only caller.
type Manager struct {
	keys             []string
	processorAligns  map[string]continuity.ProcessorAlignment
	strictIdentifier bool
	logger           *slog.Logger

	list         []*chunk.CompositeChunk
	index0Number int64
	hasIndex0    bool

	hasLastCompleted bool
	lastCompletedNum int64

	alignmentCached bool
	alignmentIn     continuity.ChunkAlignment
	alignmentsOut   map[string]continuity.ChunkAlignment

	prevRawData map[string]chunk.Payload
}

// NewManager constructs a composite manager for a processor subscribing to
// the given receiver keys, one ProcessorAlignment per output key, and the
// Open-Question-configurable strict identifier check.
func NewManager(keys []string, processorAligns map[string]continuity.ProcessorAlignment, strictIdentifier bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		keys:             append([]string(nil), keys...),
		processorAligns:  processorAligns,
		strictIdentifier: strictIdentifier,
		logger:           logger,
		prevRawData:      make(map[string]chunk.Payload),
	}
}

// Inject delivers chunk c on receiver key. It returns a non-nil Result
// exactly when this delivery completed a composite; the
// composite manager guarantees each composite is processed at most once.
func (m *Manager) Inject(key string, c chunk.Chunk) (*Result, error) {
	switch {
	case !m.hasIndex0:
		m.list = []*chunk.CompositeChunk{chunk.NewCompositeChunk(c.Number, m.keys)}
		m.index0Number = c.Number
		m.hasIndex0 = true

	case c.Number < m.index0Number:
		m.logger.Warn("composite: chunk arrived late, dropping",
			"key", key, "number", c.Number, "index0", m.index0Number)
		return nil, nil

	case c.Number-m.index0Number >= int64(len(m.list)):
		for next := m.index0Number + int64(len(m.list)); next <= c.Number; next++ {
			m.list = append(m.list, chunk.NewCompositeChunk(next, m.keys))
		}
	}

	idx := c.Number - m.index0Number
	composite := m.list[idx]
	completed := composite.Deliver(key, c)
	if !completed {
		return nil, nil
	}
	return m.processComposite(int(idx))
}

// processComposite finalises the composite at position idx, discards every
// composite at or before idx (a later composite completing first condemns
// every earlier, still-incomplete composite to loss), and computes the
// published Result.
func (m *Manager) processComposite(idx int) (*Result, error) {
	composite := m.list[idx]
	m.list = m.list[idx+1:]
	m.index0Number = composite.Number + 1

	inputs := composite.Inputs()
	rawCont := mergeChunkContinuities(inputs)
	cont := rawCont
	if cont == continuity.WithPrevious {
		if !m.hasLastCompleted || composite.Number != m.lastCompletedNum+1 {
			cont = continuity.Discontinuous
		}
	}
	composite.ChunkContinuity = rawCont
	composite.Continuity = cont

	alignmentIn, err := m.resolveAlignmentIn(inputs)
	if err != nil {
		return nil, err
	}
	alignmentsOut := m.resolveAlignmentsOut(alignmentIn)

	identifier, err := m.resolveIdentifier(composite, inputs, cont)
	if err != nil {
		return nil, err
	}

	trimmed := make(map[string]chunk.Payload, len(composite.Received))
	var trimmedLen = -1
	for key, c := range composite.Received {
		prev, hasPrev := m.prevRawData[key]
		var prevPtr *chunk.Payload
		if hasPrev {
			prevPtr = &prev
		}
		out, err := trimInput(alignmentIn, c, prevPtr, cont)
		if err != nil {
			return nil, err
		}
		if c.Alignment.Alignable && !out.IsEvent() {
			if trimmedLen == -1 {
				trimmedLen = out.Cols
			} else if out.Cols != trimmedLen {
				return nil, errors.ProtocolErrorf("composite",
					"composite %d: aligned inputs disagree on trimmed length (key %s has %d, expected %d)",
					composite.Number, key, out.Cols, trimmedLen)
			}
		}
		trimmed[key] = out
		m.prevRawData[key] = c.Data
	}

	startTime := earliestStartTime(inputs)
	initialSampleTime := computeInitialSampleTime(startTime, alignmentIn, cont)

	metadata := make(map[string]chunk.ChunkMeta)
	sources := make(map[string]struct{})
	genTime := make(map[string]time.Time)
	for _, c := range inputs {
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		for s := range c.Sources {
			sources[s] = struct{}{}
		}
		for k, v := range c.DataGenerationTime {
			genTime[k] = v
		}
	}

	m.hasLastCompleted = true
	m.lastCompletedNum = composite.Number
	composite.State = chunk.Processed

	return &Result{
		Number:            composite.Number,
		Dropped:           idx,
		Continuity:        cont,
		ChunkContinuity:   rawCont,
		AlignmentIn:       alignmentIn,
		AlignmentsOut:     alignmentsOut,
		StartTime:         startTime,
		InitialSampleTime: initialSampleTime,
		Identifier:         identifier,
		Metadata:           metadata,
		DataGenerationTime: genTime,
		Sources:            sources,
		Inputs:             trimmed,
	}, nil
}

// resolveAlignmentIn computes alignment_in once (on first processed
// composite) and caches it for the stream's lifetime.
func (m *Manager) resolveAlignmentIn(inputs []chunk.Chunk) (continuity.ChunkAlignment, error) {
	if m.alignmentCached {
		return m.alignmentIn, nil
	}
	aligns := make([]continuity.ChunkAlignment, 0, len(inputs))
	for _, c := range inputs {
		aligns = append(aligns, c.Alignment)
	}
	in, err := continuity.MergeAll(aligns)
	if err != nil {
		return continuity.ChunkAlignment{}, errors.New(err).Component("composite").Kind(errors.KindProtocol).Build()
	}
	m.alignmentIn = in
	m.alignmentCached = true
	return in, nil
}

// resolveAlignmentsOut imposes each output key's ProcessorAlignment on the
// (cached) alignment_in, caching the result so every subsequent composite
// reuses the same per-key output alignment.
func (m *Manager) resolveAlignmentsOut(alignmentIn continuity.ChunkAlignment) map[string]continuity.ChunkAlignment {
	if m.alignmentsOut != nil {
		return m.alignmentsOut
	}
	out := make(map[string]continuity.ChunkAlignment, len(m.processorAligns))
	for key, delta := range m.processorAligns {
		out[key] = delta.Apply(alignmentIn)
	}
	m.alignmentsOut = out
	return out
}

// resolveIdentifier checks that every input's identifier agrees whenever
// the composite is at least WithPrevious, configurable to a warning
// instead of an error.
func (m *Manager) resolveIdentifier(composite *chunk.CompositeChunk, inputs []chunk.Chunk, cont continuity.Continuity) (string, error) {
	var id string
	var set bool
	for _, c := range inputs {
		if !set {
			id = c.Identifier
			set = true
			continue
		}
		if c.Identifier != id {
			if cont.AtLeast(continuity.WithPrevious) {
				if m.strictIdentifier {
					return "", errors.ProtocolErrorf("composite",
						"composite %d: conflicting identifiers %q and %q on WithPrevious inputs",
						composite.Number, id, c.Identifier)
				}
				m.logger.Warn("composite: conflicting identifiers on WithPrevious composite",
					"number", composite.Number, "a", id, "b", c.Identifier)
			}
		}
	}
	return id, nil
}

func mergeChunkContinuities(inputs []chunk.Chunk) continuity.Continuity {
	conts := make([]continuity.Continuity, 0, len(inputs))
	for _, c := range inputs {
		conts = append(conts, c.Continuity)
	}
	return continuity.MergeInputs(conts)
}

func earliestStartTime(inputs []chunk.Chunk) time.Time {
	var earliest time.Time
	for _, c := range inputs {
		if earliest.IsZero() || c.StartTime.Before(earliest) {
			earliest = c.StartTime
		}
	}
	return earliest
}

// computeInitialSampleTime computes start_time + delta/fsampling, where
// delta is -included_past in the continuous case and
// +dropped_after_discontinuity otherwise: the wall-clock time of the first
// logically valid sample in the aligned window.
func computeInitialSampleTime(startTime time.Time, alignmentIn continuity.ChunkAlignment, cont continuity.Continuity) time.Time {
	if alignmentIn.FSampling <= 0 {
		return startTime
	}
	var deltaSamples float64
	if cont.AtLeast(continuity.WithPrevious) {
		deltaSamples = -float64(alignmentIn.IncludedPast)
	} else {
		deltaSamples = float64(alignmentIn.DroppedAfterDiscontinuity)
	}
	return startTime.Add(time.Duration(deltaSamples / alignmentIn.FSampling * float64(time.Second)))
}
