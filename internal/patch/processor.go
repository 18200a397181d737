package patch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Quantiser turns a timescale representation into the integer levels
// matrix the labeller operates on.
type Quantiser interface {
	Quantise(tsrep chunk.Payload) Matrix
}

// Descriptor is the publishable form of one patch: the kernel's
// Patch plus a stable UUID, the chunk it last grew in, its type label, and
// the shape and timing measures derived from the stream's sample rate and
// the chunk's initial sample time. A patch merged across a chunk boundary
// keeps the UUID it was first created under.
type Descriptor struct {
	Patch

	ID          uuid.UUID
	ChunkNumber int64
	TypeLabel   string

	// TRangeSeconds is the patch's frame range as wall-clock Unix seconds.
	TRangeSeconds [2]float64

	Duration  int
	Height    int
	FillRatio float64
}

// MarkedPatches is the per-chunk publish-ready patch bundle.
type MarkedPatches struct {
	Finalized   []Descriptor
	Unfinalized []Descriptor
	JoinMatrix  []JoinPair
}

// Output is the event payload published on the "patches" key: this
// chunk's full patch list plus its marked split.
type Output struct {
	Matrix  Matrix
	Levels  Matrix
	Patches []Descriptor
	Marked  MarkedPatches
}

const inputKey = "tsrep"

// Processor wraps the label/join pipeline as a board.Processor. It
// publishes matrix, levels, patches, and marked_patches, all
// event-like (non-alignable). Frame coordinates are rebased to absolute
// frame indices counted from the last discontinuity, so a patch merged
// across a chunk boundary has a contiguous [t_low, t_high] range.
type Processor struct {
	name      string
	typeLabel string
	quantiser Quantiser

	state       CrossChunkState
	prevPatches map[int]Patch

	// ids maps the label of each still-joinable (unfinalized) patch to its
	// persistent UUID; finalized patches leave the map with their chunk's
	// arena.
	ids map[int]uuid.UUID

	frameBase   int
	streamStart time.Time
}

func NewProcessor(name, typeLabel string, quantiser Quantiser) *Processor {
	return &Processor{
		name:        name,
		typeLabel:   typeLabel,
		quantiser:   quantiser,
		prevPatches: make(map[int]Patch),
		ids:         make(map[int]uuid.UUID),
	}
}

func (p *Processor) Name() string { return p.name }

func (p *Processor) RequiredKeys() []string { return []string{inputKey} }

func (p *Processor) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	// Patch output is event-like; ProcessorAlignment fields are irrelevant
	// beyond fsampling propagation, left at the zero delta.
	return map[string]continuity.ProcessorAlignment{
		"matrix":         {},
		"levels":         {},
		"patches":        {},
		"marked_patches": {},
	}, nil
}

func (p *Processor) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	tsrep, ok := in.Inputs[inputKey]
	if !ok {
		return nil, fmt.Errorf("patch: composite %d missing input key %q", in.Number, inputKey)
	}

	contiguous := in.Continuity.AtLeast(continuity.WithPrevious)
	if !contiguous {
		p.frameBase = 0
		p.streamStart = in.InitialSampleTime
		p.ids = make(map[int]uuid.UUID)
		p.prevPatches = make(map[int]Patch)
	}
	if p.streamStart.IsZero() {
		p.streamStart = in.InitialSampleTime
	}

	levels := p.quantiser.Quantise(tsrep)
	matrix, patches := Label(levels, p.state.CumulativePatchCount)
	for i := range patches {
		patches[i].TLow += p.frameBase
		patches[i].THigh += p.frameBase
	}

	pairs, merged, err := Join(&p.state, in.Number, contiguous,
		matrix, levels, patches, func(canonical int) (Patch, bool) {
			pp, ok := p.prevPatches[canonical]
			return pp, ok
		})
	if err != nil {
		return nil, fmt.Errorf("patch: cross-chunk join: %w", err)
	}

	descriptors := p.describe(merged, in)

	var finalized, unfinalized []Descriptor
	p.prevPatches = make(map[int]Patch)
	nextIDs := make(map[int]uuid.UUID)
	for _, d := range descriptors {
		if d.TouchesLastColumn {
			unfinalized = append(unfinalized, d)
			p.prevPatches[d.Label] = d.Patch
			nextIDs[d.Label] = d.ID
		} else {
			finalized = append(finalized, d)
		}
	}
	p.ids = nextIDs

	p.state.Advance(levels, matrix, len(patches), in.Number)
	p.frameBase += levels.T

	out := Output{
		Matrix:  matrix,
		Levels:  levels,
		Patches: descriptors,
		Marked: MarkedPatches{
			Finalized:   finalized,
			Unfinalized: unfinalized,
			JoinMatrix:  pairs,
		},
	}

	return map[string]chunk.Payload{
		"matrix":         {Event: matrix},
		"levels":         {Event: levels},
		"patches":        {Event: out.Patches},
		"marked_patches": {Event: out.Marked},
	}, nil
}

// describe attaches identity and derived statistics to each merged patch.
// A patch whose label already has a UUID (it was unfinalized in the
// previous chunk and this chunk's join kept its canonical label) keeps it;
// fresh labels get a new one.
func (p *Processor) describe(merged []Patch, in *composite.Result) []Descriptor {
	fs := in.AlignmentIn.FSampling
	startSec := float64(p.streamStart.UnixNano()) / float64(time.Second)

	out := make([]Descriptor, 0, len(merged))
	for _, pt := range merged {
		id, ok := p.ids[pt.Label]
		if !ok {
			id = uuid.New()
		}

		d := Descriptor{
			Patch:       pt,
			ID:          id,
			ChunkNumber: in.Number,
			TypeLabel:   p.typeLabel,
			Duration:    pt.THigh - pt.TLow + 1,
			Height:      pt.SHigh - pt.SLow + 1,
		}
		d.FillRatio = float64(pt.Size) / float64(d.Duration*d.Height)
		if fs > 0 {
			d.TRangeSeconds = [2]float64{
				startSec + float64(pt.TLow)/fs,
				startSec + float64(pt.THigh+1)/fs,
			}
		}
		out = append(out, d)
	}
	return out
}

func (p *Processor) Finalize() error { return nil }
