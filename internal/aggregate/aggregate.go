// Package aggregate implements the PTN/MaxTract block aggregator: a
// rolling block buffer over {E, f_tract, s_tract} streams that
// emits per-band energy/pulse/tone/noise means every block_width samples.
package aggregate

import (
	"context"
	"fmt"
	"math"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

const (
	keyEnergy = "E"
	keyFTract = "f_tract"
	keySTract = "s_tract"
)

// Config parameterizes the aggregator.
type Config struct {
	BlockWidth int
	// SplitPoints partitions the scale axis into bands; bandmean discards
	// the first and last resulting bands.
	SplitPoints []int
	Threshold   float64
	Slope       float64
	LogCompress bool
	Reference   float64
}

// Processor maintains the rolling block buffer and emits block-rate
// energy/pulse/tone/noise means.
type Processor struct {
	name string
	cfg  Config

	buf        blockBuffer
	blockStart int64 // first aligned sample index of the current block
	seen       int64
}

func NewProcessor(name string, cfg Config) *Processor {
	return &Processor{name: name, cfg: cfg}
}

func (p *Processor) Name() string { return p.name }

func (p *Processor) RequiredKeys() []string { return []string{keyEnergy, keyFTract, keySTract} }

func (p *Processor) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	return map[string]continuity.ProcessorAlignment{
		"energy": {},
		"pulse":  {},
		"tone":   {},
		"noise":  {},
	}, nil
}

// blockBuffer accumulates rank-2 (scale x time) columns until block_width
// samples have arrived, across possibly many input chunks.
type blockBuffer struct {
	e, f, s chunk.Payload
	filled  int
}

func (b *blockBuffer) reset() {
	b.e, b.f, b.s = chunk.Payload{}, chunk.Payload{}, chunk.Payload{}
	b.filled = 0
}

func (b *blockBuffer) append(e, f, s chunk.Payload) {
	if b.filled == 0 {
		b.e, b.f, b.s = e, f, s
	} else {
		b.e = b.e.Concat(e)
		b.f = b.f.Concat(f)
		b.s = b.s.Concat(s)
	}
	b.filled = b.e.Cols
}

func (p *Processor) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	e, ok := in.Inputs[keyEnergy]
	if !ok {
		return nil, fmt.Errorf("aggregate: composite %d missing input key %q", in.Number, keyEnergy)
	}
	f, ok := in.Inputs[keyFTract]
	if !ok {
		return nil, fmt.Errorf("aggregate: composite %d missing input key %q", in.Number, keyFTract)
	}
	s, ok := in.Inputs[keySTract]
	if !ok {
		return nil, fmt.Errorf("aggregate: composite %d missing input key %q", in.Number, keySTract)
	}

	if !in.Continuity.AtLeast(continuity.WithPrevious) {
		p.buf.reset()
	}

	p.buf.append(e, f, s)

	out := make(map[string]chunk.Payload)
	for p.buf.filled >= p.cfg.BlockWidth {
		block := p.emitBlock()
		for k, v := range block {
			if existing, has := out[k]; has {
				out[k] = existing.Concat(v)
			} else {
				out[k] = v
			}
		}

		rest := p.cfg.BlockWidth
		p.buf.e = p.buf.e.Slice(rest, p.buf.e.Cols)
		p.buf.f = p.buf.f.Slice(rest, p.buf.f.Cols)
		p.buf.s = p.buf.s.Slice(rest, p.buf.s.Cols)
		p.buf.filled = p.buf.e.Cols
	}

	return out, nil
}

// emitBlock computes the four band-mean outputs from the first
// block_width columns of the buffer.
func (p *Processor) emitBlock() map[string]chunk.Payload {
	e := p.buf.e.Slice(0, p.cfg.BlockWidth)
	f := p.buf.f.Slice(0, p.cfg.BlockWidth)
	s := p.buf.s.Slice(0, p.cfg.BlockWidth)

	rows, cols := e.Rows, e.Cols
	gatedF := make([]float64, rows*cols)
	gatedS := make([]float64, rows*cols)
	pulseVals := make([]float64, rows*cols)
	toneVals := make([]float64, rows*cols)
	noiseVals := make([]float64, rows*cols)
	energyVals := make([]float64, rows*cols)

	for i := 0; i < rows*cols; i++ {
		ev := e.Values[i]
		gf := gate(f.Values[i], p.cfg.Threshold, p.cfg.Slope)
		gs := gate(s.Values[i], p.cfg.Threshold, p.cfg.Slope)
		gatedF[i] = gf
		gatedS[i] = gs
		energyVals[i] = ev
		pulseVals[i] = ev * gf
		toneVals[i] = ev * gs
		noiseVals[i] = ev * (1 - gf) * (1 - gs)
	}

	energy := bandmean(chunk.Payload{Values: energyVals, Rows: rows, Cols: cols}, p.cfg.SplitPoints)
	pulse := bandmean(chunk.Payload{Values: pulseVals, Rows: rows, Cols: cols}, p.cfg.SplitPoints)
	tone := bandmean(chunk.Payload{Values: toneVals, Rows: rows, Cols: cols}, p.cfg.SplitPoints)
	noise := bandmean(chunk.Payload{Values: noiseVals, Rows: rows, Cols: cols}, p.cfg.SplitPoints)

	if p.cfg.LogCompress {
		for i := range energy.Values {
			energy.Values[i] = math.Log2(energy.Values[i]+1e-12) - p.cfg.Reference
		}
	}

	return map[string]chunk.Payload{
		"energy": energy,
		"pulse":  pulse,
		"tone":   tone,
		"noise":  noise,
	}
}

// gate is the soft threshold (1+tanh((x-threshold)*slope))/2.
func gate(x, threshold, slope float64) float64 {
	return (1 + math.Tanh((x-threshold)*slope)) / 2
}

// bandmean partitions the scale axis (rows) by splitPoints and returns the
// per-band mean across each band's rows, one output row per band, discarding
// the first and last resulting bands.
func bandmean(data chunk.Payload, splitPoints []int) chunk.Payload {
	bounds := append([]int{0}, splitPoints...)
	bounds = append(bounds, data.Rows)

	var bands [][2]int
	for i := 0; i+1 < len(bounds); i++ {
		bands = append(bands, [2]int{bounds[i], bounds[i+1]})
	}
	if len(bands) <= 2 {
		return chunk.Payload{Rows: 0, Cols: data.Cols}
	}
	kept := bands[1 : len(bands)-1]

	out := chunk.Payload{Rows: len(kept), Cols: data.Cols, Values: make([]float64, len(kept)*data.Cols)}
	for bi, band := range kept {
		lo, hi := band[0], band[1]
		n := hi - lo
		if n <= 0 {
			continue
		}
		for c := 0; c < data.Cols; c++ {
			var sum float64
			for r := lo; r < hi; r++ {
				sum += data.Values[r*data.Cols+c]
			}
			out.Values[bi*data.Cols+c] = sum / float64(n)
		}
	}
	return out
}

func (p *Processor) Finalize() error { return nil }
