// Package structure implements the Structure Extractor wrapper:
// an offline calibration phase that persists per-scale threshold statistics,
// and an online phase that runs a texture/pattern kernel per texture type
// with cross-chunk remainder buffering.
package structure

import (
	"context"
	"fmt"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// TextureType is one of the four kernel passes run per chunk.
type TextureType string

const (
	Fast   TextureType = "f"
	Upward TextureType = "u"
	Slow   TextureType = "s"
	Down   TextureType = "d"
)

var textureTypes = []TextureType{Fast, Upward, Slow, Down}

// FrameOffsets gives the kernel's time-axis margins in samples.
type FrameOffsets struct {
	First int
	Last  int
}

// ScaleOffsets gives the kernel's scale-axis margins in bands.
type ScaleOffsets struct {
	First int
	Last  int
}

// Kernel computes texture and pattern arrays for one texture type over a
// TSRep window; shape matches the input (rows = scales, cols = time).
type Kernel interface {
	FrameOffsets() FrameOffsets
	ScaleOffsets() ScaleOffsets

	// Calibrate computes the full per-texture-type stats set (correlation
	// statistics, threshold crossings, interpolation deltas, context areas)
	// from a single Calibration chunk, to be persisted by the Cache.
	Calibrate(tsrep chunk.Payload) (Calibration, error)

	// Run applies the kernel for texture type tt to window (already
	// prepended with the carried remainder), using the calibration stats
	// loaded for this stream and texture type. It returns texture and
	// pattern arrays of the same shape as window.
	Run(tt TextureType, window chunk.Payload, stats CalibrationStats) (texture, pattern chunk.Payload, err error)
}

// TextureStats holds the calibrated statistics for one representation
// (pattern or tract) of one texture type.
type TextureStats struct {
	Mean                []float64
	StdDev              []float64
	ThresholdCrossings  []float64
	InterpolationDeltas []float64
	AreaSizes           []float64
	ContextAreas        [][]float64
}

// CalibrationStats is one texture type's persisted calibration output: its
// pattern and tract statistics plus the kernel margins they were computed
// under.
type CalibrationStats struct {
	Pattern TextureStats
	Tract   TextureStats

	FrameOffsets FrameOffsets
	ScaleOffsets ScaleOffsets
}

// Calibration maps texture type to its stats pair; this is the unit the
// Cache persists.
type Calibration map[TextureType]CalibrationStats

// Cache persists and loads a stream's Calibration, grounded on the same
// file-cache pattern the audio calibration path in the examples uses.
type Cache interface {
	Load(identifier string) (Calibration, bool, error)
	Save(identifier string, cal Calibration) error
}

const inputKey = "tsrep"

// Processor wraps Kernel as a board.Processor. On the
// Calibration phase it computes and persists stats instead of publishing
// texture/pattern output; in the online phase it publishes
// {f,u,s,d}_{tract,pattern} from the remainder-prepended window.
type Processor struct {
	name   string
	kernel Kernel
	cache  Cache

	remainder map[TextureType]chunk.Payload
	stats     map[string]Calibration
}

// NewProcessor builds a Structure Extractor wrapper around kernel, using
// cache to persist and load calibration state.
func NewProcessor(name string, kernel Kernel, cache Cache) *Processor {
	return &Processor{
		name:      name,
		kernel:    kernel,
		cache:     cache,
		remainder: make(map[TextureType]chunk.Payload),
		stats:     make(map[string]Calibration),
	}
}

func (p *Processor) Name() string { return p.name }

func (p *Processor) RequiredKeys() []string { return []string{inputKey} }

func (p *Processor) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	fo := p.kernel.FrameOffsets()
	so := p.kernel.ScaleOffsets()
	delta := continuity.ProcessorAlignment{
		DroppedAfterDiscontinuity: fo.First,
		IncludedPast:              fo.Last,
		InvalidSmallScales:        so.First,
		InvalidLargeScales:        so.Last,
	}
	out := make(map[string]continuity.ProcessorAlignment, len(textureTypes)*2)
	for _, tt := range textureTypes {
		out[string(tt)+"_tract"] = delta
		out[string(tt)+"_pattern"] = delta
	}
	return out, nil
}

func (p *Processor) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	input, ok := in.Inputs[inputKey]
	if !ok {
		return nil, fmt.Errorf("structure: composite %d missing input key %q", in.Number, inputKey)
	}

	if in.ChunkContinuity == continuity.Calibration {
		cal, err := p.kernel.Calibrate(input)
		if err != nil {
			return nil, fmt.Errorf("structure: calibration failed: %w", err)
		}
		if p.cache != nil {
			if err := p.cache.Save(in.Identifier, cal); err != nil {
				return nil, fmt.Errorf("structure: persisting calibration: %w", err)
			}
		}
		p.stats[in.Identifier] = cal
		return nil, nil
	}

	cal, ok := p.stats[in.Identifier]
	if !ok && p.cache != nil {
		loaded, found, err := p.cache.Load(in.Identifier)
		if err != nil {
			return nil, fmt.Errorf("structure: loading calibration cache: %w", err)
		}
		if found {
			cal = loaded
			p.stats[in.Identifier] = cal
			ok = true
		}
	}
	if !ok {
		return nil, fmt.Errorf("structure: no calibration available for identifier %q", in.Identifier)
	}

	fo := p.kernel.FrameOffsets()
	margin := fo.First + fo.Last

	out := make(map[string]chunk.Payload, len(textureTypes)*2)
	for _, tt := range textureTypes {
		stats, has := cal[tt]
		if !has {
			return nil, fmt.Errorf("structure: calibration for identifier %q missing texture type %q", in.Identifier, tt)
		}

		window := input
		if in.Continuity.AtLeast(continuity.WithPrevious) {
			if prev, has := p.remainder[tt]; has {
				window = prev.Concat(input)
			}
		}

		texture, pattern, err := p.kernel.Run(tt, window, stats)
		if err != nil {
			return nil, fmt.Errorf("structure: kernel run (%s): %w", tt, err)
		}

		if window.Cols >= margin {
			p.remainder[tt] = window.Slice(window.Cols-margin, window.Cols)
		} else {
			p.remainder[tt] = window
		}

		out[string(tt)+"_tract"] = texture
		out[string(tt)+"_pattern"] = pattern
	}
	return out, nil
}

func (p *Processor) Finalize() error { return nil }
