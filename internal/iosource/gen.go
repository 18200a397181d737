package iosource

import (
	"context"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// SignalKind selects a mock generator's waveform.
type SignalKind int

const (
	SignalSine SignalKind = iota
	SignalNoise
)

// SignalSource is a mock Input Processor generating a sine tone or uniform
// noise, mainly for pipeline bring-up and tests. After MaxChunks data
// chunks it emits a Last terminator and stops; MaxChunks 0 runs unbounded.
type SignalSource struct {
	name      string
	kind      SignalKind
	fs        float64
	freq      float64
	amplitude float64
	chunkSize int
	maxChunks int64

	identifier string
	rng        *rand.Rand
	phase      float64
	emitted    int64
}

// NewSignalSource builds a generator of the given kind. freq is ignored for
// noise.
func NewSignalSource(name string, kind SignalKind, fs, freq, amplitude float64, chunkSize int, maxChunks int64) *SignalSource {
	return &SignalSource{
		name:      name,
		kind:      kind,
		fs:        fs,
		freq:      freq,
		amplitude: amplitude,
		chunkSize: chunkSize,
		maxChunks: maxChunks,
		rng:       rand.New(rand.NewSource(1)),
	}
}

func (s *SignalSource) Name() string { return s.name }

func (s *SignalSource) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	s.identifier = uuid.NewString()
	return map[string]continuity.ProcessorAlignment{outputKey: {FSamplingOut: s.fs}}, nil
}

func (s *SignalSource) Generate(ctx context.Context) (board.GeneratedData, bool, error) {
	if s.maxChunks > 0 && s.emitted >= s.maxChunks {
		return board.GeneratedData{
			Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: 0}},
			Continuity: continuity.Last,
			Identifier: s.identifier,
		}, true, nil
	}

	values := make([]float64, s.chunkSize)
	switch s.kind {
	case SignalSine:
		step := 2 * math.Pi * s.freq / s.fs
		for i := range values {
			values[i] = s.amplitude * math.Sin(s.phase)
			s.phase += step
		}
		s.phase = math.Mod(s.phase, 2*math.Pi)
	default:
		for i := range values {
			values[i] = s.amplitude * (2*s.rng.Float64() - 1)
		}
	}

	cont := continuity.WithPrevious
	if s.emitted == 0 {
		cont = continuity.Discontinuous
	}
	s.emitted++

	return board.GeneratedData{
		Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: s.chunkSize, Values: values}},
		Continuity: cont,
		Identifier: s.identifier,
	}, true, nil
}

func (s *SignalSource) Finalize() error { return nil }
