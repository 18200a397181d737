// Package iosource implements the input-boundary processors:
// a WAV file reader, an HDF reader, a microphone capture source, and a
// sine/noise signal generator. All four are Input Processors in the board
// sense: no subscriptions, driving their own Generate loop.
package iosource

import (
	"context"
	"io"
	"math/rand"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

const outputKey = "timeseries"

// DitherKind selects the optional dither added to each WAV sample after it
// is scaled to float64; both kinds stay within half of one 16-bit step.
type DitherKind int

const (
	DitherNone DitherKind = iota
	DitherUniform
	DitherBinomial
)

// WAVSource is the Input Processor reading one WAV file in fixed-size
// chunks: fs from the file header, first chunk NewFile, last chunk Last
// with a null payload, optional dither.
type WAVSource struct {
	name      string
	path      string
	chunkSize int
	dither    DitherKind

	file       *os.File
	decoder    *wav.Decoder
	identifier string
	rng        *rand.Rand
	emittedAny bool
	number     int64
}

// NewWAVSource builds a WAV Input Processor reading path in chunkSize-frame
// blocks.
func NewWAVSource(name, path string, chunkSize int, dither DitherKind) *WAVSource {
	return &WAVSource{name: name, path: path, chunkSize: chunkSize, dither: dither, rng: rand.New(rand.NewSource(1))}
}

func (s *WAVSource) Name() string { return s.name }

func (s *WAVSource) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	s.file = f
	s.decoder = wav.NewDecoder(f)
	if !s.decoder.IsValidFile() {
		f.Close()
		return nil, errInvalidWAV(s.path)
	}
	s.identifier = uuid.NewString()
	return map[string]continuity.ProcessorAlignment{
		outputKey: {FSamplingOut: float64(s.decoder.SampleRate)},
	}, nil
}

func (s *WAVSource) Generate(ctx context.Context) (board.GeneratedData, bool, error) {
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: int(s.decoder.SampleRate)},
		Data:   make([]int, s.chunkSize),
	}

	n, err := s.decoder.PCMBuffer(buf)
	if err != nil && err != io.EOF {
		return board.GeneratedData{}, false, err
	}
	if n == 0 || err == io.EOF {
		s.file.Close()
		s.file = nil
		return board.GeneratedData{
			Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: 0}},
			Continuity: continuity.Last,
			Identifier: s.identifier,
		}, true, nil
	}

	values := make([]float64, n)
	scale := 1.0 / float64(int(1)<<(uint(s.decoder.BitDepth)-1))
	for i := 0; i < n; i++ {
		v := float64(buf.Data[i]) * scale
		v += s.ditherValue()
		values[i] = v
	}

	cont := continuity.WithPrevious
	if !s.emittedAny {
		cont = continuity.NewFile
	}
	s.emittedAny = true

	data := board.GeneratedData{
		Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: n, Values: values}},
		Continuity: cont,
		Identifier: s.identifier,
	}
	return data, true, nil
}

func (s *WAVSource) ditherValue() float64 {
	switch s.dither {
	case DitherUniform:
		return (s.rng.Float64() - 0.5) / (1 << 15)
	case DitherBinomial:
		return ((s.rng.Float64() - s.rng.Float64()) / 2) / (1 << 15)
	default:
		return 0
	}
}

func (s *WAVSource) Finalize() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func errInvalidWAV(path string) error {
	return &invalidWAVError{path: path}
}

type invalidWAVError struct{ path string }

func (e *invalidWAVError) Error() string { return "iosource: not a valid WAV file: " + e.path }
