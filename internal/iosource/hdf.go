package iosource

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/hdf5lite"
)

// HDFSource reads the "sound" dataset from an hdf5lite container, using
// its "inputrate" attribute as the sample rate; the "starttime" attribute
// is not read. Source data is read once and chunked out in
// chunkSize-sample strides.
type HDFSource struct {
	name      string
	path      string
	chunkSize int

	fs         float64
	identifier string
	data       []float64
	cursor     int
	emittedAny bool
}

func NewHDFSource(name, path string, chunkSize int) *HDFSource {
	return &HDFSource{name: name, path: path, chunkSize: chunkSize}
}

func (s *HDFSource) Name() string { return s.name }

func (s *HDFSource) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	f, err := hdf5lite.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("iosource: opening hdf source %s: %w", s.path, err)
	}
	ds, ok := f.Datasets["sound"]
	if !ok {
		return nil, fmt.Errorf("iosource: %s has no %q dataset", s.path, "sound")
	}
	rate, ok := ds.Attributes["inputrate"].(float64)
	if !ok {
		return nil, fmt.Errorf("iosource: %s dataset %q missing inputrate attribute", s.path, "sound")
	}
	s.fs = rate
	s.data = ds.Values
	s.identifier = uuid.NewString()
	return map[string]continuity.ProcessorAlignment{outputKey: {FSamplingOut: s.fs}}, nil
}

func (s *HDFSource) Generate(ctx context.Context) (board.GeneratedData, bool, error) {
	if s.cursor >= len(s.data) {
		return board.GeneratedData{
			Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: 0}},
			Continuity: continuity.Last,
			Identifier: s.identifier,
		}, true, nil
	}

	end := s.cursor + s.chunkSize
	if end > len(s.data) {
		end = len(s.data)
	}
	values := append([]float64(nil), s.data[s.cursor:end]...)
	s.cursor = end

	cont := continuity.WithPrevious
	if !s.emittedAny {
		cont = continuity.NewFile
	}
	s.emittedAny = true

	return board.GeneratedData{
		Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: len(values), Values: values}},
		Continuity: cont,
		Identifier: s.identifier,
	}, true, nil
}

func (s *HDFSource) Finalize() error { return nil }
