package iosource

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Device is the platform capture boundary a MicSource drives: a buffered
// read of configured size, sample format and channel count already
// resolved by the caller. Real device backends (ALSA/CoreAudio/WASAPI)
// implement this; configurable sample format and channel count are a
// capability of the Device implementation, not of this wrapper.
type Device interface {
	Read(buf []float64) (n int, err error)
	Close() error
}

// MicSource is the Input Processor driving a Device with the
// inactivity-reset rule: no data for longer than streamTimeout marks the
// stream Invalid, and the next chunk demotes to Discontinuous.
type MicSource struct {
	name          string
	device        Device
	chunkSize     int
	fs            float64
	streamTimeout time.Duration

	identifier string
	lastRead   unix.Timespec
	hadGap     bool
}

func NewMicSource(name string, device Device, chunkSize int, fs float64, streamTimeout time.Duration) *MicSource {
	return &MicSource{name: name, device: device, chunkSize: chunkSize, fs: fs, streamTimeout: streamTimeout}
}

func (s *MicSource) Name() string { return s.name }

func (s *MicSource) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	s.identifier = uuid.NewString()
	s.lastRead = monotonicNow()
	return map[string]continuity.ProcessorAlignment{outputKey: {FSamplingOut: s.fs}}, nil
}

func (s *MicSource) Generate(ctx context.Context) (board.GeneratedData, bool, error) {
	buf := make([]float64, s.chunkSize)
	n, err := s.device.Read(buf)
	if err != nil {
		return board.GeneratedData{}, false, err
	}

	now := monotonicNow()
	gapSeconds := float64(now.Sec-s.lastRead.Sec) + float64(now.Nsec-s.lastRead.Nsec)/1e9
	inactive := time.Duration(gapSeconds*float64(time.Second)) > s.streamTimeout
	s.lastRead = now

	cont := continuity.WithPrevious
	switch {
	case inactive:
		cont = continuity.Invalid
	case s.hadGap:
		cont = continuity.Discontinuous
	}
	s.hadGap = inactive

	return board.GeneratedData{
		Payloads:   map[string]chunk.Payload{outputKey: {Rows: 1, Cols: n, Values: buf[:n]}},
		Continuity: cont,
		Identifier: s.identifier,
	}, true, nil
}

func (s *MicSource) Finalize() error {
	return s.device.Close()
}

// monotonicNow reads CLOCK_MONOTONIC directly, the platform boundary the
// stream-inactivity timer rests on.
func monotonicNow() unix.Timespec {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts
}
