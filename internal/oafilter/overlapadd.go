// Package oafilter implements the overlap-add FIR filterbank runtime and
// the Kaiser-windowed decimating Resampler built on top of it. Block size
// is chosen from a target latency, and the overlap tail is preserved
// across chunks and reset on discontinuity.
package oafilter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/soundmesh/soundmesh/internal/continuity"
)

// core is one real-valued overlap-add filter instance: a single FFT plan,
// its precomputed filter spectrum, and the running overlap tail. An
// instance is owned by exactly one processor task and never shared.
type core struct {
	nFFT     int
	nOverlap int
	nBlock   int

	fft       *fourier.FFT
	spectrum  []complex128
	overlap   []float64
	pending   []float64
	firstCall bool
}

// newCore builds one overlap-add instance for FIR filter h (length R) given
// a target latency in seconds and the stream's sample rate.
func newCore(h []float64, targetLatency, fs float64) (*core, error) {
	r := len(h)
	if r == 0 {
		return nil, fmt.Errorf("oafilter: filter must have at least one tap")
	}
	nOverlap := r - 1
	targetSamples := targetLatency * fs

	nFFT := nextPow2(int(math.Ceil(targetSamples)) + nOverlap)
	if 2*nOverlap < int(targetSamples) && nFFT > nOverlap+1 {
		nFFT /= 2
	}
	if nFFT < nOverlap+1 {
		nFFT = nextPow2(nOverlap + 1)
	}
	nBlock := nFFT - nOverlap

	fft := fourier.NewFFT(nFFT)
	padded := make([]float64, nFFT)
	copy(padded, h)
	spectrum := fft.Coefficients(nil, padded)
	for i := range spectrum {
		spectrum[i] /= complex(float64(nFFT), 0)
	}

	return &core{
		nFFT:     nFFT,
		nOverlap: nOverlap,
		nBlock:   nBlock,
		fft:      fft,
		spectrum: spectrum,
		overlap:  make([]float64, nOverlap),
	}, nil
}

// nextPow2 returns the smallest power of two >= n (minimum 1).
func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// reset clears the overlap tail and any buffered input; process itself
// discards the leading n_overlap samples of the first block after a reset.
func (c *core) reset() {
	for i := range c.overlap {
		c.overlap[i] = 0
	}
	c.pending = c.pending[:0]
}

// process runs x through the filter, appending to out in strides of
// n_block. discontinuous resets history first.
func (c *core) process(x []float64, discontinuous bool) []float64 {
	discardFirst := discontinuous
	if discontinuous {
		c.reset()
	}

	combined := append(c.pending, x...)
	var out []float64
	firstBlockThisCall := true

	for len(combined) >= c.nBlock {
		block := combined[:c.nBlock]
		combined = combined[c.nBlock:]

		segment := make([]float64, c.nFFT)
		copy(segment, block)

		coeffs := c.fft.Coefficients(nil, segment)
		for i := range coeffs {
			coeffs[i] *= c.spectrum[i]
		}
		y := c.fft.Sequence(nil, coeffs)

		for i := 0; i < c.nOverlap && i < len(y); i++ {
			y[i] += c.overlap[i]
		}

		valid := y[:c.nBlock]
		if firstBlockThisCall && discardFirst && len(valid) > c.nOverlap {
			valid = valid[c.nOverlap:]
		}
		out = append(out, valid...)
		firstBlockThisCall = false

		copy(c.overlap, y[c.nBlock:c.nBlock+c.nOverlap])
	}

	c.pending = append([]float64(nil), combined...)
	return out
}

// Filter is a single-channel overlap-add FIR filter.
type Filter struct {
	c      *core
	fsIn   float64
	fsOut  float64
	filterLen int
	decimation int
}

// NewFilter builds a Filter for FIR coefficients h at sample rate fs with
// the given target processing latency in seconds and output decimation
// (1 for no rate change).
func NewFilter(h []float64, targetLatency, fs float64, decimation int) (*Filter, error) {
	if decimation < 1 {
		decimation = 1
	}
	c, err := newCore(h, targetLatency, fs)
	if err != nil {
		return nil, err
	}
	return &Filter{c: c, fsIn: fs, fsOut: fs / float64(decimation), filterLen: len(h), decimation: decimation}, nil
}

// Process filters x, resetting history when cont is below WithPrevious.
func (f *Filter) Process(x []float64, cont continuity.Continuity) []float64 {
	return f.c.process(x, !cont.AtLeast(continuity.WithPrevious))
}

// NBlock returns the stride (in input samples) the filter processes at a
// time; callers that need to chunk a stream into FFT-aligned windows use
// this, though Process itself buffers any remainder across calls.
func (f *Filter) NBlock() int { return f.c.nBlock }

// NOverlap returns the filter's FIR overlap length (R-1).
func (f *Filter) NOverlap() int { return f.c.nOverlap }

// ProcessorAlignment returns the ProcessorAlignment this filter imposes on
// its output: included_past 0, dropped_after_discontinuity
// filter_len/decimation, fsampling fs/decimation.
func (f *Filter) ProcessorAlignment() continuity.ProcessorAlignment {
	return continuity.ProcessorAlignment{
		DroppedAfterDiscontinuity: f.filterLen / f.decimation,
		FSamplingOut:              f.fsOut,
	}
}

// Bank is a bank of independent overlap-add filters, one per row of a
// rank-2 signal (e.g. the GammaChirp-style frontend's per-channel
// filters).
type Bank struct {
	filters []*Filter
}

// NewBank builds one Filter per row of h (h[seg] is that segment's FIR
// coefficients) sharing the same target latency and sample rate.
func NewBank(h [][]float64, targetLatency, fs float64, decimation int) (*Bank, error) {
	filters := make([]*Filter, len(h))
	for i, taps := range h {
		f, err := NewFilter(taps, targetLatency, fs, decimation)
		if err != nil {
			return nil, fmt.Errorf("oafilter: bank segment %d: %w", i, err)
		}
		filters[i] = f
	}
	return &Bank{filters: filters}, nil
}

// Process filters x[seg] through filters[seg] for every segment, resetting
// each instance's history together on discontinuity.
func (b *Bank) Process(x [][]float64, cont continuity.Continuity) [][]float64 {
	out := make([][]float64, len(b.filters))
	for i, f := range b.filters {
		var in []float64
		if i < len(x) {
			in = x[i]
		}
		out[i] = f.Process(in, cont)
	}
	return out
}

// Len returns the number of segments (bands) in the bank.
func (b *Bank) Len() int { return len(b.filters) }
