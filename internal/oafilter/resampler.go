package oafilter

import (
	"fmt"
	"math"

	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Resampler is a 1-D lowpass overlap-add instance with a Kaiser-windowed
// FIR, decimated by an integer D. filterLen must be a multiple
// of D.
type Resampler struct {
	filter *Filter
	d      int
	fsIn   float64
	offset int
}

// NewResampler builds a Resampler from fsIn down to fsIn/d using a
// Kaiser-windowed low-pass FIR of the given length and stopband
// attenuation (beta is derived from attenuationDB via the standard
// Kaiser-beta rule).
func NewResampler(fsIn float64, d int, filterLen int, attenuationDB float64, targetLatency float64) (*Resampler, error) {
	if d < 1 {
		return nil, fmt.Errorf("oafilter: decimation factor must be >= 1")
	}
	if filterLen%d != 0 {
		return nil, fmt.Errorf("oafilter: filter_length %% D must be 0 (got %d %% %d)", filterLen, d)
	}
	h := kaiserLowpass(filterLen, 1.0/float64(d), attenuationDB)
	f, err := NewFilter(h, targetLatency, fsIn, d)
	if err != nil {
		return nil, err
	}
	return &Resampler{filter: f, d: d, fsIn: fsIn}, nil
}

// Process resamples x, honoring the alignment buffering contract of the
// underlying overlap-add Filter, and advances the decimation phase.
func (rs *Resampler) Process(x []float64, cont continuity.Continuity) []float64 {
	y := rs.filter.Process(x, cont)
	rs.offset = mod(rs.offset-len(x), rs.d)
	if len(y) == 0 {
		return y
	}
	out := make([]float64, 0, len(y)/rs.d+1)
	for i := rs.offset; i < len(y); i += rs.d {
		out = append(out, y[i])
	}
	return out
}

// FsOut returns the post-decimation sample rate.
func (rs *Resampler) FsOut() float64 { return rs.fsIn / float64(rs.d) }

// ProcessorAlignment returns the ProcessorAlignment the resampler imposes
// on its output stream (the filter wrapper rule, with decimation applied).
func (rs *Resampler) ProcessorAlignment() continuity.ProcessorAlignment {
	return rs.filter.ProcessorAlignment()
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// kaiserLowpass designs an n-tap Kaiser-windowed low-pass FIR with cutoff
// cutoffFraction (of Nyquist, 0..1) and the given stopband attenuation in
// dB, following the standard windowed-sinc design used throughout
// practical DSP filterbanks.
func kaiserLowpass(n int, cutoffFraction, attenuationDB float64) []float64 {
	if n < 1 {
		return nil
	}
	beta := kaiserBeta(attenuationDB)
	h := make([]float64, n)
	m := float64(n - 1)
	for i := 0; i < n; i++ {
		x := float64(i) - m/2
		var sinc float64
		if x == 0 {
			sinc = cutoffFraction
		} else {
			sinc = math.Sin(math.Pi*cutoffFraction*x) / (math.Pi * x)
		}
		w := kaiserWindow(i, n, beta)
		h[i] = sinc * w
	}
	return h
}

// kaiserBeta derives the Kaiser window shape parameter from the desired
// stopband attenuation (Kaiser's empirical formula).
func kaiserBeta(attenuationDB float64) float64 {
	switch {
	case attenuationDB > 50:
		return 0.1102 * (attenuationDB - 8.7)
	case attenuationDB >= 21:
		return 0.5842*math.Pow(attenuationDB-21, 0.4) + 0.07886*(attenuationDB-21)
	default:
		return 0
	}
}

func kaiserWindow(i, n int, beta float64) float64 {
	m := float64(n - 1)
	if m <= 0 {
		return 1
	}
	r := 2*float64(i)/m - 1
	num := besselI0(beta * math.Sqrt(1-r*r))
	den := besselI0(beta)
	if den == 0 {
		return 1
	}
	return num / den
}

// besselI0 approximates the zeroth-order modified Bessel function via its
// power series, sufficient precision for window-function design.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 32; k++ {
		term *= (halfX * halfX) / float64(k*k)
		sum += term
		if term < 1e-15*sum {
			break
		}
	}
	return sum
}
