package aggregate

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

func uniformPayload(rows, cols int, v float64) chunk.Payload {
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = v
	}
	return chunk.Payload{Values: values, Rows: rows, Cols: cols}
}

func result(number int64, cont continuity.Continuity, e, f, s chunk.Payload) *composite.Result {
	return &composite.Result{
		Number:     number,
		Continuity: cont,
		Inputs: map[string]chunk.Payload{
			"E":       e,
			"f_tract": f,
			"s_tract": s,
		},
	}
}

func baseConfig() Config {
	return Config{
		BlockWidth:  4,
		SplitPoints: []int{1, 3},
		Threshold:   0.5,
		Slope:       10,
	}
}

// gate(x) saturates toward 1 well above threshold and toward 0 well below,
// so a high f_tract/s_tract drives pulse/tone toward the full energy value
// and noise toward zero, within a single block.
func TestProcessorEmitsBandsOnBlockBoundary(t *testing.T) {
	p := NewProcessor("agg", baseConfig())

	rows, cols := 5, 4
	e := uniformPayload(rows, cols, 2.0)
	fTract := uniformPayload(rows, cols, 5.0)  // >> threshold: gate ~ 1
	sTract := uniformPayload(rows, cols, -5.0) // << threshold: gate ~ 0

	out, err := p.Process(context.Background(), result(0, continuity.WithPrevious, e, fTract, sTract))
	require.NoError(t, err)

	require.Contains(t, out, "pulse")
	require.Contains(t, out, "tone")
	require.Contains(t, out, "noise")
	require.Contains(t, out, "energy")

	// 5 rows, split points {1,3} -> bands [0,1) [1,3) [3,5), discard first
	// and last -> exactly one kept band.
	assert.Equal(t, 1, out["energy"].Rows)
	assert.Equal(t, cols, out["energy"].Cols)

	for _, v := range out["pulse"].Values {
		assert.InDelta(t, 2.0, v, 1e-3)
	}
	for _, v := range out["noise"].Values {
		assert.InDelta(t, 0.0, v, 1e-3)
	}
}

func TestProcessorAccumulatesAcrossChunks(t *testing.T) {
	p := NewProcessor("agg", baseConfig())

	rows := 5
	e1 := uniformPayload(rows, 2, 1.0)
	f1 := uniformPayload(rows, 2, 0.0)
	s1 := uniformPayload(rows, 2, 0.0)
	out1, err := p.Process(context.Background(), result(0, continuity.WithPrevious, e1, f1, s1))
	require.NoError(t, err)
	assert.Empty(t, out1) // block_width=4, only 2 columns buffered so far

	e2 := uniformPayload(rows, 2, 1.0)
	f2 := uniformPayload(rows, 2, 0.0)
	s2 := uniformPayload(rows, 2, 0.0)
	out2, err := p.Process(context.Background(), result(1, continuity.WithPrevious, e2, f2, s2))
	require.NoError(t, err)
	require.Contains(t, out2, "energy")
	assert.Equal(t, 4, out2["energy"].Cols)
}

func TestProcessorResetsBufferOnDiscontinuity(t *testing.T) {
	p := NewProcessor("agg", baseConfig())

	rows := 5
	e1 := uniformPayload(rows, 3, 1.0)
	f1 := uniformPayload(rows, 3, 0.0)
	s1 := uniformPayload(rows, 3, 0.0)
	_, err := p.Process(context.Background(), result(0, continuity.WithPrevious, e1, f1, s1))
	require.NoError(t, err)
	assert.Equal(t, 3, p.buf.filled)

	e2 := uniformPayload(rows, 1, 1.0)
	f2 := uniformPayload(rows, 1, 0.0)
	s2 := uniformPayload(rows, 1, 0.0)
	_, err = p.Process(context.Background(), result(5, continuity.Discontinuous, e2, f2, s2))
	require.NoError(t, err)

	// The buffer should have been reset before the new chunk's single column
	// was appended, not 3+1=4.
	assert.Equal(t, 1, p.buf.filled)
}

func TestProcessorMissingInputKeyErrors(t *testing.T) {
	p := NewProcessor("agg", baseConfig())
	r := &composite.Result{Number: 0, Continuity: continuity.WithPrevious, Inputs: map[string]chunk.Payload{}}
	_, err := p.Process(context.Background(), r)
	assert.Error(t, err)
}

func TestGateSaturatesAroundThreshold(t *testing.T) {
	low := gate(-100, 0, 1)
	high := gate(100, 0, 1)
	mid := gate(0, 0, 1)
	assert.InDelta(t, 0.0, low, 1e-6)
	assert.InDelta(t, 1.0, high, 1e-6)
	assert.InDelta(t, 0.5, mid, 1e-9)
}

func TestBandmeanDiscardsFirstAndLastBand(t *testing.T) {
	// 6 rows, split at {2,4} -> bands [0,2) [2,4) [4,6), keep only [2,4).
	data := chunk.Payload{Rows: 6, Cols: 1, Values: []float64{1, 1, 10, 20, 100, 100}}
	out := bandmean(data, []int{2, 4})
	require.Equal(t, 1, out.Rows)
	assert.InDelta(t, 15.0, out.Values[0], 1e-9)
}

func TestLogCompressAppliesReferenceOffset(t *testing.T) {
	cfg := baseConfig()
	cfg.LogCompress = true
	cfg.Reference = 1.0
	p := NewProcessor("agg", cfg)

	rows, cols := 5, 4
	e := uniformPayload(rows, cols, 4.0)
	f := uniformPayload(rows, cols, 0.0)
	s := uniformPayload(rows, cols, 0.0)
	out, err := p.Process(context.Background(), result(0, continuity.WithPrevious, e, f, s))
	require.NoError(t, err)

	want := math.Log2(4.0) - 1.0
	for _, v := range out["energy"].Values {
		assert.InDelta(t, want, v, 1e-3)
	}
}
