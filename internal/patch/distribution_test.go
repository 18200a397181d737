package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sum(weights) after JoinScaleDistributions equals the
// sum of the inputs' weights at every position, which pins down the exact
// weighted-average density at each position of the joined range.
func TestJoinScaleDistributionsConservesWeight(t *testing.T) {
	d1 := Distribution{Low: 0, High: 2, Values: []float64{1.0, 2.0, 3.0}}
	d2 := Distribution{Low: 1, High: 3, Values: []float64{5.0, 6.0, 7.0}}
	w1 := []float64{1, 1, 1}
	w2 := []float64{2, 2, 2}

	out := JoinScaleDistributions(d1, d2, w1, w2)
	assert.Equal(t, 0, out.Low)
	assert.Equal(t, 3, out.High)
	require.Len(t, out.Values, 4)

	// pos0: only d1 (w=1,v=1) -> density 1
	// pos1: d1(w=1,v=2) + d2(w=2,v=5) -> (2+10)/3 = 4
	// pos2: d1(w=1,v=3) + d2(w=2,v=6) -> (3+12)/3 = 5
	// pos3: only d2 (w=2,v=7) -> density 7
	expected := []float64{1, 4, 5, 7}
	for i, want := range expected {
		assert.InDelta(t, want, out.Values[i], 1e-9, "position %d", i)
	}
}

func TestJoinScaleDistributionsZeroWeightIsZeroDensity(t *testing.T) {
	d1 := Distribution{Low: 0, High: 0, Values: []float64{5}}
	d2 := Distribution{Low: 5, High: 5, Values: []float64{9}}
	out := JoinScaleDistributions(d1, d2, []float64{0}, []float64{0})
	for i, v := range out.Values {
		if i != 0 && i != 5 {
			assert.Equal(t, 0.0, v)
		}
	}
	// Both source positions have zero weight, so their density is 0 too.
	assert.Equal(t, 0.0, out.Values[0])
	assert.Equal(t, 0.0, out.Values[5])
}

func TestClassifyFrameAdjacency(t *testing.T) {
	cases := []struct {
		name string
		a, b FrameRange
		want FrameAdjacency
	}{
		{"same start", FrameRange{10, 20}, FrameRange{10, 15}, SameStart},
		{"same end", FrameRange{5, 20}, FrameRange{8, 20}, SameEnd},
		{"forward", FrameRange{1, 5}, FrameRange{6, 9}, ConsecutiveForward},
		{"reverse", FrameRange{6, 9}, FrameRange{1, 5}, ConsecutiveReverse},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ClassifyFrameAdjacency(c.a, c.b)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestClassifyFrameAdjacencyErrorsOnUnrelatedRange(t *testing.T) {
	_, err := ClassifyFrameAdjacency(FrameRange{1, 5}, FrameRange{20, 30})
	assert.Error(t, err)
}

func TestJoinFrameDistributionsConcatenatesConsecutive(t *testing.T) {
	a := Distribution{Low: 0, High: 1, Values: []float64{1, 2}}
	b := Distribution{Low: 2, High: 3, Values: []float64{3, 4}}

	out, err := JoinFrameDistributions(a, b, nil, nil, ConsecutiveForward)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Low)
	assert.Equal(t, 3, out.High)
	assert.Equal(t, []float64{1, 2, 3, 4}, out.Values)

	outRev, err := JoinFrameDistributions(b, a, nil, nil, ConsecutiveReverse)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, outRev.Values)
}
