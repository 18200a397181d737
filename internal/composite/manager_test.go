package composite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

func rank2Chunk(rows, cols int, number int64, cont continuity.Continuity, align continuity.ChunkAlignment) chunk.Chunk {
	return chunk.Chunk{
		Data:       chunk.Payload{Rows: rows, Cols: cols, Values: make([]float64, rows*cols)},
		StartTime:  time.Unix(int64(number), 0),
		Fs:         align.FSampling,
		Number:     number,
		Continuity: cont,
		Alignment:  align,
	}
}

// Two sibling inputs with differing alignment margins merge
// to the elementwise-max alignment_in, and the composite stays Discontinuous
// on its first chunk, then WithPrevious on its immediate successor.
func TestManagerDiscontinuousStartThenContinuation(t *testing.T) {
	align := continuity.ChunkAlignment{IncludedPast: 15, DroppedAfterDiscontinuity: 37, Alignable: true, FSampling: 41000}
	alignB := continuity.ChunkAlignment{IncludedPast: 13, DroppedAfterDiscontinuity: 27, InvalidSmallScales: 5, Alignable: true, FSampling: 41000}

	m := NewManager([]string{"a", "b"}, nil, true, nil)

	// Each stream is itself contiguous (WithPrevious), but the very first
	// composite has no last_completed to join to, so the composite as a
	// whole is demoted to Discontinuous while each input still takes the
	// irregular-discontinuous trimming branch.
	c0a := rank2Chunk(100, 2000, 0, continuity.WithPrevious, align)
	c0b := rank2Chunk(100, 2000, 0, continuity.WithPrevious, alignB)

	res, err := m.Inject("a", c0a)
	require.NoError(t, err)
	require.Nil(t, res)
	res, err = m.Inject("b", c0b)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Equal(t, 15, res.AlignmentIn.IncludedPast)
	require.Equal(t, 37, res.AlignmentIn.DroppedAfterDiscontinuity)
	require.Equal(t, 5, res.AlignmentIn.InvalidSmallScales)
	require.Equal(t, continuity.Discontinuous, res.Continuity)
	require.Equal(t, 1948, res.Inputs["a"].Cols)
	require.Equal(t, 1948, res.Inputs["b"].Cols)

	c1a := rank2Chunk(100, 2000, 1, continuity.WithPrevious, align)
	c1b := rank2Chunk(100, 2000, 1, continuity.WithPrevious, alignB)
	_, err = m.Inject("a", c1a)
	require.NoError(t, err)
	res, err = m.Inject("b", c1b)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, continuity.WithPrevious, res.Continuity)
	// alignment_in is cached from the first composite and reused verbatim.
	require.Equal(t, 15, res.AlignmentIn.IncludedPast)
	require.Equal(t, 37, res.AlignmentIn.DroppedAfterDiscontinuity)
	require.Equal(t, 2000, res.Inputs["a"].Cols)
	require.Equal(t, 2000, res.Inputs["b"].Cols)
}

// Identical, zero-delay alignments on both sibling inputs leave
// the aligned buffer equal to the original chunk data (no trimming).
func TestManagerTrimmingIdempotence(t *testing.T) {
	align := continuity.ChunkAlignment{Alignable: true, FSampling: 8000}
	m := NewManager([]string{"a", "b"}, nil, true, nil)

	ca := rank2Chunk(4, 256, 0, continuity.Discontinuous, align)
	cb := rank2Chunk(4, 256, 0, continuity.Discontinuous, align)
	_, err := m.Inject("a", ca)
	require.NoError(t, err)
	res, err := m.Inject("b", cb)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 256, res.Inputs["a"].Cols)
	require.Equal(t, 256, res.Inputs["b"].Cols)
}

func TestManagerNumberGapDemotesContinuity(t *testing.T) {
	align := continuity.ChunkAlignment{Alignable: true, FSampling: 16000}
	m := NewManager([]string{"a"}, nil, true, nil)

	numbers := []int64{0, 1, 2, 4, 5, 6}
	want := []continuity.Continuity{
		continuity.Discontinuous, // number 0: no last_completed yet
		continuity.WithPrevious,
		continuity.WithPrevious,
		continuity.Discontinuous, // gap at 3
		continuity.WithPrevious,
		continuity.WithPrevious,
	}

	for i, n := range numbers {
		c := rank2Chunk(10, 100, n, continuity.WithPrevious, align)
		res, err := m.Inject("a", c)
		require.NoError(t, err)
		require.NotNil(t, res)
		require.Equalf(t, want[i], res.Continuity, "number %d", n)
	}
}

// B-stream loses number 2; composite 2 never completes and is dropped
// once composite 3 completes, which is demoted to Discontinuous.
func TestManagerLostInputDropsComposite(t *testing.T) {
	align := continuity.ChunkAlignment{Alignable: true, FSampling: 16000}
	m := NewManager([]string{"a", "b"}, nil, true, nil)

	for n := int64(0); n <= 1; n++ {
		_, err := m.Inject("a", rank2Chunk(10, 100, n, continuity.WithPrevious, align))
		require.NoError(t, err)
		res, err := m.Inject("b", rank2Chunk(10, 100, n, continuity.WithPrevious, align))
		require.NoError(t, err)
		require.NotNil(t, res)
	}

	// A delivers 2 and 3; B skips 2 entirely and delivers 3.
	_, err := m.Inject("a", rank2Chunk(10, 100, 2, continuity.WithPrevious, align))
	require.NoError(t, err)

	_, err = m.Inject("a", rank2Chunk(10, 100, 3, continuity.WithPrevious, align))
	require.NoError(t, err)
	res, err := m.Inject("b", rank2Chunk(10, 100, 3, continuity.WithPrevious, align))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, int64(3), res.Number)
	require.Equal(t, continuity.Discontinuous, res.Continuity)
}

func TestManagerAlignmentStableAcrossComposites(t *testing.T) {
	alignA := continuity.ChunkAlignment{IncludedPast: 4, Alignable: true, FSampling: 8000}
	m := NewManager([]string{"a"}, map[string]continuity.ProcessorAlignment{
		"out": {IncludedPast: 2},
	}, true, nil)

	var first, second map[string]continuity.ChunkAlignment
	for n := int64(0); n < 3; n++ {
		cont := continuity.WithPrevious
		if n == 0 {
			cont = continuity.Discontinuous
		}
		res, err := m.Inject("a", rank2Chunk(4, 50, n, cont, alignA))
		require.NoError(t, err)
		require.NotNil(t, res)
		if n == 0 {
			first = res.AlignmentsOut
		}
		second = res.AlignmentsOut
	}
	require.Equal(t, first, second)
}
