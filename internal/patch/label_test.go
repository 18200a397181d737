package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matrixFromRows(rows [][]int) Matrix {
	s := len(rows)
	t := len(rows[0])
	m := NewMatrix(s, t)
	for si, row := range rows {
		for ti, v := range row {
			m.Set(si, ti, v)
		}
	}
	return m
}

// Two pixels share a label iff they are 4-connected
// through equal levels values.
func TestLabelUniqueness(t *testing.T) {
	levels := matrixFromRows([][]int{
		{1, 1, 0, 2},
		{0, 1, 0, 2},
		{3, 0, 0, 2},
		{3, 3, 0, 0},
	})

	out, patches := Label(levels, 0)

	// The two pixels at (0,0) and (2,0) both have level 1 / 3 respectively
	// but are not 4-connected, so must carry different labels.
	assert.NotEqual(t, out.At(0, 0), out.At(2, 0))

	// All pixels in the top-left "1" blob share one label.
	blob := out.At(0, 0)
	assert.Equal(t, blob, out.At(0, 1))
	assert.Equal(t, blob, out.At(1, 1))

	// Zero pixels are never labelled.
	assert.Equal(t, 0, out.At(0, 2))
	assert.Equal(t, 0, out.At(3, 3))

	// Every non-zero input pixel ended up in exactly one patch's pixel count.
	var total int
	for _, p := range patches {
		total += p.Size
	}
	var nonZero int
	for _, v := range levels.Values {
		if v != 0 {
			nonZero++
		}
	}
	assert.Equal(t, nonZero, total)

	// Labels start at startLabel+1 and are distinct per patch.
	seen := make(map[int]bool)
	for _, p := range patches {
		assert.False(t, seen[p.Label], "duplicate label %d", p.Label)
		seen[p.Label] = true
		assert.GreaterOrEqual(t, p.Label, 1)
	}
}

func TestLabelStartsAfterCumulativeCount(t *testing.T) {
	levels := matrixFromRows([][]int{{1, 1}, {0, 2}})
	_, patches := Label(levels, 100)
	require.Len(t, patches, 2)
	for _, p := range patches {
		assert.Greater(t, p.Label, 100)
	}
}

func TestLabelTouchesLastColumn(t *testing.T) {
	levels := matrixFromRows([][]int{
		{1, 0, 2},
		{1, 0, 2},
	})
	_, patches := Label(levels, 0)
	require.Len(t, patches, 2)
	for _, p := range patches {
		if p.TLow == 0 {
			assert.False(t, p.TouchesLastColumn)
		} else {
			assert.True(t, p.TouchesLastColumn)
		}
	}
}

// Concatenating two adjacent levels matrices and
// labelling once yields, modulo renaming, the same components as labelling
// per-chunk and joining across the boundary.
func TestCrossChunkJoinMatchesWholeLabelling(t *testing.T) {
	chunkA := matrixFromRows([][]int{
		{1, 1},
		{1, 0},
		{0, 2},
	})
	chunkB := matrixFromRows([][]int{
		{1, 0},
		{0, 0},
		{2, 2},
	})

	matA, patchesA := Label(chunkA, 0)
	matB, patchesB := Label(chunkB, len(patchesA))

	state := &CrossChunkState{
		TexBefore:     chunkA.Col(chunkA.T - 1),
		PatchBefore:   matA.Col(matA.T - 1),
		MergePrepared: 1,
	}
	prevByCanonical := make(map[int]Patch)
	for _, p := range patchesA {
		prevByCanonical[p.Label] = p
	}

	pairs, merged, err := Join(state, 1, true, matB, chunkB, patchesB, func(c int) (Patch, bool) {
		p, ok := prevByCanonical[c]
		return p, ok
	})
	require.NoError(t, err)
	require.NotEmpty(t, pairs)

	// Build the whole matrix by horizontal concatenation and label once.
	whole := NewMatrix(3, 4)
	for s := 0; s < 3; s++ {
		for tt := 0; tt < 2; tt++ {
			whole.Set(s, tt, chunkA.At(s, tt))
		}
		for tt := 0; tt < 2; tt++ {
			whole.Set(s, tt+2, chunkB.At(s, tt))
		}
	}
	wholeOut, wholePatches := Label(whole, 0)

	// Component count must match (modulo label renaming).
	assert.Len(t, merged, len(wholePatches))

	// A chunk-A pixel and a chunk-B pixel of the straddling "1" component
	// share a label in the whole labelling and in the joined result.
	sameInWhole := wholeOut.At(0, 0) == wholeOut.At(0, 2)
	sameInJoined := matB.At(0, 0) == matA.At(0, 0)
	assert.Equal(t, sameInWhole, sameInJoined)
}

// Patches spanning the boundary are relabeled to the earlier
// canonical id and merged (bounding box union, size sum).
func TestJoinMergesStraddlingPatch(t *testing.T) {
	chunkA := matrixFromRows([][]int{
		{0, 1},
		{0, 1},
	})
	chunkB := matrixFromRows([][]int{
		{1, 0},
		{1, 0},
	})

	matA, patchesA := Label(chunkA, 0)
	matB, patchesB := Label(chunkB, len(patchesA))
	require.Len(t, patchesA, 1)
	require.Len(t, patchesB, 1)

	canonical := patchesA[0].Label

	state := &CrossChunkState{
		TexBefore:     chunkA.Col(1),
		PatchBefore:   matA.Col(1),
		MergePrepared: 1,
	}
	pairs, merged, err := Join(state, 1, true, matB, chunkB, patchesB, func(c int) (Patch, bool) {
		if c == canonical {
			return patchesA[0], true
		}
		return Patch{}, false
	})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, canonical, pairs[0].CanonicalLabel)
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, canonical, got.Label)
	assert.Equal(t, patchesA[0].Size+patchesB[0].Size, got.Size)
	assert.Equal(t, 0, got.TLow)
	assert.Equal(t, 1, got.THigh) // union of [1,1] (chunk-local A) and B's local range after relabel context
}

// Two new-chunk patches bridging to the same previous patch at separate
// scale runs must collapse into exactly one merged patch carrying the
// geometry and size of all three pieces.
func TestJoinDoubleBulkConnection(t *testing.T) {
	chunkA := matrixFromRows([][]int{
		{1, 1},
		{1, 1},
		{1, 1},
	})
	chunkB := matrixFromRows([][]int{
		{1, 1},
		{0, 0},
		{1, 1},
	})

	matA, patchesA := Label(chunkA, 0)
	matB, patchesB := Label(chunkB, len(patchesA))
	require.Len(t, patchesA, 1)
	require.Len(t, patchesB, 2)

	canonical := patchesA[0].Label

	state := &CrossChunkState{
		TexBefore:     chunkA.Col(1),
		PatchBefore:   matA.Col(1),
		MergePrepared: 1,
	}
	pairs, merged, err := Join(state, 1, true, matB, chunkB, patchesB, func(c int) (Patch, bool) {
		if c == canonical {
			return patchesA[0], true
		}
		return Patch{}, false
	})
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	for _, pair := range pairs {
		assert.Equal(t, canonical, pair.CanonicalLabel)
	}

	require.Len(t, merged, 1)
	got := merged[0]
	assert.Equal(t, canonical, got.Label)
	assert.Equal(t, patchesA[0].Size+patchesB[0].Size+patchesB[1].Size, got.Size)
	assert.Equal(t, 0, got.SLow)
	assert.Equal(t, 2, got.SHigh)
	assert.Equal(t, []int{4, 2, 4}, got.InRowCount)
	assert.Equal(t, []int{5, 5}, got.InColCount)
	assert.True(t, got.TouchesLastColumn)

	// Every bridged pixel in the rewritten matrix carries the canonical id.
	for _, v := range matB.Values {
		if v != 0 {
			assert.Equal(t, canonical, v)
		}
	}
}

// One new-chunk patch bridging two previously separate patches folds all
// three into a single patch under the earliest canonical label.
func TestJoinBridgesTwoPreviousPatches(t *testing.T) {
	chunkA := matrixFromRows([][]int{
		{1, 1},
		{0, 0},
		{1, 1},
	})
	chunkB := matrixFromRows([][]int{
		{1, 1},
		{1, 1},
		{1, 1},
	})

	matA, patchesA := Label(chunkA, 0)
	matB, patchesB := Label(chunkB, len(patchesA))
	require.Len(t, patchesA, 2)
	require.Len(t, patchesB, 1)

	prevByLabel := make(map[int]Patch)
	for _, p := range patchesA {
		prevByLabel[p.Label] = p
	}
	canonical := patchesA[0].Label

	state := &CrossChunkState{
		TexBefore:            chunkA.Col(1),
		PatchBefore:          matA.Col(1),
		CumulativePatchCount: len(patchesA),
		MergePrepared:        1,
	}
	pairs, merged, err := Join(state, 1, true, matB, chunkB, patchesB, func(c int) (Patch, bool) {
		p, ok := prevByLabel[c]
		return p, ok
	})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, canonical, pairs[0].CanonicalLabel)

	require.Len(t, merged, 1)
	got := merged[0]
	assert.Equal(t, canonical, got.Label)
	assert.Equal(t, patchesA[0].Size+patchesA[1].Size+patchesB[0].Size, got.Size)
	assert.Equal(t, 0, got.SLow)
	assert.Equal(t, 2, got.SHigh)
	assert.Equal(t, []int{4, 2, 4}, got.InRowCount)
	assert.Equal(t, []int{5, 5}, got.InColCount)
}

func TestJoinNoopWhenNotPrepared(t *testing.T) {
	chunkB := matrixFromRows([][]int{{1, 0}, {1, 0}})
	matB, patchesB := Label(chunkB, 0)
	state := &CrossChunkState{MergePrepared: 5}

	pairs, merged, err := Join(state, 1, true, matB, chunkB, patchesB, func(int) (Patch, bool) { return Patch{}, false })
	require.NoError(t, err)
	assert.Nil(t, pairs)
	assert.Equal(t, patchesB, merged)
}

func TestAdvanceUpdatesState(t *testing.T) {
	levels := matrixFromRows([][]int{{1, 2}, {1, 2}})
	mat, patches := Label(levels, 0)
	state := &CrossChunkState{}
	state.Advance(levels, mat, len(patches), 7)

	assert.Equal(t, levels.Col(1), state.TexBefore)
	assert.Equal(t, mat.Col(1), state.PatchBefore)
	assert.Equal(t, len(patches), state.CumulativePatchCount)
	assert.Equal(t, int64(8), state.MergePrepared)
}
