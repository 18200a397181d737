package patch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// thresholdQuantiser maps every sample above cut to level 1.
type thresholdQuantiser struct{ cut float64 }

func (q thresholdQuantiser) Quantise(tsrep chunk.Payload) Matrix {
	m := NewMatrix(tsrep.Rows, tsrep.Cols)
	for s := 0; s < tsrep.Rows; s++ {
		row := tsrep.Row(s)
		for t := 0; t < tsrep.Cols; t++ {
			if row[t] > q.cut {
				m.Set(s, t, 1)
			}
		}
	}
	return m
}

func tsrepResult(number int64, cont continuity.Continuity, rows, cols int, vals []float64) *composite.Result {
	return &composite.Result{
		Number:            number,
		Continuity:        cont,
		AlignmentIn:       continuity.ChunkAlignment{Alignable: true, FSampling: 100},
		InitialSampleTime: time.Unix(1000, 0),
		Inputs: map[string]chunk.Payload{
			inputKey: {Rows: rows, Cols: cols, Values: vals},
		},
	}
}

// bandPayload builds a rows x cols value grid with row `band` set to 1.0
// over columns [0, bandEnd].
func bandPayload(rows, cols, band, bandEnd int) []float64 {
	vals := make([]float64, rows*cols)
	for t := 0; t <= bandEnd; t++ {
		vals[band*cols+t] = 1.0
	}
	return vals
}

// A band touching chunk 0's last column lands in the unfinalized set, and
// chunk 1's continuation is relabeled to the canonical id, keeping the
// UUID assigned when the patch was first seen.
func TestProcessorJoinsStraddlingPatch(t *testing.T) {
	p := NewProcessor("patch", "ts_rep/quantizer", thresholdQuantiser{cut: 0.5})
	ctx := context.Background()

	out0, err := p.Process(ctx, tsrepResult(0, continuity.Discontinuous, 3, 4, bandPayload(3, 4, 1, 3)))
	require.NoError(t, err)

	marked0, ok := out0["marked_patches"].Event.(MarkedPatches)
	require.True(t, ok)
	require.Len(t, marked0.Unfinalized, 1)
	assert.Empty(t, marked0.Finalized)
	assert.Empty(t, marked0.JoinMatrix)

	first := marked0.Unfinalized[0]
	assert.Equal(t, 1, first.Label)
	assert.Equal(t, 1, first.Level)
	assert.Equal(t, int64(0), first.ChunkNumber)
	assert.Equal(t, "ts_rep/quantizer", first.TypeLabel)
	assert.True(t, first.TouchesLastColumn)
	assert.Equal(t, 4, first.Size)
	assert.InDelta(t, 1000.0, first.TRangeSeconds[0], 1e-9)
	assert.InDelta(t, 1000.04, first.TRangeSeconds[1], 1e-9)

	// Chunk 1 continues the band over columns 0..1 of 3, ending before the
	// last column so the merged patch finalizes.
	out1, err := p.Process(ctx, tsrepResult(1, continuity.WithPrevious, 3, 3, bandPayload(3, 3, 1, 1)))
	require.NoError(t, err)

	marked1, ok := out1["marked_patches"].Event.(MarkedPatches)
	require.True(t, ok)
	require.Len(t, marked1.JoinMatrix, 1)
	assert.Equal(t, JoinPair{NewLabel: 2, CanonicalLabel: 1}, marked1.JoinMatrix[0])

	require.Len(t, marked1.Finalized, 1)
	assert.Empty(t, marked1.Unfinalized)

	joined := marked1.Finalized[0]
	assert.Equal(t, 1, joined.Label)
	assert.Equal(t, first.ID, joined.ID, "a joined patch keeps the UUID it was created under")
	assert.Equal(t, 6, joined.Size)
	assert.Equal(t, 0, joined.TLow)
	assert.Equal(t, 5, joined.THigh)
	assert.Equal(t, 6, joined.Duration)
	assert.Equal(t, 1, joined.Height)
	assert.InDelta(t, 1.0, joined.FillRatio, 1e-9)

	// The rewritten label matrix reports the canonical id, not label 2.
	matrix1, ok := out1["matrix"].Event.(Matrix)
	require.True(t, ok)
	assert.Equal(t, 1, matrix1.At(1, 0))
}

// Two continuation patches bridging to the same previous patch collapse
// into one published descriptor, not two sharing a label.
func TestProcessorFoldsDoubleBulkConnection(t *testing.T) {
	p := NewProcessor("patch", "ts_rep/quantizer", thresholdQuantiser{cut: 0.5})
	ctx := context.Background()

	full := make([]float64, 3*4)
	for i := range full {
		full[i] = 1.0
	}
	out0, err := p.Process(ctx, tsrepResult(0, continuity.Discontinuous, 3, 4, full))
	require.NoError(t, err)
	marked0 := out0["marked_patches"].Event.(MarkedPatches)
	require.Len(t, marked0.Unfinalized, 1)
	first := marked0.Unfinalized[0]

	// Rows 0 and 2 continue over columns 0..1 of 3, row 1 goes silent: two
	// new patches, both bridging to the single previous patch.
	split := make([]float64, 3*3)
	for _, idx := range []int{0, 1, 6, 7} {
		split[idx] = 1.0
	}
	out1, err := p.Process(ctx, tsrepResult(1, continuity.WithPrevious, 3, 3, split))
	require.NoError(t, err)

	marked1 := out1["marked_patches"].Event.(MarkedPatches)
	require.Len(t, marked1.JoinMatrix, 2)
	for _, pair := range marked1.JoinMatrix {
		assert.Equal(t, first.Label, pair.CanonicalLabel)
	}

	patches1 := out1["patches"].Event.([]Descriptor)
	require.Len(t, patches1, 1)
	got := patches1[0]
	assert.Equal(t, first.Label, got.Label)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 12+2+2, got.Size)
	assert.Equal(t, 0, got.SLow)
	assert.Equal(t, 2, got.SHigh)
	assert.Equal(t, 0, got.TLow)
	assert.Equal(t, 5, got.THigh)
	require.Len(t, marked1.Finalized, 1)
	assert.Empty(t, marked1.Unfinalized)
}

func TestProcessorDiscontinuityStartsFreshPatches(t *testing.T) {
	p := NewProcessor("patch", "ts_rep/quantizer", thresholdQuantiser{cut: 0.5})
	ctx := context.Background()

	out0, err := p.Process(ctx, tsrepResult(0, continuity.Discontinuous, 2, 2, bandPayload(2, 2, 0, 1)))
	require.NoError(t, err)
	marked0 := out0["marked_patches"].Event.(MarkedPatches)
	require.Len(t, marked0.Unfinalized, 1)

	// A gap: the next composite is Discontinuous, so nothing joins even
	// though the band lines up.
	out2, err := p.Process(ctx, tsrepResult(2, continuity.Discontinuous, 2, 2, bandPayload(2, 2, 0, 1)))
	require.NoError(t, err)
	marked2 := out2["marked_patches"].Event.(MarkedPatches)
	assert.Empty(t, marked2.JoinMatrix)
	require.Len(t, marked2.Unfinalized, 1)
	assert.NotEqual(t, marked0.Unfinalized[0].ID, marked2.Unfinalized[0].ID)

	// Frame coordinates restart at the discontinuity.
	assert.Equal(t, 0, marked2.Unfinalized[0].TLow)
}

func TestProcessorMissingTSRepErrors(t *testing.T) {
	p := NewProcessor("patch", "ts_rep/quantizer", thresholdQuantiser{cut: 0.5})
	res := &composite.Result{Number: 0, Inputs: map[string]chunk.Payload{}}
	_, err := p.Process(context.Background(), res)
	assert.Error(t, err)
}

func TestProcessorPublishesEventPayloads(t *testing.T) {
	p := NewProcessor("patch", "ts_rep/quantizer", thresholdQuantiser{cut: 0.5})
	out, err := p.Process(context.Background(), tsrepResult(0, continuity.Discontinuous, 2, 2, bandPayload(2, 2, 0, 0)))
	require.NoError(t, err)

	for _, key := range []string{"matrix", "levels", "patches", "marked_patches"} {
		payload, ok := out[key]
		require.True(t, ok, "missing output key %s", key)
		assert.True(t, payload.IsEvent(), "output %s must be event-like", key)
	}
}
