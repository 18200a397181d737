package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundmesh/soundmesh/internal/continuity"
)

// Emitted number values strictly increase per
// producer; the tracker rejects a repeated or decreasing number.
func nonEmptyPayload() Payload {
	return Payload{Rows: 1, Cols: 4, Values: []float64{1, 2, 3, 4}}
}

func TestSequenceTrackerRejectsNonIncreasingNumber(t *testing.T) {
	var st SequenceTracker
	_, err := st.Admit(Chunk{Number: 0, Continuity: continuity.Discontinuous, Data: nonEmptyPayload()})
	require.NoError(t, err)

	_, err = st.Admit(Chunk{Number: 0, Continuity: continuity.WithPrevious, Data: nonEmptyPayload()})
	assert.Error(t, err)

	_, err = st.Admit(Chunk{Number: -1, Continuity: continuity.WithPrevious, Data: nonEmptyPayload()})
	assert.Error(t, err)
}

func TestSequenceTrackerDemotesOutOfSequenceWithPrevious(t *testing.T) {
	var st SequenceTracker
	_, err := st.Admit(Chunk{Number: 0, Continuity: continuity.Discontinuous, Data: nonEmptyPayload()})
	require.NoError(t, err)

	got, err := st.Admit(Chunk{Number: 5, Continuity: continuity.WithPrevious, Data: nonEmptyPayload()})
	require.NoError(t, err)
	assert.Equal(t, continuity.Discontinuous, got.Continuity)

	got, err = st.Admit(Chunk{Number: 6, Continuity: continuity.WithPrevious, Data: nonEmptyPayload()})
	require.NoError(t, err)
	assert.Equal(t, continuity.WithPrevious, got.Continuity)
}

func TestSequenceTrackerKeepsLastAcrossGap(t *testing.T) {
	var st SequenceTracker
	_, err := st.Admit(Chunk{Number: 0, Continuity: continuity.Discontinuous, Data: nonEmptyPayload()})
	require.NoError(t, err)

	// The terminator survives a skipped number; demoting it would strand
	// downstream processors waiting for a flush that never comes.
	got, err := st.Admit(Chunk{Number: 7, Continuity: continuity.Last, Data: nonEmptyPayload()})
	require.NoError(t, err)
	assert.Equal(t, continuity.Last, got.Continuity)
}

func TestSequenceTrackerRejectsEmptyPayloadWithoutWithPrevious(t *testing.T) {
	var st SequenceTracker
	_, err := st.Admit(Chunk{
		Number:     0,
		Continuity: continuity.Discontinuous,
		Data:       Payload{Rows: 4, Cols: 0},
	})
	assert.Error(t, err)

	st2 := SequenceTracker{}
	_, err = st2.Admit(Chunk{
		Number:     0,
		Continuity: continuity.WithPrevious,
		Data:       Payload{Rows: 4, Cols: 0},
	})
	// a WithPrevious first chunk gets demoted to Discontinuous (no prior
	// number to join to), so this must still be rejected as an empty
	// payload without at-least-WithPrevious continuity.
	assert.Error(t, err)
}

func TestPayloadRank(t *testing.T) {
	assert.Equal(t, 1, Payload{Rows: 1, Cols: 4}.Rank())
	assert.Equal(t, 1, Payload{Rows: 1, Cols: 0}.Rank())
	assert.Equal(t, 2, Payload{Rows: 3, Cols: 4}.Rank())
	assert.Equal(t, 2, Payload{Rows: 3, Cols: 0}.Rank())
	assert.Equal(t, 0, Payload{Event: []int{1}}.Rank())
}

func TestPayloadSliceAndConcat(t *testing.T) {
	p := Payload{Rows: 2, Cols: 4, Values: []float64{1, 2, 3, 4, 5, 6, 7, 8}}
	sliced := p.Slice(1, 3)
	assert.Equal(t, []float64{2, 3}, sliced.Row(0))
	assert.Equal(t, []float64{6, 7}, sliced.Row(1))

	a := Payload{Rows: 1, Cols: 2, Values: []float64{1, 2}}
	b := Payload{Rows: 1, Cols: 2, Values: []float64{3, 4}}
	cat := a.Concat(b)
	assert.Equal(t, []float64{1, 2, 3, 4}, cat.Row(0))
}

func TestPayloadEventPassesThroughVerbatim(t *testing.T) {
	ev := Payload{Event: []int{1, 2, 3}}
	assert.True(t, ev.IsEvent())
	assert.Equal(t, 0, ev.LastAxisLen())
	assert.Equal(t, ev, ev.Slice(0, 100))
}

func TestCompositeChunkDeliverCompletesOnce(t *testing.T) {
	cc := NewCompositeChunk(3, []string{"a", "b"})
	assert.False(t, cc.IsComplete())

	completed := cc.Deliver("a", Chunk{Number: 3})
	assert.False(t, completed)
	assert.False(t, cc.IsComplete())

	completed = cc.Deliver("b", Chunk{Number: 3})
	assert.True(t, completed)
	assert.True(t, cc.IsComplete())
	assert.Equal(t, Complete, cc.State)

	// Re-delivering (should not happen in practice, but Deliver is a dumb
	// recorder) does not re-report completion once State has moved on.
	completed = cc.Deliver("a", Chunk{Number: 3})
	assert.False(t, completed)
}

func TestCompositeChunkInputsReturnsAllReceived(t *testing.T) {
	cc := NewCompositeChunk(1, []string{"x", "y"})
	cc.Deliver("x", Chunk{Number: 1, ProcessorName: "x"})
	cc.Deliver("y", Chunk{Number: 1, ProcessorName: "y"})

	inputs := cc.Inputs()
	assert.Len(t, inputs, 2)
}

func TestWithSourceUnion(t *testing.T) {
	base := map[string]struct{}{"a": {}}
	out := WithSource(base, "b")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
	assert.Len(t, base, 1) // original untouched
}
