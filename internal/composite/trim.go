package composite

import (
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// trimInput slices one input chunk's payload down to the composite's common
// valid region. prev, if non-nil, is the raw (untrimmed)
// payload this same key delivered for the previous processed composite,
// used to fold in filter-warmup history in the regular-continuous case.
func trimInput(alignmentIn continuity.ChunkAlignment, c chunk.Chunk, prev *chunk.Payload, compositeCont continuity.Continuity) (chunk.Payload, error) {
	if c.Data.IsEvent() || !c.Alignment.Alignable {
		return c.Data, nil
	}

	own := c.Alignment
	lowDrop := alignmentIn.DroppedAfterDiscontinuity - own.DroppedAfterDiscontinuity
	highDrop := alignmentIn.IncludedPast - own.IncludedPast
	chunkDiscLow := alignmentIn.DroppedAfterDiscontinuity + own.IncludedPast

	length := c.Data.LastAxisLen()

	switch {
	case compositeCont.AtLeast(continuity.WithPrevious):
		// Regular continuous: prepend the previous chunk's last high_drop
		// samples, then take the current chunk up to length-high_drop.
		curPart := c.Data.Slice(0, length-highDrop)
		if highDrop <= 0 || prev == nil {
			return curPart, nil
		}
		prevTail := prev.Slice(prev.Cols-highDrop, prev.Cols)
		return prevTail.Concat(curPart), nil

	case c.Continuity.AtLeast(continuity.WithPrevious):
		// Irregular discontinuous: this input claims continuity the
		// composite as a whole does not have.
		return c.Data.Slice(chunkDiscLow, length-highDrop), nil

	default:
		// Regular discontinuous.
		return c.Data.Slice(lowDrop, length-highDrop), nil
	}
}
