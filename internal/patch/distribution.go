package patch

import "fmt"

// Distribution is a density over the integer range [Low, High] inclusive,
// indexed Values[i] for position Low+i.
type Distribution struct {
	Low, High int
	Values    []float64
}

// JoinScaleDistributions merges two densities over possibly different
// ranges into one covering the union range: element-wise weight sum,
// element-wise (d*w) sum, final density = ratio where weight > 0 else 0
//.
func JoinScaleDistributions(d1, d2 Distribution, w1, w2 []float64) Distribution {
	low := min(d1.Low, d2.Low)
	high := max(d1.High, d2.High)
	n := high - low + 1

	weightSum := make([]float64, n)
	weighted := make([]float64, n)

	accumulate(weightSum, weighted, d1, w1, low)
	accumulate(weightSum, weighted, d2, w2, low)

	out := make([]float64, n)
	for i := range out {
		if weightSum[i] > 0 {
			out[i] = weighted[i] / weightSum[i]
		}
	}
	return Distribution{Low: low, High: high, Values: out}
}

func accumulate(weightSum, weighted []float64, d Distribution, w []float64, outLow int) {
	for i, v := range d.Values {
		pos := d.Low + i - outLow
		var wv float64
		if i < len(w) {
			wv = w[i]
		}
		weightSum[pos] += wv
		weighted[pos] += v * wv
	}
}

// FrameAdjacency classifies the chunk-boundary relationship between two
// frame (time-axis) distributions before they can be joined: same starting
// chunk, same ending chunk, or consecutive end chunks in either order; any
// other pair is a hard error.
type FrameAdjacency int

const (
	SameStart FrameAdjacency = iota
	SameEnd
	ConsecutiveForward // a ends where b starts
	ConsecutiveReverse // b ends where a starts
)

// FrameRange identifies which chunk a frame distribution's endpoints fall
// in, the minimum needed to classify adjacency.
type FrameRange struct {
	StartChunk int64
	EndChunk   int64
}

// ClassifyFrameAdjacency determines how a and b relate, or returns an
// error: an unanticipated merge.
func ClassifyFrameAdjacency(a, b FrameRange) (FrameAdjacency, error) {
	switch {
	case a.StartChunk == b.StartChunk:
		return SameStart, nil
	case a.EndChunk == b.EndChunk:
		return SameEnd, nil
	case a.EndChunk+1 == b.StartChunk:
		return ConsecutiveForward, nil
	case b.EndChunk+1 == a.StartChunk:
		return ConsecutiveReverse, nil
	default:
		return 0, fmt.Errorf("patch: join_frame_distributions: unanticipated merge between chunks [%d,%d] and [%d,%d]",
			a.StartChunk, a.EndChunk, b.StartChunk, b.EndChunk)
	}
}

// JoinFrameDistributions merges two time-axis densities according to their
// classified adjacency. SameStart/SameEnd overlay (weighted merge, as
// JoinScaleDistributions); Consecutive* concatenate end-to-end.
func JoinFrameDistributions(a, b Distribution, wA, wB []float64, adj FrameAdjacency) (Distribution, error) {
	switch adj {
	case SameStart, SameEnd:
		return JoinScaleDistributions(a, b, wA, wB), nil
	case ConsecutiveForward:
		return concatDistributions(a, b), nil
	case ConsecutiveReverse:
		return concatDistributions(b, a), nil
	default:
		return Distribution{}, fmt.Errorf("patch: join_frame_distributions: unknown adjacency %d", adj)
	}
}

func concatDistributions(first, second Distribution) Distribution {
	out := Distribution{
		Low:    first.Low,
		High:   second.High,
		Values: make([]float64, 0, len(first.Values)+len(second.Values)),
	}
	out.Values = append(out.Values, first.Values...)
	out.Values = append(out.Values, second.Values...)
	return out
}
