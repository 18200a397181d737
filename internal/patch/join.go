package patch

import (
	"fmt"
	"sort"
)

// JoinPair is one entry of a join_matrix row: a new chunk's label mapped
// to the canonical label it merges into.
type JoinPair struct {
	NewLabel       int
	CanonicalLabel int
}

// unionFind is the small disjoint-set structure used to collapse labels
// that belong to the same merged component, canonicalized to the earliest
// serial number encountered.
type unionFind struct {
	parent map[int]int
}

func newUnionFind() *unionFind { return &unionFind{parent: make(map[int]int)} }

func (u *unionFind) find(x int) int {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Canonical label is the earliest serial number encountered.
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// CrossChunkState holds what must be carried between chunks to join
// patches that straddle a chunk boundary.
type CrossChunkState struct {
	TexBefore            []int
	PatchBefore          []int
	CumulativePatchCount int
	MergePrepared         int64
}

// Join reconciles the new chunk's labelling against the previous chunk's
// trailing column when the composite is contiguous and the previous chunk
// prepared this exact merge. It rewrites matrix in place,
// unions patches whose labels collapse across the boundary, and returns
// the join_matrix pairs plus the rewritten/merged patch list.
func Join(state *CrossChunkState, chunkNumber int64, continuityAtLeastWithPrevious bool,
	matrix Matrix, levels Matrix, newPatches []Patch, lookupPrev func(canonical int) (Patch, bool)) ([]JoinPair, []Patch, error) {

	if !continuityAtLeastWithPrevious || chunkNumber != state.MergePrepared {
		return nil, newPatches, nil
	}
	if state.TexBefore == nil {
		return nil, newPatches, nil
	}

	texAfter := levels.Col(0)
	patchAfter := matrix.Col(0)

	if len(texAfter) != len(state.TexBefore) {
		return nil, nil, fmt.Errorf("patch: join scale mismatch (before %d, after %d)", len(state.TexBefore), len(texAfter))
	}

	uf := newUnionFind()
	var pairs []JoinPair
	prevSeen := make(map[int]struct{})
	for s := range texAfter {
		if texAfter[s] == 0 || state.TexBefore[s] == 0 {
			continue
		}
		if texAfter[s] != state.TexBefore[s] {
			continue
		}
		newLabel := patchAfter[s]
		prevLabel := state.PatchBefore[s]
		if newLabel == 0 || prevLabel == 0 {
			continue
		}
		uf.union(newLabel, prevLabel)
		prevSeen[prevLabel] = struct{}{}
	}

	canonicalOf := make(map[int]int)
	groups := make(map[int][]Patch)
	for _, p := range newPatches {
		c := uf.find(p.Label)
		if c != p.Label {
			canonicalOf[p.Label] = c
			pairs = append(pairs, JoinPair{NewLabel: p.Label, CanonicalLabel: c})
			groups[c] = append(groups[c], p)
		}
	}

	if len(canonicalOf) > 0 {
		for i, v := range matrix.Values {
			if c, ok := canonicalOf[v]; ok {
				matrix.Values[i] = c
			}
		}
	}

	// A component may span several previous-chunk patches (one new patch
	// bridging two old ones); gather each canonical's previous members so
	// the fold below sees all of them, not just the canonical itself.
	prevMembers := make(map[int][]int)
	for prevLabel := range prevSeen {
		c := uf.find(prevLabel)
		prevMembers[c] = append(prevMembers[c], prevLabel)
	}
	for _, members := range prevMembers {
		sort.Ints(members)
	}

	// Each canonical label yields exactly one merged patch, folding every
	// new-chunk patch in its group with every previous-chunk patch in its
	// component. Emitted at the group's first position in newPatches order.
	merged := make([]Patch, 0, len(newPatches))
	emitted := make(map[int]bool)
	for _, p := range newPatches {
		c, rewritten := canonicalOf[p.Label]
		if !rewritten {
			merged = append(merged, p)
			continue
		}
		if emitted[c] {
			continue
		}
		emitted[c] = true
		merged = append(merged, foldComponent(c, groups[c], prevMembers[c], lookupPrev))
	}

	return pairs, merged, nil
}

// foldComponent collapses every new-chunk patch sharing one canonical
// label, plus every previous-chunk patch in the same component, into a
// single merged patch. The boundary can connect two or more new patches to
// the same previous patch at separate scale runs, or one new patch to two
// previously separate patches; both collapse here.
func foldComponent(canonical int, news []Patch, prevLabels []int, lookupPrev func(int) (Patch, bool)) Patch {
	acc := news[0]
	acc.Label = canonical
	for _, n := range news[1:] {
		touches := acc.TouchesLastColumn || n.TouchesLastColumn
		acc = unionPatches(acc, n, canonical)
		acc.TouchesLastColumn = touches
	}

	var prevAcc Patch
	havePrev := false
	for _, pl := range prevLabels {
		pp, ok := lookupPrev(pl)
		if !ok {
			continue
		}
		if !havePrev {
			prevAcc = pp
			havePrev = true
			continue
		}
		prevAcc = unionPatches(prevAcc, pp, canonical)
	}
	if havePrev {
		acc = unionPatches(prevAcc, acc, canonical)
	}
	return acc
}

// unionPatches merges a and b (a from the previous chunk, b from the new
// one) into a single patch with the union bounding box, summed size, and
// joined row/col distributions.
func unionPatches(a, b Patch, canonicalLabel int) Patch {
	out := Patch{
		Label: canonicalLabel,
		Level: a.Level,
		TLow:  min(a.TLow, b.TLow), THigh: max(a.THigh, b.THigh),
		SLow: min(a.SLow, b.SLow), SHigh: max(a.SHigh, b.SHigh),
		Size:              a.Size + b.Size,
		TouchesLastColumn: b.TouchesLastColumn,
	}
	out.InRowCount = joinCounts(a.InRowCount, a.SLow, b.InRowCount, b.SLow, out.SLow, out.SHigh)
	out.InColCount = joinCounts(a.InColCount, a.TLow, b.InColCount, b.TLow, out.TLow, out.THigh)
	return out
}

// joinCounts re-bases and sums two per-row (or per-col) pixel counts onto
// a common [lo,hi] index range.
func joinCounts(a []int, aLo int, b []int, bLo int, lo, hi int) []int {
	out := make([]int, hi-lo+1)
	for i, v := range a {
		out[aLo+i-lo] += v
	}
	for i, v := range b {
		out[bLo+i-lo] += v
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Advance updates state after processing a chunk: the trailing column
// becomes the new TexBefore/PatchBefore, CumulativePatchCount grows by n
// new labels, and MergePrepared is set to chunkNumber+1.
func (state *CrossChunkState) Advance(levels Matrix, matrix Matrix, n int, chunkNumber int64) {
	state.TexBefore = levels.Col(levels.T - 1)
	state.PatchBefore = matrix.Col(matrix.T - 1)
	state.CumulativePatchCount += n
	state.MergePrepared = chunkNumber + 1
}
