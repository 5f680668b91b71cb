package rtree

import (
	"math"
	"sort"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

// measure is the cost used by the split and descent heuristics. Volume alone
// is zero for flat or point boxes, so the margin keeps the heuristic useful.
func measure(b geometry.Box) float64 {
	return b.Volume() + b.Margin()
}

func enlargement(b, add geometry.Box) float64 {
	return measure(b.Union(add)) - measure(b)
}

// quadraticSplit partitions boxes into two groups of at least minEntries each
// using Guttman's quadratic algorithm and returns their indices.
func quadraticSplit(boxes []geometry.Box, minEntries int) (a, b []int) {
	seedA, seedB := pickSeeds(boxes)
	a = []int{seedA}
	b = []int{seedB}
	boxA, boxB := boxes[seedA], boxes[seedB]

	remaining := make([]int, 0, len(boxes)-2)
	for i := range boxes {
		if i != seedA && i != seedB {
			remaining = append(remaining, i)
		}
	}

	for len(remaining) > 0 {
		if len(a)+len(remaining) <= minEntries {
			a = append(a, remaining...)
			break
		}
		if len(b)+len(remaining) <= minEntries {
			b = append(b, remaining...)
			break
		}

		best, bestDiff := 0, -1.0
		for k, i := range remaining {
			diff := math.Abs(enlargement(boxA, boxes[i]) - enlargement(boxB, boxes[i]))
			if diff > bestDiff {
				best, bestDiff = k, diff
			}
		}
		i := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		d1, d2 := enlargement(boxA, boxes[i]), enlargement(boxB, boxes[i])
		toA := d1 < d2
		if d1 == d2 {
			mA, mB := measure(boxA), measure(boxB)
			toA = mA < mB || (mA == mB && len(a) <= len(b))
		}
		if toA {
			a = append(a, i)
			boxA = boxA.Union(boxes[i])
		} else {
			b = append(b, i)
			boxB = boxB.Union(boxes[i])
		}
	}
	return a, b
}

// pickSeeds returns the pair that would waste the most space if grouped.
func pickSeeds(boxes []geometry.Box) (int, int) {
	seedA, seedB := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			d := measure(boxes[i].Union(boxes[j])) - measure(boxes[i]) - measure(boxes[j])
			if d > worst {
				worst, seedA, seedB = d, i, j
			}
		}
	}
	return seedA, seedB
}

// strGroups partitions boxes into runs of at most maxEntries using
// sort-tile-recursive ordering on box centers (x slabs, y strips, z runs).
func strGroups(boxes []geometry.Box, maxEntries int) [][]int {
	n := len(boxes)
	idx := make([]int, n)
	centers := make([]geometry.Vec3, n)
	for i, b := range boxes {
		idx[i] = i
		centers[i] = b.Center()
	}

	leafCount := (n + maxEntries - 1) / maxEntries
	tiles := int(math.Ceil(math.Cbrt(float64(leafCount))))
	if tiles < 1 {
		tiles = 1
	}
	slabSize := tiles * tiles * maxEntries
	stripSize := tiles * maxEntries

	sortBy := func(s []int, axis func(geometry.Vec3) float64) {
		sort.SliceStable(s, func(i, j int) bool {
			return axis(centers[s[i]]) < axis(centers[s[j]])
		})
	}

	groups := make([][]int, 0, leafCount)
	sortBy(idx, func(v geometry.Vec3) float64 { return v.X })
	for _, slab := range chunks(idx, slabSize) {
		sortBy(slab, func(v geometry.Vec3) float64 { return v.Y })
		for _, strip := range chunks(slab, stripSize) {
			sortBy(strip, func(v geometry.Vec3) float64 { return v.Z })
			for _, run := range chunks(strip, maxEntries) {
				groups = append(groups, append([]int(nil), run...))
			}
		}
	}
	return groups
}

func chunks(s []int, size int) [][]int {
	var out [][]int
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[start:end])
	}
	return out
}

// pack builds a fresh tree bottom-up from entries.
func (t *Index[K]) pack(entries []Entry[K]) *node[K] {
	if len(entries) == 0 {
		return &node[K]{leaf: true}
	}

	boxes := make([]geometry.Box, len(entries))
	for i, e := range entries {
		boxes[i] = e.Box
	}
	level := make([]*node[K], 0, len(entries)/t.max+1)
	for _, group := range strGroups(boxes, t.max) {
		leaf := &node[K]{leaf: true, entries: make([]Entry[K], 0, len(group))}
		for _, i := range group {
			leaf.entries = append(leaf.entries, entries[i])
		}
		leaf.recompute()
		level = append(level, leaf)
	}

	for len(level) > 1 {
		boxes = boxes[:0]
		for _, n := range level {
			boxes = append(boxes, n.box)
		}
		next := make([]*node[K], 0, len(level)/t.max+1)
		for _, group := range strGroups(boxes, t.max) {
			parent := &node[K]{children: make([]*node[K], 0, len(group))}
			for _, i := range group {
				level[i].parent = parent
				parent.children = append(parent.children, level[i])
			}
			parent.recompute()
			next = append(next, parent)
		}
		level = next
	}

	root := level[0]
	root.parent = nil
	return root
}
