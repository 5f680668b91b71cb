// Package rtree implements an in-memory R-tree over axis-aligned envelopes.
//
// The tree supports incremental inserts (quadratic split), incremental
// deletes (condense with reinsertion) and sort-tile-recursive bulk loading.
// Entries are indexed by their full envelope, so a range or point query
// returns every entry whose envelope intersects the query; callers that need
// exact shape tests run them on the returned candidates.
//
// An Index is not safe for concurrent use. Owners serialize access.
package rtree

import (
	"math"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

const (
	// DefaultMaxEntries is the node fan-out used when none is configured.
	DefaultMaxEntries = 16

	minMaxEntries = 4
	minFillRatio  = 0.4
)

// Entry is one indexed item.
type Entry[K comparable] struct {
	ID  K
	Box geometry.Box
}

type node[K comparable] struct {
	parent   *node[K]
	leaf     bool
	box      geometry.Box
	entries  []Entry[K]
	children []*node[K]
}

func (n *node[K]) size() int {
	if n.leaf {
		return len(n.entries)
	}
	return len(n.children)
}

func (n *node[K]) recompute() {
	if n.leaf {
		if len(n.entries) == 0 {
			n.box = geometry.Box{}
			return
		}
		b := n.entries[0].Box
		for _, e := range n.entries[1:] {
			b = b.Union(e.Box)
		}
		n.box = b
		return
	}
	if len(n.children) == 0 {
		n.box = geometry.Box{}
		return
	}
	b := n.children[0].box
	for _, c := range n.children[1:] {
		b = b.Union(c.box)
	}
	n.box = b
}

func (n *node[K]) removeChild(c *node[K]) {
	for i, ch := range n.children {
		if ch == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// Index is an R-tree keyed by K.
type Index[K comparable] struct {
	root  *node[K]
	items map[K]geometry.Box
	max   int
	min   int
}

// New creates an empty index with the given node fan-out. Values below four
// fall back to DefaultMaxEntries.
func New[K comparable](maxEntries int) *Index[K] {
	if maxEntries < minMaxEntries {
		maxEntries = DefaultMaxEntries
	}
	minEntries := int(math.Ceil(float64(maxEntries) * minFillRatio))
	if minEntries < 2 {
		minEntries = 2
	}
	return &Index[K]{
		root:  &node[K]{leaf: true},
		items: make(map[K]geometry.Box),
		max:   maxEntries,
		min:   minEntries,
	}
}

// Len returns the number of indexed entries.
func (t *Index[K]) Len() int { return len(t.items) }

// Get returns the envelope stored for id.
func (t *Index[K]) Get(id K) (geometry.Box, bool) {
	b, ok := t.items[id]
	return b, ok
}

// Bounds returns the envelope of the whole index. The second result is false
// when the index is empty.
func (t *Index[K]) Bounds() (geometry.Box, bool) {
	if len(t.items) == 0 {
		return geometry.Box{}, false
	}
	return t.root.box, true
}

// Entries returns every indexed entry in unspecified order.
func (t *Index[K]) Entries() []Entry[K] {
	out := make([]Entry[K], 0, len(t.items))
	for id, b := range t.items {
		out = append(out, Entry[K]{ID: id, Box: b})
	}
	return out
}

// Insert indexes id under box. An id that is already present is re-indexed.
func (t *Index[K]) Insert(id K, box geometry.Box) {
	if _, ok := t.items[id]; ok {
		t.Remove(id)
	}
	t.items[id] = box
	t.insertEntry(Entry[K]{ID: id, Box: box})
}

// Remove drops id from the index and reports whether it was present.
func (t *Index[K]) Remove(id K) bool {
	box, ok := t.items[id]
	if !ok {
		return false
	}
	delete(t.items, id)

	leaf := t.findLeaf(t.root, id, box)
	if leaf == nil {
		// The tree lost track of the entry; the item map is authoritative.
		t.Rebuild()
		return true
	}
	for i, e := range leaf.entries {
		if e.ID == id {
			leaf.entries = append(leaf.entries[:i], leaf.entries[i+1:]...)
			break
		}
	}
	t.condense(leaf)
	return true
}

// RemoveAll drops every listed id with a single rebuild and returns how many
// were present. Prefer it to repeated Remove calls for large batches.
func (t *Index[K]) RemoveAll(ids []K) int {
	removed := 0
	for _, id := range ids {
		if _, ok := t.items[id]; ok {
			delete(t.items, id)
			removed++
		}
	}
	if removed > 0 {
		t.Rebuild()
	}
	return removed
}

// Rebuild repacks the tree from the current entry set.
func (t *Index[K]) Rebuild() {
	t.root = t.pack(t.Entries())
}

// BulkLoad replaces the whole index with entries. When an id repeats, the last
// occurrence wins.
func (t *Index[K]) BulkLoad(entries []Entry[K]) {
	pos := make(map[K]int, len(entries))
	list := make([]Entry[K], 0, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.ID]; ok {
			list[i] = e
			continue
		}
		pos[e.ID] = len(list)
		list = append(list, e)
	}

	t.items = make(map[K]geometry.Box, len(list))
	for _, e := range list {
		t.items[e.ID] = e.Box
	}
	t.root = t.pack(list)
}

// Clear removes every entry.
func (t *Index[K]) Clear() {
	t.root = &node[K]{leaf: true}
	t.items = make(map[K]geometry.Box)
}

// Search calls fn for every entry whose envelope intersects box, stopping
// early when fn returns false.
func (t *Index[K]) Search(box geometry.Box, fn func(id K, envelope geometry.Box) bool) {
	if len(t.items) == 0 {
		return
	}
	search(t.root, box, fn)
}

// Query returns the ids of every entry whose envelope intersects box.
func (t *Index[K]) Query(box geometry.Box) []K {
	var out []K
	t.Search(box, func(id K, _ geometry.Box) bool {
		out = append(out, id)
		return true
	})
	return out
}

// QueryPoint returns the ids of every entry whose envelope contains p.
func (t *Index[K]) QueryPoint(p geometry.Vec3) []K {
	return t.Query(geometry.PointBox(p))
}

// Height returns the number of levels in the tree.
func (t *Index[K]) Height() int {
	h := 1
	for n := t.root; !n.leaf; n = n.children[0] {
		h++
	}
	return h
}

func search[K comparable](n *node[K], box geometry.Box, fn func(K, geometry.Box) bool) bool {
	if n.leaf {
		for _, e := range n.entries {
			if e.Box.Intersects(box) && !fn(e.ID, e.Box) {
				return false
			}
		}
		return true
	}
	for _, c := range n.children {
		if c.box.Intersects(box) && !search(c, box, fn) {
			return false
		}
	}
	return true
}

func (t *Index[K]) insertEntry(e Entry[K]) {
	leaf := t.chooseLeaf(e.Box)
	leaf.entries = append(leaf.entries, e)
	t.adjust(leaf)
}

// chooseLeaf descends along the child needing the least enlargement.
func (t *Index[K]) chooseLeaf(box geometry.Box) *node[K] {
	n := t.root
	for !n.leaf {
		var best *node[K]
		bestEnl, bestMeasure := math.Inf(1), math.Inf(1)
		for _, c := range n.children {
			m := measure(c.box)
			enl := measure(c.box.Union(box)) - m
			if enl < bestEnl || (enl == bestEnl && m < bestMeasure) {
				best, bestEnl, bestMeasure = c, enl, m
			}
		}
		if best == nil {
			best = n.children[0]
		}
		n = best
	}
	return n
}

// adjust walks from n to the root, splitting overflowing nodes and refreshing
// envelopes.
func (t *Index[K]) adjust(n *node[K]) {
	for n != nil {
		if n.size() > t.max {
			t.split(n)
		} else {
			n.recompute()
		}
		n = n.parent
	}
}

func (t *Index[K]) split(n *node[K]) {
	var boxes []geometry.Box
	if n.leaf {
		boxes = make([]geometry.Box, len(n.entries))
		for i, e := range n.entries {
			boxes[i] = e.Box
		}
	} else {
		boxes = make([]geometry.Box, len(n.children))
		for i, c := range n.children {
			boxes[i] = c.box
		}
	}
	groupA, groupB := quadraticSplit(boxes, t.min)

	sibling := &node[K]{leaf: n.leaf}
	if n.leaf {
		old := n.entries
		n.entries = make([]Entry[K], 0, t.max+1)
		sibling.entries = make([]Entry[K], 0, t.max+1)
		for _, i := range groupA {
			n.entries = append(n.entries, old[i])
		}
		for _, i := range groupB {
			sibling.entries = append(sibling.entries, old[i])
		}
	} else {
		old := n.children
		n.children = make([]*node[K], 0, t.max+1)
		sibling.children = make([]*node[K], 0, t.max+1)
		for _, i := range groupA {
			old[i].parent = n
			n.children = append(n.children, old[i])
		}
		for _, i := range groupB {
			old[i].parent = sibling
			sibling.children = append(sibling.children, old[i])
		}
	}
	n.recompute()
	sibling.recompute()

	if n.parent == nil {
		root := &node[K]{children: []*node[K]{n, sibling}}
		n.parent, sibling.parent = root, root
		t.root = root
		return
	}
	sibling.parent = n.parent
	n.parent.children = append(n.parent.children, sibling)
}

// condense removes underfull nodes on the path from leaf to the root and
// reinserts their entries.
func (t *Index[K]) condense(n *node[K]) {
	var orphans []Entry[K]
	for n != t.root {
		p := n.parent
		if n.size() < t.min {
			p.removeChild(n)
			orphans = collect(n, orphans)
		} else {
			n.recompute()
		}
		n = p
	}
	t.root.recompute()

	for !t.root.leaf && len(t.root.children) == 1 {
		t.root = t.root.children[0]
		t.root.parent = nil
	}
	if !t.root.leaf && len(t.root.children) == 0 {
		t.root = &node[K]{leaf: true}
	}

	for _, e := range orphans {
		t.insertEntry(e)
	}
}

func collect[K comparable](n *node[K], out []Entry[K]) []Entry[K] {
	if n.leaf {
		return append(out, n.entries...)
	}
	for _, c := range n.children {
		out = collect(c, out)
	}
	return out
}

func (t *Index[K]) findLeaf(n *node[K], id K, box geometry.Box) *node[K] {
	if n.leaf {
		for _, e := range n.entries {
			if e.ID == id {
				return n
			}
		}
		return nil
	}
	for _, c := range n.children {
		if !c.box.Contains(box) {
			continue
		}
		if leaf := t.findLeaf(c, id, box); leaf != nil {
			return leaf
		}
	}
	return nil
}
