package rtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

// checkInvariants walks the whole tree and verifies parent links, exact node
// envelopes, uniform leaf depth and agreement with the item map.
func checkInvariants[K comparable](t *testing.T, idx *Index[K]) {
	t.Helper()

	seen := make(map[K]int)
	leafDepth := -1
	var walk func(n *node[K], depth int)
	walk = func(n *node[K], depth int) {
		if n.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			}
			require.Equal(t, leafDepth, depth, "leaves at different depths")
			for _, e := range n.entries {
				seen[e.ID]++
				box, ok := idx.items[e.ID]
				require.True(t, ok, "tree entry missing from item map")
				require.Equal(t, box, e.Box)
			}
		} else {
			require.NotEmpty(t, n.children, "internal node without children")
			for _, c := range n.children {
				require.Same(t, n, c.parent, "broken parent link")
				walk(c, depth+1)
			}
		}
		require.LessOrEqual(t, n.size(), idx.max)
		if n.size() > 0 {
			want := *n
			want.recompute()
			require.Equal(t, want.box, n.box, "stale node envelope")
		}
	}
	require.Nil(t, idx.root.parent)
	walk(idx.root, 0)

	require.Len(t, seen, len(idx.items))
	for id, count := range seen {
		require.Equal(t, 1, count, "entry %v indexed %d times", id, count)
	}
}

func randomBox(r *rand.Rand, extent float64) geometry.Box {
	p := geometry.V(r.Float64()*1000-500, r.Float64()*1000-500, r.Float64()*1000-500)
	return geometry.BoxAround(p, r.Float64()*extent)
}

func bruteForce(items map[int]geometry.Box, q geometry.Box) []int {
	var out []int
	for id, b := range items {
		if b.Intersects(q) {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func sorted(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}

func TestIndex_Basic(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		idx := New[int](0)
		require.Equal(t, 0, idx.Len())
		require.Empty(t, idx.Query(geometry.Everything()))
		_, ok := idx.Bounds()
		require.False(t, ok)
		require.False(t, idx.Remove(42))
	})

	t.Run("Insert And Query", func(t *testing.T) {
		idx := New[int](4)
		idx.Insert(1, geometry.PointBox(geometry.V(10, 20, 30)))
		idx.Insert(2, geometry.PointBox(geometry.V(550, 550, 550)))

		require.Equal(t, []int{1}, idx.Query(geometry.NewBox(geometry.V(-100, -100, -100), geometry.V(100, 100, 100))))
		require.Empty(t, idx.Query(geometry.NewBox(geometry.V(100, 100, 100), geometry.V(200, 200, 200))))
		require.ElementsMatch(t, []int{1, 2}, idx.Query(geometry.Everything()))
	})

	t.Run("Insert Replaces Envelope", func(t *testing.T) {
		idx := New[int](4)
		idx.Insert(7, geometry.PointBox(geometry.V(0, 0, 0)))
		idx.Insert(7, geometry.PointBox(geometry.V(100, 0, 0)))

		require.Equal(t, 1, idx.Len())
		require.Empty(t, idx.QueryPoint(geometry.V(0, 0, 0)))
		require.Equal(t, []int{7}, idx.QueryPoint(geometry.V(100, 0, 0)))
		checkInvariants(t, idx)
	})

	t.Run("Envelope Hit Outside Shape", func(t *testing.T) {
		idx := New[int](4)
		sphere := geometry.Sphere{Center: geometry.V(0, 0, 0), Radius: 10}
		idx.Insert(1, sphere.Envelope())

		corner := geometry.V(9.5, 9.5, 9.5)
		require.Equal(t, []int{1}, idx.QueryPoint(corner))
		require.False(t, sphere.Contains(corner))
	})

	t.Run("Search Stops Early", func(t *testing.T) {
		idx := New[int](4)
		for i := 0; i < 50; i++ {
			idx.Insert(i, geometry.PointBox(geometry.V(float64(i), 0, 0)))
		}
		calls := 0
		idx.Search(geometry.Everything(), func(int, geometry.Box) bool {
			calls++
			return calls < 3
		})
		require.Equal(t, 3, calls)
	})
}

func TestIndex_SplitAndCondense(t *testing.T) {
	idx := New[int](4)
	for i := 0; i < 200; i++ {
		idx.Insert(i, geometry.PointBox(geometry.V(float64(i%10), float64(i/10), 0)))
		checkInvariants(t, idx)
	}
	require.Greater(t, idx.Height(), 2)

	for i := 0; i < 200; i += 2 {
		require.True(t, idx.Remove(i))
		checkInvariants(t, idx)
	}
	require.Equal(t, 100, idx.Len())

	for i := 1; i < 200; i += 2 {
		require.True(t, idx.Remove(i))
	}
	checkInvariants(t, idx)
	require.Equal(t, 0, idx.Len())
	require.Equal(t, 1, idx.Height())
}

func TestIndex_BulkLoad(t *testing.T) {
	t.Run("Matches Brute Force", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		items := make(map[int]geometry.Box)
		entries := make([]Entry[int], 0, 1000)
		for i := 0; i < 1000; i++ {
			b := randomBox(r, 20)
			items[i] = b
			entries = append(entries, Entry[int]{ID: i, Box: b})
		}

		idx := New[int](8)
		idx.BulkLoad(entries)
		checkInvariants(t, idx)
		require.Equal(t, 1000, idx.Len())

		for q := 0; q < 50; q++ {
			query := randomBox(r, 150)
			require.Equal(t, bruteForce(items, query), sorted(idx.Query(query)))
		}
	})

	t.Run("Last Duplicate Wins", func(t *testing.T) {
		idx := New[int](4)
		idx.BulkLoad([]Entry[int]{
			{ID: 1, Box: geometry.PointBox(geometry.V(0, 0, 0))},
			{ID: 1, Box: geometry.PointBox(geometry.V(5, 5, 5))},
		})
		require.Equal(t, 1, idx.Len())
		box, ok := idx.Get(1)
		require.True(t, ok)
		require.Equal(t, geometry.V(5, 5, 5), box.Min)
	})

	t.Run("Incremental After Bulk", func(t *testing.T) {
		idx := New[int](4)
		entries := make([]Entry[int], 0, 30)
		for i := 0; i < 30; i++ {
			entries = append(entries, Entry[int]{ID: i, Box: geometry.PointBox(geometry.V(float64(i), 0, 0))})
		}
		idx.BulkLoad(entries)
		for i := 0; i < 30; i += 3 {
			idx.Remove(i)
			checkInvariants(t, idx)
		}
		for i := 100; i < 120; i++ {
			idx.Insert(i, geometry.PointBox(geometry.V(0, float64(i), 0)))
			checkInvariants(t, idx)
		}
		require.Equal(t, 40, idx.Len())
	})

	t.Run("RemoveAll", func(t *testing.T) {
		idx := New[int](4)
		for i := 0; i < 20; i++ {
			idx.Insert(i, geometry.PointBox(geometry.V(float64(i), 0, 0)))
		}
		require.Equal(t, 3, idx.RemoveAll([]int{1, 2, 3, 99}))
		require.Equal(t, 17, idx.Len())
		checkInvariants(t, idx)
	})
}

func TestIndex_RandomOperations(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	idx := New[int](6)
	items := make(map[int]geometry.Box)

	for step := 0; step < 3000; step++ {
		id := r.Intn(300)
		switch r.Intn(3) {
		case 0, 1:
			b := randomBox(r, 15)
			idx.Insert(id, b)
			items[id] = b
		case 2:
			_, present := items[id]
			require.Equal(t, present, idx.Remove(id))
			delete(items, id)
		}

		if step%250 == 0 {
			checkInvariants(t, idx)
			query := randomBox(r, 200)
			require.Equal(t, bruteForce(items, query), sorted(idx.Query(query)))
		}
	}
	checkInvariants(t, idx)
	require.Equal(t, len(items), idx.Len())
}
