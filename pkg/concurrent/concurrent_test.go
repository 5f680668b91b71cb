package concurrent

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestForEach(t *testing.T) {
	t.Run("Visits Everything And Joins Errors", func(t *testing.T) {
		errOdd := errors.New("odd")
		var visited atomic.Int32
		err := ForEach(context.Background(), slices.Values([]int{1, 2, 3, 4, 5}), 2, func(_ context.Context, v int) error {
			visited.Add(1)
			if v%2 == 1 {
				return errOdd
			}
			return nil
		})
		require.ErrorIs(t, err, errOdd)
		require.EqualValues(t, 5, visited.Load())
	})

	t.Run("Respects Limit", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		err := ForEach(context.Background(), slices.Values(make([]int, 50)), 3, func(context.Context, int) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			inFlight.Add(-1)
			return nil
		})
		require.NoError(t, err)
		require.LessOrEqual(t, peak.Load(), int32(3))
	})
}

func TestFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := FirstError(context.Background(), slices.Values([]int{1, 2, 3}), 1, func(_ context.Context, v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestParallelMap(t *testing.T) {
	out := ParallelMap([]int{1, 2, 3, 4}, 2, func(v int) int { return v * v })
	require.Equal(t, []int{1, 4, 9, 16}, out)
}
