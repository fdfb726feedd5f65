package supervise

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_KeepsNewestWithinCapacity(t *testing.T) {
	r := NewRingBuffer(3)
	for i := 0; i < 10; i++ {
		r.Append(Line{Text: fmt.Sprintf("l%d", i)})
		require.LessOrEqual(t, r.Len(), r.Cap())
	}

	var texts []string
	for _, l := range r.Snapshot() {
		texts = append(texts, l.Text)
	}
	require.Equal(t, []string{"l7", "l8", "l9"}, texts)
	require.Equal(t, uint64(10), r.Total())
}

func TestRingBuffer_PartialFill(t *testing.T) {
	r := NewRingBuffer(5)
	r.Append(Line{Text: "a"})
	r.Append(Line{Text: "b", Stream: Stderr})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "a", snap[0].Text)
	require.Equal(t, Stderr, snap[1].Stream)
}

func TestRingBuffer_MinimumCapacity(t *testing.T) {
	r := NewRingBuffer(0)
	r.Append(Line{Text: "x"})
	r.Append(Line{Text: "y"})
	require.Equal(t, 1, r.Cap())
	require.Equal(t, "y", r.Snapshot()[0].Text)
}

func TestRingBuffer_SnapshotsAreNeverTorn(t *testing.T) {
	r := NewRingBuffer(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			r.Append(Line{Text: fmt.Sprintf("%d", i)})
		}
	}()

	for i := 0; i < 200; i++ {
		snap := r.Snapshot()
		for j := 1; j < len(snap); j++ {
			var prev, cur int
			_, _ = fmt.Sscanf(snap[j-1].Text, "%d", &prev)
			_, _ = fmt.Sscanf(snap[j].Text, "%d", &cur)
			require.Equal(t, prev+1, cur, "snapshot must be contiguous")
		}
	}
	wg.Wait()
}
