package spill_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex/pkg/tapes"
	"github.com/vexdb/vex/runtime/sam/op/spill"
)

func TestPartitionCount(t *testing.T) {
	// Small inputs still get the minimum fan-out.
	require.Equal(t, 4, spill.PartitionCount(10, 64, 1<<20))
	// Huge estimates clamp at the maximum.
	require.Equal(t, 256, spill.PartitionCount(1e9, 64, 64<<20))
	// A tiny budget limits open-file buffering but keeps the floor
	// needed for recursive progress.
	require.Equal(t, 4, spill.PartitionCount(1e6, 64, 1800))
	// Monotone in the group estimate.
	prev := 0
	for _, groups := range []float64{1, 1e3, 1e5, 1e7} {
		n := spill.PartitionCount(groups, 64, 8<<20)
		require.GreaterOrEqual(t, n, prev)
		prev = n
	}
}

func TestPartitionSelection(t *testing.T) {
	// Two partition bits above four consumed bits select hash bits
	// 4 and 5 from the top.
	h := uint32(0b1111_0110_0000_0000_0000_0000_0000_0000)
	require.Equal(t, 0b01, spill.Partition(h, 4, 2))
	require.Equal(t, 0, spill.Partition(h, 4, 0))
	// A child consuming the next bits sees only its own slice.
	require.Equal(t, 0b10, spill.Partition(h, 6, 2))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(0)
	require.NoError(t, err)

	w, err := spill.NewWriter(set, 3, 0, 4)
	require.NoError(t, err)
	require.Equal(t, 4, w.Partitions())
	// Hashes chosen so the top two bits hit every partition.
	hashes := []uint32{0x00000001, 0x40000002, 0x80000003, 0xc0000004, 0x00000005}
	for i, h := range hashes {
		require.NoError(t, w.Write(h, []byte{byte(i), byte(i + 1)}))
	}
	require.EqualValues(t, 5, w.Tuples())
	batches, err := w.Finish()
	require.NoError(t, err)
	require.Len(t, batches, 4)
	var total int64
	seen := 0
	for _, b := range batches {
		require.Equal(t, 3, b.SetID)
		require.EqualValues(t, 2, b.InputBits)
		total += b.Tuples
		r, err := spill.NewReader(b)
		require.NoError(t, err)
		for {
			h, tuple, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Len(t, tuple, 2)
			require.Equal(t, tuple[0]+1, tuple[1])
			_ = h
			seen++
		}
		require.NoError(t, b.Tape.Release())
	}
	require.EqualValues(t, 5, total)
	require.Equal(t, 5, seen)
}

func TestBitExhaustionTruncates(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(0)
	require.NoError(t, err)
	w, err := spill.NewWriter(set, 0, 31, 4)
	require.NoError(t, err)
	// Only one hash bit remains; the fan-out is truncated to two.
	require.Equal(t, 2, w.Partitions())
	require.NoError(t, w.Write(0xffffffff, []byte("x")))
	batches, err := w.Finish()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.EqualValues(t, 32, batches[0].InputBits)
}

func TestEmptyPartitionsReleased(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(0)
	require.NoError(t, err)
	w, err := spill.NewWriter(set, 0, 0, 4)
	require.NoError(t, err)
	require.NoError(t, w.Write(0, []byte("only")))
	batches, err := w.Finish()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.EqualValues(t, 1, batches[0].Tuples)
}
