package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex/pkg/arena"
)

func TestAllocAndAccounting(t *testing.T) {
	a := arena.New()
	b := a.Alloc(100)
	require.Len(t, b, 100)
	require.EqualValues(t, 100, a.Allocated())
	a.Account(50)
	require.EqualValues(t, 150, a.Allocated())
	a.Account(-50)
	require.EqualValues(t, 100, a.Allocated())
	a.Reset()
	require.Zero(t, a.Allocated())
}

func TestCopy(t *testing.T) {
	a := arena.New()
	src := []byte("hello")
	dst := a.Copy(src)
	src[0] = 'X'
	require.Equal(t, byte('h'), dst[0])
	require.Nil(t, a.Copy(nil))
}

func TestLargeAlloc(t *testing.T) {
	a := arena.New()
	b := a.Alloc(1 << 20)
	require.Len(t, b, 1<<20)
	require.EqualValues(t, 1<<20, a.Allocated())
}

func TestResetCallbacks(t *testing.T) {
	a := arena.New()
	var order []int
	a.OnReset(func() { order = append(order, 1) })
	a.OnReset(func() { order = append(order, 2) })
	a.Reset()
	// Reverse registration order, run once.
	require.Equal(t, []int{2, 1}, order)
	a.Reset()
	require.Equal(t, []int{2, 1}, order)
}

func TestDestroyRunsCallbacks(t *testing.T) {
	a := arena.New()
	fired := false
	a.OnReset(func() { fired = true })
	a.Destroy()
	require.True(t, fired)
}
