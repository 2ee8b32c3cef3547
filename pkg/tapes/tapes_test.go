package tapes_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/pkg/tapes"
)

func TestWriteRewindRead(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(2)
	require.NoError(t, err)
	defer set.Close()

	tape := set.Tapes()[0]
	require.NoError(t, tape.Write([]byte("abcd")))
	require.NoError(t, tape.Write([]byte("efgh")))
	require.EqualValues(t, 8, tape.Written())

	require.NoError(t, tape.RewindForRead())
	buf := make([]byte, 4)
	require.NoError(t, tape.Read(buf))
	require.Equal(t, "abcd", string(buf))
	require.NoError(t, tape.Read(buf))
	require.Equal(t, "efgh", string(buf))
	require.Equal(t, io.EOF, tape.Read(buf))
}

func TestShortRead(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(1)
	require.NoError(t, err)
	tape := set.Tapes()[0]
	require.NoError(t, tape.Write([]byte("abc")))
	require.NoError(t, tape.RewindForRead())
	err = tape.Read(make([]byte, 8))
	require.ErrorIs(t, err, execerr.ErrIO)
}

func TestWriteAfterRewind(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(1)
	require.NoError(t, err)
	tape := set.Tapes()[0]
	require.NoError(t, tape.RewindForRead())
	require.ErrorIs(t, tape.Write([]byte("x")), execerr.ErrInternal)
}

func TestExtend(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(1)
	require.NoError(t, err)
	require.NoError(t, set.Extend(3))
	require.Len(t, set.Tapes(), 4)
}

func TestReleaseIdempotent(t *testing.T) {
	pool, err := tapes.NewPool(t.TempDir())
	require.NoError(t, err)
	defer pool.Close()
	set, err := pool.NewSet(1)
	require.NoError(t, err)
	tape := set.Tapes()[0]
	require.NoError(t, tape.Release())
	require.NoError(t, tape.Release())
	require.NoError(t, set.Close())
}
