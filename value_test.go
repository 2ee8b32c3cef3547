package vex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex"
)

func TestValueRoundTrip(t *testing.T) {
	vals := []vex.Value{
		vex.NewInt64(-42),
		vex.NewFloat64(3.5),
		vex.NewString("abc"),
		vex.NewBool(true),
		vex.NullOf(vex.KindInt64),
		vex.Null,
	}
	var b []byte
	for _, v := range vals {
		b = v.Append(b)
	}
	for _, want := range vals {
		var got vex.Value
		got, b = vex.DecodeValue(b)
		require.Equal(t, want.Kind(), got.Kind())
		require.True(t, want.Equal(got), "value %s", want)
	}
	require.Len(t, b, 0)
}

func TestCompare(t *testing.T) {
	require.Negative(t, vex.NewInt64(1).Compare(vex.NewInt64(2)))
	require.Positive(t, vex.NewInt64(2).Compare(vex.NewInt64(1)))
	require.Zero(t, vex.NewInt64(7).Compare(vex.NewInt64(7)))
	// Nulls order last.
	require.Positive(t, vex.NullOf(vex.KindInt64).Compare(vex.NewInt64(1)))
	require.Zero(t, vex.NullOf(vex.KindInt64).Compare(vex.Null))
	require.Negative(t, vex.NewString("a").Compare(vex.NewString("b")))
}

func TestNullEquality(t *testing.T) {
	// Nulls of the same kind group together.
	require.True(t, vex.NullOf(vex.KindInt64).Equal(vex.NullOf(vex.KindInt64)))
	require.False(t, vex.NullOf(vex.KindInt64).Equal(vex.NewInt64(0)))
}

func TestCopyDoesNotAlias(t *testing.T) {
	b := []byte("mutable")
	v := vex.NewBytes(b)
	c := v.Copy()
	b[0] = 'X'
	require.Equal(t, byte('m'), c.Bytes()[0])
}
