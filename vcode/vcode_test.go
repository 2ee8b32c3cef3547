package vcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex/vcode"
)

func TestAppendIter(t *testing.T) {
	var b vcode.Bytes
	b = vcode.Append(b, []byte("hello"))
	b = vcode.Append(b, nil)
	b = vcode.Append(b, []byte{})
	b = vcode.Append(b, []byte{0x01, 0x02})
	it := vcode.Iter(b)
	v, null := it.Next()
	require.False(t, null)
	require.Equal(t, []byte("hello"), v)
	v, null = it.Next()
	require.True(t, null)
	require.Nil(t, v)
	v, null = it.Next()
	require.False(t, null)
	require.Len(t, v, 0)
	v, null = it.Next()
	require.False(t, null)
	require.Equal(t, []byte{0x01, 0x02}, v)
	require.True(t, it.Done())
}

func TestLongElement(t *testing.T) {
	big := make([]byte, 10000)
	for i := range big {
		big[i] = byte(i)
	}
	b := vcode.Append(nil, big)
	it := vcode.Iter(b)
	v, null := it.Next()
	require.False(t, null)
	require.Equal(t, big, v)
	require.True(t, it.Done())
}
