package sort_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/runtime/sam/expr"
	sortop "github.com/vexdb/vex/runtime/sam/op/sort"
	"github.com/vexdb/vex/vbuf"
)

func TestTupleSorter(t *testing.T) {
	cmp := expr.NewComparator(expr.NewSortExpr(expr.Column(0), false))
	s := sortop.NewTupleSorter(cmp)
	for _, v := range []int64{3, 1, 2, 1} {
		s.Put(vbuf.Row{vex.NewInt64(v)})
	}
	require.Equal(t, 4, s.Len())
	s.Sort()
	var got []int64
	for {
		row, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, row[0].Int64())
	}
	require.Equal(t, []int64{1, 1, 2, 3}, got)
	s.Close()
	_, ok := s.Next()
	require.False(t, ok)
}

func TestTupleSorterDesc(t *testing.T) {
	cmp := expr.NewComparator(expr.NewSortExpr(expr.Column(0), true))
	s := sortop.NewTupleSorter(cmp)
	for _, v := range []int64{1, 3, 2} {
		s.Put(vbuf.Row{vex.NewInt64(v)})
	}
	s.Sort()
	row, _ := s.Next()
	require.EqualValues(t, 3, row[0].Int64())
}

func TestDatumSorterNullsLast(t *testing.T) {
	s := sortop.NewDatumSorter(expr.NewValueCompareFn(false))
	s.Put(vex.NullOf(vex.KindInt64))
	s.Put(vex.NewInt64(2))
	s.Put(vex.NewInt64(1))
	s.Sort()
	v, ok := s.Next()
	require.True(t, ok)
	require.EqualValues(t, 1, v.Int64())
	v, _ = s.Next()
	require.EqualValues(t, 2, v.Int64())
	v, _ = s.Next()
	require.True(t, v.IsNull())
	_, ok = s.Next()
	require.False(t, ok)
}
