package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/vbuf"
)

func TestColumnEval(t *testing.T) {
	row := vbuf.Row{vex.NewInt64(1), vex.NewString("x")}
	v, err := expr.Column(1).Eval(row)
	require.NoError(t, err)
	require.Equal(t, "x", v.String())
	v, err = expr.Column(9).Eval(row)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestComparatorMultiKey(t *testing.T) {
	cmp := expr.NewComparator(
		expr.NewSortExpr(expr.Column(0), false),
		expr.NewSortExpr(expr.Column(1), true),
	)
	a := vbuf.Row{vex.NewInt64(1), vex.NewInt64(5)}
	b := vbuf.Row{vex.NewInt64(1), vex.NewInt64(9)}
	require.Positive(t, cmp.Compare(a, b))
	require.Zero(t, cmp.Compare(a, a))
}

func TestTupleEqNullsGroupTogether(t *testing.T) {
	eq := expr.NewTupleEq([]int{0, 1})
	a := vbuf.Row{vex.NewInt64(1), vex.NullOf(vex.KindInt64)}
	b := vbuf.Row{vex.NewInt64(1), vex.NullOf(vex.KindInt64)}
	c := vbuf.Row{vex.NewInt64(1), vex.NewInt64(0)}
	require.True(t, eq.Equal(a, b))
	require.False(t, eq.Equal(a, c))
}

func TestEvaluatorEqual(t *testing.T) {
	require.True(t, expr.Equal(expr.Column(2), expr.Column(2)))
	require.False(t, expr.Equal(expr.Column(2), expr.Column(3)))
	require.True(t, expr.Equal(
		expr.Const{Value: vex.NewInt64(1)},
		expr.Const{Value: vex.NewInt64(1)},
	))
	require.False(t, expr.Equal(expr.Column(0), expr.Const{Value: vex.NewInt64(0)}))
}
