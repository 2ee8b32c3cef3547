package expr

import (
	"github.com/vexdb/vex"
	"github.com/vexdb/vex/vbuf"
)

// CompareFn compares two values; negative, zero, positive.
type CompareFn func(a, b vex.Value) int

// NewValueCompareFn returns a comparator over single values with the
// given direction; nulls sort last in ascending order.
func NewValueCompareFn(desc bool) CompareFn {
	if desc {
		return func(a, b vex.Value) int { return b.Compare(a) }
	}
	return vex.Value.Compare
}

// SortExpr pairs an evaluator with a direction.
type SortExpr struct {
	Expr Evaluator
	Desc bool
}

func NewSortExpr(e Evaluator, desc bool) SortExpr {
	return SortExpr{Expr: e, Desc: desc}
}

// SortExprsEqual reports structural equality of two sort key lists.
func SortExprsEqual(a, b []SortExpr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Desc != b[i].Desc || !Equal(a[i].Expr, b[i].Expr) {
			return false
		}
	}
	return true
}

// Comparator compares rows over a list of sort expressions.
type Comparator struct {
	exprs []SortExpr
}

func NewComparator(exprs ...SortExpr) *Comparator {
	return &Comparator{exprs: exprs}
}

// Compare orders two rows; evaluation errors order the erroring row
// last so sorting stays total.
func (c *Comparator) Compare(a, b vbuf.Row) int {
	for _, s := range c.exprs {
		av, err := s.Expr.Eval(a)
		if err != nil {
			return 1
		}
		bv, err := s.Expr.Eval(b)
		if err != nil {
			return -1
		}
		cmp := av.Compare(bv)
		if s.Desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// TupleEq compares a prefix of grouping columns between two rows.
// The executor deduplicates one predicate per distinct prefix length.
type TupleEq struct {
	cols []int
}

func NewTupleEq(cols []int) *TupleEq {
	return &TupleEq{cols: cols}
}

// Equal reports whether the grouping columns match between the rows.
// Nulls compare equal, the grouping rule.
func (e *TupleEq) Equal(a, b vbuf.Row) bool {
	for _, c := range e.cols {
		if !a[c].Equal(b[c]) {
			return false
		}
	}
	return true
}
