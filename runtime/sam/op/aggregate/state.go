package aggregate

import (
	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
	sortop "github.com/vexdb/vex/runtime/sam/op/sort"
)

// perTrans is the static side of one transition function: its
// handles, argument evaluators, and sort configuration.  Dynamic
// state lives in transState, one per grouping set per active group.
type perTrans struct {
	fn      *agg.Func
	call    *agg.Call
	args    []expr.Evaluator
	filter  expr.Evaluator
	transNo int
	shared  bool

	hasSort  bool
	multiArg bool
	// sortCmp orders argument tuples for multi-argument sorts; the
	// ORDER BY expressions index into the argument tuple.
	sortCmp *expr.Comparator
	// datumCmp orders single-argument sorts.
	datumCmp expr.CompareFn

	fc *agg.FnContext
}

func newPerTrans(call *agg.Call, transNo int) *perTrans {
	pt := &perTrans{
		fn:      call.Fn,
		call:    call,
		args:    call.Args,
		filter:  call.Filter,
		transNo: transNo,
	}
	pt.hasSort = call.Distinct || len(call.OrderBy) > 0 || call.Kind != agg.CallNormal
	if pt.hasSort {
		pt.multiArg = len(call.Args) > 1
		if pt.multiArg {
			keys := call.OrderBy
			if len(keys) == 0 {
				for i := range call.Args {
					keys = append(keys, expr.NewSortExpr(expr.Column(i), false))
				}
			}
			pt.sortCmp = expr.NewComparator(keys...)
		} else {
			desc := false
			if len(call.OrderBy) > 0 {
				desc = call.OrderBy[0].Desc
			}
			pt.datumCmp = expr.NewValueCompareFn(desc)
		}
	}
	return pt
}

// transState is one transition state: the accumulated value for one
// (grouping set, transition function, active group) triple.
type transState struct {
	value  agg.Datum
	isNull bool
	// noTransValue is set until the first non-null input has been
	// adopted as the initial state (strict transfn, null initcond).
	noTransValue bool

	dsort *sortop.DatumSorter
	tsort *sortop.TupleSorter
}

// initState prepares ts for a new group.  A non-null initial
// condition is copied into the grouping-set arena for by-reference
// transition types.
func (a *Aggregator) initState(pt *perTrans, ts *transState, groupArena *arena.Arena) {
	fn := pt.fn
	if fn.InitIsNull {
		ts.value = agg.Flat(vex.NullOf(fn.TransKind))
		ts.isNull = true
		ts.noTransValue = true
	} else {
		init := fn.InitValue
		if fn.TransByRef {
			init = vex.NewValue(init.Kind(), groupArena.Copy(init.Bytes()))
		}
		ts.value = agg.Flat(init)
		ts.isNull = false
		ts.noTransValue = false
		groupArena.Account(int64(len(init.Bytes())))
	}
	if pt.hasSort {
		if pt.multiArg {
			ts.tsort = a.factory.NewTupleSorter(pt.sortCmp)
			ts.dsort = nil
		} else {
			ts.dsort = a.factory.NewDatumSorter(pt.datumCmp)
			ts.tsort = nil
		}
	}
}

// closeSorters drops any per-aggregate sort state, used when a group
// is abandoned rather than finalized.
func (ts *transState) closeSorters() {
	if ts.dsort != nil {
		ts.dsort.Close()
		ts.dsort = nil
	}
	if ts.tsort != nil {
		ts.tsort.Close()
		ts.tsort = nil
	}
}
