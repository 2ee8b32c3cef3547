package aggregate

import (
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
)

// perAgg is one distinct aggregate computation after identical calls
// have been merged; it owns the finalization side of the call and
// points at its transition state by transNo.
type perAgg struct {
	call    *agg.Call
	fn      *agg.Func
	transNo int
}

// buildPerAggs runs the two-level deduplication: identical calls
// share one perAgg (and thus one result slot); calls with matching
// inputs and transition wiring share one perTrans.  callMap maps each
// input call index to its perAgg.
func buildPerAggs(calls []agg.Call, mode agg.Mode) (peraggs []*perAgg, pertrans []*perTrans, callMap []int) {
	callMap = make([]int, len(calls))
	for i := range calls {
		call := &calls[i]
		if j := findIdenticalAgg(peraggs, call); j >= 0 {
			callMap[i] = j
			continue
		}
		pa := &perAgg{call: call, fn: call.Fn}
		if t := findShareableTrans(pertrans, call, mode); t >= 0 {
			pa.transNo = t
			pertrans[t].shared = true
		} else {
			pa.transNo = len(pertrans)
			pertrans = append(pertrans, newPerTrans(call, len(pertrans)))
		}
		callMap[i] = len(peraggs)
		peraggs = append(peraggs, pa)
	}
	return peraggs, pertrans, callMap
}

// findIdenticalAgg finds an earlier call identical in every respect
// that matters to the result.  Volatile argument expressions disable
// reuse.
func findIdenticalAgg(peraggs []*perAgg, call *agg.Call) int {
	if callHasVolatile(call) {
		return -1
	}
	for j, pa := range peraggs {
		prev := pa.call
		if sameInputs(prev, call) &&
			prev.Fn.OID == call.Fn.OID &&
			prev.ResultKind == call.ResultKind &&
			prev.ResultCollation == call.ResultCollation &&
			expr.EqualSlices(prev.DirectArgs, call.DirectArgs) {
			return j
		}
	}
	return -1
}

// sameInputs covers the input-side identity shared by both levels of
// deduplication: collation, transition type, variadic flag, aggregate
// kind, argument expressions, ORDER BY, DISTINCT, and FILTER.
func sameInputs(a, b *agg.Call) bool {
	return a.InputCollation == b.InputCollation &&
		a.Fn.TransKind == b.Fn.TransKind &&
		a.Variadic == b.Variadic &&
		a.Kind == b.Kind &&
		expr.EqualSlices(a.Args, b.Args) &&
		expr.SortExprsEqual(a.OrderBy, b.OrderBy) &&
		a.Distinct == b.Distinct &&
		sameFilter(a.Filter, b.Filter)
}

func sameFilter(a, b expr.Evaluator) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return expr.Equal(a, b)
}

// findShareableTrans finds an existing transition state a new
// aggregate may feed instead of keeping its own.
func findShareableTrans(pertrans []*perTrans, call *agg.Call, mode agg.Mode) int {
	if callHasVolatile(call) {
		return -1
	}
	if !modifyPermitsSharing(call.Fn, mode) {
		return -1
	}
	for t, pt := range pertrans {
		prev := pt.call
		if !sameInputs(prev, call) {
			continue
		}
		if !modifyPermitsSharing(prev.Fn, mode) {
			continue
		}
		if sameTransWiring(prev.Fn, call.Fn) {
			return t
		}
	}
	return -1
}

// sameTransWiring matches the transition function and everything that
// shapes its state: transition type, serialize/deserialize, and the
// initial condition.
func sameTransWiring(a, b *agg.Func) bool {
	return a.TransOID() == b.TransOID() &&
		a.TransStrict == b.TransStrict &&
		a.TransKind == b.TransKind &&
		a.SerialOID == b.SerialOID &&
		a.DeserialOID == b.DeserialOID &&
		a.InitIsNull == b.InitIsNull &&
		a.InitValue.Equal(b.InitValue)
}

// modifyPermitsSharing applies the final-function modify policy: a
// final function that scribbles on the transition value makes the
// state unshareable, unless no final function runs in this split
// mode.
func modifyPermitsSharing(fn *agg.Func, mode agg.Mode) bool {
	if mode.SkipFinal() || fn.Final == nil {
		return true
	}
	return fn.FinalModify != agg.ModifyReadWrite
}

func callHasVolatile(call *agg.Call) bool {
	for _, e := range call.Args {
		if expr.IsVolatile(e) {
			return true
		}
	}
	if call.Filter != nil && expr.IsVolatile(call.Filter) {
		return true
	}
	for _, e := range call.DirectArgs {
		if expr.IsVolatile(e) {
			return true
		}
	}
	return false
}
