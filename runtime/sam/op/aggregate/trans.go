package aggregate

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
	"github.com/vexdb/vex/vbuf"
)

func funcErr(name, stage string, err error) error {
	return errors.Wrapf(execerr.ErrFunction, "%s %s: %v", name, stage, err)
}

// advanceRow runs the transition batch for one input row against one
// group's state array.  Either every transition state for the row is
// updated or an error unwinds before any output is produced;
// cancellation is checked before the batch begins, never inside it.
func (a *Aggregator) advanceRow(states []transState, groupArena *arena.Arena, row vbuf.Row) error {
	for i, pt := range a.pertrans {
		ts := &states[i]
		if pt.hasSort {
			if err := a.feedSorter(pt, ts, row); err != nil {
				return err
			}
			continue
		}
		if a.mode.CombineInput() {
			if err := a.advanceCombineOne(pt, ts, groupArena, row); err != nil {
				return err
			}
			continue
		}
		args, anyNull, pass, err := a.evalCallArgs(pt, row)
		if err != nil {
			return err
		}
		if !pass {
			continue
		}
		if err := a.advanceOne(pt, ts, groupArena, args, anyNull); err != nil {
			return err
		}
	}
	return nil
}

// evalCallArgs applies the FILTER clause and evaluates the transition
// arguments.  pass is false when the row is filtered out.
func (a *Aggregator) evalCallArgs(pt *perTrans, row vbuf.Row) (args []vex.Value, anyNull, pass bool, err error) {
	if pt.filter != nil {
		v, err := pt.filter.Eval(row)
		if err != nil {
			return nil, false, false, funcErr(pt.fn.Name, "filter", err)
		}
		if v.IsNull() || !v.Bool() {
			return nil, false, false, nil
		}
	}
	if cap(a.argBuf) < len(pt.args) {
		a.argBuf = make([]vex.Value, len(pt.args))
	}
	args = a.argBuf[:len(pt.args)]
	for i, e := range pt.args {
		v, err := e.Eval(row)
		if err != nil {
			return nil, false, false, funcErr(pt.fn.Name, "argument", err)
		}
		args[i] = v
		if v.IsNull() {
			anyNull = true
		}
	}
	return args, anyNull, true, nil
}

// advanceOne applies the strict-transition protocol and invokes the
// transition function.
func (a *Aggregator) advanceOne(pt *perTrans, ts *transState, groupArena *arena.Arena, args []vex.Value, anyNull bool) error {
	fn := pt.fn
	if fn.TransStrict {
		if anyNull {
			return nil
		}
		if ts.noTransValue {
			// First non-null input becomes the initial state verbatim.
			a.setTransValue(ts, groupArena, agg.Flat(args[0].Copy()), false)
			ts.noTransValue = false
			return nil
		}
		if ts.isNull {
			// A null state under a strict transition is poisoned.
			return nil
		}
	}
	pt.fc.Rebind(groupArena, pt.shared)
	newD, newNull, err := fn.Trans(pt.fc, ts.value, ts.isNull, args)
	if err != nil {
		return funcErr(fn.Name, "transition", err)
	}
	a.adoptTransValue(pt, ts, groupArena, newD, newNull)
	return nil
}

// advanceCombineOne merges one upstream partial state, deserializing
// it first when a deserialize function is configured.
func (a *Aggregator) advanceCombineOne(pt *perTrans, ts *transState, groupArena *arena.Arena, row vbuf.Row) error {
	fn := pt.fn
	raw, err := pt.args[0].Eval(row)
	if err != nil {
		return funcErr(fn.Name, "partial input", err)
	}
	pNull := raw.IsNull()
	var pd agg.Datum
	if !pNull {
		if fn.Deserial != nil {
			pt.fc.Rebind(groupArena, pt.shared)
			pd, err = fn.Deserial(pt.fc, raw)
			if err != nil {
				return funcErr(fn.Name, "deserialize", err)
			}
		} else {
			pd = agg.Flat(raw)
		}
	}
	if fn.CombineStrict {
		if pNull {
			return nil
		}
		if ts.noTransValue {
			a.setTransValue(ts, groupArena, agg.Flat(pd.Value().Copy()), false)
			ts.noTransValue = false
			return nil
		}
		if ts.isNull {
			return nil
		}
	}
	pt.fc.Rebind(groupArena, pt.shared)
	newD, newNull, err := fn.Combine(pt.fc, ts.value, ts.isNull, pd, pNull)
	if err != nil {
		return funcErr(fn.Name, "combine", err)
	}
	a.adoptTransValue(pt, ts, groupArena, newD, newNull)
	return nil
}

// adoptTransValue installs a new transition value, copying
// by-reference results into the group's ownership unless the value is
// a read-write expanded object already owned by the grouping-set
// arena.
func (a *Aggregator) adoptTransValue(pt *perTrans, ts *transState, groupArena *arena.Arena, newD agg.Datum, newNull bool) {
	if newNull {
		ts.value = agg.Flat(vex.NullOf(pt.fn.TransKind))
		ts.isNull = true
		return
	}
	if pt.fn.TransByRef {
		if newD.IsExpanded() {
			if newD.Object().Owner() != groupArena {
				newD = agg.Flat(newD.Value().Copy())
				groupArena.Account(newD.Size())
			}
		} else if !ts.isNull && !ts.value.IsExpanded() &&
			len(newD.Value().Bytes()) != len(ts.value.Value().Bytes()) {
			groupArena.Account(newD.Size() - ts.value.Size())
		}
	}
	ts.value = newD
	ts.isNull = false
}

func (a *Aggregator) setTransValue(ts *transState, groupArena *arena.Arena, d agg.Datum, isNull bool) {
	ts.value = d
	ts.isNull = isNull
	if !isNull {
		groupArena.Account(d.Size())
	}
}

// feedSorter routes a row's aggregate arguments into the
// per-aggregate sorter instead of the transition function; the sorter
// is drained at group finalization.
func (a *Aggregator) feedSorter(pt *perTrans, ts *transState, row vbuf.Row) error {
	args, _, pass, err := a.evalCallArgs(pt, row)
	if err != nil || !pass {
		return err
	}
	if pt.multiArg {
		tuple := make(vbuf.Row, len(args))
		for i, v := range args {
			tuple[i] = v.Copy()
		}
		ts.tsort.Put(tuple)
	} else {
		ts.dsort.Put(args[0].Copy())
	}
	return nil
}

// processSorters drains any per-aggregate sorters in a group's state
// array, collapsing adjacent duplicates for DISTINCT, and feeds the
// survivors through the transition function in sort order.
func (a *Aggregator) processSorters(states []transState, groupArena *arena.Arena) error {
	for i, pt := range a.pertrans {
		if !pt.hasSort {
			continue
		}
		ts := &states[i]
		if err := a.processOneSorter(pt, ts, groupArena); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) processOneSorter(pt *perTrans, ts *transState, groupArena *arena.Arena) error {
	if pt.multiArg {
		ts.tsort.Sort()
		var prev vbuf.Row
		for {
			tuple, ok := ts.tsort.Next()
			if !ok {
				break
			}
			if pt.call.Distinct && prev != nil && tuplesEqual(prev, tuple) {
				continue
			}
			prev = tuple
			anyNull := false
			for _, v := range tuple {
				if v.IsNull() {
					anyNull = true
				}
			}
			if err := a.advanceOne(pt, ts, groupArena, tuple, anyNull); err != nil {
				return err
			}
		}
	} else {
		ts.dsort.Sort()
		var prev vex.Value
		have := false
		for {
			v, ok := ts.dsort.Next()
			if !ok {
				break
			}
			if pt.call.Distinct && have && distinctEqual(prev, v) {
				continue
			}
			prev, have = v, true
			if err := a.advanceOne(pt, ts, groupArena, []vex.Value{v}, v.IsNull()); err != nil {
				return err
			}
		}
	}
	ts.closeSorters()
	return nil
}

func tuplesEqual(a, b vbuf.Row) bool {
	for i := range a {
		if !distinctEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// distinctEqual compares values for duplicate collapse with an
// abbreviated-key fast path on the leading bytes.
func distinctEqual(a, b vex.Value) bool {
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) >= 8 && len(bb) >= 8 &&
		binary.LittleEndian.Uint64(ab) != binary.LittleEndian.Uint64(bb) {
		return false
	}
	return a.Equal(b)
}

// finalizeAgg produces one aggregate's output value from its
// transition state.
func (a *Aggregator) finalizeAgg(pa *perAgg, states []transState, groupArena *arena.Arena, repRow vbuf.Row) (vex.Value, error) {
	pt := a.pertrans[pa.transNo]
	ts := &states[pa.transNo]
	fn := pa.fn
	if a.mode.SkipFinal() {
		return a.partialResult(pt, ts, groupArena)
	}
	direct, anyNull, err := a.evalDirectArgs(pa, repRow)
	if err != nil {
		return vex.Null, err
	}
	if fn.Final == nil {
		if ts.isNull {
			return vex.NullOf(pa.call.ResultKind), nil
		}
		// Copy: the transition value may live in the grouping-set
		// arena, which is reset before the output row is consumed.
		return ts.value.Value().Copy(), nil
	}
	if fn.FinalStrict && (ts.isNull || anyNull) {
		return vex.NullOf(pa.call.ResultKind), nil
	}
	pt.fc.Rebind(groupArena, pt.shared)
	v, err := fn.Final(pt.fc, ts.value, ts.isNull, direct)
	if err != nil {
		return vex.Null, funcErr(fn.Name, "final", err)
	}
	return v, nil
}

// partialResult emits the raw transition value or its serialized
// form, for split modes that skip finalization.
func (a *Aggregator) partialResult(pt *perTrans, ts *transState, groupArena *arena.Arena) (vex.Value, error) {
	fn := pt.fn
	if fn.Serial != nil {
		if ts.isNull && fn.SerialStrict {
			return vex.NullOf(vex.KindBytes), nil
		}
		pt.fc.Rebind(groupArena, pt.shared)
		v, err := fn.Serial(pt.fc, ts.value)
		if err != nil {
			return vex.Null, funcErr(fn.Name, "serialize", err)
		}
		return v, nil
	}
	if ts.isNull {
		return vex.NullOf(fn.TransKind), nil
	}
	return ts.value.Value().Copy(), nil
}

// evalDirectArgs evaluates ordered-set direct arguments into argument
// slots past the transition value, padding unused final-function
// arguments with nulls.
func (a *Aggregator) evalDirectArgs(pa *perAgg, repRow vbuf.Row) ([]vex.Value, bool, error) {
	var direct []vex.Value
	anyNull := false
	for _, e := range pa.call.DirectArgs {
		v, err := e.Eval(repRow)
		if err != nil {
			return nil, false, funcErr(pa.fn.Name, "direct argument", err)
		}
		if v.IsNull() {
			anyNull = true
		}
		direct = append(direct, v)
	}
	for len(direct) < pa.fn.FinalExtraArgs {
		direct = append(direct, vex.Null)
	}
	return direct, anyNull, nil
}
