package agg

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
)

// Builtins returns a registry preloaded with the reference aggregate
// implementations.  These exercise every executor path: by-value and
// by-reference transition types, strict and non-strict functions,
// null and non-null initial conditions, opaque internal state with
// serialize/deserialize, and expanded objects.
func Builtins(acl ACLFunc) *Registry {
	r := NewRegistry(acl)
	r.Register(CountStar())
	r.Register(Count())
	r.Register(SumInt64())
	r.Register(Min())
	r.Register(Max())
	r.Register(AvgInt64())
	r.Register(Collect())
	return r
}

// CountStar counts rows.  Non-strict so null arguments still count.
func CountStar() *Func {
	return &Func{
		Name:       "count_star",
		OID:        2803,
		Trans:      addOneTrans,
		TransKind:  vex.KindInt64,
		Combine:    sumCombine,
		InitValue:  vex.NewInt64(0),
		ResultKind: vex.KindInt64,
	}
}

// Count counts non-null inputs; strictness skips the nulls.
func Count() *Func {
	f := CountStar()
	f.Name = "count"
	f.OID = 2147
	f.TransStrict = true
	return f
}

func addOneTrans(_ *FnContext, state Datum, _ bool, _ []vex.Value) (Datum, bool, error) {
	return Flat(vex.NewInt64(state.Value().Int64() + 1)), false, nil
}

func sumCombine(_ *FnContext, state Datum, _ bool, partial Datum, partialNull bool) (Datum, bool, error) {
	if partialNull {
		return state, false, nil
	}
	return Flat(vex.NewInt64(state.Value().Int64() + partial.Value().Int64())), false, nil
}

// SumInt64 sums int64 inputs.  Strict with a null initial condition,
// so the first non-null input is adopted as the initial state and an
// all-null group sums to null.
func SumInt64() *Func {
	return &Func{
		Name:        "sum",
		OID:         2108,
		Trans:       sumTrans,
		TransStrict: true,
		TransKind:   vex.KindInt64,
		Combine:     sumCombine,
		CombineStrict: true,
		InitIsNull:  true,
		InitValue:   vex.NullOf(vex.KindInt64),
		ResultKind:  vex.KindInt64,
	}
}

func sumTrans(_ *FnContext, state Datum, _ bool, args []vex.Value) (Datum, bool, error) {
	return Flat(vex.NewInt64(state.Value().Int64() + args[0].Int64())), false, nil
}

// Min returns the smallest non-null input.
func Min() *Func {
	return &Func{
		Name:        "min",
		OID:         2131,
		Trans:       minTrans,
		TransStrict: true,
		TransKind:   vex.KindInt64,
		Combine:     minCombine,
		CombineStrict: true,
		InitIsNull:  true,
		InitValue:   vex.NullOf(vex.KindInt64),
		ResultKind:  vex.KindInt64,
	}
}

// Max returns the largest non-null input.
func Max() *Func {
	return &Func{
		Name:        "max",
		OID:         2116,
		Trans:       maxTrans,
		TransStrict: true,
		TransKind:   vex.KindInt64,
		Combine:     maxCombine,
		CombineStrict: true,
		InitIsNull:  true,
		InitValue:   vex.NullOf(vex.KindInt64),
		ResultKind:  vex.KindInt64,
	}
}

func minTrans(_ *FnContext, state Datum, _ bool, args []vex.Value) (Datum, bool, error) {
	if args[0].Compare(state.Value()) < 0 {
		return Flat(args[0].Copy()), false, nil
	}
	return state, false, nil
}

func maxTrans(_ *FnContext, state Datum, _ bool, args []vex.Value) (Datum, bool, error) {
	if args[0].Compare(state.Value()) > 0 {
		return Flat(args[0].Copy()), false, nil
	}
	return state, false, nil
}

func minCombine(fc *FnContext, state Datum, stateNull bool, partial Datum, _ bool) (Datum, bool, error) {
	return minTrans(fc, state, stateNull, []vex.Value{partial.Value()})
}

func maxCombine(fc *FnContext, state Datum, stateNull bool, partial Datum, _ bool) (Datum, bool, error) {
	return maxTrans(fc, state, stateNull, []vex.Value{partial.Value()})
}

// AvgInt64 averages int64 inputs over an opaque internal state of
// (sum, count).  The combine function over the internal type is
// non-strict, as required, and serialize/deserialize give the state a
// portable form for partial aggregation.
func AvgInt64() *Func {
	return &Func{
		Name:        "avg",
		OID:         2101,
		Trans:       avgTrans,
		TransStrict: true,
		TransKind:   vex.KindInternal,
		TransByRef:  true,
		Final:       avgFinal,
		Combine:     avgCombine,
		Serial:      avgSerial,
		SerialStrict: true,
		Deserial:    avgDeserial,
		DeserialStrict: true,
		InitValue:   avgState(0, 0),
		ResultKind:  vex.KindFloat64,
	}
}

func avgState(sum, count int64) vex.Value {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(sum))
	binary.LittleEndian.PutUint64(b[8:], uint64(count))
	return vex.NewValue(vex.KindInternal, b[:])
}

func avgParts(v vex.Value) (int64, int64) {
	b := v.Bytes()
	return int64(binary.LittleEndian.Uint64(b[:8])), int64(binary.LittleEndian.Uint64(b[8:]))
}

func avgTrans(_ *FnContext, state Datum, _ bool, args []vex.Value) (Datum, bool, error) {
	sum, count := avgParts(state.Value())
	return Flat(avgState(sum+args[0].Int64(), count+1)), false, nil
}

func avgFinal(_ *FnContext, state Datum, stateNull bool, _ []vex.Value) (vex.Value, error) {
	if stateNull {
		return vex.NullOf(vex.KindFloat64), nil
	}
	sum, count := avgParts(state.Value())
	if count == 0 {
		return vex.NullOf(vex.KindFloat64), nil
	}
	return vex.NewFloat64(float64(sum) / float64(count)), nil
}

func avgCombine(_ *FnContext, state Datum, stateNull bool, partial Datum, partialNull bool) (Datum, bool, error) {
	if partialNull {
		return state, stateNull, nil
	}
	if stateNull {
		return partial, false, nil
	}
	sum, count := avgParts(state.Value())
	psum, pcount := avgParts(partial.Value())
	return Flat(avgState(sum+psum, count+pcount)), false, nil
}

func avgSerial(_ *FnContext, state Datum) (vex.Value, error) {
	return vex.NewValue(vex.KindBytes, state.Value().Bytes()), nil
}

func avgDeserial(_ *FnContext, v vex.Value) (Datum, error) {
	if len(v.Bytes()) != 16 {
		return Datum{}, errors.Errorf("avg: bad partial state length %d", len(v.Bytes()))
	}
	return Flat(vex.NewValue(vex.KindInternal, v.Bytes())), nil
}

// Collect gathers all inputs, nulls included, into a list.  Its
// transition state is an expanded object owned by the grouping-set
// arena, and its final function is declared read-write
// (ModifyReadWrite), so the state is never shared when it runs.
func Collect() *Func {
	return &Func{
		Name:        "collect",
		OID:         2335,
		Trans:       collectTrans,
		TransKind:   vex.KindInternal,
		TransByRef:  true,
		Final:       collectFinal,
		FinalModify: ModifyReadWrite,
		Combine:     collectCombine,
		Serial:      collectSerial,
		SerialStrict: true,
		Deserial:    collectDeserial,
		DeserialStrict: true,
		InitIsNull:  true,
		InitValue:   vex.NullOf(vex.KindInternal),
		ResultKind:  vex.KindBytes,
	}
}

// expandedList is the reference ExpandedObject implementation.
type expandedList struct {
	owner *arena.Arena
	vals  []vex.Value
	size  int64
}

func newExpandedList(owner *arena.Arena) *expandedList {
	return &expandedList{owner: owner}
}

func (l *expandedList) Owner() *arena.Arena { return l.owner }

func (l *expandedList) Flatten() vex.Value {
	return EncodeList(l.vals)
}

func (l *expandedList) Size() int64 { return l.size }

func (l *expandedList) append(v vex.Value) {
	v = v.Copy()
	l.vals = append(l.vals, v)
	grown := int64(len(v.Bytes()) + 16)
	l.size += grown
	l.owner.Account(grown)
}

func collectTrans(fc *FnContext, state Datum, stateNull bool, args []vex.Value) (Datum, bool, error) {
	var list *expandedList
	if stateNull || !state.IsExpanded() {
		_, groupArena := fc.CheckCallContext()
		list = newExpandedList(groupArena)
		if !stateNull {
			for _, v := range DecodeList(state.Value()) {
				list.append(v)
			}
		}
	} else {
		list = state.Object().(*expandedList)
	}
	list.append(args[0])
	return Expanded(list), false, nil
}

func collectFinal(_ *FnContext, state Datum, stateNull bool, _ []vex.Value) (vex.Value, error) {
	if stateNull {
		return vex.NullOf(vex.KindBytes), nil
	}
	return state.Value(), nil
}

func collectCombine(fc *FnContext, state Datum, stateNull bool, partial Datum, partialNull bool) (Datum, bool, error) {
	if partialNull {
		return state, stateNull, nil
	}
	var out Datum = state
	var outNull = stateNull
	for _, v := range DecodeList(partial.Value()) {
		var err error
		out, outNull, err = collectTrans(fc, out, outNull, []vex.Value{v})
		if err != nil {
			return Datum{}, true, err
		}
	}
	return out, outNull, nil
}

func collectSerial(_ *FnContext, state Datum) (vex.Value, error) {
	return vex.NewValue(vex.KindBytes, state.Value().Bytes()), nil
}

func collectDeserial(_ *FnContext, v vex.Value) (Datum, error) {
	return Flat(vex.NewValue(vex.KindInternal, v.Bytes())), nil
}
