// Package agg defines aggregate function descriptors: the typed
// handles for transition, final, serialize, deserialize, and combine
// steps, the split modes that select among them, and the call nodes
// the planner hands to the executor.
package agg

import (
	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/vcode"
)

// ExpandedObject is a read-write in-memory form of a by-reference
// transition value.  An expanded object returned by a transition
// function is adopted without copying only when it is already owned
// by the current grouping-set arena.
type ExpandedObject interface {
	Owner() *arena.Arena
	Flatten() vex.Value
	Size() int64
}

// Datum is a transition datum: either a flat value or an expanded
// object.
type Datum struct {
	value vex.Value
	obj   ExpandedObject
}

func Flat(v vex.Value) Datum {
	return Datum{value: v}
}

func Expanded(obj ExpandedObject) Datum {
	return Datum{obj: obj}
}

func (d Datum) IsExpanded() bool { return d.obj != nil }

// Object returns the expanded object, or nil for a flat datum.
func (d Datum) Object() ExpandedObject { return d.obj }

// Value returns the flat form, flattening an expanded object.
func (d Datum) Value() vex.Value {
	if d.obj != nil {
		return d.obj.Flatten()
	}
	return d.value
}

// Size returns the byte footprint charged to the owning arena.
func (d Datum) Size() int64 {
	if d.obj != nil {
		return d.obj.Size()
	}
	return int64(len(d.value.Bytes()))
}

// ModifyPolicy states what the final function may do to the
// transition value, which gates transition-state sharing.
type ModifyPolicy byte

const (
	ModifyReadOnly ModifyPolicy = iota
	ModifyShareable
	ModifyReadWrite
)

// Mode is the split mode of one aggregation pass.
type Mode byte

const (
	// ModeFull runs transition and final steps in one pass.
	ModeFull Mode = iota
	// ModePartial runs transitions and emits serialized partial state.
	ModePartial
	// ModeCombine consumes partial states via the combine function and
	// runs the final step.
	ModeCombine
	// ModeCombinePartial consumes partial states and re-emits partial
	// state, for intermediate combining stages.
	ModeCombinePartial
)

// CombineInput reports whether input rows carry upstream partial
// states rather than raw arguments.
func (m Mode) CombineInput() bool {
	return m == ModeCombine || m == ModeCombinePartial
}

// SkipFinal reports whether the final function is bypassed in favor
// of emitting the transition value (serialized if configured).
func (m Mode) SkipFinal() bool {
	return m == ModePartial || m == ModeCombinePartial
}

// TransFn advances the transition state by one row of arguments.
// The returned datum must not alias argument memory; arguments are
// only valid for the duration of the call.  An expanded object may be
// returned without copying only when it is owned by the grouping-set
// arena obtained from the context.
type TransFn func(fc *FnContext, state Datum, stateNull bool, args []vex.Value) (Datum, bool, error)

// FinalFn produces the aggregate result from the final transition
// state and any direct arguments.
type FinalFn func(fc *FnContext, state Datum, stateNull bool, direct []vex.Value) (vex.Value, error)

// CombineFn merges an upstream partial state into the local state.
type CombineFn func(fc *FnContext, state Datum, stateNull bool, partial Datum, partialNull bool) (Datum, bool, error)

// SerialFn converts an opaque transition state to a portable value.
type SerialFn func(fc *FnContext, state Datum) (vex.Value, error)

// DeserialFn reverses SerialFn.
type DeserialFn func(fc *FnContext, v vex.Value) (Datum, error)

// Func is a resolved aggregate function: invocable handles plus the
// metadata the executor needs to drive them.
type Func struct {
	Name string
	OID  uint32

	Trans       TransFn
	TransStrict bool
	TransKind   vex.Kind
	TransByRef  bool
	// TransFnOID identifies the transition function for state-sharing
	// detection; zero means "private to this aggregate" and falls
	// back to the aggregate's own OID.
	TransFnOID uint32

	SerialOID   uint32
	DeserialOID uint32

	Final         FinalFn
	FinalStrict   bool
	FinalModify   ModifyPolicy
	FinalExtraArgs int

	Combine       CombineFn
	CombineStrict bool

	Serial        SerialFn
	SerialStrict  bool
	Deserial      DeserialFn
	DeserialStrict bool

	InitValue  vex.Value
	InitIsNull bool

	ResultKind vex.Kind
}

// TransOID returns the identity of the transition function used by
// sharing detection.
func (f *Func) TransOID() uint32 {
	if f.TransFnOID != 0 {
		return f.TransFnOID
	}
	return f.OID
}

// CallKind distinguishes ordinary aggregates from ordered-set and
// hypothetical-set aggregates.
type CallKind byte

const (
	CallNormal CallKind = iota
	CallOrderedSet
	CallHypothetical
)

// Call is one aggregate call site as decoded from the plan.
type Call struct {
	Fn       *Func
	Args     []expr.Evaluator
	ArgKinds []vex.Kind
	Distinct bool
	OrderBy  []expr.SortExpr
	Filter   expr.Evaluator
	// DirectArgs are evaluated once per group at finalization for
	// ordered-set aggregates.
	DirectArgs []expr.Evaluator
	Variadic   bool
	Kind       CallKind

	InputCollation  uint32
	ResultCollation uint32
	ResultKind      vex.Kind
}

// EncodeList encodes values as a flat list datum, the canonical
// portable form used by collection aggregates and serialized states.
func EncodeList(vals []vex.Value) vex.Value {
	var b vcode.Bytes
	for _, v := range vals {
		b = v.Append(b)
	}
	return vex.NewValue(vex.KindBytes, b)
}

// DecodeList reverses EncodeList.
func DecodeList(v vex.Value) []vex.Value {
	var out []vex.Value
	b := vcode.Bytes(v.Bytes())
	for len(b) > 0 {
		var val vex.Value
		val, b = vex.DecodeValue(b)
		out = append(out, val)
	}
	return out
}
