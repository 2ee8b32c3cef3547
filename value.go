// Package vex provides the value model for the vex executor: a small
// set of primitive kinds with a flat byte encoding that is stable
// within one process lifetime.
package vex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vexdb/vex/vcode"
)

// Kind identifies the primitive type of a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	// KindInternal marks opaque transition state that has no external
	// representation.  Values of this kind only appear as aggregate
	// transition values and partial-aggregation payloads.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind-%d", byte(k))
}

// Value is a typed datum with a flat byte encoding.  A nil byte slice
// encodes null; the kind is retained so a null still carries its type.
type Value struct {
	kind Kind
	b    []byte
}

// Null is the untyped null value.
var Null = Value{kind: KindNull}

func NewValue(kind Kind, b []byte) Value {
	return Value{kind: kind, b: b}
}

func NewBool(v bool) Value {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return Value{kind: KindBool, b: b}
}

func NewInt64(v int64) Value {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return Value{kind: KindInt64, b: b[:]}
}

func NewFloat64(v float64) Value {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return Value{kind: KindFloat64, b: b[:]}
}

func NewString(s string) Value {
	return Value{kind: KindString, b: []byte(s)}
}

func NewBytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, b: b}
}

// NullOf returns the null value of the given kind.
func NullOf(kind Kind) Value {
	return Value{kind: kind}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.b == nil }
func (v Value) Bytes() []byte { return v.b }

func (v Value) Bool() bool {
	return len(v.b) > 0 && v.b[0] != 0
}

func (v Value) Int64() int64 {
	return int64(binary.LittleEndian.Uint64(v.b))
}

func (v Value) Float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.b))
}

func (v Value) String() string {
	if v.IsNull() {
		return "null"
	}
	switch v.kind {
	case KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case KindString:
		return string(v.b)
	}
	return fmt.Sprintf("%s(%x)", v.kind, v.b)
}

// Copy returns a Value whose bytes do not alias v.
func (v Value) Copy() Value {
	if v.b == nil {
		return v
	}
	return Value{kind: v.kind, b: bytes.Clone(v.b)}
}

// Equal reports whether two values have the same kind and encoding.
// Nulls of the same kind compare equal, which is the grouping rule.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	if v.IsNull() || w.IsNull() {
		return v.IsNull() && w.IsNull()
	}
	return bytes.Equal(v.b, w.b)
}

// Compare orders two values of the same kind with nulls last.
// Cross-kind comparisons order by kind, which gives a stable if
// arbitrary total order.
func (v Value) Compare(w Value) int {
	if v.IsNull() || w.IsNull() {
		switch {
		case v.IsNull() && w.IsNull():
			return 0
		case v.IsNull():
			return 1
		default:
			return -1
		}
	}
	if v.kind != w.kind {
		return int(v.kind) - int(w.kind)
	}
	switch v.kind {
	case KindBool:
		return boolCompare(v.Bool(), w.Bool())
	case KindInt64:
		a, b := v.Int64(), w.Int64()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case KindFloat64:
		a, b := v.Float64(), w.Float64()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return bytes.Compare(v.b, w.b)
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

// Append appends the tagged encoding of v (kind byte followed by a
// vcode element) to dst.
func (v Value) Append(dst vcode.Bytes) vcode.Bytes {
	dst = append(dst, byte(v.kind))
	return vcode.Append(dst, v.b)
}

// DecodeValue decodes one tagged value from b and returns the value
// and the remainder of the buffer.
func DecodeValue(b vcode.Bytes) (Value, vcode.Bytes) {
	kind := Kind(b[0])
	it := vcode.Iter(b[1:])
	elem, null := it.Next()
	if null {
		return NullOf(kind), vcode.Bytes(it)
	}
	return Value{kind: kind, b: elem}, vcode.Bytes(it)
}
