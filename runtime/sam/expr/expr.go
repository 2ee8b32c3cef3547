// Package expr provides the evaluation interfaces the aggregation
// executor consumes: column references, comparators, sort
// expressions, and grouping-key equality predicates.  Expression
// compilation proper lives outside the executor; this package only
// defines the contract plus the reference evaluators the tests and
// default paths use.
package expr

import (
	"github.com/vexdb/vex"
	"github.com/vexdb/vex/vbuf"
)

// Evaluator evaluates one expression against one input row.
type Evaluator interface {
	Eval(vbuf.Row) (vex.Value, error)
}

// Column is an evaluator referencing an input column by index.
type Column int

func (c Column) Eval(row vbuf.Row) (vex.Value, error) {
	if int(c) >= len(row) {
		return vex.Null, nil
	}
	return row[int(c)], nil
}

// Const is an evaluator returning a fixed value.
type Const struct {
	Value vex.Value
}

func (c Const) Eval(vbuf.Row) (vex.Value, error) {
	return c.Value, nil
}

// AggRef marks an evaluator that is itself an aggregate call.  The
// executor rejects argument trees containing one.
type AggRef interface {
	Evaluator
	IsAggRef()
}

// Volatile marks an evaluator whose result can vary between calls on
// the same row, which disables sharing of identical aggregates.
type Volatile interface {
	IsVolatile() bool
}

// IsVolatile reports whether e declares itself volatile.
func IsVolatile(e Evaluator) bool {
	v, ok := e.(Volatile)
	return ok && v.IsVolatile()
}

// ContainsAggRef walks e recursively: composite evaluators expose
// their children via the Children method.
func ContainsAggRef(e Evaluator) bool {
	if e == nil {
		return false
	}
	if _, ok := e.(AggRef); ok {
		return true
	}
	type parent interface{ Children() []Evaluator }
	if p, ok := e.(parent); ok {
		for _, child := range p.Children() {
			if ContainsAggRef(child) {
				return true
			}
		}
	}
	return false
}

// Equal reports whether two evaluators are structurally identical.
// Unknown evaluator types never compare equal, which keeps sharing
// conservative.
func Equal(a, b Evaluator) bool {
	switch a := a.(type) {
	case Column:
		b, ok := b.(Column)
		return ok && a == b
	case Const:
		b, ok := b.(Const)
		return ok && a.Value.Equal(b.Value)
	}
	return false
}

// EqualSlices applies Equal pairwise.
func EqualSlices(a, b []Evaluator) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
