// Package sort provides the sorter implementations the aggregation
// executor drives: a by-tuple sorter for phase inputs and
// multi-argument per-aggregate sorts, and a by-datum sorter for
// single-argument DISTINCT/ORDER BY aggregates.  Both follow the
// put / perform-sort / drain / close contract.
package sort

import (
	"slices"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/vbuf"
)

// TupleSorter accumulates rows and yields them in comparator order.
type TupleSorter struct {
	cmp    *expr.Comparator
	rows   []vbuf.Row
	sorted bool
	idx    int
}

func NewTupleSorter(cmp *expr.Comparator) *TupleSorter {
	return &TupleSorter{cmp: cmp}
}

// Put adds a row.  The sorter owns the slice it is given.
func (s *TupleSorter) Put(row vbuf.Row) {
	s.rows = append(s.rows, row)
}

// Len returns the number of rows put so far.
func (s *TupleSorter) Len() int { return len(s.rows) }

// Sort orders the accumulated rows.  Stable so that equal keys keep
// input order, which the within-aggregate ordering guarantee relies
// on.
func (s *TupleSorter) Sort() {
	slices.SortStableFunc(s.rows, s.cmp.Compare)
	s.sorted = true
	s.idx = 0
}

// Next returns the next row in sorted order.
func (s *TupleSorter) Next() (vbuf.Row, bool) {
	if !s.sorted || s.idx >= len(s.rows) {
		return nil, false
	}
	row := s.rows[s.idx]
	s.idx++
	return row, true
}

// Close releases the working memory.
func (s *TupleSorter) Close() {
	s.rows = nil
	s.sorted = false
}

// DatumSorter accumulates single values and yields them in order.
type DatumSorter struct {
	cmp    expr.CompareFn
	vals   []vex.Value
	sorted bool
	idx    int
}

func NewDatumSorter(cmp expr.CompareFn) *DatumSorter {
	return &DatumSorter{cmp: cmp}
}

func (s *DatumSorter) Put(v vex.Value) {
	s.vals = append(s.vals, v)
}

func (s *DatumSorter) Len() int { return len(s.vals) }

func (s *DatumSorter) Sort() {
	slices.SortStableFunc(s.vals, func(a, b vex.Value) int { return s.cmp(a, b) })
	s.sorted = true
	s.idx = 0
}

func (s *DatumSorter) Next() (vex.Value, bool) {
	if !s.sorted || s.idx >= len(s.vals) {
		return vex.Null, false
	}
	v := s.vals[s.idx]
	s.idx++
	return v, true
}

func (s *DatumSorter) Close() {
	s.vals = nil
	s.sorted = false
}

// Factory hands sorters to the executor so an external tuplesort can
// be substituted.
type Factory interface {
	NewTupleSorter(cmp *expr.Comparator) *TupleSorter
	NewDatumSorter(cmp expr.CompareFn) *DatumSorter
}

// MemFactory is the default in-memory factory.
type MemFactory struct{}

func (MemFactory) NewTupleSorter(cmp *expr.Comparator) *TupleSorter {
	return NewTupleSorter(cmp)
}

func (MemFactory) NewDatumSorter(cmp expr.CompareFn) *DatumSorter {
	return NewDatumSorter(cmp)
}
