// Package aggregate implements the multi-strategy grouped
// aggregation operator: plain, sorted, and hashed strategies, their
// composition for grouping sets, and memory-bounded hash aggregation
// with partitioned spill to disk.
package aggregate

import (
	"github.com/pkg/errors"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
	"github.com/vexdb/vex/runtime/sam/op/sort"
)

// GroupingSet is one GROUP BY specification: an ordered list of input
// column indices.  An empty set aggregates the whole input.
type GroupingSet []int

// Contains reports whether the set groups by column col.
func (g GroupingSet) Contains(col int) bool {
	for _, c := range g {
		if c == col {
			return true
		}
	}
	return false
}

// SortedPhase describes one run of rows processed under a single sort
// order.  Sets must be prefixes of SortCols, listed most specific
// first.
type SortedPhase struct {
	Sets     []GroupingSet
	SortCols []int
	// Presorted marks the first sorted phase as consuming child input
	// that already has the phase's order, skipping the input sort.
	Presorted bool
}

// Plan is the decoded aggregation node handed to New.  Hashed sets
// are processed in phase 0; sorted phases run first and, in mixed
// mode, feed the hash tables as a side effect of their scan.
type Plan struct {
	HashedSets []GroupingSet
	// EstGroups estimates distinct groups per hashed set, used to
	// size tables and pick spill partition counts.  Zero means
	// unknown.
	EstGroups    []float64
	SortedPhases []SortedPhase
	Calls        []agg.Call
	Mode         agg.Mode
	// Registry, when set, re-checks EXECUTE on every call's functions.
	Registry *agg.Registry
	// Sorters substitutes the sorter implementation; nil selects the
	// in-memory default.
	Sorters sort.Factory
}

// nSets returns the total number of grouping sets across strategies.
func (p *Plan) nSets() int {
	n := len(p.HashedSets)
	for _, sp := range p.SortedPhases {
		n += len(sp.Sets)
	}
	return n
}

// groupCols returns the union of all grouped columns in first-seen
// order; output rows carry one column per entry plus one per call.
func (p *Plan) groupCols() []int {
	var cols []int
	seen := make(map[int]bool)
	add := func(sets []GroupingSet) {
		for _, set := range sets {
			for _, c := range set {
				if !seen[c] {
					seen[c] = true
					cols = append(cols, c)
				}
			}
		}
	}
	for _, sp := range p.SortedPhases {
		add(sp.Sets)
	}
	add(p.HashedSets)
	return cols
}

func (p *Plan) validate() error {
	if p.nSets() == 0 {
		return errors.Wrap(execerr.ErrInternal, "aggregate: plan has no grouping sets")
	}
	for _, set := range p.HashedSets {
		if len(set) == 0 {
			return errors.Wrap(execerr.ErrInternal, "aggregate: empty grouping set cannot be hashed")
		}
	}
	for pi, sp := range p.SortedPhases {
		if err := validateSortedPhase(sp); err != nil {
			return err
		}
		if sp.Presorted && pi != 0 {
			return errors.Wrap(execerr.ErrInternal, "aggregate: only the first sorted phase can be presorted")
		}
	}
	for i := range p.Calls {
		if err := p.validateCall(&p.Calls[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateSortedPhase(sp SortedPhase) error {
	prev := -1
	for _, set := range sp.Sets {
		if prev >= 0 && len(set) > prev {
			return errors.Wrap(execerr.ErrInternal, "aggregate: grouping sets must be listed most specific first")
		}
		prev = len(set)
		if len(set) > len(sp.SortCols) {
			return errors.Wrap(execerr.ErrInternal, "aggregate: grouping set longer than phase sort order")
		}
		for i, c := range set {
			if sp.SortCols[i] != c {
				return errors.Wrap(execerr.ErrInternal, "aggregate: grouping set is not a prefix of the phase sort order")
			}
		}
	}
	return nil
}

func (p *Plan) validateCall(call *agg.Call) error {
	fn := call.Fn
	if fn == nil {
		return errors.Wrap(execerr.ErrInternal, "aggregate: call without resolved function")
	}
	if p.Registry != nil {
		if err := p.Registry.CheckExecute(fn); err != nil {
			return err
		}
	}
	for _, e := range call.Args {
		if expr.ContainsAggRef(e) {
			return errors.Wrapf(execerr.ErrNestedAggregate, "aggregate: %s", fn.Name)
		}
	}
	if call.Filter != nil && expr.ContainsAggRef(call.Filter) {
		return errors.Wrapf(execerr.ErrNestedAggregate, "aggregate: FILTER of %s", fn.Name)
	}
	for _, e := range call.DirectArgs {
		if expr.ContainsAggRef(e) {
			return errors.Wrapf(execerr.ErrNestedAggregate, "aggregate: direct arguments of %s", fn.Name)
		}
	}
	needsSort := call.Distinct || len(call.OrderBy) > 0 || call.Kind != agg.CallNormal
	if needsSort && len(p.HashedSets) > 0 {
		return errors.Wrapf(execerr.ErrInternal,
			"aggregate: %s uses DISTINCT/ORDER BY, incompatible with hashed grouping", fn.Name)
	}
	if p.Mode.CombineInput() {
		if fn.Combine == nil {
			return errors.Wrapf(execerr.ErrTypeMismatch, "aggregate: %s has no combine function", fn.Name)
		}
		if fn.CombineStrict && fn.TransKind == vex.KindInternal {
			return errors.Wrapf(execerr.ErrTypeMismatch,
				"aggregate: combine function of %s over internal state must not be strict", fn.Name)
		}
		if needsSort {
			return errors.Wrapf(execerr.ErrInternal,
				"aggregate: %s cannot combine partial states with DISTINCT/ORDER BY", fn.Name)
		}
	} else if fn.TransStrict && fn.InitIsNull {
		// The first non-null input is adopted verbatim as the initial
		// state, which requires matching representations.
		if len(call.ArgKinds) == 0 || call.ArgKinds[0] != fn.TransKind {
			return errors.Wrapf(execerr.ErrTypeMismatch,
				"aggregate: %s is strict with null initcond but input kind differs from transition kind",
				fn.Name)
		}
	}
	return nil
}
