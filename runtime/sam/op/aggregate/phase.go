package aggregate

import (
	"github.com/pkg/errors"

	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/runtime/sam/expr"
	sortop "github.com/vexdb/vex/runtime/sam/op/sort"
	"github.com/vexdb/vex/vbuf"
)

type strategy int

const (
	strategyPlain strategy = iota
	strategySorted
	strategyHashed
)

// phase is one run of input processed under a single sort order (or
// under hashing).  Phase 0 is reserved for all hashed grouping sets;
// phases 1..N are sorted.
type phase struct {
	number    int
	strategy  strategy
	sets      []GroupingSet
	sortCols  []int
	presorted bool
	// eqs holds one equality predicate per set, deduplicated across
	// sets of the same prefix length.
	eqs        []*expr.TupleEq
	comparator *expr.Comparator
}

func newSortedPhase(number int, sp SortedPhase) *phase {
	ph := &phase{
		number:    number,
		strategy:  strategySorted,
		sets:      sp.Sets,
		sortCols:  sp.SortCols,
		presorted: sp.Presorted,
	}
	if len(sp.SortCols) == 0 {
		ph.strategy = strategyPlain
	}
	byLen := make(map[int]*expr.TupleEq)
	for _, set := range sp.Sets {
		eq, ok := byLen[len(set)]
		if !ok {
			eq = expr.NewTupleEq(sp.SortCols[:len(set)])
			byLen[len(set)] = eq
		}
		ph.eqs = append(ph.eqs, eq)
	}
	var keys []expr.SortExpr
	for _, c := range sp.SortCols {
		keys = append(keys, expr.NewSortExpr(expr.Column(c), false))
	}
	ph.comparator = expr.NewComparator(keys...)
	return ph
}

func newHashedPhase(sets []GroupingSet) *phase {
	return &phase{strategy: strategyHashed, sets: sets}
}

// endedSets returns how many of the phase's sets finish at row, given
// the stored representative of the current group.  Sets are listed
// most specific first, so the ended sets are always a leading run.
func (ph *phase) endedSets(rep, row vbuf.Row) int {
	n := 0
	for i, eq := range ph.eqs {
		if eq.Equal(rep, row) {
			// Coarser sets share shorter prefixes; once one matches,
			// the rest do too.
			return i
		}
		n = i + 1
	}
	return n
}

// phaseController owns the input and output sorters between phases
// and enforces the forward-only transition rule.
type phaseController struct {
	phases  []*phase
	cur     int
	factory sortop.Factory

	inputSorter  *sortop.TupleSorter
	outputSorter *sortop.TupleSorter
}

func newPhaseController(phases []*phase, factory sortop.Factory) *phaseController {
	return &phaseController{phases: phases, cur: 0, factory: factory}
}

func (pc *phaseController) phase() *phase {
	return pc.phases[pc.cur]
}

func (pc *phaseController) lastPhase() int {
	return len(pc.phases) - 1
}

// transition moves to phase k.  Only k = cur+1 and the resets to
// phase 0 or 1 are legal; anything else is an executor bug.  Entering
// a sorted phase promotes the previous output sorter to the input
// sorter and performs its sort, then builds the next output sorter if
// another sorted phase follows.
func (pc *phaseController) transition(k int) error {
	if k > 1 && k != pc.cur+1 {
		return errors.Wrapf(execerr.ErrInternal, "aggregate: phase jump %d -> %d", pc.cur, k)
	}
	if k > pc.lastPhase() {
		return errors.Wrapf(execerr.ErrInternal, "aggregate: phase %d out of range", k)
	}
	if k <= 1 {
		pc.closeSorters()
		pc.cur = k
		if k == 1 {
			if ph := pc.phases[1]; !ph.presorted && ph.strategy == strategySorted {
				pc.inputSorter = pc.factory.NewTupleSorter(ph.comparator)
			}
		}
		pc.buildOutputSorter()
		return nil
	}
	if pc.inputSorter != nil {
		pc.inputSorter.Close()
	}
	pc.inputSorter = pc.outputSorter
	pc.outputSorter = nil
	if pc.inputSorter != nil {
		pc.inputSorter.Sort()
	}
	pc.cur = k
	pc.buildOutputSorter()
	return nil
}

func (pc *phaseController) buildOutputSorter() {
	if pc.cur >= 1 && pc.cur < pc.lastPhase() {
		pc.outputSorter = pc.factory.NewTupleSorter(pc.phases[pc.cur+1].comparator)
	}
}

func (pc *phaseController) closeSorters() {
	if pc.inputSorter != nil {
		pc.inputSorter.Close()
		pc.inputSorter = nil
	}
	if pc.outputSorter != nil {
		pc.outputSorter.Close()
		pc.outputSorter = nil
	}
}
