package aggregate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/runtime/sam/expr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
	sortop "github.com/vexdb/vex/runtime/sam/op/sort"
	"github.com/vexdb/vex/vbuf"
)

func TestShareIdenticalAggs(t *testing.T) {
	calls := []agg.Call{call(agg.Count(), 0), call(agg.Count(), 0)}
	peraggs, pertrans, callMap := buildPerAggs(calls, agg.ModeFull)
	require.Len(t, peraggs, 1)
	require.Len(t, pertrans, 1)
	require.Equal(t, []int{0, 0}, callMap)
}

func TestSharePerTransOnly(t *testing.T) {
	// Same inputs and transition wiring but different result
	// collation: distinct aggregates, one shared transition state.
	a := call(agg.Min(), 0)
	b := call(agg.Min(), 0)
	b.ResultCollation = 100
	peraggs, pertrans, callMap := buildPerAggs([]agg.Call{a, b}, agg.ModeFull)
	require.Len(t, peraggs, 2)
	require.Len(t, pertrans, 1)
	require.Equal(t, []int{0, 1}, callMap)
	require.True(t, pertrans[0].shared)
	require.Equal(t, 0, peraggs[0].transNo)
	require.Equal(t, 0, peraggs[1].transNo)
}

func TestShareRejectsReadWriteFinal(t *testing.T) {
	// Collect's final function is declared read-write, so two calls
	// differing only in result collation must not share.
	a := call(agg.Collect(), 0)
	b := call(agg.Collect(), 0)
	b.ResultCollation = 100
	_, pertrans, _ := buildPerAggs([]agg.Call{a, b}, agg.ModeFull)
	require.Len(t, pertrans, 2)
	// With finalization skipped, sharing becomes legal again.
	_, pertrans, _ = buildPerAggs([]agg.Call{a, b}, agg.ModePartial)
	require.Len(t, pertrans, 1)
}

type volatileCol struct {
	expr.Column
}

func (volatileCol) IsVolatile() bool { return true }

func TestShareRejectsVolatile(t *testing.T) {
	a := call(agg.Count(), 0)
	a.Args = []expr.Evaluator{volatileCol{expr.Column(0)}}
	b := call(agg.Count(), 0)
	b.Args = []expr.Evaluator{volatileCol{expr.Column(0)}}
	peraggs, pertrans, _ := buildPerAggs([]agg.Call{a, b}, agg.ModeFull)
	require.Len(t, peraggs, 2)
	require.Len(t, pertrans, 2)
}

func TestShareDistinguishesDistinct(t *testing.T) {
	a := call(agg.Count(), 0)
	b := call(agg.Count(), 0)
	b.Distinct = true
	peraggs, pertrans, _ := buildPerAggs([]agg.Call{a, b}, agg.ModeFull)
	require.Len(t, peraggs, 2)
	require.Len(t, pertrans, 2)
}

func TestGroupTableLookupOnlyFlip(t *testing.T) {
	table := newGroupTable(arena.New(), 16, 64, 1<<20, 3)
	keys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3"), []byte("k4")}
	for i, k := range keys[:3] {
		idx, inserted := table.lookup(k, uint32(i))
		require.GreaterOrEqual(t, idx, 0)
		require.True(t, inserted)
		require.False(t, table.checkLimits(), "entry %d", i)
	}
	idx, inserted := table.lookup(keys[3], 99)
	require.GreaterOrEqual(t, idx, 0)
	require.True(t, inserted)
	require.True(t, table.checkLimits())
	require.True(t, table.lookupOnly)

	// Existing entries still resolve; new keys miss.
	idx, inserted = table.lookup(keys[0], 0)
	require.Equal(t, 0, idx)
	require.False(t, inserted)
	idx, _ = table.lookup([]byte("k5"), 123)
	require.Equal(t, -1, idx)
	table.destroy()
}

func TestGroupTableGrowKeepsEntries(t *testing.T) {
	table := newGroupTable(arena.New(), 16, 64, 1<<30, 1<<30)
	const n = 1000
	for i := range n {
		key := []byte(fmt.Sprintf("key-%d", i))
		idx, inserted := table.lookup(key, hashOf(key))
		require.True(t, inserted)
		require.Equal(t, i, idx)
	}
	for i := range n {
		key := []byte(fmt.Sprintf("key-%d", i))
		idx, inserted := table.lookup(key, hashOf(key))
		require.False(t, inserted)
		require.Equal(t, i, idx)
	}
	require.Equal(t, n, table.ngroups())
}

func hashOf(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h = (h ^ uint32(c)) * 16777619
	}
	return h
}

func TestPhaseControllerAdjacency(t *testing.T) {
	phases := []*phase{newHashedPhase(nil)}
	for i := 1; i <= 3; i++ {
		phases = append(phases, newSortedPhase(i, SortedPhase{
			Sets:     []GroupingSet{{0}},
			SortCols: []int{0},
		}))
	}
	pc := newPhaseController(phases, sortop.MemFactory{})
	require.NoError(t, pc.transition(1))
	require.Error(t, pc.transition(3))
	require.NoError(t, pc.transition(2))
	require.NoError(t, pc.transition(3))
	require.Error(t, pc.transition(4))
	// Reset back to the hash phase is always legal.
	require.NoError(t, pc.transition(0))
}

func TestPhaseSorterPromotion(t *testing.T) {
	phases := []*phase{
		newHashedPhase(nil),
		newSortedPhase(1, SortedPhase{Sets: []GroupingSet{{0}}, SortCols: []int{0}}),
		newSortedPhase(2, SortedPhase{Sets: []GroupingSet{{1}}, SortCols: []int{1}}),
	}
	pc := newPhaseController(phases, sortop.MemFactory{})
	require.NoError(t, pc.transition(1))
	require.NotNil(t, pc.inputSorter)
	require.NotNil(t, pc.outputSorter)
	out := pc.outputSorter
	out.Put(vbuf.Row{vex.NewInt64(2), vex.NewInt64(1)})
	out.Put(vbuf.Row{vex.NewInt64(1), vex.NewInt64(2)})
	require.NoError(t, pc.transition(2))
	// The output sorter was promoted, sorted on the next phase's
	// order, and no further output sorter exists.
	require.Same(t, out, pc.inputSorter)
	require.Nil(t, pc.outputSorter)
	row, ok := pc.inputSorter.Next()
	require.True(t, ok)
	require.EqualValues(t, 1, row[1].Int64())
}

func TestEndedSets(t *testing.T) {
	ph := newSortedPhase(1, SortedPhase{
		Sets:     []GroupingSet{{0, 1}, {0}, {}},
		SortCols: []int{0, 1},
	})
	rep := testRow("a1", "b1")
	require.Equal(t, 0, ph.endedSets(rep, testRow("a1", "b1")))
	require.Equal(t, 1, ph.endedSets(rep, testRow("a1", "b2")))
	require.Equal(t, 2, ph.endedSets(rep, testRow("a2", "b1")))
}
