package aggregate

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/pkg/config"
	"github.com/vexdb/vex/pkg/tapes"
	"github.com/vexdb/vex/runtime"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
	sortop "github.com/vexdb/vex/runtime/sam/op/sort"
	"github.com/vexdb/vex/runtime/sam/op/spill"
	"github.com/vexdb/vex/vbuf"
	"github.com/vexdb/vex/vcode"
)

// errRestart signals that the consumer sent done and the operator
// should reset for a fresh pass.
var errRestart = errors.New("aggregate: restart")

// Op is the aggregation operator.  It pulls the child to completion
// (or to each sorted group boundary), applies the transition batches,
// and yields one output row per distinct grouping key per grouping
// set.
type Op struct {
	rctx     *runtime.Context
	parent   vbuf.Puller
	agg      *Aggregator
	once     sync.Once
	resultCh chan vbuf.Result
	doneCh   chan struct{}
}

// New builds the operator from a decoded plan.  All initialization
// errors (type mismatches, permission failures, nested aggregates,
// invalid phase layouts) surface here, before any input is pulled.
func New(rctx *runtime.Context, parent vbuf.Puller, plan Plan, settings config.Settings, metrics *Metrics) (*Op, error) {
	a, err := newAggregator(rctx, parent, plan, settings, metrics)
	if err != nil {
		return nil, err
	}
	return &Op{
		rctx:     rctx,
		parent:   parent,
		agg:      a,
		resultCh: make(chan vbuf.Result),
		doneCh:   make(chan struct{}),
	}, nil
}

// Stats returns the operator's telemetry counters.  Stable once the
// operator has reached end of stream.
func (o *Op) Stats() Stats {
	return o.agg.stats
}

func (o *Op) Pull(done bool) (vbuf.Batch, error) {
	if done {
		select {
		case o.doneCh <- struct{}{}:
			return nil, nil
		case <-o.rctx.Done():
			return nil, o.rctx.Err()
		}
	}
	o.once.Do(func() {
		// Block rctx.Cancel until run finishes its cleanup.
		o.rctx.WaitGroup.Add(1)
		go o.run()
	})
	if r, ok := <-o.resultCh; ok {
		return r.Batch, r.Err
	}
	return nil, o.rctx.Err()
}

func (o *Op) run() {
	defer func() {
		o.agg.cleanup()
		close(o.resultCh)
		o.rctx.WaitGroup.Done()
	}()
	for {
		err := o.agg.execute(o.deliver)
		if err != errRestart {
			r := vbuf.Result{Err: err}
			if derr := o.deliver(r); derr != nil && derr != errRestart {
				return
			}
		}
		if o.rctx.Err() != nil {
			return
		}
		o.agg.reset()
	}
}

// deliver hands one result to the consumer.  A done signal from the
// consumer propagates upstream and requests a restart.
func (o *Op) deliver(r vbuf.Result) error {
	select {
	case o.resultCh <- r:
		return nil
	case <-o.doneCh:
		if _, err := o.parent.Pull(true); err != nil {
			return err
		}
		return errRestart
	case <-o.rctx.Done():
		return o.rctx.Err()
	}
}

// Aggregator performs the aggregation computation: the multi-phase
// sorted scan, the hashed fill/drain/refill protocol, and their
// composition for mixed grouping-set plans.
type Aggregator struct {
	rctx     *runtime.Context
	logger   *zap.Logger
	parent   vbuf.Puller
	settings config.Settings
	metrics  *Metrics
	mode     agg.Mode
	factory  sortop.Factory

	peraggs  []*perAgg
	pertrans []*perTrans
	callMap  []int
	calls    []agg.Call

	phases    []*phase
	pc        *phaseController
	groupCols []int

	// Sorted-strategy state for the current phase.
	setStates [][]transState
	setArenas []*arena.Arena
	firstRow  vbuf.Row

	// Hashed-strategy state.
	hashSets []*hashSet
	pool     *tapes.Pool
	tapeSet  *tapes.Set
	batches  []*spill.Batch

	tmpArena *arena.Arena
	stats    Stats

	deliverFn func(vbuf.Result) error
	out       []vbuf.Row
	rowBuf    vcode.Bytes
	argBuf    []vex.Value
}

func newAggregator(rctx *runtime.Context, parent vbuf.Puller, plan Plan, settings config.Settings, metrics *Metrics) (*Aggregator, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	peraggs, pertrans, callMap := buildPerAggs(plan.Calls, plan.Mode)
	a := &Aggregator{
		rctx:     rctx,
		logger:   rctx.Logger,
		parent:   parent,
		settings: settings,
		metrics:  metrics,
		mode:     plan.Mode,
		factory:  sortop.MemFactory{},
		peraggs:  peraggs,
		pertrans: pertrans,
		callMap:  callMap,
		calls:    plan.Calls,
		tmpArena: arena.New(),
	}
	if plan.Sorters != nil {
		a.factory = plan.Sorters
	}
	for _, pt := range a.pertrans {
		pt.fc = agg.NewFnContext(agg.SiteAggregate, nil, a.tmpArena, pt.call, pt.shared)
	}
	a.phases = append(a.phases, newHashedPhase(plan.HashedSets))
	for i, sp := range plan.SortedPhases {
		a.phases = append(a.phases, newSortedPhase(i+1, sp))
	}
	a.groupCols = plan.groupCols()
	for i, set := range plan.HashedSets {
		hs := &hashSet{set: set, setID: i, estGroups: 256}
		if i < len(plan.EstGroups) && plan.EstGroups[i] > 0 {
			hs.estGroups = plan.EstGroups[i]
		}
		a.hashSets = append(a.hashSets, hs)
	}
	a.logger.Info("aggregation operator initialized",
		zap.Int("calls", len(plan.Calls)),
		zap.Int("peraggs", len(peraggs)),
		zap.Int("pertrans", len(pertrans)),
		zap.Int("hashed_sets", len(plan.HashedSets)),
		zap.Int("sorted_phases", len(plan.SortedPhases)),
		zap.Uint64("work_mem", uint64(settings.WorkMem)))
	return a, nil
}

// execute runs one full aggregation pass, delivering output batches
// through deliver and returning just before the end-of-stream marker.
func (a *Aggregator) execute(deliver func(vbuf.Result) error) error {
	a.deliverFn = deliver
	a.pc = newPhaseController(a.phases, a.factory)
	if len(a.hashSets) > 0 {
		a.buildHashTables()
	}
	if len(a.phases) > 1 {
		if err := a.runSortedPhases(); err != nil {
			return err
		}
	} else if err := a.hashFillFromChild(); err != nil {
		return err
	}
	if len(a.hashSets) > 0 {
		if err := a.pc.transition(0); err != nil {
			return err
		}
		if err := a.finalizeSpills(); err != nil {
			return err
		}
		if err := a.drainAllTables(); err != nil {
			return err
		}
		if err := a.refillLoop(); err != nil {
			return err
		}
	}
	return a.flushOut()
}

// rowSource abstracts where a sorted phase reads rows from: the child
// iterator for phase 1, or the promoted output sorter afterwards.
type rowSource interface {
	next() (vbuf.Row, bool, error)
}

type childSource struct {
	a     *Aggregator
	batch []vbuf.Row
	idx   int
}

func (s *childSource) next() (vbuf.Row, bool, error) {
	for s.idx >= len(s.batch) {
		if err := s.a.rctx.Err(); err != nil {
			return nil, false, err
		}
		batch, err := s.a.parent.Pull(false)
		if err != nil {
			return nil, false, err
		}
		if batch == nil {
			return nil, false, nil
		}
		s.batch = batch.Rows()
		s.idx = 0
	}
	row := s.batch[s.idx]
	s.idx++
	return row, true, nil
}

type sorterSource struct {
	sorter *sortop.TupleSorter
}

func (s *sorterSource) next() (vbuf.Row, bool, error) {
	row, ok := s.sorter.Next()
	return row, ok, nil
}

// runSortedPhases drives phases 1..N.  In mixed mode the phase-1 scan
// also inserts every row into the phase-0 hash tables.  Rows yielded
// by a non-terminal phase are duplicated into the next phase's sorter
// as a side effect.
func (a *Aggregator) runSortedPhases() error {
	if err := a.pc.transition(1); err != nil {
		return err
	}
	last := a.pc.lastPhase()
	var source rowSource
	if a.pc.inputSorter == nil {
		source = &childSource{a: a}
	} else {
		if err := a.fillInputSorter(); err != nil {
			return err
		}
		a.pc.inputSorter.Sort()
		source = &sorterSource{sorter: a.pc.inputSorter}
	}
	for p := 1; p <= last; p++ {
		ph := a.phases[p]
		a.beginPhase(ph)
		for {
			if err := a.rctx.Err(); err != nil {
				return err
			}
			row, ok, err := source.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			a.tmpArena.Reset()
			if a.pc.outputSorter != nil {
				a.pc.outputSorter.Put(row.Copy())
			}
			if p == 1 && len(a.hashSets) > 0 {
				if err := a.lookupHashEntries(row); err != nil {
					return err
				}
			}
			if err := a.processSortedRow(ph, row); err != nil {
				return err
			}
		}
		if err := a.finalizePhase(ph); err != nil {
			return err
		}
		if p < last {
			if err := a.pc.transition(p + 1); err != nil {
				return err
			}
			source = &sorterSource{sorter: a.pc.inputSorter}
		}
	}
	return nil
}

func (a *Aggregator) fillInputSorter() error {
	src := &childSource{a: a}
	for {
		row, ok, err := src.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		a.pc.inputSorter.Put(row.Copy())
	}
}

func (a *Aggregator) hashFillFromChild() error {
	src := &childSource{a: a}
	for {
		row, ok, err := src.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		a.tmpArena.Reset()
		if err := a.lookupHashEntries(row); err != nil {
			return err
		}
	}
}

// beginPhase sizes the per-set state arrays and arenas for the
// phase's grouping sets.
func (a *Aggregator) beginPhase(ph *phase) {
	a.setStates = make([][]transState, len(ph.sets))
	a.setArenas = make([]*arena.Arena, len(ph.sets))
	for s := range ph.sets {
		a.setStates[s] = make([]transState, len(a.pertrans))
		a.setArenas[s] = arena.New()
	}
	a.firstRow = nil
}

func (a *Aggregator) initSetStates(s int) {
	states := a.setStates[s]
	for i, pt := range a.pertrans {
		a.initState(pt, &states[i], a.setArenas[s])
	}
}

func (a *Aggregator) resetSetStates(s int) {
	for i := range a.setStates[s] {
		a.setStates[s][i].closeSorters()
	}
	a.setArenas[s].Reset()
	a.initSetStates(s)
}

// processSortedRow detects group boundaries against the stored
// representative tuple, finalizes the grouping sets whose prefix
// changed (finest first), and accumulates the row into every set.
func (a *Aggregator) processSortedRow(ph *phase, row vbuf.Row) error {
	if a.firstRow == nil {
		a.firstRow = row.Copy()
		for s := range ph.sets {
			a.initSetStates(s)
		}
	} else if ended := ph.endedSets(a.firstRow, row); ended > 0 {
		for s := 0; s < ended; s++ {
			if err := a.emitSetRow(ph.sets[s], a.setStates[s], a.setArenas[s], a.firstRow, nil); err != nil {
				return err
			}
			a.resetSetStates(s)
		}
		a.firstRow = row.Copy()
	}
	for s := range ph.sets {
		if err := a.advanceRow(a.setStates[s], a.setArenas[s], row); err != nil {
			return err
		}
	}
	return nil
}

// finalizePhase emits the in-progress groups at end of phase input.
// On empty input, the empty grouping sets still produce one row each,
// with all grouped columns null.
func (a *Aggregator) finalizePhase(ph *phase) error {
	if a.firstRow != nil {
		for s := range ph.sets {
			if err := a.emitSetRow(ph.sets[s], a.setStates[s], a.setArenas[s], a.firstRow, nil); err != nil {
				return err
			}
			a.setArenas[s].Reset()
		}
		a.firstRow = nil
		return nil
	}
	for s, set := range ph.sets {
		if len(set) != 0 {
			continue
		}
		a.initSetStates(s)
		if err := a.emitSetRow(set, a.setStates[s], a.setArenas[s], nil, nil); err != nil {
			return err
		}
		a.setArenas[s].Reset()
	}
	return nil
}

// emitSetRow finalizes one group of one grouping set and projects the
// output row: grouped columns (null when outside the set) followed by
// one result per aggregate call, shared calls included.
func (a *Aggregator) emitSetRow(set GroupingSet, states []transState, groupArena *arena.Arena, repRow vbuf.Row, keyVals []vex.Value) error {
	if err := a.processSorters(states, groupArena); err != nil {
		return err
	}
	results := make([]vex.Value, len(a.peraggs))
	for i, pa := range a.peraggs {
		v, err := a.finalizeAgg(pa, states, groupArena, repRow)
		if err != nil {
			return err
		}
		results[i] = v
	}
	out := make(vbuf.Row, 0, len(a.groupCols)+len(a.callMap))
	for _, g := range a.groupCols {
		out = append(out, a.groupColValue(set, g, repRow, keyVals))
	}
	for _, j := range a.callMap {
		out = append(out, results[j])
	}
	return a.emitRow(out)
}

func (a *Aggregator) groupColValue(set GroupingSet, col int, repRow vbuf.Row, keyVals []vex.Value) vex.Value {
	if !set.Contains(col) {
		return vex.Null
	}
	if repRow != nil {
		return repRow[col].Copy()
	}
	for i, c := range set {
		if c == col {
			return keyVals[i].Copy()
		}
	}
	return vex.Null
}

func (a *Aggregator) emitRow(row vbuf.Row) error {
	a.out = append(a.out, row)
	if len(a.out) >= vbuf.BatchLen {
		return a.flushOut()
	}
	return nil
}

func (a *Aggregator) flushOut() error {
	if len(a.out) == 0 {
		return nil
	}
	batch := vbuf.NewArray(a.out)
	a.out = nil
	return a.deliverFn(vbuf.Result{Batch: batch})
}

// releaseResources drops tables, sorters, spill state, and arenas.
// Idempotent; used both at end of pass and on early termination.
func (a *Aggregator) releaseResources() {
	for _, hs := range a.hashSets {
		if hs.table != nil {
			hs.table.destroy()
			hs.table = nil
		}
		hs.writer = nil
	}
	if a.tapeSet != nil {
		a.tapeSet.Close()
		a.tapeSet = nil
	}
	a.batches = nil
	if a.pc != nil {
		a.pc.closeSorters()
	}
	for s := range a.setStates {
		for i := range a.setStates[s] {
			a.setStates[s][i].closeSorters()
		}
	}
	for _, ar := range a.setArenas {
		ar.Destroy()
	}
	a.setStates = nil
	a.setArenas = nil
	a.firstRow = nil
	a.out = nil
	a.tmpArena.Reset()
}

// reset prepares for another pass after end of stream or a done
// signal (rescan).
func (a *Aggregator) reset() {
	a.releaseResources()
}

// cleanup releases everything including the temp-file pool.
func (a *Aggregator) cleanup() {
	a.releaseResources()
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
