package aggregate

import (
	"io"
	"math"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/pkg/tapes"
	"github.com/vexdb/vex/runtime/sam/op/spill"
	"github.com/vexdb/vex/vbuf"
	"github.com/vexdb/vex/vcode"
)

// interruptStride is how many spill records are processed between
// cancellation polls.
const interruptStride = 256

// hashSet is the per-grouping-set side of the hashed strategy: the
// table, the grouping-key projection, and the open overflow episode
// if the table has stopped accepting new groups.
type hashSet struct {
	set       GroupingSet
	setID     int
	estGroups float64
	table     *groupTable
	writer    *spill.Writer
	keyBuf    vcode.Bytes
}

// entrySizeFor estimates the footprint of one group entry for a set.
func (a *Aggregator) entrySizeFor(set GroupingSet) int64 {
	return entryOverhead + int64(len(set))*16 + int64(len(a.pertrans))*stateSize
}

// hashLimits computes the per-table caps: the byte budget is divided
// among the tables concurrently resident, and the group cap follows
// from the entry-size estimate.
func (a *Aggregator) hashLimits(set GroupingSet, nTables int) (int64, int64) {
	if a.settings.HashAggMemOverflow {
		const unbounded = int64(math.MaxInt64)
		return unbounded, unbounded
	}
	memLimit := int64(a.settings.WorkMem) / int64(nTables)
	if memLimit < 1 {
		memLimit = 1
	}
	ngroups := memLimit / a.entrySizeFor(set)
	if ngroups < 4 {
		ngroups = 4
	}
	return memLimit, ngroups
}

// buildHashTables creates one empty table per hashed grouping set for
// the initial fill.
func (a *Aggregator) buildHashTables() {
	for _, hs := range a.hashSets {
		memLimit, ngroups := a.hashLimits(hs.set, len(a.hashSets))
		a.buildHashTable(hs, hs.estGroups, memLimit, ngroups)
	}
}

func (a *Aggregator) buildHashTable(hs *hashSet, est float64, memLimit, ngroupsLimit int64) {
	hs.table = newGroupTable(arena.New(), est, a.entrySizeFor(hs.set), memLimit, ngroupsLimit)
}

func (a *Aggregator) encodeSetKey(hs *hashSet, row vbuf.Row) vcode.Bytes {
	hs.keyBuf = hs.keyBuf[:0]
	for _, c := range hs.set {
		hs.keyBuf = row[c].Append(hs.keyBuf)
	}
	return hs.keyBuf
}

// decodeSetKey recovers the representative key values in set order.
func decodeSetKey(key vcode.Bytes, n int) []vex.Value {
	vals := make([]vex.Value, n)
	for i := range n {
		vals[i], key = vex.DecodeValue(key)
	}
	return vals
}

// lookupHashEntries routes one input row into every hashed grouping
// set during the initial fill, spilling on overflow.
func (a *Aggregator) lookupHashEntries(row vbuf.Row) error {
	for _, hs := range a.hashSets {
		key := a.encodeSetKey(hs, row)
		h := murmur3.Sum32(key)
		if err := a.hashRowIntoSet(hs, row, key, h, 0); err != nil {
			return err
		}
	}
	return nil
}

// hashRowIntoSet either advances the row's transitions in its group
// entry or writes the row to the set's spill episode.  usedBits is
// the hash-bit depth already consumed by parent partitioning.
func (a *Aggregator) hashRowIntoSet(hs *hashSet, row vbuf.Row, key vcode.Bytes, hash uint32, usedBits uint32) error {
	idx, inserted := hs.table.lookup(key, hash)
	if idx < 0 {
		return a.spillRow(hs, row, hash, usedBits)
	}
	entry := &hs.table.entries[idx]
	if inserted {
		entry.states = make([]transState, len(a.pertrans))
		for i, pt := range a.pertrans {
			a.initState(pt, &entry.states[i], hs.table.arena)
		}
		hs.table.arena.Account(int64(len(a.pertrans)) * stateSize)
		if hs.table.checkLimits() {
			a.noteFlip()
			a.logger.Debug("hash table exhausted memory, new groups spill to disk",
				zap.Int("grouping_set", hs.setID),
				zap.Int("groups", hs.table.ngroups()),
				zap.Int64("mem", hs.table.mem()))
		}
	}
	if err := a.advanceRow(entry.states, hs.table.arena, row); err != nil {
		return err
	}
	a.noteMem(hs.table.mem())
	return nil
}

// spillRow appends the row to the set's open overflow episode,
// starting one if needed.
func (a *Aggregator) spillRow(hs *hashSet, row vbuf.Row, hash uint32, usedBits uint32) error {
	if hs.writer == nil {
		if err := a.openSpill(hs, usedBits, float64(hs.table.ngroups())); err != nil {
			return err
		}
	}
	a.rowBuf = row.Encode(a.rowBuf[:0])
	return hs.writer.Write(hash, a.rowBuf)
}

func (a *Aggregator) openSpill(hs *hashSet, usedBits uint32, observedGroups float64) error {
	if err := a.ensureTapeSet(); err != nil {
		return err
	}
	est := hs.estGroups
	if observedGroups > est {
		est = observedGroups
	}
	memLimit := hs.table.memLimit
	npartitions := spill.PartitionCount(est, a.entrySizeFor(hs.set), memLimit)
	w, err := spill.NewWriter(a.tapeSet, hs.setID, usedBits, npartitions)
	if err != nil {
		return err
	}
	hs.writer = w
	a.noteSpillEpisode(w.Partitions())
	a.logger.Debug("hash aggregation spilling to disk",
		zap.Int("grouping_set", hs.setID),
		zap.Int("partitions", w.Partitions()),
		zap.Uint32("used_bits", usedBits))
	return nil
}

func (a *Aggregator) ensureTapeSet() error {
	if a.tapeSet != nil {
		return nil
	}
	if a.pool == nil {
		pool, err := tapes.NewPool(a.settings.TempDir)
		if err != nil {
			return err
		}
		a.pool = pool
	}
	ts, err := a.pool.NewSet(0)
	if err != nil {
		return err
	}
	a.tapeSet = ts
	return nil
}

// finishSpill closes a set's overflow episode, queueing its non-empty
// partitions as batches.
func (a *Aggregator) finishSpill(hs *hashSet) error {
	if hs.writer == nil {
		return nil
	}
	tuples, bytes := hs.writer.Tuples(), hs.writer.Written()
	batches, err := hs.writer.Finish()
	hs.writer = nil
	if err != nil {
		return err
	}
	a.batches = append(a.batches, batches...)
	a.noteSpilled(tuples, bytes, len(batches))
	return nil
}

// finalizeSpills ends the overflow episodes of the initial fill.
func (a *Aggregator) finalizeSpills() error {
	for _, hs := range a.hashSets {
		if err := a.finishSpill(hs); err != nil {
			return err
		}
	}
	return nil
}

// drainTable emits one finalized row per group entry and destroys the
// table.
func (a *Aggregator) drainTable(hs *hashSet) error {
	table := hs.table
	for i := range table.entries {
		if i%interruptStride == 0 {
			if err := a.rctx.Err(); err != nil {
				return err
			}
		}
		entry := &table.entries[i]
		keyVals := decodeSetKey(entry.key, len(hs.set))
		if err := a.emitSetRow(hs.set, entry.states, table.arena, nil, keyVals); err != nil {
			return err
		}
	}
	table.destroy()
	hs.table = nil
	return nil
}

func (a *Aggregator) drainAllTables() error {
	for _, hs := range a.hashSets {
		if err := a.drainTable(hs); err != nil {
			return err
		}
	}
	return nil
}

// refillLoop replays spill batches FIFO: one fresh table per batch
// with the whole budget, re-spilling what still does not fit into
// child batches on the deeper hash bits.
func (a *Aggregator) refillLoop() error {
	for len(a.batches) > 0 {
		if err := a.rctx.Err(); err != nil {
			return err
		}
		b := a.batches[0]
		a.batches = a.batches[1:]
		if err := a.refillBatch(b); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) refillBatch(b *spill.Batch) error {
	hs := a.hashSets[b.SetID]
	memLimit, ngroups := a.hashLimits(hs.set, 1)
	a.buildHashTable(hs, float64(b.Tuples), memLimit, ngroups)
	if b.InputBits >= 32 {
		// Hash bits are exhausted; further partitioning cannot make
		// progress, so this batch must complete in memory.
		hs.table.unbounded()
		a.logger.Warn("spill batch exhausted hash bits, completing in memory",
			zap.Int("grouping_set", b.SetID),
			zap.Int64("tuples", b.Tuples))
	}
	a.logger.Debug("refilling hash table from spill batch",
		zap.Int("grouping_set", b.SetID),
		zap.Int64("tuples", b.Tuples),
		zap.Uint32("input_bits", b.InputBits))
	reader, err := spill.NewReader(b)
	if err != nil {
		return err
	}
	for n := 0; ; n++ {
		if n%interruptStride == 0 {
			if err := a.rctx.Err(); err != nil {
				return err
			}
		}
		hash, tuple, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		a.tmpArena.Reset()
		row := vbuf.DecodeRow(tuple)
		key := a.encodeSetKey(hs, row)
		if err := a.hashRowIntoSet(hs, row, key, hash, b.InputBits); err != nil {
			return err
		}
	}
	if err := b.Tape.Release(); err != nil {
		return err
	}
	if err := a.finishSpill(hs); err != nil {
		return err
	}
	return a.drainTable(hs)
}
