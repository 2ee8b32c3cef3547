package aggregate

import (
	"bytes"
	"math/bits"

	"github.com/vexdb/vex/pkg/arena"
)

// entryOverhead approximates the fixed cost of one group entry:
// bucket slot, entry header, and state-array bookkeeping.
const entryOverhead = 64

// stateSize approximates the footprint of one transition state.
const stateSize = 48

// groupTable maps grouping-key bytes to group entries.  Once either
// the memory or the group-count cap is crossed the table flips to
// lookup-only mode and misses are routed to the spill writer; the
// bucket array never moves after that, so iteration stays stable.
type groupTable struct {
	buckets []int32
	mask    uint32
	entries []groupEntry
	arena   *arena.Arena

	lookupOnly   bool
	memLimit     int64
	ngroupsLimit int64
}

type groupEntry struct {
	hash   uint32
	key    []byte
	states []transState
}

// newGroupTable sizes the bucket array to the smallest power of two
// covering the group estimate, capped by what the memory budget could
// ever hold.
func newGroupTable(a *arena.Arena, estGroups float64, entrySize, memLimit, ngroupsLimit int64) *groupTable {
	est := int64(estGroups)
	if est < 16 {
		est = 16
	}
	if limit := memLimit / entrySize; limit > 0 && est > limit {
		est = limit
	}
	n := int64(1) << bits.Len64(uint64(est-1))
	if n < 16 {
		n = 16
	}
	return &groupTable{
		buckets:      make([]int32, n),
		mask:         uint32(n - 1),
		arena:        a,
		memLimit:     memLimit,
		ngroupsLimit: ngroupsLimit,
	}
}

// lookup finds the entry for key, inserting when absent and
// insertion is still allowed.  It returns the entry index or -1, and
// whether this call inserted it.  The caller initializes the state
// array of a fresh entry and then calls checkLimits.
func (t *groupTable) lookup(key []byte, hash uint32) (int, bool) {
	i := hash & t.mask
	for {
		slot := t.buckets[i]
		if slot == 0 {
			break
		}
		e := &t.entries[slot-1]
		if e.hash == hash && bytes.Equal(e.key, key) {
			return int(slot - 1), false
		}
		i = (i + 1) & t.mask
	}
	if t.lookupOnly {
		return -1, false
	}
	if len(t.entries) >= len(t.buckets)*3/4 {
		t.grow()
		// Re-probe for the free slot in the new bucket array.
		i = hash & t.mask
		for t.buckets[i] != 0 {
			i = (i + 1) & t.mask
		}
	}
	t.entries = append(t.entries, groupEntry{
		hash: hash,
		key:  t.arena.Copy(key),
	})
	t.buckets[i] = int32(len(t.entries))
	t.arena.Account(entryOverhead)
	return len(t.entries) - 1, true
}

func (t *groupTable) grow() {
	n := len(t.buckets) * 2
	t.buckets = make([]int32, n)
	t.mask = uint32(n - 1)
	for idx := range t.entries {
		i := t.entries[idx].hash & t.mask
		for t.buckets[i] != 0 {
			i = (i + 1) & t.mask
		}
		t.buckets[i] = int32(idx + 1)
	}
}

// checkLimits recomputes the table's footprint after an insertion and
// flips to lookup-only mode when a cap is crossed.  It reports
// whether the flip happened on this call.
func (t *groupTable) checkLimits() bool {
	if t.lookupOnly {
		return false
	}
	if t.arena.Allocated() > t.memLimit || int64(len(t.entries)) > t.ngroupsLimit {
		t.lookupOnly = true
		return true
	}
	return false
}

// unbounded lifts the caps, used when the partition bits are
// exhausted and a batch must complete in memory.
func (t *groupTable) unbounded() {
	t.memLimit = int64(^uint64(0) >> 1)
	t.ngroupsLimit = t.memLimit
}

func (t *groupTable) ngroups() int { return len(t.entries) }

func (t *groupTable) mem() int64 { return t.arena.Allocated() }

// destroy frees the entry arena (running any registered callbacks)
// and drops the backing storage.
func (t *groupTable) destroy() {
	for i := range t.entries {
		for j := range t.entries[i].states {
			t.entries[i].states[j].closeSorters()
		}
	}
	t.arena.Destroy()
	t.buckets = nil
	t.entries = nil
}
