// Package spill implements partitioned disk overflow for hash
// aggregation.  Tuples that cannot be given a new hash-table entry
// are appended to one of several partition tapes selected by hash
// bits; each non-empty partition becomes a batch that is later
// replayed against a fresh table, recursively re-spilling if it still
// does not fit.
package spill

import (
	"encoding/binary"
	"io"
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/vexdb/vex/pkg/config"
	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/pkg/tapes"
)

// recordHeader is [hash:u32][tuple_len:u32].
const recordHeader = 8

// PartitionCount picks the number of partitions for an overflow
// episode: enough that each partition's groups are likely to fit in
// memory, without letting partition write buffers eat more than a
// quarter of the budget, except that the count never drops below
// HashMinPartitions.  The result is a power of two, further
// truncated by the caller when hash bits run out.
func PartitionCount(inputGroups float64, entrySize, memLimit int64) int {
	mem := float64(memLimit)
	target := math.Ceil(config.HashPartitionFactor * inputGroups * float64(entrySize) / mem)
	if target < 1 {
		target = 1
	}
	n := nextPow2(int(target))
	bufferLimit := int(mem / 4 / config.HashPartitionMem)
	for n > 1 && n > bufferLimit {
		n >>= 1
	}
	// The floor applies after the buffer limit: anything below
	// HashMinPartitions consumes too few hash bits per episode for
	// recursive re-spills to make progress.
	if n < config.HashMinPartitions {
		n = config.HashMinPartitions
	}
	if n > config.HashMaxPartitions {
		n = config.HashMaxPartitions
	}
	return n
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Partition selects the partition for hash h given the bits already
// consumed by parent partitioning.  Child batches see only tuples
// that agreed on the parent's bits, so consuming the next slice of
// bits keeps progress monotone.
func Partition(h uint32, usedBits, partitionBits uint32) int {
	if partitionBits == 0 {
		return 0
	}
	return int((h << usedBits) >> (32 - partitionBits))
}

// Batch is one disk-backed partition of overflow tuples belonging to
// a single grouping set.
type Batch struct {
	Tape      *tapes.Tape
	InputBits uint32
	Tuples    int64
	SetID     int
}

// Writer is one overflow episode for one grouping set: a set of
// partition tapes absorbing tuples until the episode is finished.
type Writer struct {
	tapes     []*tapes.Tape
	ntuples   []int64
	bits      uint32
	inputBits uint32
	setID     int
	buf       []byte
}

// NewWriter adds npartitions tapes (a power of two) to ts and returns
// a writer partitioning on the hash bits above inputBits.  When
// inputBits has consumed all 32 hash bits, the partition bit count is
// truncated to zero and everything lands in one partition, which the
// caller must then complete in memory.
func NewWriter(ts *tapes.Set, setID int, inputBits uint32, npartitions int) (*Writer, error) {
	pbits := uint32(bits.Len(uint(npartitions)) - 1)
	if inputBits+pbits > 32 {
		pbits = 32 - inputBits
		npartitions = 1 << pbits
	}
	before := len(ts.Tapes())
	if err := ts.Extend(npartitions); err != nil {
		return nil, err
	}
	return &Writer{
		tapes:     ts.Tapes()[before:],
		ntuples:   make([]int64, npartitions),
		bits:      pbits,
		inputBits: inputBits,
		setID:     setID,
	}, nil
}

// Write appends one tuple record to its partition tape.
func (w *Writer) Write(hash uint32, tuple []byte) error {
	p := Partition(hash, w.inputBits, w.bits)
	w.buf = w.buf[:0]
	w.buf = binary.LittleEndian.AppendUint32(w.buf, hash)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(tuple)))
	w.buf = append(w.buf, tuple...)
	if err := w.tapes[p].Write(w.buf); err != nil {
		return err
	}
	w.ntuples[p]++
	return nil
}

// Tuples returns the number of tuples written so far.
func (w *Writer) Tuples() int64 {
	var n int64
	for _, c := range w.ntuples {
		n += c
	}
	return n
}

// Written returns the uncompressed bytes written so far.
func (w *Writer) Written() int64 {
	var n int64
	for _, t := range w.tapes {
		n += t.Written()
	}
	return n
}

// Partitions returns the partition count.
func (w *Writer) Partitions() int { return len(w.tapes) }

// Finish closes the episode, releasing empty partitions and turning
// each non-empty one into a batch for the refill FIFO.
func (w *Writer) Finish() ([]*Batch, error) {
	var batches []*Batch
	for i, t := range w.tapes {
		if w.ntuples[i] == 0 {
			if err := t.Release(); err != nil {
				return batches, err
			}
			continue
		}
		batches = append(batches, &Batch{
			Tape:      t,
			InputBits: w.inputBits + w.bits,
			Tuples:    w.ntuples[i],
			SetID:     w.setID,
		})
	}
	w.tapes = nil
	return batches, nil
}

// Reader replays a batch's records in write order.
type Reader struct {
	tape *tapes.Tape
	hdr  [recordHeader]byte
	buf  []byte
}

// NewReader rewinds the batch's tape for sequential read.
func NewReader(b *Batch) (*Reader, error) {
	if err := b.Tape.RewindForRead(); err != nil {
		return nil, err
	}
	return &Reader{tape: b.Tape}, nil
}

// Next returns the next record's hash and tuple bytes, or io.EOF.
// The tuple slice is valid until the following call.
func (r *Reader) Next() (uint32, []byte, error) {
	if err := r.tape.Read(r.hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	hash := binary.LittleEndian.Uint32(r.hdr[:4])
	size := binary.LittleEndian.Uint32(r.hdr[4:])
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if err := r.tape.Read(r.buf); err != nil {
		if err == io.EOF {
			return 0, nil, errors.Wrap(execerr.ErrIO, "spill: truncated record")
		}
		return 0, nil, err
	}
	return hash, r.buf, nil
}
