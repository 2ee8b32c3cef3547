// Package vcode implements the serialization format for flat value
// sequences.  A sequence is a concatenation of tag-prefixed elements
// where the tag encodes null or the element length.  The format is
// used for grouping keys, minimal tuples, and spill records.
package vcode

import (
	"encoding/binary"
)

// Bytes is the serialization format for a sequence of values.
type Bytes []byte

// Append appends the value b to dst as a tagged element and returns
// the extended buffer.  A nil b appends a null element.
func Append(dst Bytes, b []byte) Bytes {
	if b == nil {
		return binary.AppendUvarint(dst, 0)
	}
	dst = binary.AppendUvarint(dst, uint64(len(b)+1))
	return append(dst, b...)
}

// Iter iterates over a sequence of tagged elements.
type Iter Bytes

// Done returns true when the iteration is complete.
func (i *Iter) Done() bool {
	return len(*i) == 0
}

// Next returns the next element in the sequence and whether it is null.
// It panics on a malformed sequence.
func (i *Iter) Next() ([]byte, bool) {
	tag, n := binary.Uvarint(*i)
	if n <= 0 {
		panic("vcode: bad tag in element sequence")
	}
	*i = (*i)[n:]
	if tag == 0 {
		return nil, true
	}
	size := int(tag - 1)
	if size > len(*i) {
		panic("vcode: element length exceeds buffer")
	}
	b := (*i)[:size]
	*i = (*i)[size:]
	return b, false
}
