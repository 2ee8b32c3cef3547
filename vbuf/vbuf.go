// Package vbuf provides batches of rows and the puller interface that
// connects operators in an executor pipeline.
package vbuf

import (
	"github.com/vexdb/vex"
	"github.com/vexdb/vex/vcode"
)

// BatchLen is the target number of rows per output batch.
const BatchLen = 100

// Row is one input or output tuple, one value per column.
type Row []vex.Value

// Copy returns a deep copy of the row.
func (r Row) Copy() Row {
	out := make(Row, len(r))
	for i, v := range r {
		out[i] = v.Copy()
	}
	return out
}

// Project returns the values of the given columns in order.
func (r Row) Project(cols []int) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Encode appends the minimal-tuple encoding of the row to dst: a
// column count followed by tagged values.  The encoding is stable
// only within one process lifetime.
func (r Row) Encode(dst vcode.Bytes) vcode.Bytes {
	dst = append(dst, byte(len(r)))
	for _, v := range r {
		dst = v.Append(dst)
	}
	return dst
}

// DecodeRow decodes a minimal tuple produced by Row.Encode.
func DecodeRow(b vcode.Bytes) Row {
	n := int(b[0])
	b = b[1:]
	row := make(Row, n)
	for i := range n {
		row[i], b = vex.DecodeValue(b)
	}
	return row
}

// Batch is a stretch of rows flowing between operators.
type Batch interface {
	Rows() []Row
}

// Puller is the pull-based operator interface.  Pull(false) returns
// the next batch or nil at end of stream; Pull(true) tells the
// operator that no more batches will be requested so it can release
// resources and propagate done upstream.
type Puller interface {
	Pull(done bool) (Batch, error)
}

// Result is a batch/error pair passed over operator result channels.
type Result struct {
	Batch Batch
	Err   error
}

// Array is a Batch backed by a slice of rows.
type Array struct {
	rows []Row
}

var _ Batch = (*Array)(nil)

func NewArray(rows []Row) *Array {
	return &Array{rows: rows}
}

func (a *Array) Rows() []Row { return a.rows }

func (a *Array) Append(r Row) {
	a.rows = append(a.rows, r)
}

// ReadAll drains p until end of stream and returns all rows.
func ReadAll(p Puller) ([]Row, error) {
	var rows []Row
	for {
		batch, err := p.Pull(false)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return rows, nil
		}
		rows = append(rows, batch.Rows()...)
	}
}
