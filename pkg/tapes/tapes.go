// Package tapes implements logical tapes over a pool of temporary
// files.  A tape is an append-only byte stream that can be rewound
// once for sequential readback.  Tape contents are s2-compressed and
// never outlive the pool, so the on-disk format is private to one
// process run.
package tapes

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/vexdb/vex/pkg/execerr"
)

// Pool owns the temporary directory backing all tape sets of one
// driver.  Closing the pool removes the directory and everything in
// it.
type Pool struct {
	dir    string
	closed bool
}

// NewPool creates the backing directory under tmpRoot, or under the
// system temp directory when tmpRoot is empty.
func NewPool(tmpRoot string) (*Pool, error) {
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}
	dir := filepath.Join(tmpRoot, "vex-spill-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "tapes: create spill directory")
	}
	return &Pool{dir: dir}, nil
}

// NewSet creates a set of n tapes in the pool.
func (p *Pool) NewSet(n int) (*Set, error) {
	s := &Set{pool: p}
	if err := s.Extend(n); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close removes the pool's directory.  Tapes still open become
// unusable.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return os.RemoveAll(p.dir)
}

// Set is a group of tapes sharing the pool.
type Set struct {
	pool  *Pool
	tapes []*Tape
}

// Tapes returns the tapes of the set in creation order.
func (s *Set) Tapes() []*Tape { return s.tapes }

// Extend adds n more tapes to the set.
func (s *Set) Extend(n int) error {
	for range n {
		f, err := os.CreateTemp(s.pool.dir, "tape-*.s2")
		if err != nil {
			return errors.Wrap(err, "tapes: create tape file")
		}
		w := s2.NewWriter(f, s2.WriterConcurrency(1))
		s.tapes = append(s.tapes, &Tape{f: f, w: w})
	}
	return nil
}

// Close releases every tape in the set.  The underlying files are
// removed.
func (s *Set) Close() error {
	var firstErr error
	for _, t := range s.tapes {
		if err := t.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.tapes = nil
	return firstErr
}

// Tape is one logical append stream.  Write until RewindForRead, then
// read sequentially until EOF or Release.
type Tape struct {
	f       *os.File
	w       *s2.Writer
	r       *s2.Reader
	written int64
	freed   bool
}

// Write appends b to the tape.
func (t *Tape) Write(b []byte) error {
	if t.w == nil {
		return errors.Wrap(execerr.ErrInternal, "tapes: write after rewind")
	}
	if _, err := t.w.Write(b); err != nil {
		return errors.Wrapf(execerr.ErrIO, "tapes: write: %v", err)
	}
	t.written += int64(len(b))
	return nil
}

// Written returns the number of uncompressed bytes written so far.
func (t *Tape) Written() int64 { return t.written }

// RewindForRead flushes pending writes and positions the tape at its
// beginning for sequential readback.
func (t *Tape) RewindForRead() error {
	if t.w != nil {
		if err := t.w.Close(); err != nil {
			return errors.Wrapf(execerr.ErrIO, "tapes: flush: %v", err)
		}
		t.w = nil
	}
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(execerr.ErrIO, "tapes: rewind: %v", err)
	}
	t.r = s2.NewReader(t.f)
	return nil
}

// Read fills b completely or returns io.EOF if the tape is exhausted
// exactly at a record boundary.  A partial fill is a short read and
// surfaces as ErrIO.
func (t *Tape) Read(b []byte) error {
	if t.r == nil {
		return errors.Wrap(execerr.ErrInternal, "tapes: read before rewind")
	}
	n, err := io.ReadFull(t.r, b)
	if err == io.EOF && n == 0 {
		return io.EOF
	}
	if err != nil {
		return errors.Wrapf(execerr.ErrIO, "tapes: short read (%d of %d): %v", n, len(b), err)
	}
	return nil
}

// Release closes the tape and removes its file.  Reading a batch to
// completion releases its tape so disk is reclaimed incrementally.
func (t *Tape) Release() error {
	return t.release()
}

func (t *Tape) release() error {
	if t.freed {
		return nil
	}
	t.freed = true
	if t.w != nil {
		t.w.Close()
		t.w = nil
	}
	t.r = nil
	name := t.f.Name()
	if err := t.f.Close(); err != nil {
		return errors.Wrapf(execerr.ErrIO, "tapes: close: %v", err)
	}
	if err := os.Remove(name); err != nil {
		return errors.Wrapf(execerr.ErrIO, "tapes: remove: %v", err)
	}
	return nil
}
