// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package binreader offers R, a forward-biased cursor over a byte source with
// zero-copy options and little-endian primitive reads.
//
// Standard io.Reader methods require that data be copied into a target buffer.
// The zero-copy options, Peek and Next, allow for data to be returned as
// slices of R's internal window.
//
// With great power comes great responsibility: holding a reference to the
// window means that the window must persist as long as that reference is
// valid. References returned by Peek and Next are invalidated by the next
// read operation unless AlwaysCopy is set.
//
// R tracks an absolute stream position as an opaque Label. For a slice-backed
// R the whole source is addressable and Goto may move anywhere; for a
// streaming source (a file or socket), Goto is only permitted within the
// currently buffered window.
package binreader

import (
	"io"

	"github.com/pkg/errors"
)

// ErrShortSource is returned when the underlying source ends before a
// requested read completes.
var ErrShortSource = errors.New("source ended mid-read")

// ErrBadSeek is returned when a Goto target is outside of the addressable
// window.
var ErrBadSeek = errors.New("position is outside of the buffered window")

// Label is an absolute position in the stream.
//
// Labels from different R instances are not comparable.
type Label int64

// Add returns the Label k bytes past l.
func (l Label) Add(k int) Label { return l + Label(k) }

// Sub returns the distance, in bytes, from other to l.
func (l Label) Sub(other Label) int { return int(l - other) }

const defaultWindowSize = 64 * 1024

// R is a cursor over a byte source.
//
// R can be backed either by a byte slice (FromBytes), in which case the whole
// source is one addressable window, or by an io.Reader (New), in which case R
// maintains a sliding window of buffered data.
//
// R is not safe for concurrent use.
type R struct {
	// AlwaysCopy, if true, causes zero-copy methods to return copies of their
	// backing data instead of direct references. All zero-copy methods honor
	// AlwaysCopy, so it is safe to assume that data returned by R's methods is
	// owned by the caller when it is set.
	AlwaysCopy bool

	// src is the streaming source, or nil for a slice-backed R.
	src io.Reader

	// buf is the current window. For a slice-backed R this is the whole
	// source.
	buf []byte
	// pos is the cursor's offset within buf.
	pos int
	// base is the absolute stream position of buf[0].
	base int64
}

// New creates an R that streams from src.
func New(src io.Reader) *R {
	return &R{src: src}
}

// FromBytes creates a slice-backed R whose window is exactly b.
func FromBytes(b []byte) *R {
	return &R{buf: b}
}

// Pos returns the cursor's absolute position.
func (r *R) Pos() Label { return Label(r.base + int64(r.pos)) }

// Remaining returns the number of buffered bytes past the cursor. For a
// slice-backed R this is the total number of unread bytes.
func (r *R) Remaining() int { return len(r.buf) - r.pos }

// fill ensures that at least n bytes are buffered past the cursor, pulling
// from the source as needed. The window origin moves forward to the cursor,
// invalidating labels that precede it.
func (r *R) fill(n int) error {
	if len(r.buf)-r.pos >= n {
		return nil
	}
	if r.src == nil {
		return ErrShortSource
	}

	// Slide the unread tail to the front of the window.
	if r.pos > 0 {
		rem := copy(r.buf, r.buf[r.pos:])
		r.base += int64(r.pos)
		r.buf, r.pos = r.buf[:rem], 0
	}

	need := n - len(r.buf)
	capacity := cap(r.buf)
	if capacity < n {
		capacity = n
		if capacity < defaultWindowSize {
			capacity = defaultWindowSize
		}
		nb := make([]byte, len(r.buf), capacity)
		copy(nb, r.buf)
		r.buf = nb
	}

	tail := r.buf[len(r.buf):cap(r.buf)]
	amt, err := io.ReadAtLeast(r.src, tail, need)
	r.buf = r.buf[:len(r.buf)+amt]
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrShortSource
		}
		return err
	}
	return nil
}

// Peek returns the next n bytes without advancing the cursor.
//
// Peek is a zero-copy method, and returns a slice of the window unless
// AlwaysCopy is true. If fewer than n bytes remain in the source, Peek
// returns ErrShortSource.
func (r *R) Peek(n int) ([]byte, error) {
	if err := r.fill(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	if r.AlwaysCopy {
		v = append([]byte(nil), v...)
	}
	return v, nil
}

// Next returns the next n bytes, advancing the cursor.
//
// Next is a zero-copy equivalent to Read; the same ownership caveats as Peek
// apply.
func (r *R) Next(n int) ([]byte, error) {
	v, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return v, nil
}

// Skip advances the cursor n bytes without exposing the data.
func (r *R) Skip(n int) error {
	if err := r.fill(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Goto repositions the cursor to a previously recorded Label.
//
// For a slice-backed R any position within the source is valid. For a
// streaming R the target must fall within the currently buffered window;
// positions that have slid out of the window return ErrBadSeek.
func (r *R) Goto(l Label) error {
	off := int64(l) - r.base
	if off < 0 || off > int64(len(r.buf)) {
		return ErrBadSeek
	}
	r.pos = int(off)
	return nil
}

// AlignTo advances the cursor to the next multiple of n absolute stream
// bytes. If the cursor is already aligned, it does not move.
func (r *R) AlignTo(n int) error {
	rem := int(r.Pos()) % n
	if rem == 0 {
		return nil
	}
	return r.Skip(n - rem)
}

// Read implements io.Reader. Note that using Read causes data to be copied.
func (r *R) Read(b []byte) (int, error) {
	n := len(r.buf) - r.pos
	if n == 0 {
		if r.src == nil {
			return 0, io.EOF
		}
		if err := r.fill(1); err != nil {
			if err == ErrShortSource {
				err = io.EOF
			}
			return 0, err
		}
		n = len(r.buf) - r.pos
	}
	if n > len(b) {
		n = len(b)
	}
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (byte, error) {
	if err := r.fill(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

var _ interface {
	io.Reader
	io.ByteReader
} = (*R)(nil)
