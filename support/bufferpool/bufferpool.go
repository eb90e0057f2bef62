// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool maintains reusable, reference-counted byte buffers.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// Pool maintains a pool of buffers. It offers a new buffer when one is
// unavailable.
type Pool struct {
	// MinAlloc is the smallest capacity allocated for a fresh buffer. Requests
	// larger than MinAlloc allocate exactly the requested amount.
	MinAlloc int

	base sync.Pool
}

// Get returns a buffer with capacity for at least size bytes, allocating one
// if a suitable buffer is not available. The returned buffer has length size
// and a reference count of 1.
//
// The caller should return the buffer to the pool by calling its Release
// method when done with it.
func (bp *Pool) Get(size int) *Buffer {
	b, ok := bp.base.Get().(*Buffer)
	if !ok || cap(b.bytes) < size {
		alloc := size
		if alloc < bp.MinAlloc {
			alloc = bp.MinAlloc
		}
		b = &Buffer{
			bytes: make([]byte, alloc),
		}
	}

	// Attune the buffer to this request.
	b.bytes = b.bytes[:cap(b.bytes)]
	b.pool = bp
	b.size = size
	b.refcount = 1
	return b
}

func (bp *Pool) releaseNode(b *Buffer) {
	bp.base.Put(b)
}

// Buffer contains a byte buffer that can be released into a Pool for reuse.
//
// Buffer is reference counted, and can be retained and released
// appropriately. Failure to release a Buffer will not cause a memory leak,
// but will prevent its reuse.
type Buffer struct {
	refcount int64

	bytes []byte
	size  int

	pool *Pool
}

// Bytes returns this buffer's byte slice.
func (b *Buffer) Bytes() []byte { return b.bytes[:b.size] }

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int { return b.size }

// Truncate artificially caps the number of bytes returned by Bytes.
func (b *Buffer) Truncate(size int) {
	if size < b.size {
		b.size = size
	}
}

// Release returns the buffer to its buffer pool.
//
// Release is safe for concurrent use.
//
// A Buffer must only be released once per Retain.
func (b *Buffer) Release() {
	if atomic.AddInt64(&b.refcount, -1) != 0 {
		return
	}

	var pool *Pool
	pool, b.pool = b.pool, nil
	pool.releaseNode(b)
}

// Retain increases the Buffer's reference count. It should be accompanied by
// a Release call to reuse the buffer when it's finished.
func (b *Buffer) Retain() { atomic.AddInt64(&b.refcount, 1) }
