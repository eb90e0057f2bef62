// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// stackCache interns stack blobs by their stack id.
//
// Entries live from the StackBlock that declares them until the next
// sequence point (or the end of the trace), at which point the whole cache
// is flushed.
type stackCache struct {
	stacks map[int32][]byte
}

func newStackCache() *stackCache {
	return &stackCache{stacks: map[int32][]byte{}}
}

// processStackBlock decodes a StackBlock's contents and registers its
// stacks at consecutive ids starting from the block's first id.
//
// The cache outlives the pooled block buffer, so each blob is copied out as
// it is registered.
func (sc *stackCache) processStackBlock(contents []byte) error {
	r := binreader.FromBytes(contents)

	firstID, err := r.Int32()
	if err != nil {
		return normalize(err)
	}
	count, err := r.Int32()
	if err != nil {
		return normalize(err)
	}
	if count < 0 {
		return errors.Wrapf(ErrInvalidFormat, "stack block count %d", count)
	}

	for i := int32(0); i < count; i++ {
		length, err := r.Int32()
		if err != nil {
			return normalize(err)
		}
		if length < 0 || length > maxStackBytes {
			return errors.Wrapf(ErrInvalidFormat, "stack %d length %d", firstID+i, length)
		}
		blob, err := r.Next(int(length))
		if err != nil {
			return normalize(err)
		}
		sc.stacks[firstID+i] = append([]byte(nil), blob...)
	}
	return nil
}

// tryGetStack returns the interned blob for id. An absent id yields no
// stack, not an error.
func (sc *stackCache) tryGetStack(id int32) ([]byte, bool) {
	b, ok := sc.stacks[id]
	return b, ok
}

// flush drops every interned stack. Called on each sequence point.
func (sc *stackCache) flush() {
	sc.stacks = map[int32][]byte{}
}
