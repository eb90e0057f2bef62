// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

var (
	// ErrTruncated is returned when the stream ends before a declared
	// structure completes.
	ErrTruncated = errors.New("trace stream is truncated")

	// ErrInvalidFormat is returned on a magic/version mismatch, a misaligned
	// block, or a header field out of range.
	ErrInvalidFormat = errors.New("invalid trace format")

	// ErrUnsupportedTypeCode is observed when a parameter schema contains an
	// unknown type code. It is contained: the affected descriptor is
	// registered with an empty parameter list and decoding continues.
	ErrUnsupportedTypeCode = errors.New("unsupported parameter type code")

	// ErrMalformedVarInt is returned when a variable-length integer exceeds
	// its maximum encoded length.
	ErrMalformedVarInt = errors.New("malformed variable-length integer")

	// ErrUnknownBlockKind is observed when a block declares an unrecognized
	// name. The block is skipped using its declared size.
	ErrUnknownBlockKind = errors.New("unknown block kind")
)

// IsTruncated reports whether err is rooted in ErrTruncated.
func IsTruncated(err error) bool { return errors.Cause(err) == ErrTruncated }

// IsInvalidFormat reports whether err is rooted in ErrInvalidFormat.
func IsInvalidFormat(err error) bool { return errors.Cause(err) == ErrInvalidFormat }

// IsMalformedVarInt reports whether err is rooted in ErrMalformedVarInt.
func IsMalformedVarInt(err error) bool { return errors.Cause(err) == ErrMalformedVarInt }

// normalize maps low-level reader errors onto the decoder's taxonomy. A
// source that ends mid-structure is a truncated trace.
func normalize(err error) error {
	if errors.Cause(err) == binreader.ErrShortSource {
		return errors.Wrap(ErrTruncated, err.Error())
	}
	return err
}
