// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// EventHeader is the decoded per-event header, uniform across format
// versions.
type EventHeader struct {
	EventSize  int32
	MetadataID int32
	// IsSorted is true when the emitter guarantees that all older events from
	// the same capture thread have already appeared in the stream.
	IsSorted               bool
	SequenceNumber         int32
	CaptureThreadID        int64
	CaptureProcessorNumber int32
	ThreadID               int64
	Timestamp              int64
	ActivityID             [16]byte
	RelatedActivityID      [16]byte

	PayloadSize int32
	// Payload points into the current block buffer. It must be copied out if
	// the event outlives block processing.
	Payload []byte

	StackID        int32
	StackBytesSize int32
	// StackBytes points into the stack cache, or into the stream window for a
	// V3 inline stack. The same copy-out rule as Payload applies.
	StackBytes []byte

	HeaderSize         int32
	TotalNonHeaderSize int32
}

// Event payloads are capped well below this; the loose bound tolerates a
// known emitter bug in BulkSurvivingObjectRanges payloads.
const maxTotalNonHeaderSize = 0x20000

// maxStackBytes bounds a single interned or inline stack blob.
const maxStackBytes = 800

// isSortedFlagMask is the top bit of a V4 uncompressed metadata id. The bit
// CLEAR means the event is sorted.
const isSortedFlagMask = int32(-0x80000000)

// VarUInt caps. A u32 fits in 5 encoded bytes, a u64 in 10; anything longer
// is malformed.
const (
	maxVarUint32Bytes = 5
	maxVarUint64Bytes = 10
)

// readVarUint64 decodes a little-endian base-128 unsigned integer with a
// 0x80 continuation bit, reading at most maxBytes bytes.
func readVarUint64(r *binreader.R, maxBytes int) (uint64, error) {
	var v uint64
	for i := 0; i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, normalize(err)
		}
		v |= uint64(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.Wrapf(ErrMalformedVarInt, "no terminator within %d bytes", maxBytes)
}

func readVarUint32(r *binreader.R) (uint32, error) {
	v, err := readVarUint64(r, maxVarUint32Bytes)
	return uint32(v), err
}

// Compressed header flag bits, LSB first. Each set bit means the
// corresponding field is present in the stream; absent fields inherit the
// previous event's value.
type compressedHeaderFlags byte

const (
	flagMetadataID compressedHeaderFlags = 1 << iota
	flagCaptureThreadAndSequence
	flagThreadID
	flagStackID
	flagActivityID
	flagRelatedActivityID
	flagIsSorted
	flagDataLength
)

// readEventHeaderV4 decodes an uncompressed V4+ blob header from a block
// reader.
func readEventHeaderV4(r *binreader.R, h *EventHeader) error {
	start := r.Pos()

	var err error
	if h.EventSize, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if h.MetadataID, err = r.Int32(); err != nil {
		return normalize(err)
	}
	// The top bit of the metadata id is the sort flag; clear means sorted.
	h.IsSorted = h.MetadataID&isSortedFlagMask == 0
	h.MetadataID &^= isSortedFlagMask

	if h.SequenceNumber, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if h.ThreadID, err = r.Int64(); err != nil {
		return normalize(err)
	}
	if h.CaptureThreadID, err = r.Int64(); err != nil {
		return normalize(err)
	}
	if h.CaptureProcessorNumber, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if h.StackID, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if h.Timestamp, err = r.Int64(); err != nil {
		return normalize(err)
	}
	if h.ActivityID, err = r.GUID(); err != nil {
		return normalize(err)
	}
	if h.RelatedActivityID, err = r.GUID(); err != nil {
		return normalize(err)
	}
	if h.PayloadSize, err = r.Int32(); err != nil {
		return normalize(err)
	}

	h.HeaderSize = int32(r.Pos().Sub(start)) - 4
	h.TotalNonHeaderSize = h.EventSize + 4 - h.HeaderSize
	return validateEventHeader(h)
}

// readEventHeaderV4Compressed decodes a compressed blob header. prev is the
// running header state for the current block; the decoded header inherits
// from it and the result becomes the new running state.
func readEventHeaderV4Compressed(r *binreader.R, prev *EventHeader, h *EventHeader) error {
	start := r.Pos()

	fb, err := r.ReadByte()
	if err != nil {
		return normalize(err)
	}
	flags := compressedHeaderFlags(fb)

	*h = *prev
	h.Payload, h.StackBytes = nil, nil
	h.IsSorted = flags&flagIsSorted != 0

	if flags&flagMetadataID != 0 {
		v, err := readVarUint32(r)
		if err != nil {
			return err
		}
		h.MetadataID = int32(v)
	}
	if flags&flagCaptureThreadAndSequence != 0 {
		// Sequence delta is stored minus one.
		d, err := readVarUint32(r)
		if err != nil {
			return err
		}
		h.SequenceNumber += int32(d) + 1
		t, err := readVarUint64(r, maxVarUint64Bytes)
		if err != nil {
			return err
		}
		h.CaptureThreadID = int64(t)
		p, err := readVarUint32(r)
		if err != nil {
			return err
		}
		h.CaptureProcessorNumber = int32(p)
	} else if h.MetadataID != 0 {
		h.SequenceNumber++
	}
	if flags&flagThreadID != 0 {
		v, err := readVarUint64(r, maxVarUint64Bytes)
		if err != nil {
			return err
		}
		h.ThreadID = int64(v)
	}
	if flags&flagStackID != 0 {
		v, err := readVarUint32(r)
		if err != nil {
			return err
		}
		h.StackID = int32(v)
	}

	// The timestamp delta is always present.
	d, err := readVarUint64(r, maxVarUint64Bytes)
	if err != nil {
		return err
	}
	h.Timestamp += int64(d)

	if flags&flagActivityID != 0 {
		if h.ActivityID, err = r.GUID(); err != nil {
			return normalize(err)
		}
	}
	if flags&flagRelatedActivityID != 0 {
		if h.RelatedActivityID, err = r.GUID(); err != nil {
			return normalize(err)
		}
	}
	if flags&flagDataLength != 0 {
		v, err := readVarUint32(r)
		if err != nil {
			return err
		}
		h.PayloadSize = int32(v)
	}

	h.HeaderSize = int32(r.Pos().Sub(start))
	h.TotalNonHeaderSize = h.PayloadSize

	*prev = *h
	return validateEventHeader(h)
}

// readEventHeaderV3 decodes a fixed-layout V3 (and V1/V2) event header
// directly from the stream.
func readEventHeaderV3(r *binreader.R, h *EventHeader) error {
	start := r.Pos()

	var err error
	if h.EventSize, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if h.MetadataID, err = r.Int32(); err != nil {
		return normalize(err)
	}
	var tid int32
	if tid, err = r.Int32(); err != nil {
		return normalize(err)
	}
	h.ThreadID = int64(tid)
	h.CaptureThreadID = int64(tid)
	if h.Timestamp, err = r.Int64(); err != nil {
		return normalize(err)
	}
	if h.ActivityID, err = r.GUID(); err != nil {
		return normalize(err)
	}
	if h.RelatedActivityID, err = r.GUID(); err != nil {
		return normalize(err)
	}
	if h.PayloadSize, err = r.Int32(); err != nil {
		return normalize(err)
	}

	// The on-disk header struct ends with a 4-byte variable-length payload
	// slot; the header size is sizeof(header) minus that slot, which is
	// exactly the fixed fields read above.
	h.HeaderSize = int32(r.Pos().Sub(start)) + 4 - 4
	h.TotalNonHeaderSize = h.EventSize + 4 - h.HeaderSize
	h.IsSorted = true
	h.SequenceNumber = 0
	h.StackID = 0
	return validateEventHeader(h)
}

func validateEventHeader(h *EventHeader) error {
	if h.PayloadSize < 0 {
		return errors.Wrapf(ErrInvalidFormat, "negative payload size %d", h.PayloadSize)
	}
	if h.TotalNonHeaderSize < 0 || h.TotalNonHeaderSize >= maxTotalNonHeaderSize {
		return errors.Wrapf(ErrInvalidFormat, "event body size %d out of range", h.TotalNonHeaderSize)
	}
	if h.PayloadSize > h.TotalNonHeaderSize {
		return errors.Wrapf(ErrInvalidFormat,
			"payload size %d exceeds event body %d", h.PayloadSize, h.TotalNonHeaderSize)
	}
	return nil
}
