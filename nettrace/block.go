// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// The closed set of known block kinds. Anything else is skipped by size.
const (
	blockKindTrace         = "Trace"
	blockKindEvent         = "EventBlock"
	blockKindMetadata      = "MetadataBlock"
	blockKindStack         = "StackBlock"
	blockKindSequencePoint = "SPBlock"
)

// blobBlockHeader prefixes EventBlock and MetadataBlock contents.
type blobBlockHeader struct {
	HeaderSize   int16 `struc:"int16,little"`
	Flags        int16 `struc:"int16,little"`
	MinTimestamp int64 `struc:"int64,little"`
	MaxTimestamp int64 `struc:"int64,little"`
}

// blobBlockHeaderSize is the fixed portion of a blob block header;
// HeaderSize may declare more, which is skipped as padding.
const blobBlockHeaderSize = 20

// blobBlockCompressed is the block header flag selecting compressed event
// headers.
const blobBlockCompressed = 0x0001

// processBlobBlock decodes the concatenated event blobs of an EventBlock or
// MetadataBlock. The two block kinds share their framing; they differ only
// in what their blobs carry.
func (d *Decoder) processBlobBlock(contents []byte) error {
	r := binreader.FromBytes(contents)

	var hdr blobBlockHeader
	if err := struc.Unpack(r, &hdr); err != nil {
		return normalize(err)
	}
	if hdr.HeaderSize < blobBlockHeaderSize {
		return errors.Wrapf(ErrInvalidFormat, "blob block header size %d", hdr.HeaderSize)
	}
	if pad := int(hdr.HeaderSize) - blobBlockHeaderSize; pad > 0 {
		if err := r.Skip(pad); err != nil {
			return normalize(err)
		}
	}

	compressed := hdr.Flags&blobBlockCompressed != 0

	// Header compression state resets at each block boundary.
	var prev EventHeader

	for r.Remaining() > 0 {
		blobStart := r.Pos()

		var h EventHeader
		var err error
		if compressed {
			err = readEventHeaderV4Compressed(r, &prev, &h)
		} else {
			err = readEventHeaderV4(r, &h)
		}
		if err != nil {
			return err
		}

		if h.PayloadSize > int32(r.Remaining()) {
			return errors.Wrapf(ErrTruncated,
				"event payload %d exceeds block remainder %d", h.PayloadSize, r.Remaining())
		}
		if h.Payload, err = r.Next(int(h.PayloadSize)); err != nil {
			return normalize(err)
		}

		if err := d.routeEvent(&h); err != nil {
			return err
		}

		if !compressed {
			// Uncompressed blobs are aligned; step defensively to the
			// declared record end, rounded up to 4 bytes.
			next := blobStart.Add(int(h.EventSize) + 4)
			if over := next.Sub(blobStart) % 4; over != 0 {
				next = next.Add(4 - over)
			}
			skip := next.Sub(r.Pos())
			if skip < 0 || skip > r.Remaining() {
				return errors.Wrapf(ErrInvalidFormat, "event size %d walks out of block", h.EventSize)
			}
			if skip > 0 {
				if err := r.Skip(skip); err != nil {
					return normalize(err)
				}
			}
		}
	}
	return nil
}

// routeEvent sends a decoded blob down the metadata or normal event path.
func (d *Decoder) routeEvent(h *EventHeader) error {
	if h.MetadataID == 0 {
		// This event IS a metadata record; its payload is a metadata blob.
		// Metadata events carry no stack.
		if h.StackID != 0 {
			d.logger.Debugf("metadata event at %d carries stack id %d", h.Timestamp, h.StackID)
		}
		return d.registerMetadata(h.Payload)
	}

	// Attach the interned stack, if the event references one.
	if h.StackID != 0 {
		if blob, ok := d.stacks.tryGetStack(h.StackID); ok {
			h.StackBytes = blob
			h.StackBytesSize = int32(len(blob))
		}
	}

	// Copy payload and stack out of the reusable block buffer; the sorter
	// may hold the event past this block's lifetime.
	pe := pendingEvent{header: *h}
	pe.header.Payload = append([]byte(nil), h.Payload...)
	if h.StackBytes != nil {
		pe.header.StackBytes = append([]byte(nil), h.StackBytes...)
	}
	return d.sorter.enqueue(pe)
}

// registerMetadata parses a metadata blob and installs the descriptor.
func (d *Decoder) registerMetadata(payload []byte) error {
	desc, err := parseMetadataBlob(payload, d.logger)
	if err != nil {
		return err
	}
	d.registry.register(desc)
	d.summary.MetadataRecords++
	metadataRecordsCounter.Inc()
	return nil
}

// processStackBlock feeds a StackBlock to the stack cache.
func (d *Decoder) processStackBlock(contents []byte) error {
	return d.stacks.processStackBlock(contents)
}

// processSequencePointBlock decodes an SPBlock and applies it: the sorter
// flushes through the sequence point, and the stack cache is purged.
func (d *Decoder) processSequencePointBlock(contents []byte) error {
	r := binreader.FromBytes(contents)

	timestamp, err := r.Int64()
	if err != nil {
		return normalize(err)
	}
	threadCount, err := r.Int32()
	if err != nil {
		return normalize(err)
	}
	if threadCount < 0 {
		return errors.Wrapf(ErrInvalidFormat, "sequence point thread count %d", threadCount)
	}

	table := make([]sequencePointThread, threadCount)
	for i := range table {
		if err := struc.Unpack(r, &table[i]); err != nil {
			return normalize(err)
		}
	}

	if err := d.sorter.sequencePoint(timestamp, table); err != nil {
		return err
	}
	d.stacks.flush()
	return nil
}
