// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"bytes"
	"encoding/binary"
)

// traceBuilder hand-assembles trace byte images for decoder tests. It is
// test scaffolding, not an encoder: it writes exactly what each test asks
// for, valid or not.
type traceBuilder struct {
	buf     bytes.Buffer
	version int32
}

func newTraceBuilder(version int32) *traceBuilder {
	return &traceBuilder{version: version}
}

func (tb *traceBuilder) bytes() []byte { return tb.buf.Bytes() }

func (tb *traceBuilder) raw(b ...byte)     { tb.buf.Write(b) }
func (tb *traceBuilder) rawBytes(b []byte) { tb.buf.Write(b) }

func (tb *traceBuilder) i16(v int16) {
	var d [2]byte
	binary.LittleEndian.PutUint16(d[:], uint16(v))
	tb.buf.Write(d[:])
}

func (tb *traceBuilder) i32(v int32) {
	var d [4]byte
	binary.LittleEndian.PutUint32(d[:], uint32(v))
	tb.buf.Write(d[:])
}

func (tb *traceBuilder) i64(v int64) {
	var d [8]byte
	binary.LittleEndian.PutUint64(d[:], uint64(v))
	tb.buf.Write(d[:])
}

func (tb *traceBuilder) guid(g [16]byte) { tb.buf.Write(g[:]) }

func (tb *traceBuilder) utf16z(s string) {
	for _, r := range s {
		tb.i16(int16(r))
	}
	tb.i16(0)
}

func (tb *traceBuilder) varint(v uint64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		tb.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// header writes the optional magic, the serialization preamble, the Trace
// entry object's type record, and the entry payload.
func (tb *traceBuilder) header() {
	if tb.version >= 4 {
		tb.rawBytes(netTraceMagic)
	}
	tb.i32(int32(len(streamHeaderMagic)))
	tb.buf.WriteString(streamHeaderMagic)

	tb.objectType("Trace", tb.version)

	// Sync time 2020-01-01T00:00:00Z (a Wednesday).
	tb.i16(2020)
	tb.i16(1)
	tb.i16(3)
	tb.i16(1)
	tb.i16(0)
	tb.i16(0)
	tb.i16(0)
	tb.i16(0)
	tb.i64(0)          // syncTimeQPC
	tb.i64(10_000_000) // qpcFrequency

	if tb.version >= 3 {
		tb.i32(8)  // pointerSize
		tb.i32(42) // processId
		tb.i32(4)  // processorCount
		tb.i32(0)  // expectedCpuSamplingRate
	}

	if tb.version >= 4 {
		// The Trace object's payload ends before the block stream.
		tb.raw(byte(tagEndObject))
	}
}

// objectType writes BeginPrivateObject and a SerializationType record.
func (tb *traceBuilder) objectType(name string, version int32) {
	tb.raw(byte(tagBeginPrivateObject))
	tb.raw(byte(tagBeginPrivateObject))
	tb.raw(byte(tagNullReference))
	tb.i32(version)
	tb.i32(version)
	tb.i32(int32(len(name)))
	tb.buf.WriteString(name)
	tb.raw(byte(tagEndObject))
}

// block writes a complete named block object wrapping contents.
func (tb *traceBuilder) block(kind string, contents []byte) {
	tb.objectType(kind, 2)
	tb.i32(int32(len(contents)))
	for tb.buf.Len()%4 != 0 {
		tb.raw(0)
	}
	tb.rawBytes(contents)
	tb.raw(byte(tagEndObject))
}

// end terminates the object stream.
func (tb *traceBuilder) end() {
	tb.raw(byte(tagNullReference))
}

// endFlat terminates a V1–V3 event stream: the Trace object's EndObject,
// then the stream terminator.
func (tb *traceBuilder) endFlat() {
	tb.raw(byte(tagEndObject))
	tb.raw(byte(tagNullReference))
}

// flatEvent writes one fixed-layout (V1–V3) event record.
func (tb *traceBuilder) flatEvent(metadataID, threadID int32, timestamp int64, payload, stack []byte) {
	pp := pad4(payload)
	ps := pad4(stack)

	eventSize := int32(56 + len(pp) + len(ps))
	tb.i32(eventSize)
	tb.i32(metadataID)
	tb.i32(threadID)
	tb.i64(timestamp)
	tb.guid([16]byte{})
	tb.guid([16]byte{})
	tb.i32(int32(len(payload)))
	tb.rawBytes(pp)
	tb.i32(int32(len(stack)))
	tb.rawBytes(ps)
}

func pad4(b []byte) []byte {
	out := append([]byte(nil), b...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// metadataPayload builds a metadata blob for a parameterless event.
func metadataPayload(id int32, provider, name string) []byte {
	var tb traceBuilder
	tb.i32(id)
	tb.utf16z(provider)
	tb.i32(1) // eventId
	tb.utf16z(name)
	tb.i64(0) // keywords
	tb.i32(0) // eventVersion
	tb.i32(4) // level
	return tb.bytes()
}

// blobBlockBuilder assembles EventBlock/MetadataBlock contents.
type blobBlockBuilder struct {
	tb traceBuilder
}

func newBlobBlock(compressed bool) *blobBlockBuilder {
	bb := &blobBlockBuilder{}
	flags := int16(0)
	if compressed {
		flags = 1
	}
	bb.tb.i16(blobBlockHeaderSize)
	bb.tb.i16(flags)
	bb.tb.i64(0) // minTimestamp
	bb.tb.i64(0) // maxTimestamp
	return bb
}

func (bb *blobBlockBuilder) bytes() []byte { return bb.tb.bytes() }

// uncompressedEvent appends one uncompressed V4 blob. sorted toggles the top
// bit of the metadata id (bit clear means sorted).
func (bb *blobBlockBuilder) uncompressedEvent(h EventHeader, sorted bool, payload []byte) {
	pp := pad4(payload)

	metadataID := h.MetadataID
	if !sorted {
		metadataID |= isSortedFlagMask
	}

	bb.tb.i32(int32(76 + len(pp))) // eventSize
	bb.tb.i32(metadataID)
	bb.tb.i32(h.SequenceNumber)
	bb.tb.i64(h.ThreadID)
	bb.tb.i64(h.CaptureThreadID)
	bb.tb.i32(h.CaptureProcessorNumber)
	bb.tb.i32(h.StackID)
	bb.tb.i64(h.Timestamp)
	bb.tb.guid(h.ActivityID)
	bb.tb.guid(h.RelatedActivityID)
	bb.tb.i32(int32(len(payload)))
	bb.tb.rawBytes(pp)
}

// compressedEvent appends one compressed blob with exactly the fields the
// flag byte declares. The timestamp delta is always present.
type compressedEventFields struct {
	MetadataID             int32
	SequenceDelta          uint32 // written minus nothing; the wire adds one
	CaptureThreadID        int64
	CaptureProcessorNumber int32
	ThreadID               int64
	StackID                int32
	TimestampDelta         uint64
	ActivityID             [16]byte
	RelatedActivityID      [16]byte
	PayloadSize            uint32
	Payload                []byte
}

func (bb *blobBlockBuilder) compressedEvent(flags compressedHeaderFlags, f compressedEventFields) {
	bb.tb.raw(byte(flags))
	if flags&flagMetadataID != 0 {
		bb.tb.varint(uint64(f.MetadataID))
	}
	if flags&flagCaptureThreadAndSequence != 0 {
		bb.tb.varint(uint64(f.SequenceDelta))
		bb.tb.varint(uint64(f.CaptureThreadID))
		bb.tb.varint(uint64(f.CaptureProcessorNumber))
	}
	if flags&flagThreadID != 0 {
		bb.tb.varint(uint64(f.ThreadID))
	}
	if flags&flagStackID != 0 {
		bb.tb.varint(uint64(f.StackID))
	}
	bb.tb.varint(f.TimestampDelta)
	if flags&flagActivityID != 0 {
		bb.tb.guid(f.ActivityID)
	}
	if flags&flagRelatedActivityID != 0 {
		bb.tb.guid(f.RelatedActivityID)
	}
	if flags&flagDataLength != 0 {
		bb.tb.varint(uint64(f.PayloadSize))
	}
	bb.tb.rawBytes(f.Payload)
}

// stackBlockContents assembles StackBlock contents.
func stackBlockContents(firstID int32, stacks ...[]byte) []byte {
	var tb traceBuilder
	tb.i32(firstID)
	tb.i32(int32(len(stacks)))
	for _, s := range stacks {
		tb.i32(int32(len(s)))
		tb.rawBytes(s)
	}
	return tb.bytes()
}

// sequencePointContents assembles SPBlock contents.
func sequencePointContents(timestamp int64, rows ...sequencePointThread) []byte {
	var tb traceBuilder
	tb.i64(timestamp)
	tb.i32(int32(len(rows)))
	for _, row := range rows {
		tb.i64(row.CaptureThreadID)
		tb.i32(row.SequenceNumber)
	}
	return tb.bytes()
}
