// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/danjacques/gonettrace/support/binreader"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("variable-length integers", func() {
	read32 := func(image []byte) (uint32, error) {
		return readVarUint32(binreader.FromBytes(image))
	}

	DescribeTable("decodes",
		func(image []byte, want uint64) {
			v, err := readVarUint64(binreader.FromBytes(image), maxVarUint64Bytes)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(want))
		},
		Entry("zero", []byte{0x00}, uint64(0)),
		Entry("one byte", []byte{0x7F}, uint64(127)),
		Entry("two bytes", []byte{0x80, 0x01}, uint64(128)),
		Entry("three bytes", []byte{0xE5, 0x8E, 0x26}, uint64(624485)),
		Entry("max u64", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01},
			uint64(0xFFFFFFFFFFFFFFFF)),
	)

	It("caps a u32 at five encoded bytes", func() {
		_, err := read32([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
		Expect(IsMalformedVarInt(err)).To(BeTrue())
	})

	It("caps a u64 at ten encoded bytes", func() {
		image := make([]byte, 11)
		for i := range image {
			image[i] = 0x80
		}
		_, err := readVarUint64(binreader.FromBytes(image), maxVarUint64Bytes)
		Expect(IsMalformedVarInt(err)).To(BeTrue())
	})

	It("treats a truncated varint as a truncated stream", func() {
		_, err := read32([]byte{0x80})
		Expect(IsTruncated(err)).To(BeTrue())
	})
})

var _ = Describe("event headers", func() {
	Context("V4 uncompressed", func() {
		It("decodes the sort flag from the metadata id's top bit", func() {
			bb := newBlobBlock(false)
			bb.uncompressedEvent(EventHeader{MetadataID: 7}, false, nil)
			bb.uncompressedEvent(EventHeader{MetadataID: 7}, true, nil)

			r := binreader.FromBytes(bb.bytes())
			Expect(r.Skip(blobBlockHeaderSize)).To(Succeed())

			var h EventHeader
			Expect(readEventHeaderV4(r, &h)).To(Succeed())
			Expect(h.MetadataID).To(Equal(int32(7)))
			Expect(h.IsSorted).To(BeFalse())

			Expect(readEventHeaderV4(r, &h)).To(Succeed())
			Expect(h.MetadataID).To(Equal(int32(7)))
			Expect(h.IsSorted).To(BeTrue())
		})
	})

	Context("compression round-trip", func() {
		// The reference event every subset re-encodes.
		ref := EventHeader{
			MetadataID:             3,
			SequenceNumber:         12,
			CaptureThreadID:        900,
			CaptureProcessorNumber: 2,
			ThreadID:               901,
			StackID:                4,
			Timestamp:              5000,
			ActivityID:             [16]byte{1, 2, 3},
			RelatedActivityID:      [16]byte{4, 5, 6},
			PayloadSize:            0,
		}

		// decodeCompressed decodes one compressed blob header against prev.
		decodeCompressed := func(image []byte, prev EventHeader) EventHeader {
			var h EventHeader
			r := binreader.FromBytes(image)
			Expect(readEventHeaderV4Compressed(r, &prev, &h)).To(Succeed())
			return h
		}

		// A baseline event establishes the inherited state, as if it were
		// the previous event in the block.
		baseline := func() EventHeader {
			prev := ref
			prev.SequenceNumber-- // the re-encode adds one back
			return prev
		}

		DescribeTable("re-encoding under flag subsets preserves logical fields",
			func(flags compressedHeaderFlags) {
				f := compressedEventFields{
					TimestampDelta: 0,
				}
				if flags&flagMetadataID != 0 {
					f.MetadataID = ref.MetadataID
				}
				if flags&flagCaptureThreadAndSequence != 0 {
					f.SequenceDelta = 0 // prev.seq + 0 + 1 == ref.seq
					f.CaptureThreadID = ref.CaptureThreadID
					f.CaptureProcessorNumber = ref.CaptureProcessorNumber
				}
				if flags&flagThreadID != 0 {
					f.ThreadID = ref.ThreadID
				}
				if flags&flagStackID != 0 {
					f.StackID = ref.StackID
				}
				if flags&flagActivityID != 0 {
					f.ActivityID = ref.ActivityID
				}
				if flags&flagRelatedActivityID != 0 {
					f.RelatedActivityID = ref.RelatedActivityID
				}
				if flags&flagDataLength != 0 {
					f.PayloadSize = uint32(ref.PayloadSize)
				}

				bb := &blobBlockBuilder{}
				bb.compressedEvent(flags, f)

				// Fields not covered by a flag inherit from prev, so seed
				// prev with the reference values.
				seed := ref
				if flags&flagCaptureThreadAndSequence == 0 {
					// With the flag clear and a non-zero metadata id, the
					// sequence number self-increments.
					seed.SequenceNumber = ref.SequenceNumber - 1
				} else {
					seed.SequenceNumber = baseline().SequenceNumber
				}
				seed.IsSorted = false

				h := decodeCompressed(bb.tb.bytes(), seed)

				Expect(h.MetadataID).To(Equal(ref.MetadataID))
				Expect(h.SequenceNumber).To(Equal(ref.SequenceNumber))
				Expect(h.CaptureThreadID).To(Equal(ref.CaptureThreadID))
				Expect(h.CaptureProcessorNumber).To(Equal(ref.CaptureProcessorNumber))
				Expect(h.ThreadID).To(Equal(ref.ThreadID))
				Expect(h.StackID).To(Equal(ref.StackID))
				Expect(h.Timestamp).To(Equal(ref.Timestamp))
				Expect(h.ActivityID).To(Equal(ref.ActivityID))
				Expect(h.RelatedActivityID).To(Equal(ref.RelatedActivityID))
				Expect(h.PayloadSize).To(Equal(ref.PayloadSize))
			},
			Entry("no flags", compressedHeaderFlags(0)),
			Entry("metadata id only", flagMetadataID),
			Entry("capture thread and sequence", flagCaptureThreadAndSequence),
			Entry("thread and stack", flagThreadID|flagStackID),
			Entry("activity ids", flagActivityID|flagRelatedActivityID),
			Entry("payload size", flagDataLength),
			Entry("everything",
				flagMetadataID|flagCaptureThreadAndSequence|flagThreadID|flagStackID|
					flagActivityID|flagRelatedActivityID|flagDataLength),
		)

		It("distinguishes the sorted flag", func() {
			bb := &blobBlockBuilder{}
			bb.compressedEvent(flagIsSorted, compressedEventFields{TimestampDelta: 1})

			prev := ref
			h := decodeCompressed(bb.tb.bytes(), prev)
			Expect(h.IsSorted).To(BeTrue())
			Expect(h.Timestamp).To(Equal(ref.Timestamp + 1))
		})
	})
})
