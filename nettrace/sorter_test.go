// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"math"

	"github.com/danjacques/gonettrace/support/logging"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("event sorter", func() {
	var (
		sorter     *eventSorter
		dispatched []EventHeader
	)

	BeforeEach(func() {
		dispatched = nil
		sorter = newEventSorter(logging.Nop, func(pe *pendingEvent) error {
			dispatched = append(dispatched, pe.header)
			return nil
		})
	})

	event := func(thread int64, seq int32, ts int64, sorted bool) pendingEvent {
		return pendingEvent{header: EventHeader{
			MetadataID:      1,
			CaptureThreadID: thread,
			ThreadID:        thread,
			SequenceNumber:  seq,
			Timestamp:       ts,
			IsSorted:        sorted,
		}}
	}

	timestamps := func() []int64 {
		out := make([]int64, len(dispatched))
		for i, h := range dispatched {
			out[i] = h.Timestamp
		}
		return out
	}

	It("buffers unsorted events until flush", func() {
		Expect(sorter.enqueue(event(1, 1, 30, false))).To(Succeed())
		Expect(sorter.enqueue(event(2, 1, 10, false))).To(Succeed())
		Expect(sorter.enqueue(event(1, 2, 20, false))).To(Succeed())
		Expect(dispatched).To(BeEmpty())
		Expect(sorter.pendingCount()).To(Equal(3))

		Expect(sorter.flush()).To(Succeed())
		Expect(timestamps()).To(Equal([]int64{10, 20, 30}))
		Expect(sorter.pendingCount()).To(Equal(0))
	})

	It("releases through a sorted watermark", func() {
		Expect(sorter.enqueue(event(1, 1, 10, false))).To(Succeed())
		Expect(sorter.enqueue(event(1, 2, 20, false))).To(Succeed())
		Expect(sorter.enqueue(event(2, 1, 15, true))).To(Succeed())

		// Everything at or before ts=15 is released, including the watermark
		// itself.
		Expect(timestamps()).To(Equal([]int64{10, 15}))

		Expect(sorter.flush()).To(Succeed())
		Expect(timestamps()).To(Equal([]int64{10, 15, 20}))
	})

	It("breaks timestamp ties by thread then sequence", func() {
		Expect(sorter.enqueue(event(9, 1, 10, false))).To(Succeed())
		Expect(sorter.enqueue(event(3, 5, 10, false))).To(Succeed())
		Expect(sorter.flush()).To(Succeed())

		Expect(dispatched).To(HaveLen(2))
		Expect(dispatched[0].CaptureThreadID).To(Equal(int64(3)))
		Expect(dispatched[1].CaptureThreadID).To(Equal(int64(9)))
	})

	It("preserves per-thread order even when timestamps invert", func() {
		Expect(sorter.enqueue(event(1, 1, 50, false))).To(Succeed())
		Expect(sorter.enqueue(event(1, 2, 40, false))).To(Succeed())
		Expect(sorter.flush()).To(Succeed())

		// Sequence order wins within a thread.
		Expect(timestamps()).To(Equal([]int64{50, 40}))
	})

	It("drops duplicate sequence numbers", func() {
		Expect(sorter.enqueue(event(1, 1, 10, true))).To(Succeed())
		Expect(dispatched).To(HaveLen(1))

		Expect(sorter.enqueue(event(1, 1, 10, true))).To(Succeed())
		Expect(dispatched).To(HaveLen(1))
		Expect(sorter.eventsLost).To(Equal(int32(0)))
	})

	It("counts sequence gaps as lost events", func() {
		Expect(sorter.enqueue(event(1, 1, 10, false))).To(Succeed())
		Expect(sorter.enqueue(event(1, 5, 20, false))).To(Succeed())
		Expect(sorter.eventsLost).To(Equal(int32(3)))
	})

	Context("sequence points", func() {
		It("flushes everything through the barrier", func() {
			Expect(sorter.enqueue(event(1, 1, 10, false))).To(Succeed())
			Expect(sorter.enqueue(event(2, 1, 20, false))).To(Succeed())
			Expect(sorter.enqueue(event(1, 2, 200, false))).To(Succeed())

			Expect(sorter.sequencePoint(100, []sequencePointThread{
				{CaptureThreadID: 1, SequenceNumber: 1},
				{CaptureThreadID: 2, SequenceNumber: 1},
			})).To(Succeed())

			Expect(timestamps()).To(Equal([]int64{10, 20}))
			Expect(sorter.pendingCount()).To(Equal(1))
			Expect(sorter.eventsLost).To(Equal(int32(0)))
		})

		It("accounts for events the emitter declared but never delivered", func() {
			Expect(sorter.enqueue(event(1, 1, 10, true))).To(Succeed())
			Expect(sorter.enqueue(event(1, 2, 20, true))).To(Succeed())
			Expect(sorter.enqueue(event(1, 3, 30, true))).To(Succeed())

			Expect(sorter.sequencePoint(50, []sequencePointThread{
				{CaptureThreadID: 1, SequenceNumber: 10},
			})).To(Succeed())
			Expect(sorter.eventsLost).To(Equal(int32(7)))

			// Subsequent events resume from the declared number.
			Expect(sorter.enqueue(event(1, 11, 60, true))).To(Succeed())
			Expect(dispatched).To(HaveLen(4))
			Expect(sorter.eventsLost).To(Equal(int32(7)))
		})

		It("drops still-pending events at or below the declared number", func() {
			Expect(sorter.enqueue(event(1, 1, 500, false))).To(Succeed())
			Expect(sorter.enqueue(event(1, 2, 600, false))).To(Succeed())

			// The barrier's timestamp precedes the pending events, so they
			// survive the flush, but the table says the emitter already
			// accounted for sequence 1.
			Expect(sorter.sequencePoint(100, []sequencePointThread{
				{CaptureThreadID: 1, SequenceNumber: 1},
			})).To(Succeed())

			Expect(dispatched).To(BeEmpty())
			Expect(sorter.pendingCount()).To(Equal(1))

			Expect(sorter.flush()).To(Succeed())
			Expect(timestamps()).To(Equal([]int64{600}))
		})
	})

	It("saturates the lost-event counter", func() {
		sorter.eventsLost = math.MaxInt32 - 1
		sorter.addLost(100)
		Expect(sorter.eventsLost).To(Equal(int32(math.MaxInt32)))
	})
})
