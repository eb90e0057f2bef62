// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"math"

	"github.com/danjacques/gonettrace/support/logging"
)

// pendingEvent is a fully materialized event buffered by the sorter. Its
// Payload and StackBytes are owned copies, decoupled from the block buffer
// they were decoded from.
type pendingEvent struct {
	header EventHeader
}

// threadQueue buffers one capture thread's events. Within a capture thread,
// events arrive monotonically in sequence number.
type threadQueue struct {
	captureThreadID int64
	// lastSeq is the sequence number of the last event dispatched or dropped
	// for this thread.
	lastSeq int32
	// lastSeenSeq is the highest sequence number enqueued for this thread,
	// independent of dispatch progress. Gap accounting reconciles against
	// it so that buffered events are not re-charged.
	lastSeenSeq int32
	pending     []pendingEvent
}

func (tq *threadQueue) head() *pendingEvent {
	if len(tq.pending) == 0 {
		return nil
	}
	return &tq.pending[0]
}

func (tq *threadQueue) pop() pendingEvent {
	pe := tq.pending[0]
	tq.pending = tq.pending[1:]
	if len(tq.pending) == 0 {
		tq.pending = nil
	}
	return pe
}

// sequencePointThread is one row of an SPBlock's thread table.
type sequencePointThread struct {
	CaptureThreadID int64 `struc:"int64,little"`
	SequenceNumber  int32 `struc:"int32,little"`
}

// eventSorter buffers per-thread event streams and releases them in
// timestamp order.
//
// Within an EventBlock, events from a single capture thread are monotonic in
// sequence number, but threads are interleaved and reordered. A sorted event
// is a watermark: every event older than it, on any thread, is already in
// the stream, so everything at or before its timestamp may be released.
// Sequence points are hard barriers that additionally reconcile per-thread
// sequence numbers and account for lost events.
type eventSorter struct {
	logger   logging.L
	dispatch func(*pendingEvent) error

	threads map[int64]*threadQueue

	// eventsLost saturates at math.MaxInt32.
	eventsLost int32
}

func newEventSorter(logger logging.L, dispatch func(*pendingEvent) error) *eventSorter {
	return &eventSorter{
		logger:   logging.Must(logger),
		dispatch: dispatch,
		threads:  map[int64]*threadQueue{},
	}
}

func (es *eventSorter) queueFor(captureThreadID int64) *threadQueue {
	tq := es.threads[captureThreadID]
	if tq == nil {
		tq = &threadQueue{captureThreadID: captureThreadID}
		es.threads[captureThreadID] = tq
	}
	return tq
}

// addLost adds n to the lost-event counter, saturating.
func (es *eventSorter) addLost(n int64) {
	if n <= 0 {
		return
	}
	total := int64(es.eventsLost) + n
	if total > math.MaxInt32 {
		total = math.MaxInt32
	}
	es.eventsLost = int32(total)
	eventsLostCounter.Add(float64(n))
}

// enqueue buffers one decoded event. If the event is a sorted watermark,
// everything at or before its timestamp is released.
func (es *eventSorter) enqueue(pe pendingEvent) error {
	tq := es.queueFor(pe.header.CaptureThreadID)

	if pe.header.SequenceNumber != 0 && pe.header.SequenceNumber <= tq.lastSeq {
		// A duplicate or out-of-retention event; drop it.
		es.logger.Debugf("thread %d: dropping duplicate sequence %d (last %d)",
			tq.captureThreadID, pe.header.SequenceNumber, tq.lastSeq)
		return nil
	}

	// A gap between the highest sequence number seen and the observed one
	// counts toward event loss.
	if pe.header.SequenceNumber != 0 {
		gap := int64(pe.header.SequenceNumber) - int64(tq.lastSeenSeq) - 1
		es.addLost(gap)
		if pe.header.SequenceNumber > tq.lastSeenSeq {
			tq.lastSeenSeq = pe.header.SequenceNumber
		}
	}

	tq.pending = append(tq.pending, pe)

	if pe.header.IsSorted {
		return es.releaseUpTo(pe.header.Timestamp)
	}
	return nil
}

// releaseUpTo dispatches, in timestamp order, every pending event whose
// timestamp is at or before bound. Ties break by (captureThreadId,
// sequenceNumber). Per-thread order is preserved: only queue heads are
// eligible.
func (es *eventSorter) releaseUpTo(bound int64) error {
	for {
		var best *threadQueue
		for _, tq := range es.threads {
			head := tq.head()
			if head == nil || head.header.Timestamp > bound {
				continue
			}
			if best == nil || headLess(head, best.head()) {
				best = tq
			}
		}
		if best == nil {
			return nil
		}

		pe := best.pop()
		if pe.header.SequenceNumber > best.lastSeq {
			best.lastSeq = pe.header.SequenceNumber
		}
		if err := es.dispatch(&pe); err != nil {
			return err
		}
	}
}

func headLess(a, b *pendingEvent) bool {
	if a.header.Timestamp != b.header.Timestamp {
		return a.header.Timestamp < b.header.Timestamp
	}
	if a.header.CaptureThreadID != b.header.CaptureThreadID {
		return a.header.CaptureThreadID < b.header.CaptureThreadID
	}
	return a.header.SequenceNumber < b.header.SequenceNumber
}

// sequencePoint applies an SPBlock: flush everything up to and including the
// sequence point's timestamp, then reconcile each thread's sequence number
// against the declared table, counting unseen events as lost.
func (es *eventSorter) sequencePoint(timestamp int64, table []sequencePointThread) error {
	if err := es.releaseUpTo(timestamp); err != nil {
		return err
	}

	for _, row := range table {
		tq := es.queueFor(row.CaptureThreadID)

		// Everything up to lastSeenSeq was either dispatched or is still
		// pending; events the emitter claims to have written beyond that
		// never arrived.
		es.addLost(int64(row.SequenceNumber) - int64(tq.lastSeenSeq))
		if row.SequenceNumber > tq.lastSeenSeq {
			tq.lastSeenSeq = row.SequenceNumber
		}

		if row.SequenceNumber > tq.lastSeq {
			// Anything still pending at or below the declared number is a
			// duplicate from before the retention horizon.
			kept := tq.pending[:0]
			for _, pe := range tq.pending {
				if pe.header.SequenceNumber > row.SequenceNumber {
					kept = append(kept, pe)
				}
			}
			tq.pending = kept
			tq.lastSeq = row.SequenceNumber
		}
	}
	return nil
}

// flush releases every remaining pending event in timestamp order. Called
// once at end of stream.
func (es *eventSorter) flush() error {
	return es.releaseUpTo(math.MaxInt64)
}

// pendingCount reports the number of buffered events across all threads.
func (es *eventSorter) pendingCount() int {
	n := 0
	for _, tq := range es.threads {
		n += len(tq.pending)
	}
	return n
}
