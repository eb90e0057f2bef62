// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
	"github.com/danjacques/gonettrace/support/bufferpool"
	"github.com/danjacques/gonettrace/support/logging"
)

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// Sink receives decoded events. It must not be nil.
	Sink Sink

	// Logger is the logger to use. If nil, logging.Nop is used.
	Logger logging.L

	// Hooks, if not nil, receives instrumentation callbacks around stream
	// pulls and event dispatch.
	Hooks Hooks
}

// Summary reports what a decode pass observed.
type Summary struct {
	// EventsDispatched is the number of events delivered to the Sink.
	EventsDispatched int64
	// EventsLost counts events the emitter declared but the decoder never
	// saw, plus events dropped for referencing unknown metadata. Saturates
	// at the 32-bit maximum.
	EventsLost int32
	// MetadataRecords is the number of metadata events registered.
	MetadataRecords int64
	// Blocks counts processed blocks by kind.
	Blocks map[string]int64
}

// Decoder decodes a single Nettrace/NetPerf byte stream.
//
// A Decoder is single-use: create one per trace and drive it to completion
// with Decode. The Decoder is single-threaded; it does not spawn goroutines
// and is not safe for concurrent use.
type Decoder struct {
	opts  DecoderOptions
	hooks Hooks

	logger logging.L
	reader *binreader.R

	params   TraceParameters
	registry *metadataRegistry
	stacks   *stackCache
	sorter   *eventSorter

	blockBuffers bufferpool.Pool

	summary Summary
}

// NewDecoder creates a Decoder that reads a trace from src.
//
// When src is a socket (or any other non-seekable source), the reader's
// repositioning is constrained to its buffered window; the decoder only ever
// moves forward, so this is transparent.
func (o *DecoderOptions) NewDecoder(src io.Reader) *Decoder {
	d := &Decoder{
		opts:   *o,
		hooks:  mustHooks(o.Hooks),
		logger: logging.Must(o.Logger),
	}

	// Record {startRead, stopRead} around each pull from the source.
	d.reader = binreader.New(&instrumentedReader{src: src, hooks: d.hooks})

	d.registry = newMetadataRegistry(d.logger)
	d.stacks = newStackCache()
	d.sorter = newEventSorter(d.logger, d.dispatch)
	d.blockBuffers.MinAlloc = 64 * 1024
	d.summary.Blocks = map[string]int64{}
	return d
}

// Params returns the trace-wide parameters. Valid once Decode has consumed
// the trace preamble; zero before that.
func (d *Decoder) Params() TraceParameters { return d.params }

// Summary returns counters describing the decode pass so far.
func (d *Decoder) Summary() Summary {
	s := d.summary
	s.EventsLost = d.sorter.eventsLost
	blocks := make(map[string]int64, len(s.Blocks))
	for k, v := range s.Blocks {
		blocks[k] = v
	}
	s.Blocks = blocks
	return s
}

// Decode drives the stream to completion, dispatching every event to the
// Sink in timestamp order.
//
// On any unrecoverable parse failure the pass is aborted and a single error
// is surfaced; recoverable corruption (unknown metadata ids, unsupported
// type codes, unknown block kinds) is logged and skipped.
func (d *Decoder) Decode() error {
	if d.opts.Sink == nil {
		return errors.New("a Sink is required")
	}

	if err := d.decodeHeader(); err != nil {
		return err
	}

	var err error
	if d.params.FileFormatVersion >= 4 {
		err = d.decodeBlockStream()
	} else {
		err = d.decodeFlatStream()
	}
	if err != nil {
		return err
	}

	// End of stream: release everything still buffered.
	if err := d.sorter.flush(); err != nil {
		return err
	}
	d.stacks.flush()
	return nil
}

// decodeHeader consumes the optional Nettrace magic, the serialization
// preamble, and the Trace entry object.
func (d *Decoder) decodeHeader() error {
	isNetTrace := false
	if magic, err := d.reader.Peek(len(netTraceMagic)); err == nil && bytes.Equal(magic, netTraceMagic) {
		if err := d.reader.Skip(len(netTraceMagic)); err != nil {
			return normalize(err)
		}
		isNetTrace = true
	}

	if err := readStreamHeader(d.reader); err != nil {
		return err
	}

	// The entry object opens with its own BeginPrivateObject; its type
	// record follows.
	if err := expectTag(d.reader, tagBeginPrivateObject); err != nil {
		return err
	}
	st, err := readSerializationType(d.reader)
	if err != nil {
		return err
	}
	if st.Name != blockKindTrace {
		return errors.Wrapf(ErrInvalidFormat, "entry object is %q, not %q", st.Name, blockKindTrace)
	}

	d.params.FileFormatVersion = st.Version
	if (d.params.FileFormatVersion >= 4) != isNetTrace {
		return errors.Wrapf(ErrInvalidFormat,
			"file format version %d does not agree with magic prefix (present=%v)",
			d.params.FileFormatVersion, isNetTrace)
	}

	if err := parseTraceEntry(d.reader, &d.params); err != nil {
		return err
	}
	d.summary.Blocks[blockKindTrace]++
	blocksCounter.WithLabelValues(blockKindTrace).Inc()
	return nil
}

// decodeBlockStream runs the V4+ loop: named block objects until a
// null-object marker.
func (d *Decoder) decodeBlockStream() error {
	// The Trace entry object's payload ends here.
	if err := expectTag(d.reader, tagEndObject); err != nil {
		return err
	}

	for {
		t, err := readTag(d.reader)
		if err != nil {
			return err
		}
		switch t {
		case tagNullReference:
			// End of the object stream.
			return nil

		case tagBeginPrivateObject:
		default:
			return errors.Wrapf(ErrInvalidFormat, "unexpected tag %d between blocks", t)
		}

		// Already consumed BeginPrivateObject; the type record follows.
		st, err := readSerializationType(d.reader)
		if err != nil {
			return err
		}

		if err := d.processBlockObject(st.Name); err != nil {
			return err
		}

		if err := expectTag(d.reader, tagEndObject); err != nil {
			return err
		}
	}
}

// processBlockObject reads one block's size-prefixed contents and dispatches
// on its kind.
func (d *Decoder) processBlockObject(kind string) error {
	size, err := d.reader.Int32()
	if err != nil {
		return normalize(err)
	}
	if size < 0 || size >= 1<<30 {
		return errors.Wrapf(ErrInvalidFormat, "block size %d", size)
	}

	// Block contents begin at the next 4-byte stream boundary.
	if err := d.reader.AlignTo(4); err != nil {
		return normalize(err)
	}

	buf := d.blockBuffers.Get(int(size))
	defer buf.Release()

	blockStart := d.reader.Pos()
	contents, err := d.reader.Next(int(size))
	if err != nil {
		return normalize(err)
	}
	copy(buf.Bytes(), contents)

	switch kind {
	case blockKindEvent, blockKindMetadata:
		err = d.processBlobBlock(buf.Bytes())
	case blockKindStack:
		err = d.processStackBlock(buf.Bytes())
	case blockKindSequencePoint:
		err = d.processSequencePointBlock(buf.Bytes())
	default:
		// Unknown block kinds are skipped using their declared size.
		d.logger.Warnf("%s: %q (%d bytes)", ErrUnknownBlockKind, kind, size)
		unknownBlocksCounter.Inc()
	}
	if err != nil {
		return err
	}

	d.summary.Blocks[kind]++
	blocksCounter.WithLabelValues(kind).Inc()

	// Defensive against under-read: force the cursor to the block end.
	end := blockStart.Add(int(size))
	if skip := end.Sub(d.reader.Pos()); skip > 0 {
		if err := d.reader.Skip(skip); err != nil {
			return normalize(err)
		}
	}
	return nil
}

// decodeFlatStream runs the V1–V3 loop: events are concatenated directly
// inside the Trace object payload, with no block wrappers.
func (d *Decoder) decodeFlatStream() error {
	if d.params.FileFormatVersion <= 2 {
		// V1/V2 carry a forward reference nominally marking the end of the
		// event stream. On a forward-only source it cannot be chased; the
		// loop below terminates on the object frame instead.
		if t, err := d.peekTag(); err == nil && t == tagForwardReference {
			if err := d.reader.Skip(1); err != nil {
				return normalize(err)
			}
			if _, err := d.reader.Int32(); err != nil {
				return normalize(err)
			}
		}
	}

	for {
		t, err := d.peekTag()
		if err != nil {
			return err
		}
		if t == tagEndObject {
			break
		}
		if err := d.processFlatEvent(); err != nil {
			return err
		}
	}

	// Trace object end, then the null-object stream terminator.
	if err := expectTag(d.reader, tagEndObject); err != nil {
		return err
	}
	if t, err := d.peekTag(); err == nil && t == tagNullReference {
		_ = d.reader.Skip(1)
	}
	return nil
}

func (d *Decoder) peekTag() (tag, error) {
	b, err := d.reader.Peek(1)
	if err != nil {
		return 0, normalize(err)
	}
	return tag(b[0]), nil
}

// processFlatEvent decodes one fixed-layout event, including its inline
// stack, and dispatches it immediately. The flat formats predate the
// sorter; stream order is dispatch order.
func (d *Decoder) processFlatEvent() error {
	start := d.reader.Pos()

	var h EventHeader
	if err := readEventHeaderV3(d.reader, &h); err != nil {
		return err
	}

	payload, err := d.reader.Next(int(h.PayloadSize))
	if err != nil {
		return normalize(err)
	}
	h.Payload = payload

	// Payloads are 4-byte aligned within the event record.
	if pad := (4 - int(h.PayloadSize)%4) % 4; pad > 0 {
		if err := d.reader.Skip(pad); err != nil {
			return normalize(err)
		}
	}

	if h.StackBytesSize, err = d.reader.Int32(); err != nil {
		return normalize(err)
	}
	if h.StackBytesSize < 0 || h.StackBytesSize > maxStackBytes {
		return errors.Wrapf(ErrInvalidFormat, "stack size %d", h.StackBytesSize)
	}
	if h.StackBytesSize > 0 {
		if h.StackBytes, err = d.reader.Next(int(h.StackBytesSize)); err != nil {
			return normalize(err)
		}
		if pad := (4 - int(h.StackBytesSize)%4) % 4; pad > 0 {
			if err := d.reader.Skip(pad); err != nil {
				return normalize(err)
			}
		}
	}

	if h.MetadataID == 0 {
		if err := d.registerMetadata(h.Payload); err != nil {
			return err
		}
	} else {
		pe := pendingEvent{header: h}
		pe.header.Payload = append([]byte(nil), h.Payload...)
		if h.StackBytes != nil {
			pe.header.StackBytes = append([]byte(nil), h.StackBytes...)
		}
		if err := d.dispatch(&pe); err != nil {
			return err
		}
	}

	// Defensive against under-read: the event declared its own size.
	end := start.Add(int(h.EventSize) + 4)
	if skip := end.Sub(d.reader.Pos()); skip > 0 {
		if err := d.reader.Skip(skip); err != nil {
			return normalize(err)
		}
	}
	return nil
}

// dispatch materializes an EventRecord and delivers it to the Sink. Events
// that reference an unregistered metadata id are dropped silently and
// counted as lost.
func (d *Decoder) dispatch(pe *pendingEvent) error {
	desc := d.registry.lookup(pe.header.MetadataID)
	if desc == nil {
		d.logger.Debugf("dropping event with unknown metadata id %d", pe.header.MetadataID)
		d.sorter.addLost(1)
		return nil
	}

	rec := EventRecord{
		ProviderID:   desc.ProviderID,
		ProviderName: desc.ProviderName,

		EventID:   desc.EventID,
		EventName: desc.EventName,
		Version:   desc.EventVersion,
		Level:     desc.Level,
		Keywords:  desc.Keywords,
		Opcode:    desc.Opcode,

		ThreadID:        pe.header.ThreadID,
		ProcessID:       d.params.ProcessID,
		ProcessorNumber: pe.header.CaptureProcessorNumber,

		Timestamp:         pe.header.Timestamp,
		ActivityID:        pe.header.ActivityID,
		RelatedActivityID: pe.header.RelatedActivityID,

		PayloadBytes: pe.header.Payload,
		StackBytes:   pe.header.StackBytes,

		Descriptor: desc,
	}

	d.hooks.StartDispatch()
	err := d.opts.Sink.HandleEvent(&rec)
	d.hooks.StopDispatch()
	if err != nil {
		return errors.Wrap(err, "sink rejected event")
	}

	d.summary.EventsDispatched++
	eventsDispatchedCounter.Inc()
	return nil
}

// instrumentedReader wraps the byte source so that every pull is bracketed
// by instrumentation callbacks.
type instrumentedReader struct {
	src   io.Reader
	hooks Hooks
}

func (ir *instrumentedReader) Read(b []byte) (int, error) {
	ir.hooks.StartRead()
	n, err := ir.src.Read(b)
	ir.hooks.StopRead(n)
	if n > 0 {
		bytesReadCounter.Add(float64(n))
	}
	return n, err
}
