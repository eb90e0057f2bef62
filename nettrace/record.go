// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

// EventRecord is a fully decoded trace event, handed to the Sink.
//
// PayloadBytes and StackBytes are owned by the record and remain valid after
// the Sink returns.
type EventRecord struct {
	ProviderID   GUID
	ProviderName string

	EventID   uint16
	EventName string
	Version   uint8
	Level     uint8
	Keywords  uint64
	Opcode    uint8

	ThreadID        int64
	ProcessID       int32
	ProcessorNumber int32

	// Timestamp is in QPC ticks; convert with TraceParameters.TimestampTime.
	Timestamp         int64
	ActivityID        [16]byte
	RelatedActivityID [16]byte

	PayloadBytes []byte
	StackBytes   []byte

	// Descriptor is the schema this event was decoded against.
	Descriptor *EventDescriptor
}

// Sink receives decoded events in chronological order.
//
// A Sink error aborts the decode pass and is surfaced to the caller.
type Sink interface {
	HandleEvent(rec *EventRecord) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec *EventRecord) error

// HandleEvent implements Sink.
func (f SinkFunc) HandleEvent(rec *EventRecord) error { return f(rec) }

// Hooks receives instrumentation callbacks around the decoder's hot points:
// stream pulls and event dispatch. Implementations must be cheap; they run
// inline with decoding.
type Hooks interface {
	StartRead()
	StopRead(n int)
	StartDispatch()
	StopDispatch()
}

// nopHooks is used when no instrumentation is configured.
type nopHooks struct{}

func (nopHooks) StartRead()     {}
func (nopHooks) StopRead(n int) {}
func (nopHooks) StartDispatch() {}
func (nopHooks) StopDispatch()  {}

// mustHooks ensures a valid Hooks is available.
func mustHooks(h Hooks) Hooks {
	if h != nil {
		return h
	}
	return nopHooks{}
}
