// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"time"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// TraceParameters carries the trace-wide parameters read from the entry
// object.
type TraceParameters struct {
	// SyncTimeUTC is the wall-clock anchor for the trace's monotonic
	// timestamps.
	SyncTimeUTC time.Time
	// SyncTimeQPC is the monotonic counter value at the anchor.
	SyncTimeQPC int64
	// QPCFrequency is the number of monotonic counter ticks per second.
	QPCFrequency int64

	// PointerSize is the pointer width, in bytes, of the trace source
	// process. It is 4 or 8.
	PointerSize int32
	// ProcessID is the process id of the trace source.
	ProcessID int32
	// ProcessorCount is the logical processor count of the trace source
	// machine.
	ProcessorCount int32
	// ExpectedCPUSamplingRate is the sampling interval the source's profiler
	// was configured with.
	ExpectedCPUSamplingRate int32

	// FileFormatVersion governs all per-event parsing choices.
	FileFormatVersion int32
}

// TimestampTime converts a QPC timestamp into wall-clock time using the
// trace's sync anchor.
func (p *TraceParameters) TimestampTime(qpc int64) time.Time {
	ticks := qpc - p.SyncTimeQPC
	if p.QPCFrequency <= 0 {
		return p.SyncTimeUTC
	}
	sec := ticks / p.QPCFrequency
	rem := ticks % p.QPCFrequency
	nsec := rem * int64(time.Second) / p.QPCFrequency
	return p.SyncTimeUTC.Add(time.Duration(sec)*time.Second + time.Duration(nsec))
}

// syncTimeFields is the fixed-layout date prefix of the Trace entry object.
// DayOfWeek is carried on the wire but ignored when the anchor is rebuilt.
type syncTimeFields struct {
	Year        int16 `struc:"int16,little"`
	Month       int16 `struc:"int16,little"`
	DayOfWeek   int16 `struc:"int16,little"`
	Day         int16 `struc:"int16,little"`
	Hour        int16 `struc:"int16,little"`
	Minute      int16 `struc:"int16,little"`
	Second      int16 `struc:"int16,little"`
	Millisecond int16 `struc:"int16,little"`
}

// parseTraceEntry populates p from the Trace entry object's payload. The
// object's SerializationType version, already stored as FileFormatVersion,
// decides which trailing fields are present.
func parseTraceEntry(r *binreader.R, p *TraceParameters) error {
	var st syncTimeFields
	if err := struc.Unpack(r, &st); err != nil {
		return normalize(err)
	}

	p.SyncTimeUTC = time.Date(
		int(st.Year), time.Month(st.Month), int(st.Day),
		int(st.Hour), int(st.Minute), int(st.Second),
		int(st.Millisecond)*int(time.Millisecond), time.UTC)

	var err error
	if p.SyncTimeQPC, err = r.Int64(); err != nil {
		return normalize(err)
	}
	if p.QPCFrequency, err = r.Int64(); err != nil {
		return normalize(err)
	}

	if p.FileFormatVersion <= 2 {
		// Early traces did not carry process parameters.
		p.ProcessID = 0
		p.PointerSize = 8
		p.ProcessorCount = 1
		return nil
	}

	if p.PointerSize, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if p.ProcessID, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if p.ProcessorCount, err = r.Int32(); err != nil {
		return normalize(err)
	}
	if p.ExpectedCPUSamplingRate, err = r.Int32(); err != nil {
		return normalize(err)
	}

	if p.PointerSize != 4 && p.PointerSize != 8 {
		return errors.Wrapf(ErrInvalidFormat, "pointer size %d", p.PointerSize)
	}
	return nil
}
