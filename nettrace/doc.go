// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package nettrace implements a streaming decoder for the Nettrace/NetPerf
// binary trace format emitted by a managed-runtime event pipe.
//
// The decoder consumes a byte stream (a file or a socket), reconstructs the
// chronologically ordered sequence of trace events it describes, and hands
// each event to a Sink. The format is self-describing: event schemas arrive
// in-band as metadata events, and the decoder discovers them as it goes.
//
// Format versions 1 through 5+ are supported. Version 4 introduced block
// framing, per-block header compression, interned stack traces and
// out-of-order per-thread event emission; the decoder buffers and merge-sorts
// those events by sequence number before dispatch so that the Sink always
// observes events in timestamp order.
package nettrace
