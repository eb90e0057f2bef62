// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Command tracedump decodes a Nettrace/NetPerf trace from a file or a socket
// and prints its events.
//
// Usage:
//
//	tracedump /path/to/trace.nettrace
//	tracedump tcp://127.0.0.1:9000
//	tracedump unix:///tmp/diag.sock
//
// Setting TRACE_EVENT_ENABLE_INSTRUMENTATION enables decoder instrumentation
// (see the instrument package).
package main

import (
	"flag"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/danjacques/gonettrace/instrument"
	"github.com/danjacques/gonettrace/nettrace"
	"github.com/danjacques/gonettrace/support/fmtutil"
)

var (
	quiet = flag.Bool("quiet", false,
		"Do not print individual events, only the trailing summary.")
	preview = flag.Int("preview", 16,
		"Maximum number of payload bytes to print per event.")
	dump = flag.Bool("dump", false,
		"Hex-dump each event's full payload.")
	instrumentDir = flag.String("instrument-dir", ".",
		"Directory to write instrumentation logs into, when enabled.")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("Usage: %s [flags] <path | tcp://host:port | unix://path>", os.Args[0])
	}

	src, err := openInput(flag.Arg(0))
	if err != nil {
		log.Fatalf("Couldn't open trace input: %s", err)
	}
	defer src.Close()

	opts := nettrace.DecoderOptions{
		Sink: nettrace.SinkFunc(printEvent),
	}

	// Instrumentation is opt-in via the environment.
	if cfg := instrument.ConfigFromEnv(*instrumentDir, nil); cfg != nil {
		rec, err := cfg.NewRecorder()
		if err != nil {
			log.Fatalf("Couldn't start instrumentation: %s", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Couldn't finalize instrumentation log: %s", err)
			}
		}()
		opts.Hooks = rec
	}

	d := opts.NewDecoder(src)
	if err := d.Decode(); err != nil {
		log.Fatalf("Decode failed: %s", err)
	}

	params := d.Params()
	summary := d.Summary()
	log.Printf("Trace format V%d, process %d, %d logical processors.",
		params.FileFormatVersion, params.ProcessID, params.ProcessorCount)
	log.Printf("Dispatched %d events (%d lost), %d metadata records.",
		summary.EventsDispatched, summary.EventsLost, summary.MetadataRecords)
	for kind, count := range summary.Blocks {
		log.Printf("  %-14s %d", kind, count)
	}
}

func printEvent(rec *nettrace.EventRecord) error {
	if *quiet {
		return nil
	}

	name := rec.EventName
	if name == "" {
		name = "(unnamed)"
	}
	log.Printf("%d %s/%s id=%d ver=%d op=%d thread=%d payload=%s",
		rec.Timestamp, rec.ProviderName, name, rec.EventID, rec.Version,
		rec.Opcode, rec.ThreadID,
		fmtutil.HexPreview(rec.PayloadBytes, *preview))
	if *dump && len(rec.PayloadBytes) > 0 {
		log.Printf("\n%s", fmtutil.Hex(rec.PayloadBytes))
	}
	return nil
}

// openInput opens the trace source. A scheme-prefixed argument dials a
// socket; anything else is a file path.
func openInput(arg string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(arg, "tcp://"):
		return net.Dial("tcp", strings.TrimPrefix(arg, "tcp://"))
	case strings.HasPrefix(arg, "unix://"):
		return net.Dial("unix", strings.TrimPrefix(arg, "unix://"))
	default:
		return os.Open(arg)
	}
}
