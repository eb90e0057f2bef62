// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsDispatchedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_events_dispatched",
		Help: "Count of decoded events delivered to the sink.",
	})

	eventsLostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_events_lost",
		Help: "Count of events declared by the emitter but never decoded.",
	})

	metadataRecordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_metadata_records",
		Help: "Count of metadata records registered.",
	})

	blocksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nettrace_blocks_processed",
		Help: "Count of processed trace blocks, by block kind.",
	},
		[]string{"kind"})

	unknownBlocksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_blocks_unknown",
		Help: "Count of blocks skipped because their kind was not recognized.",
	})

	bytesReadCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_bytes_read",
		Help: "Count of bytes pulled from the trace source.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		eventsDispatchedCounter,
		eventsLostCounter,
		metadataRecordsCounter,
		blocksCounter,
		unknownBlocksCounter,
		bytesReadCounter,
	)
}
