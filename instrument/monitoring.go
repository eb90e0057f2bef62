// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	instrumentRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_instrument_records",
		Help: "Count of instrumentation records written.",
	})

	instrumentRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nettrace_instrument_rotations",
		Help: "Count of instrumentation log rotations.",
	})

	instrumentErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nettrace_instrument_errors",
		Help: "Count of instrumentation errors encountered.",
	}, []string{"type"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		instrumentRecords,
		instrumentRotations,
		instrumentErrors,
	)
}
