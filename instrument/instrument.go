// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package instrument records decoder instrumentation to a rotating,
// compressed text log.
//
// Instrumentation is opt-in via the TRACE_EVENT_ENABLE_INSTRUMENTATION
// environment variable and entirely outside of the decoder's hot path
// contract: the decoder only calls the cheap Hooks methods, and the rotation
// machinery runs on its own timer.
package instrument

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/danjacques/gonettrace/support/logging"
)

// EnableEnvVar names the environment variable that enables decoder
// instrumentation.
//
// A positive integer value enables instrumentation with that value as the
// log rollover interval in minutes. A zero or negative integer disables
// instrumentation. Any other non-empty value (one that is not an integer)
// enables instrumentation with the legacy default interval. Unset or empty
// disables instrumentation.
const EnableEnvVar = "TRACE_EVENT_ENABLE_INSTRUMENTATION"

// DefaultRolloverInterval is the legacy rollover interval, used when the
// environment enables instrumentation without a usable interval.
const DefaultRolloverInterval = 30 * time.Minute

// Config configures an instrumentation Recorder.
type Config struct {
	// Dir is the directory that finished log generations are committed to.
	Dir string

	// TempDir is the temporary directory used to stage the active log
	// generation. If empty, Dir is used.
	TempDir string

	// RolloverInterval is how often the active log is rotated. If zero,
	// DefaultRolloverInterval is used.
	RolloverInterval time.Duration

	// Logger is the logger to use. If nil, logging.Nop is used.
	Logger logging.L

	// NowFunc, if not nil, is the function to use to get the current time.
	// If nil, time.Now will be used.
	NowFunc func() time.Time
}

func (cfg *Config) now() time.Time {
	if cfg.NowFunc != nil {
		return cfg.NowFunc()
	}
	return time.Now()
}

func (cfg *Config) rolloverInterval() time.Duration {
	if cfg.RolloverInterval > 0 {
		return cfg.RolloverInterval
	}
	return DefaultRolloverInterval
}

// ConfigFromEnv builds a Config from the process environment.
//
// It returns nil when instrumentation is disabled.
func ConfigFromEnv(dir string, logger logging.L) *Config {
	raw, ok := os.LookupEnv(EnableEnvVar)
	if !ok || raw == "" {
		return nil
	}

	interval := DefaultRolloverInterval
	if v, err := strconv.Atoi(raw); err == nil {
		if v <= 0 {
			return nil
		}
		interval = time.Duration(v) * time.Minute
	} else {
		logging.Must(logger).Warnf(
			"%s=%q is not a positive integer; using default rollover of %s",
			EnableEnvVar, raw, interval)
	}

	return &Config{
		Dir:              dir,
		RolloverInterval: interval,
		Logger:           logger,
	}
}

// record formats one instrumentation line.
func record(kind string, at time.Time, args string) string {
	if args == "" {
		return fmt.Sprintf("%s %s\n", at.UTC().Format(time.RFC3339Nano), kind)
	}
	return fmt.Sprintf("%s %s %s\n", at.UTC().Format(time.RFC3339Nano), kind, args)
}
