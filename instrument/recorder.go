// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package instrument

import (
	"fmt"
	"sync"
	"time"

	"github.com/danjacques/gonettrace/support/logging"
)

// Recorder implements the decoder's instrumentation hooks, appending records
// to a rotating compressed log.
//
// The decoder itself is single-threaded; the lock exists to coordinate with
// the rotation timer, which swaps the active sink underneath the hooks.
type Recorder struct {
	cfg    Config
	logger logging.L

	mu   sync.Mutex
	sink *logSink
	// generation is the sequence number of the active sink.
	generation int

	readStart     time.Time
	dispatchStart time.Time

	stopC chan struct{}
	wg    sync.WaitGroup
}

// NewRecorder builds a Recorder and starts its rotation timer.
func (cfg *Config) NewRecorder() (*Recorder, error) {
	r := &Recorder{
		cfg:    *cfg,
		logger: logging.Prefixed(cfg.Logger, "(instrument)"),
		stopC:  make(chan struct{}),
	}

	sink, err := r.cfg.newLogSink(0)
	if err != nil {
		return nil, err
	}
	r.sink = sink

	r.wg.Add(1)
	go r.rotateOnTimer()
	return r, nil
}

// Close stops the rotation timer and commits the active log generation.
func (r *Recorder) Close() error {
	close(r.stopC)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil {
		return nil
	}
	err := r.sink.commit()
	r.sink = nil
	return err
}

// rotateOnTimer swaps the active sink on every rollover interval.
func (r *Recorder) rotateOnTimer() {
	defer r.wg.Done()

	t := time.NewTicker(r.cfg.rolloverInterval())
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := r.rotate(); err != nil {
				r.logger.Warnf("Failed to rotate instrumentation log: %s", err)
				instrumentErrors.WithLabelValues("rotate").Inc()
			}

		case <-r.stopC:
			return
		}
	}
}

// rotate is two-phase: the replacement sink is fully built before the write
// guard is taken, so the hooks are never left without a sink.
func (r *Recorder) rotate() error {
	r.mu.Lock()
	nextGen := r.generation + 1
	r.mu.Unlock()

	next, err := r.cfg.newLogSink(nextGen)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.sink
	r.sink, r.generation = next, nextGen
	r.mu.Unlock()

	instrumentRotations.Inc()

	if err := old.commit(); err != nil {
		return err
	}

	// Retain the two most recent generations: the one just committed and the
	// new active one.
	return r.cfg.pruneGenerations(nextGen)
}

func (r *Recorder) append(kind, args string) {
	now := r.cfg.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil {
		return
	}
	if err := r.sink.append(record(kind, now, args)); err != nil {
		instrumentErrors.WithLabelValues("write").Inc()
		return
	}
	instrumentRecords.Inc()
}

// StartRead implements the decoder's read hook.
func (r *Recorder) StartRead() {
	r.readStart = r.cfg.now()
	r.append("startRead", "")
}

// StopRead implements the decoder's read hook.
func (r *Recorder) StopRead(n int) {
	elapsed := r.cfg.now().Sub(r.readStart)
	r.append("stopRead", fmt.Sprintf("bytes=%d elapsed=%s", n, elapsed))
}

// StartDispatch implements the decoder's dispatch hook.
func (r *Recorder) StartDispatch() {
	r.dispatchStart = r.cfg.now()
	r.append("startDispatch", "")
}

// StopDispatch implements the decoder's dispatch hook.
func (r *Recorder) StopDispatch() {
	elapsed := r.cfg.now().Sub(r.dispatchStart)
	r.append("stopDispatch", fmt.Sprintf("elapsed=%s", elapsed))
}
