// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package instrument

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/stagingdir"
)

const (
	// logFileName is the compressed log file within a generation directory.
	logFileName = "instrumentation.log.sz"

	// generationPrefix prefixes committed generation directories.
	generationPrefix = "instr-"

	// retainedGenerations is how many generations are kept, counting the
	// active (not yet committed) one.
	retainedGenerations = 2
)

// logSink is one log generation: a snappy-compressed text file staged in a
// temporary directory and atomically committed on rotation.
type logSink struct {
	staging *stagingdir.D
	fd      *os.File
	w       *snappy.Writer

	dest string
}

// newLogSink stages a new generation's log file.
func (cfg *Config) newLogSink(generation int) (*logSink, error) {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = cfg.Dir
	}

	staging, err := stagingdir.New(tempDir, generationPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "creating staging directory")
	}
	defer func() {
		// Cleanup if we failed to complete our creation.
		if staging != nil {
			_ = staging.Destroy()
		}
	}()

	fd, err := os.Create(staging.Path(logFileName))
	if err != nil {
		return nil, errors.Wrap(err, "creating log file")
	}

	ls := logSink{
		staging: staging,
		fd:      fd,
		w:       snappy.NewBufferedWriter(fd),
		dest:    filepath.Join(cfg.Dir, fmt.Sprintf("%s%d", generationPrefix, generation)),
	}

	staging = nil // Don't destroy, owned by ls.
	return &ls, nil
}

func (ls *logSink) append(line string) error {
	_, err := ls.w.Write([]byte(line))
	return err
}

// commit finalizes the generation, flushing the compressor and atomically
// moving the staged directory into place.
func (ls *logSink) commit() error {
	if err := ls.w.Close(); err != nil {
		return errors.Wrap(err, "closing compressor")
	}
	if err := ls.fd.Close(); err != nil {
		return errors.Wrap(err, "closing log file")
	}
	if err := ls.staging.Commit(ls.dest); err != nil {
		return errors.Wrap(err, "committing log generation")
	}
	return nil
}

// pruneGenerations removes committed generations older than the retention
// window ending at latest.
func (cfg *Config) pruneGenerations(latest int) error {
	oldest := latest - retainedGenerations
	for gen := oldest; gen >= 0; gen-- {
		path := filepath.Join(cfg.Dir, fmt.Sprintf("%s%d", generationPrefix, gen))
		if _, err := os.Stat(path); err != nil {
			// Already gone; everything older was pruned with it.
			break
		}
		if err := os.RemoveAll(path); err != nil {
			return errors.Wrapf(err, "pruning generation %d", gen)
		}
	}
	return nil
}
