// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingdir manages directories that are built in a temporary
// location and atomically committed to their final destination.
package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// D manages a staging directory.
//
// While D is active, it resides in a temporary location. Once finished, D can
// either be committed or destroyed. On commit, it is atomically moved into
// its destination; on destroy, it is deleted along with all of its contents.
type D struct {
	// tempDir is the temporary directory to use for staging.
	tempDir string

	// path is the path of the staging directory.
	path string
}

// New creates a new staging directory underneath of tempDir.
//
// The directory will be created with the specified prefix.
func New(tempDir, prefix string) (*D, error) {
	stagingPath, err := ioutil.TempDir(tempDir, prefix)
	if err != nil {
		return nil, err
	}

	return &D{
		tempDir: tempDir,
		path:    stagingPath,
	}, nil
}

// Path builds a path relative to the staging directory from the provided
// components.
func (sd *D) Path(first string, components ...string) string {
	if sd.path == "" {
		panic("staging directory is no longer active")
	}

	// Common case: one component underneath of the staging directory.
	if len(components) == 0 {
		return filepath.Join(sd.path, first)
	}

	comps := make([]string, 0, 2+len(components))
	comps = append(comps, sd.path)
	comps = append(comps, first)
	return filepath.Join(append(comps, components...)...)
}

// Destroy purges the staging directory and its contents.
func (sd *D) Destroy() error {
	if sd.path == "" {
		// There is nothing to destroy.
		return nil
	}

	if err := os.RemoveAll(sd.path); err != nil {
		return err
	}

	sd.path = "" // Destroyed.
	return nil
}

// Commit finalizes the staging directory, atomically moving it to dest.
//
// If something already exists at dest, it is moved aside into the temporary
// directory and purged after the rename lands.
func (sd *D) Commit(dest string) error {
	if sd.path == "" {
		return errors.New("invalid staging directory")
	}

	if _, st := os.Stat(dest); st == nil {
		killDir, err := ioutil.TempDir(sd.tempDir, "overwrite")
		if err != nil {
			return errors.Wrap(err, "create overwrite directory")
		}

		// Move the existing entry into the kill directory. If this fails, we
		// will still try and create the final file, just in case it works.
		killDest := filepath.Join(killDir, filepath.Base(dest))
		_ = os.Rename(dest, killDest)
		defer func() {
			_ = os.RemoveAll(killDir)
		}()
	}

	// Move the final directory into place (atomic).
	if err := os.Rename(sd.path, dest); err != nil {
		return errors.Wrapf(err, "moving temporary file into place (%q => %q)", sd.path, dest)
	}
	sd.path = "" // Path no longer exists, committed.
	return nil
}
