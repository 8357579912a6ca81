package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicStep names a point inside WriteFileAtomic where a fault hook runs.
type AtomicStep string

const (
	StepWrite  AtomicStep = "write"
	StepSync   AtomicStep = "sync"
	StepRename AtomicStep = "rename"
	// StepCommitted runs after the rename is durable; an error here reports a
	// failure even though the new content is already in place.
	StepCommitted AtomicStep = "committed"
)

// FaultHook runs before each AtomicStep. A non-nil return aborts the write as
// if the process had died at that point, leaving the destination untouched.
type FaultHook func(step AtomicStep) error

// WriteFileAtomic replaces path with data via a temp file in the same
// directory, fsync and rename, then fsyncs the directory. Readers observe
// either the previous content or the new content, never a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, hook FaultHook) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	run := func(step AtomicStep) error {
		if hook == nil {
			return nil
		}
		return hook(step)
	}

	if err := run(StepWrite); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := run(StepSync); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := run(StepRename); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	committed = true
	if err := SyncDir(dir); err != nil {
		return err
	}
	return run(StepCommitted)
}
