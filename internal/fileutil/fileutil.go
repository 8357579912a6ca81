package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// StagedMode is the permission applied to staged copies: read-only, but
// readable by the unprivileged identity the detector runs as.
const StagedMode os.FileMode = 0o444

var (
	// ErrChangedDuringCopy reports that the source size moved while it was being copied.
	ErrChangedDuringCopy = errors.New("source changed during copy")
	// ErrTooLarge reports a staged stream that exceeded its byte limit.
	ErrTooLarge = errors.New("staged stream exceeds size limit")
)

// HashFile returns the lowercase hex SHA-256 digest and size of path.
func HashFile(path string) (string, int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, in)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// StageCopy streams src into stagingDir while hashing it and publishes the copy
// as <stagingDir>/<sha256> with read-only permissions. The digest of the bytes
// actually copied is the identity, so a file modified mid-copy can never be
// staged under a stale hash. An existing staged copy with the same digest is
// left untouched.
func StageCopy(src, stagingDir string) (id string, size int64, err error) {
	before, err := os.Stat(src)
	if err != nil {
		return "", 0, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	tmp, err := newStagedTemp(stagingDir)
	if err != nil {
		return "", 0, err
	}
	defer tmp.discard()

	written, err := io.Copy(tmp, in)
	if err != nil {
		return "", 0, fmt.Errorf("copy to staging: %w", err)
	}

	after, err := os.Stat(src)
	if err != nil {
		return "", 0, fmt.Errorf("stat source: %w", err)
	}
	if written != before.Size() || after.Size() != written || !after.ModTime().Equal(before.ModTime()) {
		return "", 0, fmt.Errorf("%w: %d bytes before, %d copied, %d after", ErrChangedDuringCopy, before.Size(), written, after.Size())
	}

	id, _, err = tmp.publish(stagingDir)
	if err != nil {
		return "", 0, err
	}
	return id, written, nil
}

// StageStream stages at most limit bytes read from r the same way StageCopy
// stages a file. Streams longer than limit fail with ErrTooLarge and leave
// nothing behind. created is false when a copy with the same digest was
// already staged.
func StageStream(r io.Reader, stagingDir string, limit int64) (id string, size int64, created bool, err error) {
	tmp, err := newStagedTemp(stagingDir)
	if err != nil {
		return "", 0, false, err
	}
	defer tmp.discard()

	written, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		return "", 0, false, fmt.Errorf("copy to staging: %w", err)
	}
	if written > limit {
		return "", 0, false, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	id, created, err = tmp.publish(stagingDir)
	if err != nil {
		return "", 0, false, err
	}
	return id, written, created, nil
}

// stagedTemp is a dot-prefixed temp file in the staging directory that hashes
// everything written to it.
type stagedTemp struct {
	file      *os.File
	hasher    hash.Hash
	published bool
}

func newStagedTemp(stagingDir string) (*stagedTemp, error) {
	file, err := os.CreateTemp(stagingDir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging temp: %w", err)
	}
	return &stagedTemp{file: file, hasher: sha256.New()}, nil
}

func (t *stagedTemp) Write(p []byte) (int, error) {
	n, err := t.file.Write(p)
	t.hasher.Write(p[:n])
	return n, err
}

// discard removes the temp file unless it was published.
func (t *stagedTemp) discard() {
	if t.published {
		return
	}
	_ = t.file.Close()
	_ = os.Remove(t.file.Name())
}

// publish renames the temp file to its digest. If that digest is already
// staged the temp file is dropped and created is false.
func (t *stagedTemp) publish(stagingDir string) (id string, created bool, err error) {
	if err := t.file.Sync(); err != nil {
		return "", false, fmt.Errorf("sync staging temp: %w", err)
	}
	if err := t.file.Close(); err != nil {
		return "", false, fmt.Errorf("close staging temp: %w", err)
	}

	id = hex.EncodeToString(t.hasher.Sum(nil))
	dst := filepath.Join(stagingDir, id)
	if _, statErr := os.Stat(dst); statErr == nil {
		return id, false, nil
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return "", false, statErr
	}

	tmpPath := t.file.Name()
	if err := os.Chmod(tmpPath, StagedMode); err != nil {
		return "", false, fmt.Errorf("chmod staged copy: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", false, fmt.Errorf("publish staged copy: %w", err)
	}
	t.published = true
	if err := SyncDir(stagingDir); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SyncDir fsyncs a directory so a preceding rename is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
