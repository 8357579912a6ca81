package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"quarantine/internal/config"
	"quarantine/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustRegister registers content under its digest with a source path inside
// the configured watch dir.
func MustRegister(t testing.TB, store *queue.Store, cfg *config.Config, name string, content []byte) *queue.Entry {
	t.Helper()

	id := SHA256(content)
	entry, _, err := store.Register(context.Background(), queue.Registration{
		ID:         id,
		SourcePath: filepath.Join(cfg.Ingest.WatchDir, name),
		StagedPath: filepath.Join(cfg.Paths.StagingDir, id),
		Size:       int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
	return entry
}
