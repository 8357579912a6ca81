package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

// DefaultGrace protects copies an ingester may still be registering.
const DefaultGrace = time.Hour

// Item describes one file in the staging directory.
type Item struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
	// Temp marks an unfinished staging copy left behind by an interrupted ingest.
	Temp bool
}

// CleanResult contains the outcome of an orphan sweep.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a file path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Referenced returns the staged file names the queue still points at.
func Referenced(entries []queue.Entry) map[string]struct{} {
	refs := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.StagedPath != "" {
			refs[filepath.Base(entry.StagedPath)] = struct{}{}
		}
	}
	return refs
}

// List returns the files in stagingDir sorted by name. A missing directory
// yields an empty list.
func List(stagingDir string) ([]Item, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{
			Name:    entry.Name(),
			Path:    filepath.Join(stagingDir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
			Temp:    strings.HasPrefix(entry.Name(), "."),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// CleanOrphaned removes staged copies that no queue entry references and
// unfinished temp copies. Files modified within grace are kept.
func CleanOrphaned(ctx context.Context, stagingDir string, referenced map[string]struct{}, grace time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}

	items, err := List(stagingDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-grace)
	for _, item := range items {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		if _, ok := referenced[item.Name]; ok {
			continue
		}
		if !item.Temp && !queue.ValidID(item.Name) {
			// Not ours.
			continue
		}
		if item.ModTime.After(cutoff) {
			continue
		}

		if err := os.Remove(item.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: item.Path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove orphaned staged file",
					logging.String(logging.FieldPath, item.Path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, item.Path)
		if logger != nil {
			logger.Info("removed orphaned staged file",
				logging.String(logging.FieldPath, item.Path),
				logging.Duration("age", time.Since(item.ModTime)),
				logging.Bool("temp", item.Temp),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}

	return result
}
