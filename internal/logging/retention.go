package logging

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget specifies a directory and filename pattern to prune.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes per-run log files older than retentionDays and
// returns how many were removed. Symlinks such as the current log pointer are
// never touched. A retentionDays value of 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	keep := excludedPaths(targets)

	removed := 0
	for _, target := range targets {
		for _, path := range expiredLogs(target, cutoff) {
			if _, skip := keep[path]; skip {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String(FieldPath, path),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old run log remains on disk"),
				)
				continue
			}
			removed++
			if logger != nil {
				logger.Debug("run log pruned", String(FieldPath, path), String(FieldEventType, "log_pruned"))
			}
		}
	}
	return removed
}

func excludedPaths(targets []RetentionTarget) map[string]struct{} {
	keep := make(map[string]struct{})
	for _, target := range targets {
		for _, path := range target.Exclude {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			keep[absPath(path)] = struct{}{}
		}
	}
	return keep
}

// expiredLogs lists regular files in target.Dir matching its pattern and
// last modified before cutoff. Unreadable directories yield nothing.
func expiredLogs(target RetentionTarget, cutoff time.Time) []string {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	pattern := strings.TrimSpace(target.Pattern)
	var out []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		if !modifiedBefore(entry, cutoff) {
			continue
		}
		out = append(out, absPath(filepath.Join(dir, entry.Name())))
	}
	return out
}

func modifiedBefore(entry fs.DirEntry, cutoff time.Time) bool {
	info, err := entry.Info()
	return err == nil && info.ModTime().Before(cutoff)
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
