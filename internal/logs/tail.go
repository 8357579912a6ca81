package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// Filter keeps a line when it returns true. A nil filter keeps everything.
type Filter func(line string) bool

// Contains matches lines that include needle. An empty needle matches all.
func Contains(needle string) Filter {
	if needle == "" {
		return nil
	}
	return func(line string) bool { return strings.Contains(line, needle) }
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns up to limit trailing lines of path that pass filter. A
// missing file yields an empty result.
func Tail(path string, limit int, filter Filter) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return TailResult{Offset: info.Size()}, nil
	}

	scanner := bufio.NewScanner(io.LimitReader(file, info.Size()))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ring := make([]string, limit)
	count, idx := 0, 0
	for scanner.Scan() {
		line := scanner.Text()
		if filter != nil && !filter(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: info.Size()}, nil
}

// Follow calls emit for every complete line appended to path after offset
// until ctx is canceled. It returns nil on cancellation.
func Follow(ctx context.Context, path string, offset int64, filter Filter, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the current-log link is replaced on every run.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	target := resolve(path)
	var partial string
	drain := func() error {
		if now := resolve(path); now != target {
			target, offset, partial = now, 0, ""
		}
		lines, next, rest, err := readFrom(path, offset, partial)
		if err != nil {
			return err
		}
		offset, partial = next, rest
		for _, line := range lines {
			if filter == nil || filter(line) {
				emit(line)
			}
		}
		return nil
	}

	if err := drain(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		}
	}
}

func resolve(path string) string {
	if target, err := filepath.EvalSymlinks(path); err == nil {
		return target
	}
	return path
}

// readFrom returns complete lines after offset. Bytes after the last newline
// are carried in rest so a line being written is never split.
func readFrom(path string, offset int64, partial string) (lines []string, next int64, rest string, err error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, "", nil
		}
		return nil, offset, partial, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, partial, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset, partial = 0, ""
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, partial, fmt.Errorf("seek log file: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-offset))
	if err != nil {
		return nil, offset, partial, fmt.Errorf("read log file: %w", err)
	}
	next = offset + int64(len(data))

	text := partial + string(data)
	parts := strings.Split(text, "\n")
	rest = parts[len(parts)-1]
	return parts[:len(parts)-1], next, rest, nil
}
