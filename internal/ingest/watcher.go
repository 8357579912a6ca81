package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"

	"quarantine/internal/config"
	"quarantine/internal/fileutil"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/services"
	"quarantine/internal/unpack"
)

// Outcome classifies what happened to one ingested file.
type Outcome string

const (
	OutcomeRegistered Outcome = "registered"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSkipped    Outcome = "skipped"
)

// Result describes the ingestion of one file.
type Result struct {
	Path    string
	ID      string
	Outcome Outcome
	Entry   *queue.Entry
	// Extracted counts archive members registered as new entries.
	Extracted int
}

// Summary counts the outcomes of a scan.
type Summary struct {
	Registered int `json:"registered"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Unsettled  int `json:"unsettled"`
	Extracted  int `json:"extracted"`
}

func (s *Summary) add(outcome Outcome) {
	switch outcome {
	case OutcomeRegistered:
		s.Registered++
	case OutcomeDuplicate:
		s.Duplicates++
	default:
		s.Skipped++
	}
}

// Watcher turns files dropped into the watch directory into queue entries.
type Watcher struct {
	store      *queue.Store
	logger     *slog.Logger
	filter     Filter
	root       string
	recursive  bool
	stagingDir string
	debounce   time.Duration
	settle     time.Duration
	rescan     time.Duration
	unpack     bool
	limits     unpack.Limits
	now        func() time.Time

	mu      sync.Mutex
	seen    map[string]probe
	summary Summary
}

// New constructs a watcher for cfg.Ingest.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:      store,
		logger:     logging.NewComponentLogger(logger, "ingest"),
		filter:     NewFilter(cfg.Ingest.Extensions, cfg.Ingest.Patterns),
		root:       cfg.Ingest.WatchDir,
		recursive:  cfg.Ingest.Recursive,
		stagingDir: cfg.Paths.StagingDir,
		debounce:   time.Duration(cfg.Ingest.DebounceMS) * time.Millisecond,
		settle:     time.Duration(cfg.Ingest.SettleIntervalMS) * time.Millisecond,
		rescan:     time.Duration(cfg.Ingest.RescanInterval) * time.Second,
		unpack:     cfg.Ingest.Unpack.Enabled,
		limits: unpack.Limits{
			MaxMembers:     cfg.Ingest.Unpack.MaxMembers,
			MaxMemberBytes: int64(cfg.Ingest.Unpack.MaxMemberMB) << 20,
			MaxTotalBytes:  int64(cfg.Ingest.Unpack.MaxTotalMB) << 20,
		},
		now: time.Now,
		seen:       make(map[string]probe),
	}
}

// Summary returns the outcome counts accumulated since the watcher was built.
func (w *Watcher) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

// Run watches the tree until ctx is canceled. It rescans on start so files
// dropped while the daemon was down are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw, w.root); err != nil {
		return err
	}

	track := newTracker(w.debounce, w.settle)
	w.rescanInto(track)

	tick := time.NewTicker(tickInterval(w.debounce, w.settle))
	defer tick.Stop()
	var rescanC <-chan time.Time
	if w.rescan > 0 {
		rescanTicker := time.NewTicker(w.rescan)
		defer rescanTicker.Stop()
		rescanC = rescanTicker.C
	}

	w.logger.Info("watching inbox",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String(logging.FieldPath, w.root),
		logging.Bool("recursive", w.recursive),
		logging.Int("pending", track.len()),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, track, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "filesystem watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or reduce the watched tree"),
				logging.String(logging.FieldImpact, "events may be missed until the next rescan"),
			)
		case <-tick.C:
			if err := w.processDue(ctx, track); err != nil {
				return err
			}
		case <-rescanC:
			w.rescanInto(track)
		}
	}
}

func tickInterval(debounce, settle time.Duration) time.Duration {
	interval := min(debounce, settle) / 2
	return max(interval, 5*time.Millisecond)
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, track *tracker, event fsnotify.Event) {
	path := event.Name
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		track.forget(path)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && w.recursive && !skipDir(info.Name()) {
			if err := w.addWatches(fsw, path); err != nil {
				w.warnIO("watch new directory failed", path, err)
			}
			// Files can land in a new directory before its watch exists.
			w.walk(path, func(file string, _ probe) {
				track.touch(file, w.now())
			})
		}
		return
	}
	if !info.Mode().IsRegular() || !w.filter.Accept(path) {
		return
	}
	track.touch(path, w.now())
}

func (w *Watcher) processDue(ctx context.Context, track *tracker) error {
	settled, vanished := track.due(w.now(), statProbe)
	for _, path := range vanished {
		w.logger.Debug("candidate vanished before settling", logging.String(logging.FieldPath, path))
	}
	for _, path := range settled {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.IngestFile(ctx, path); err != nil {
			switch {
			case errors.Is(err, queue.ErrCorrupt):
				return err
			case errors.Is(err, fileutil.ErrChangedDuringCopy):
				track.touch(path, w.now())
			case ctx.Err() != nil:
				return nil
			default:
				w.warnIO("ingest failed", path, err)
			}
		}
	}
	return nil
}

// rescanInto feeds files not ingested in their current form into track.
func (w *Watcher) rescanInto(track *tracker) {
	w.walk(w.root, func(path string, p probe) {
		if track.tracked(path) || w.alreadySeen(path, p) {
			return
		}
		// A zero event time lets rescanned files skip the debounce window;
		// they still need two matching probes.
		track.touch(path, time.Time{})
	})
}

func (w *Watcher) alreadySeen(path string, p probe) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.seen[path]
	return ok && prev.same(p)
}

func (w *Watcher) markSeen(path string) {
	p, err := statProbe(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.seen[path] = p
	w.mu.Unlock()
}

// ScanOnce ingests every settled file currently in the tree and returns.
// Files still changing across one settle interval are counted as unsettled
// and left for the next scan.
func (w *Watcher) ScanOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	first := make(map[string]probe)
	w.walk(w.root, func(path string, p probe) {
		if !w.alreadySeen(path, p) {
			first[path] = p
		}
	})
	if len(first) == 0 {
		return summary, nil
	}

	timer := time.NewTimer(w.settle)
	select {
	case <-ctx.Done():
		timer.Stop()
		return summary, ctx.Err()
	case <-timer.C:
	}

	paths := make([]string, 0, len(first))
	for path := range first {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		again, err := statProbe(path)
		if err != nil {
			continue
		}
		if !again.same(first[path]) {
			summary.Unsettled++
			continue
		}
		result, err := w.IngestFile(ctx, path)
		if err != nil {
			if errors.Is(err, queue.ErrCorrupt) {
				return summary, err
			}
			if errors.Is(err, fileutil.ErrChangedDuringCopy) {
				summary.Unsettled++
				continue
			}
			w.warnIO("ingest failed", path, err)
			summary.Skipped++
			continue
		}
		summary.add(result.Outcome)
		summary.Extracted += result.Extracted
	}
	return summary, nil
}

// IngestFile hashes path, stages a copy under its digest and registers it.
// A digest that is already queued is reported as a duplicate without
// copying. A new archive has its members registered before the archive
// itself, so an interrupted expansion is redone by the next scan.
func (w *Watcher) IngestFile(ctx context.Context, path string) (Result, error) {
	logger := w.logger.With(logging.String(logging.FieldPath, path))
	result := Result{Path: path, Outcome: OutcomeSkipped}

	id, _, err := fileutil.HashFile(path)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "ingest", "hash file",
			"Unable to read inbox file", err)
	}
	result.ID = id

	existing, err := w.store.Get(ctx, id)
	switch {
	case err == nil:
		result.Outcome = OutcomeDuplicate
		result.Entry = existing
		w.record(path, OutcomeDuplicate)
		logger.Info("duplicate file ignored",
			logging.String(logging.FieldEventType, "ingest_duplicate"),
			logging.String(logging.FieldEntryID, id),
			logging.String(logging.FieldState, string(existing.State)),
			logging.String("first_seen_path", existing.SourcePath),
		)
		return result, nil
	case !errors.Is(err, queue.ErrNotFound):
		return result, fmt.Errorf("lookup %s: %w", id, err)
	}

	stagedID, size, err := fileutil.StageCopy(path, w.stagingDir)
	if err != nil {
		if errors.Is(err, fileutil.ErrChangedDuringCopy) {
			return result, err
		}
		return result, services.Wrap(services.ErrTransient, "ingest", "stage copy",
			"Unable to copy inbox file into staging", err)
	}
	result.ID = stagedID
	stagedPath := filepath.Join(w.stagingDir, stagedID)

	source, err := filepath.Abs(path)
	if err != nil {
		source = path
	}
	if w.unpack {
		extracted, err := w.expand(ctx, logger, stagedID, stagedPath, source)
		if err != nil {
			return result, err
		}
		result.Extracted = extracted
	}
	entry, created, err := w.store.Register(ctx, queue.Registration{
		ID:         stagedID,
		SourcePath: source,
		StagedPath: stagedPath,
		Size:       size,
		FileType:   sniff(stagedPath),
	})
	if err != nil {
		return result, fmt.Errorf("register %s: %w", stagedID, err)
	}
	result.Entry = entry
	if !created {
		result.Outcome = OutcomeDuplicate
		w.record(path, OutcomeDuplicate)
		return result, nil
	}

	result.Outcome = OutcomeRegistered
	w.record(path, OutcomeRegistered)
	logger.Info("file queued",
		logging.String(logging.FieldEventType, "ingest_registered"),
		logging.String(logging.FieldEntryID, stagedID),
		logging.Int64("size", size),
		logging.String("file_type", entry.FileType),
	)
	return result, nil
}

// expand registers the members of the staged archive at stagedPath with
// parentID as their parent. A refused archive is logged and still analyzed
// as a whole; only store corruption and cancellation are returned.
func (w *Watcher) expand(ctx context.Context, logger *slog.Logger, parentID, stagedPath, source string) (int, error) {
	format, err := unpack.Detect(stagedPath)
	if err != nil || format == "" {
		return 0, nil
	}
	expanded, err := unpack.Expand(ctx, stagedPath, format, w.stagingDir, w.limits)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logging.WarnWithContext(logger, "archive not expanded; analyzing it as a single file", "unpack_rejected",
			logging.String(logging.FieldEntryID, parentID),
			logging.String("archive_format", string(format)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the archive manually or raise the ingest.unpack limits"),
			logging.String(logging.FieldImpact, "archive members are not analyzed individually"),
		)
		return 0, nil
	}

	extracted := 0
	for _, member := range expanded.Members {
		_, created, err := w.store.Register(ctx, queue.Registration{
			ID:         member.ID,
			SourcePath: source + "!/" + member.Name,
			StagedPath: member.StagedPath,
			Size:       member.Size,
			FileType:   sniff(member.StagedPath),
			ParentID:   parentID,
		})
		if err != nil {
			if errors.Is(err, queue.ErrCorrupt) || ctx.Err() != nil {
				return extracted, fmt.Errorf("register member %s: %w", member.ID, err)
			}
			w.warnIO("archive member not registered", source+"!/"+member.Name, err)
			continue
		}
		if created {
			extracted++
		}
	}
	w.mu.Lock()
	w.summary.Extracted += extracted
	w.mu.Unlock()
	logger.Info("archive expanded",
		logging.String(logging.FieldEventType, "ingest_unpacked"),
		logging.String(logging.FieldEntryID, parentID),
		logging.String("archive_format", string(format)),
		logging.Int("members", len(expanded.Members)),
		logging.Int("registered", extracted),
		logging.Int("skipped", expanded.Skipped),
	)
	return extracted, nil
}

func (w *Watcher) record(path string, outcome Outcome) {
	w.markSeen(path)
	w.mu.Lock()
	w.summary.add(outcome)
	w.mu.Unlock()
}

func sniff(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mt.String()
}

func (w *Watcher) addWatches(fsw *fsnotify.Watcher, root string) error {
	if err := fsw.Add(root); err != nil {
		return services.Wrap(services.ErrConfiguration, "ingest", "watch",
			fmt.Sprintf("Unable to watch %s", root), err)
	}
	if !w.recursive {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.warnIO("walk failed", path, err)
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.warnIO("watch directory failed", path, err)
		}
		return nil
	})
}

// walk visits accepted regular files below root.
func (w *Watcher) walk(root string, visit func(path string, p probe)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.warnIO("walk failed", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !w.recursive || skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.filter.Accept(path) {
			return nil
		}
		p, err := statProbe(path)
		if err != nil {
			return nil
		}
		visit(path, p)
		return nil
	})
}

func (w *Watcher) warnIO(msg, path string, err error) {
	logging.WarnWithContext(w.logger, msg, "ingest_io_error",
		logging.String(logging.FieldPath, path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check inbox permissions; the file is retried on the next rescan"),
		logging.String(logging.FieldImpact, "file not queued yet"),
	)
}
