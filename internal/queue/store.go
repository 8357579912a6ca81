package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"quarantine/internal/config"
	"quarantine/internal/fileutil"
	"quarantine/internal/services"
)

const (
	defaultRetryLimit  = 3
	defaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 10 * time.Millisecond
	documentMode       = 0o644
)

// Observer receives every committed transition after the document is durable.
type Observer func(Transition)

// Store is the single owner of the persisted queue document.
type Store struct {
	path        string
	mu          sync.Mutex
	lock        *flock.Flock
	retryLimit  int
	lockTimeout time.Duration
	hook        fileutil.FaultHook
	observers   []Observer
	now         func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithRetryLimit sets how many retries an entry gets after its first
// analyzing claim. A transient failure becomes terminal once attempts
// exceed the limit.
func WithRetryLimit(limit int) Option {
	return func(s *Store) { s.retryLimit = limit }
}

// WithLockTimeout bounds how long a mutation waits for the file lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) { s.lockTimeout = timeout }
}

// WithPersistHook installs a fault hook around the document rewrite.
func WithPersistHook(hook fileutil.FaultHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithObserver registers a transition observer.
func WithObserver(observer Observer) Option {
	return func(s *Store) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the queue document configured by cfg.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("queue: config is nil")
	}
	base := []Option{
		WithRetryLimit(cfg.Dispatch.RetryLimit),
		WithLockTimeout(cfg.LockTimeout()),
	}
	return OpenPath(cfg.QueuePath(), append(base, opts...)...)
}

// OpenPath opens (or prepares to create) the queue document at path. The
// existing document is validated immediately so corruption surfaces at
// startup rather than on the first claim.
func OpenPath(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("queue: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure queue directory: %w", err)
	}
	s := &Store{
		path:        path,
		lock:        flock.New(path + ".lock"),
		retryLimit:  defaultRetryLimit,
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryLimit < 1 {
		s.retryLimit = 1
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = defaultLockTimeout
	}
	if _, err := readDocument(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// RetryLimit returns the configured retry limit.
func (s *Store) RetryLimit() int {
	return s.retryLimit
}

// Close releases the file lock handle.
func (s *Store) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// mutate runs fn against a freshly read document under both locks and
// persists the result when fn reports transitions. Observers run after the
// write is durable and the locks are released.
func (s *Store) mutate(ctx context.Context, fn func(doc *document) ([]Transition, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	transitions, err := s.mutateLocked(ctx, fn)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, tr := range transitions {
		for _, observer := range s.observers {
			observer(tr)
		}
	}
	return nil
}

func (s *Store) mutateLocked(ctx context.Context, fn func(doc *document) ([]Transition, error)) ([]Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s after %s: %v", ErrLockTimeout, s.lock.Path(), s.lockTimeout, err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := readDocument(s.path)
	if err != nil {
		return nil, err
	}
	transitions, err := fn(doc)
	if err != nil || len(transitions) == 0 {
		return nil, err
	}

	requestID, _ := services.RequestIDFromContext(ctx)
	for i := range transitions {
		transitions[i].RequestID = requestID
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := fileutil.WriteFileAtomic(s.path, data, documentMode, s.hook); err != nil {
		return nil, fmt.Errorf("persist queue document: %w", err)
	}
	return transitions, nil
}

func (s *Store) transition(entry *Entry, to State, reason string) Transition {
	from := entry.State
	now := s.timestamp()
	entry.State = to
	entry.UpdatedAt = now
	return Transition{EntryID: entry.ID, From: from, To: to, Attempts: entry.Attempts, Reason: reason, At: now}
}

// Register inserts a queued entry for reg.ID. An existing id returns the stored
// entry unchanged and created=false, whatever its source path.
func (s *Store) Register(ctx context.Context, reg Registration) (*Entry, bool, error) {
	if !ValidID(reg.ID) {
		return nil, false, fmt.Errorf("%w: register: invalid id %q", services.ErrValidation, reg.ID)
	}
	if reg.ParentID != "" && !ValidID(reg.ParentID) {
		return nil, false, fmt.Errorf("%w: register: invalid parent id %q", services.ErrValidation, reg.ParentID)
	}
	var (
		result  Entry
		created bool
	)
	err := s.mutate(ctx, func(doc *document) ([]Transition, error) {
		if existing := doc.get(reg.ID); existing != nil {
			result = existing.Clone()
			return nil, nil
		}
		now := s.timestamp()
		entry := &Entry{
			ID:           reg.ID,
			SourcePath:   reg.SourcePath,
			StagedPath:   reg.StagedPath,
			Size:         reg.Size,
			FileType:     reg.FileType,
			ParentID:     reg.ParentID,
			DiscoveredAt: now,
			UpdatedAt:    now,
			State:        StateQueued,
		}
		doc.add(entry)
		result = entry.Clone()
		created = true
		return []Transition{{EntryID: entry.ID, To: StateQueued, Reason: "registered", At: now}}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// ClaimNext moves the oldest queued entry to analyzing and counts the attempt.
// It returns nil when nothing is queued.
func (s *Store) ClaimNext(ctx context.Context) (*Entry, error) {
	return s.claim(ctx, StateQueued, StateAnalyzing, true)
}

// ClaimForReport moves the oldest analyzed entry to reporting. It returns nil
// when nothing awaits a report.
func (s *Store) ClaimForReport(ctx context.Context) (*Entry, error) {
	return s.claim(ctx, StateAnalyzed, StateReporting, false)
}

func (s *Store) claim(ctx context.Context, from, to State, countAttempt bool) (*Entry, error) {
	var claimed *Entry
	err := s.mutate(ctx, func(doc *document) ([]Transition, error) {
		entry := doc.oldest(from)
		if entry == nil {
			return nil, nil
		}
		if countAttempt {
			entry.Attempts++
		}
		tr := s.transition(entry, to, "claimed")
		cp := entry.Clone()
		claimed = &cp
		return []Transition{tr}, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete stores the detector result and moves analyzing to analyzed.
func (s *Store) Complete(ctx context.Context, id string, result []byte) error {
	if len(result) == 0 {
		return fmt.Errorf("%w: complete %s: empty result", services.ErrValidation, id)
	}
	return s.mutate(ctx, func(doc *document) ([]Transition, error) {
		entry := doc.get(id)
		if entry == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if entry.State != StateAnalyzing {
			return nil, invalidTransition(id, entry.State, "complete")
		}
		tr := s.transition(entry, StateAnalyzed, "analysis complete")
		at := tr.At
		entry.Result = append([]byte(nil), result...)
		entry.AnalyzedAt = &at
		entry.LastError = ""
		return []Transition{tr}, nil
	})
}

// Fail records reason on the entry. An analyzing entry returns to queued
// unless permanent is set or its attempts exceed the retry limit; entries in
// any other non-terminal state always become failed.
func (s *Store) Fail(ctx context.Context, id, reason string, permanent bool) error {
	return s.mutate(ctx, func(doc *document) ([]Transition, error) {
		entry := doc.get(id)
		if entry == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if entry.State.IsTerminal() {
			return nil, invalidTransition(id, entry.State, "fail")
		}
		return []Transition{s.applyFailure(entry, reason, permanent)}, nil
	})
}

func (s *Store) applyFailure(entry *Entry, reason string, permanent bool) Transition {
	entry.LastError = reason
	if entry.State == StateAnalyzing && !permanent && entry.Attempts <= s.retryLimit {
		return s.transition(entry, StateQueued, reason)
	}
	return s.transition(entry, StateFailed, reason)
}

// MarkReported records the risk level and report artifact and moves reporting
// to reported.
func (s *Store) MarkReported(ctx context.Context, id string, risk RiskLevel, reportPath string) error {
	if _, ok := ParseRiskLevel(string(risk)); !ok {
		return fmt.Errorf("%w: mark reported %s: unknown risk level %q", services.ErrValidation, id, risk)
	}
	return s.mutate(ctx, func(doc *document) ([]Transition, error) {
		entry := doc.get(id)
		if entry == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if entry.State != StateReporting {
			return nil, invalidTransition(id, entry.State, "mark reported")
		}
		tr := s.transition(entry, StateReported, "report written")
		at := tr.At
		entry.RiskLevel = risk
		entry.ReportPath = reportPath
		entry.ReportedAt = &at
		return []Transition{tr}, nil
	})
}

// RecoverInterrupted resolves claims orphaned by a crash. It must only run
// while no worker in any process holds a claim, i.e. under the daemon lock.
// Analyzing entries follow the transient failure rule; reporting entries are
// returned untouched so the caller can finish their reports.
func (s *Store) RecoverInterrupted(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult
	err := s.mutate(ctx, func(doc *document) ([]Transition, error) {
		result = RecoveryResult{}
		var transitions []Transition
		for _, entry := range doc.Entries {
			switch entry.State {
			case StateAnalyzing:
				tr := s.applyFailure(entry, "interrupted by restart", false)
				transitions = append(transitions, tr)
				if tr.To == StateQueued {
					result.Requeued = append(result.Requeued, entry.ID)
				} else {
					result.Failed = append(result.Failed, entry.ID)
				}
			case StateReporting:
				result.Reporting = append(result.Reporting, entry.Clone())
			}
		}
		slices.SortFunc(result.Reporting, func(a, b Entry) int { return claimOrder(&a, &b) })
		return transitions, nil
	})
	return result, err
}

// RetryFailed returns the named failed entries to queued with their attempts
// reset. It is an operator action and never runs from the pipeline itself.
// Either every id is retried or none is.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: retry requires at least one id", services.ErrValidation)
	}
	var count int
	err := s.mutate(ctx, func(doc *document) ([]Transition, error) {
		count = 0
		entries := make([]*Entry, 0, len(ids))
		for _, id := range ids {
			entry := doc.get(id)
			if entry == nil {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			if entry.State != StateFailed {
				return nil, invalidTransition(id, entry.State, "retry")
			}
			if !slices.Contains(entries, entry) {
				entries = append(entries, entry)
			}
		}
		transitions := make([]Transition, 0, len(entries))
		for _, entry := range entries {
			entry.Attempts = 0
			entry.LastError = ""
			entry.Result = nil
			entry.AnalyzedAt = nil
			entry.RiskLevel = ""
			entry.ReportPath = ""
			entry.ReportedAt = nil
			transitions = append(transitions, s.transition(entry, StateQueued, "retry requested"))
		}
		count = len(entries)
		return transitions, nil
	})
	return count, err
}

// Snapshot returns a point-in-time copy of every entry in claim order. It
// never takes the file lock; the atomic rename guarantees a whole document.
func (s *Store) Snapshot(ctx context.Context) ([]Entry, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	doc, err := readDocument(s.path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		entries = append(entries, entry.Clone())
	}
	slices.SortFunc(entries, func(a, b Entry) int { return claimOrder(&a, &b) })
	return entries, nil
}

// Get returns a copy of one entry.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	doc, err := readDocument(s.path)
	if err != nil {
		return nil, err
	}
	entry := doc.get(id)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := entry.Clone()
	return &cp, nil
}

// Stats returns entry counts for every known state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	entries, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[State]int, len(allStates))
	for _, state := range allStates {
		stats[state] = 0
	}
	for _, entry := range entries {
		stats[entry.State]++
	}
	return stats, nil
}
