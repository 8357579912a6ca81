package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"quarantine/internal/fileutil"
	"quarantine/internal/queue"
	"quarantine/internal/services"
	"quarantine/internal/testsupport"
)

func openTestStore(t *testing.T, opts ...queue.Option) (*queue.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "queue.json")
	store, err := queue.OpenPath(path, opts...)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func register(t *testing.T, store *queue.Store, content string) *queue.Entry {
	t.Helper()
	id := testsupport.SHA256([]byte(content))
	entry, _, err := store.Register(context.Background(), queue.Registration{
		ID:         id,
		SourcePath: "/inbox/" + content,
		StagedPath: "/staging/" + id,
		Size:       int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Register %q: %v", content, err)
	}
	return entry
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRegisterDeduplicatesByContent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	id := testsupport.SHA256([]byte("same bytes"))

	first, created, err := store.Register(ctx, queue.Registration{ID: id, SourcePath: "/inbox/a.exe", StagedPath: "/staging/" + id, Size: 10})
	if err != nil || !created {
		t.Fatalf("first Register = created %v, err %v", created, err)
	}
	second, created, err := store.Register(ctx, queue.Registration{ID: id, SourcePath: "/inbox/copy-of-a.exe", StagedPath: "/staging/" + id, Size: 10})
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if created {
		t.Fatal("expected created=false for duplicate content")
	}
	if second.SourcePath != first.SourcePath {
		t.Fatalf("existing entry changed: source %q", second.SourcePath)
	}

	entries, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].State != queue.StateQueued {
		t.Fatalf("expected one queued entry, got %#v", entries)
	}
}

func TestRegisterConcurrentSameID(t *testing.T) {
	store, _ := openTestStore(t)
	id := testsupport.SHA256([]byte("race"))

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Register(context.Background(), queue.Registration{ID: id, SourcePath: fmt.Sprintf("/inbox/%d", i)})
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Fatalf("created %d entries, want 1", created.Load())
	}
}

func TestRegisterRejectsInvalidID(t *testing.T) {
	store, _ := openTestStore(t)
	for _, id := range []string{"", "abc", "ZZ" + testsupport.SHA256([]byte("x"))[2:]} {
		if _, _, err := store.Register(context.Background(), queue.Registration{ID: id}); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Register(%q) err = %v, want ErrValidation", id, err)
		}
	}
}

func TestClaimNextFIFOWithIDTieBreak(t *testing.T) {
	store, _ := openTestStore(t, queue.WithClock(fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))))
	ctx := context.Background()

	a := register(t, store, "alpha")
	b := register(t, store, "bravo")
	c := register(t, store, "charlie")

	// identical discovered_at: claim order falls back to id ascending
	want := []string{a.ID, b.ID, c.ID}
	slices.Sort(want)

	for i, id := range want {
		entry, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if entry == nil || entry.ID != id {
			t.Fatalf("claim %d = %v, want %s", i, entry, id)
		}
		if entry.State != queue.StateAnalyzing || entry.Attempts != 1 {
			t.Fatalf("claimed entry state=%s attempts=%d", entry.State, entry.Attempts)
		}
	}
	entry, err := store.ClaimNext(ctx)
	if err != nil || entry != nil {
		t.Fatalf("expected nil claim on empty queue, got %v, %v", entry, err)
	}
}

func TestClaimNextOldestFirst(t *testing.T) {
	store, _ := openTestStore(t, queue.WithClock(steppingClock()))

	// Register the larger id first so arrival order and id order disagree.
	early, late := "zulu", "alpha"
	if testsupport.SHA256([]byte(early)) < testsupport.SHA256([]byte(late)) {
		early, late = late, early
	}
	first := register(t, store, early)
	register(t, store, late)

	got, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("claimed %s, want oldest %s", got.ID, first.ID)
	}
}

func TestClaimNextExclusive(t *testing.T) {
	store, _ := openTestStore(t)
	register(t, store, "only one")

	const workers = 16
	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
		none    atomic.Int32
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			entry, err := store.ClaimNext(context.Background())
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			if entry != nil {
				claimed.Add(1)
			} else {
				none.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if claimed.Load() != 1 || none.Load() != workers-1 {
		t.Fatalf("claimed=%d none=%d, want 1/%d", claimed.Load(), none.Load(), workers-1)
	}
}

func TestClaimNextExclusiveAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	stores := make([]*queue.Store, 4)
	for i := range stores {
		s, err := queue.OpenPath(path)
		if err != nil {
			t.Fatalf("OpenPath: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		stores[i] = s
	}
	for i := range 8 {
		register(t, stores[0], fmt.Sprintf("sample-%d", i))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for _, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, err := s.ClaimNext(context.Background())
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if entry == nil {
					return
				}
				mu.Lock()
				seen[entry.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 8 {
		t.Fatalf("claimed %d distinct entries, want 8", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("entry %s claimed %d times", id, n)
		}
	}
}

func TestCompleteRequiresAnalyzing(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	entry := register(t, store, "sample")

	if err := store.Complete(ctx, entry.ID, []byte(`{}`)); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("Complete on queued err = %v, want ErrInvalidTransition", err)
	}
	if err := store.Complete(ctx, testsupport.SHA256([]byte("missing")), []byte(`{}`)); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("Complete on unknown err = %v, want ErrNotFound", err)
	}

	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Complete(ctx, entry.ID, []byte(`{"engine":"test"}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != queue.StateAnalyzed || string(got.Result) != `{"engine":"test"}` || got.AnalyzedAt == nil {
		t.Fatalf("unexpected entry after complete: %#v", got)
	}
	if err := store.Complete(ctx, entry.ID, []byte(`{}`)); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("second Complete err = %v, want ErrInvalidTransition", err)
	}
}

func TestFailTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("transient requeues below limit", func(t *testing.T) {
		store, _ := openTestStore(t, queue.WithRetryLimit(3))
		entry := register(t, store, "retry")
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatal(err)
		}
		if err := store.Fail(ctx, entry.ID, "timeout", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := store.Get(ctx, entry.ID)
		if got.State != queue.StateQueued || got.Attempts != 1 || got.LastError != "timeout" {
			t.Fatalf("unexpected entry: %#v", got)
		}
	})

	t.Run("transient at limit still requeues", func(t *testing.T) {
		store, _ := openTestStore(t, queue.WithRetryLimit(1))
		entry := register(t, store, "edge")
		mustClaim(t, store, entry.ID)
		if err := store.Fail(ctx, entry.ID, "timeout", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := store.Get(ctx, entry.ID)
		if got.State != queue.StateQueued || got.Attempts != 1 {
			t.Fatalf("attempts equal to the limit must requeue: %#v", got)
		}

		mustClaim(t, store, entry.ID)
		if err := store.Fail(ctx, entry.ID, "timeout", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ = store.Get(ctx, entry.ID)
		if got.State != queue.StateFailed || got.Attempts != 2 {
			t.Fatalf("attempts above the limit must fail: %#v", got)
		}
	})

	t.Run("permanent fails immediately", func(t *testing.T) {
		store, _ := openTestStore(t, queue.WithRetryLimit(3))
		entry := register(t, store, "reject")
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatal(err)
		}
		if err := store.Fail(ctx, entry.ID, "rejected", true); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := store.Get(ctx, entry.ID)
		if got.State != queue.StateFailed || got.Attempts != 1 {
			t.Fatalf("unexpected entry: %#v", got)
		}
	})

	t.Run("non analyzing states fail", func(t *testing.T) {
		store, _ := openTestStore(t)
		entry := register(t, store, "queued")
		if err := store.Fail(ctx, entry.ID, "operator", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := store.Get(ctx, entry.ID)
		if got.State != queue.StateFailed {
			t.Fatalf("state = %s, want failed", got.State)
		}
		if err := store.Fail(ctx, entry.ID, "again", false); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("Fail on terminal err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("reporting fails", func(t *testing.T) {
		store, _ := openTestStore(t)
		entry := register(t, store, "report")
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatal(err)
		}
		if err := store.Complete(ctx, entry.ID, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimForReport(ctx); err != nil {
			t.Fatal(err)
		}
		if err := store.Fail(ctx, entry.ID, "disk full", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := store.Get(ctx, entry.ID)
		if got.State != queue.StateFailed {
			t.Fatalf("state = %s, want failed", got.State)
		}
	})
}

func TestTerminalReachabilityUnderRepeatedTransientFailures(t *testing.T) {
	const limit = 4
	store, _ := openTestStore(t, queue.WithRetryLimit(limit))
	ctx := context.Background()
	entry := register(t, store, "flaky")

	claims := 0
	for {
		claimed, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if claimed == nil {
			break
		}
		claims++
		if claims > limit+1 {
			t.Fatalf("entry claimed %d times, retry limit %d", claims, limit)
		}
		if err := store.Fail(ctx, claimed.ID, "executor unavailable", false); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}

	got, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateFailed || got.Attempts != limit+1 {
		t.Fatalf("final state=%s attempts=%d, want failed/%d", got.State, got.Attempts, limit+1)
	}
}

func TestReportLifecycle(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	entry := register(t, store, "report me")

	if got, err := store.ClaimForReport(ctx); err != nil || got != nil {
		t.Fatalf("ClaimForReport on queued store = %v, %v", got, err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, entry.ID, []byte(`{"matches":[]}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkReported(ctx, entry.ID, queue.RiskLow, "/r.json"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("MarkReported before claim err = %v", err)
	}

	claimed, err := store.ClaimForReport(ctx)
	if err != nil || claimed == nil || claimed.State != queue.StateReporting {
		t.Fatalf("ClaimForReport = %#v, %v", claimed, err)
	}
	if err := store.MarkReported(ctx, entry.ID, "severe", "/r.json"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("MarkReported with bad risk err = %v", err)
	}
	if err := store.MarkReported(ctx, entry.ID, queue.RiskHigh, "/r.json"); err != nil {
		t.Fatalf("MarkReported: %v", err)
	}
	got, _ := store.Get(ctx, entry.ID)
	if got.State != queue.StateReported || got.RiskLevel != queue.RiskHigh || got.ReportPath != "/r.json" || got.ReportedAt == nil {
		t.Fatalf("unexpected reported entry: %#v", got)
	}
	if err := store.MarkReported(ctx, entry.ID, queue.RiskHigh, "/r.json"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("second MarkReported err = %v", err)
	}
}

// TestPersistFaultInjection simulates a crash at each step of the document
// rewrite and verifies a reopened store sees either the old or the new state.
func TestPersistFaultInjection(t *testing.T) {
	cases := []struct {
		step      fileutil.AtomicStep
		wantState queue.State
	}{
		{fileutil.StepWrite, queue.StateQueued},
		{fileutil.StepSync, queue.StateQueued},
		{fileutil.StepRename, queue.StateQueued},
		{fileutil.StepCommitted, queue.StateAnalyzing},
	}
	for _, tc := range cases {
		t.Run(string(tc.step), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queue.json")
			var armed atomic.Bool
			crash := errors.New("simulated crash")
			store, err := queue.OpenPath(path, queue.WithPersistHook(func(step fileutil.AtomicStep) error {
				if armed.Load() && step == tc.step {
					return crash
				}
				return nil
			}))
			if err != nil {
				t.Fatalf("OpenPath: %v", err)
			}
			defer store.Close()
			entry := register(t, store, "fault")
			before, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}

			armed.Store(true)
			if _, err := store.ClaimNext(context.Background()); !errors.Is(err, crash) {
				t.Fatalf("ClaimNext err = %v, want simulated crash", err)
			}

			reopened, err := queue.OpenPath(path)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer reopened.Close()
			got, err := reopened.Get(context.Background(), entry.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.State != tc.wantState {
				t.Fatalf("state after crash at %s = %s, want %s", tc.step, got.State, tc.wantState)
			}
			if tc.wantState == queue.StateQueued {
				after, _ := os.ReadFile(path)
				if string(after) != string(before) {
					t.Fatal("document changed despite aborted write")
				}
			}
			files, _ := os.ReadDir(filepath.Dir(path))
			for _, f := range files {
				if f.Name() != "queue.json" && f.Name() != "queue.json.lock" {
					t.Fatalf("unexpected leftover file %s", f.Name())
				}
			}
		})
	}
}

func TestCorruptDocumentFailsLoudly(t *testing.T) {
	valid := testsupport.SHA256([]byte("x"))
	cases := map[string]string{
		"garbage":         "{not json",
		"empty":           "",
		"wrong version":   `{"version": 9, "entries": []}`,
		"unknown state":   `{"version":1,"entries":[{"id":"` + valid + `","state":"exploded","discovered_at":"2026-01-01T00:00:00Z"}]}`,
		"duplicate id":    `{"version":1,"entries":[{"id":"` + valid + `","state":"queued","discovered_at":"2026-01-01T00:00:00Z"},{"id":"` + valid + `","state":"queued","discovered_at":"2026-01-01T00:00:00Z"}]}`,
		"unknown field":   `{"version":1,"entries":[],"extra":true}`,
		"analyzed no res": `{"version":1,"entries":[{"id":"` + valid + `","state":"analyzed","attempts":1,"discovered_at":"2026-01-01T00:00:00Z"}]}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queue.json")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := queue.OpenPath(path); !errors.Is(err, queue.ErrCorrupt) {
				t.Fatalf("OpenPath err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestCorruptionAfterOpenIsNeverOverwritten(t *testing.T) {
	store, path := openTestStore(t)
	register(t, store, "sample")

	garbage := []byte(`{"version":1,"entries":[{"id":"nope"}]}`)
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := store.ClaimNext(ctx); !errors.Is(err, queue.ErrCorrupt) {
		t.Fatalf("ClaimNext err = %v, want ErrCorrupt", err)
	}
	if _, _, err := store.Register(ctx, queue.Registration{ID: testsupport.SHA256([]byte("new"))}); !errors.Is(err, queue.ErrCorrupt) {
		t.Fatalf("Register err = %v, want ErrCorrupt", err)
	}
	if _, err := store.Snapshot(ctx); !errors.Is(err, queue.ErrCorrupt) {
		t.Fatalf("Snapshot err = %v, want ErrCorrupt", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(garbage) {
		t.Fatal("corrupt document was rewritten")
	}
}

func TestLockTimeout(t *testing.T) {
	store, path := openTestStore(t, queue.WithLockTimeout(50*time.Millisecond))

	holder := flock.New(path + ".lock")
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("external lock: %v %v", locked, err)
	}
	defer holder.Unlock()

	if _, _, err := store.Register(context.Background(), queue.Registration{ID: testsupport.SHA256([]byte("x"))}); !errors.Is(err, queue.ErrLockTimeout) {
		t.Fatalf("Register err = %v, want ErrLockTimeout", err)
	}
	// Reads do not take the lock.
	if _, err := store.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot under external lock: %v", err)
	}
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func mustClaim(t *testing.T, store *queue.Store, wantID string) {
	t.Helper()
	entry, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if entry == nil || entry.ID != wantID {
		t.Fatalf("claimed %v, want %s", entry, wantID)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	store, _ := openTestStore(t, queue.WithRetryLimit(2), queue.WithClock(steppingClock()))
	ctx := context.Background()

	exhaust := register(t, store, "exhaust")
	requeue := register(t, store, "requeue")
	reporting := register(t, store, "reporting")

	for i := 0; i < 2; i++ {
		mustClaim(t, store, exhaust.ID)
		if err := store.Fail(ctx, exhaust.ID, "timeout", false); err != nil {
			t.Fatal(err)
		}
	}
	mustClaim(t, store, exhaust.ID)
	mustClaim(t, store, requeue.ID)
	mustClaim(t, store, reporting.ID)
	if err := store.Complete(ctx, reporting.ID, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimForReport(ctx); err != nil {
		t.Fatal(err)
	}

	result, err := store.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if len(result.Reporting) != 1 || result.Reporting[0].ID != reporting.ID {
		t.Fatalf("reporting = %#v", result.Reporting)
	}
	if len(result.Requeued) != 1 || result.Requeued[0] != requeue.ID {
		t.Fatalf("requeued = %v", result.Requeued)
	}
	if len(result.Failed) != 1 || result.Failed[0] != exhaust.ID {
		t.Fatalf("failed = %v", result.Failed)
	}

	checks := map[string]queue.State{
		exhaust.ID:   queue.StateFailed,
		requeue.ID:   queue.StateQueued,
		reporting.ID: queue.StateReporting,
	}
	for id, want := range checks {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != want {
			t.Fatalf("%s state = %s, want %s", id, got.State, want)
		}
	}
}

func TestRetryFailed(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	failed := register(t, store, "failed")
	queued := register(t, store, "queued")
	if err := store.Fail(ctx, failed.ID, "boom", true); err != nil {
		t.Fatal(err)
	}

	if _, err := store.RetryFailed(ctx); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("RetryFailed() err = %v", err)
	}
	if _, err := store.RetryFailed(ctx, failed.ID, queued.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("RetryFailed mixed err = %v", err)
	}
	got, _ := store.Get(ctx, failed.ID)
	if got.State != queue.StateFailed {
		t.Fatal("partial retry applied")
	}

	n, err := store.RetryFailed(ctx, failed.ID)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v", n, err)
	}
	got, _ = store.Get(ctx, failed.ID)
	if got.State != queue.StateQueued || got.Attempts != 0 || got.LastError != "" {
		t.Fatalf("retried entry: %#v", got)
	}
}

func TestObserverReceivesCommittedTransitions(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []queue.Transition
	)
	store, _ := openTestStore(t, queue.WithObserver(func(tr queue.Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}))
	ctx := services.WithRequestID(context.Background(), "req-42")
	entry := register(t, store, "observed")
	register(t, store, "observed") // duplicate, no transition
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observed %d transitions, want 2: %#v", len(seen), seen)
	}
	if seen[0].From != "" || seen[0].To != queue.StateQueued {
		t.Fatalf("registration transition = %#v", seen[0])
	}
	claim := seen[1]
	if claim.EntryID != entry.ID || claim.From != queue.StateQueued || claim.To != queue.StateAnalyzing || claim.Attempts != 1 || claim.RequestID != "req-42" {
		t.Fatalf("claim transition = %#v", claim)
	}
}

func TestStats(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	register(t, store, "a")
	register(t, store, "b")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[queue.StateQueued] != 1 || stats[queue.StateAnalyzing] != 1 || stats[queue.StateReported] != 0 {
		t.Fatalf("stats = %v", stats)
	}
	if len(stats) != len(queue.AllStates()) {
		t.Fatalf("stats missing states: %v", stats)
	}
}

func TestOpenFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetryLimit(5))
	store := testsupport.MustOpenStore(t, cfg)
	if store.Path() != cfg.QueuePath() {
		t.Fatalf("path = %s, want %s", store.Path(), cfg.QueuePath())
	}
	if store.RetryLimit() != 5 {
		t.Fatalf("retry limit = %d", store.RetryLimit())
	}
	entry := testsupport.MustRegister(t, store, cfg, "sample.bin", []byte("payload"))
	if entry.State != queue.StateQueued {
		t.Fatalf("state = %s", entry.State)
	}
}
