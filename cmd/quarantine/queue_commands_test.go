package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"quarantine/internal/api"
	"quarantine/internal/journal"
	"quarantine/internal/queue"
	"quarantine/internal/testsupport"
)

func TestQueueListAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	ctx := context.Background()

	testsupport.MustRegister(t, store, env.cfg, "first.exe", []byte("first"))
	testsupport.MustRegister(t, store, env.cfg, "second.exe", []byte("second"))
	broken, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Fail(ctx, broken.ID, "detector crashed", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	waiting := testsupport.SHA256([]byte("first"))
	if waiting == broken.ID {
		waiting = testsupport.SHA256([]byte("second"))
	}

	out, _, err := runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, api.ShortID(waiting))
	requireContains(t, out, api.ShortID(broken.ID))
	requireContains(t, out, "failed")

	out, _, err = runCLI(t, []string{"queue", "list", "--state", "failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	var list api.QueueListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(list.Entries) != 1 || list.Entries[0].ID != broken.ID || list.Entries[0].LastError != "detector crashed" {
		t.Fatalf("unexpected failed list: %+v", list.Entries)
	}

	out, _, err = runCLI(t, []string{"queue", "status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	var stats api.QueueStatsResponse
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out)
	}
	if stats.Counts["failed"] != 1 || stats.Counts["queued"] != 1 || stats.Counts["reported"] != 0 {
		t.Fatalf("unexpected counts: %v", stats.Counts)
	}

	out, _, err = runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status table: %v", err)
	}
	requireContains(t, out, "total")

	if _, _, err := runCLI(t, []string{"queue", "list", "--state", "pending"}, env.configPath); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestQueueListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Queue is empty")

	out, _, err = runCLI(t, []string{"queue", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	requireContains(t, out, `"entries": []`)
}

func TestQueueShow(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	entry := env.analyzed(t, store, "sample.bin", []byte("sample"))

	out, _, err := runCLI(t, []string{"queue", "show", entry.ID}, env.configPath)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, entry.ID)
	requireContains(t, out, "analyzed")

	out, _, err = runCLI(t, []string{"queue", "show", entry.ID, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show --json: %v", err)
	}
	var resp api.QueueEntryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode entry: %v\n%s", err, out)
	}
	if len(resp.Entry.Result) == 0 || resp.Entry.AnalyzedAt == "" {
		t.Fatalf("expected stored result in show output: %+v", resp.Entry)
	}

	if _, _, err := runCLI(t, []string{"queue", "show", "abc"}, env.configPath); err == nil {
		t.Fatal("expected malformed id to be rejected")
	}
	missing := testsupport.SHA256([]byte("never registered"))
	_, _, err = runCLI(t, []string{"queue", "show", missing}, env.configPath)
	if err == nil {
		t.Fatal("expected unknown id to fail")
	}
	requireContains(t, err.Error(), "not found")
}

func TestQueueRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	ctx := context.Background()

	entry := testsupport.MustRegister(t, store, env.cfg, "flaky.bin", []byte("flaky"))
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Fail(ctx, entry.ID, "timeout", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	other := testsupport.MustRegister(t, store, env.cfg, "queued.bin", []byte("queued"))

	if _, _, err := runCLI(t, []string{"queue", "retry", entry.ID, other.ID}, env.configPath); err == nil {
		t.Fatal("expected retry to refuse a non-failed entry")
	}
	got, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != queue.StateFailed {
		t.Fatalf("partial retry must not requeue anything, state=%s", got.State)
	}

	out, _, err := runCLI(t, []string{"queue", "retry", entry.ID}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Requeued 1 entry")
	got, err = store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != queue.StateQueued || got.Attempts != 0 || got.LastError != "" {
		t.Fatalf("unexpected entry after retry: %+v", got)
	}

	if _, _, err := runCLI(t, []string{"queue", "retry"}, env.configPath); err == nil {
		t.Fatal("expected retry without ids to fail")
	}
}

func TestQueueHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	j, err := journal.Open(env.cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	store := env.openStore(t, queue.WithObserver(j.Observer(nil)))
	entry := env.analyzed(t, store, "traced.bin", []byte("traced"))

	out, _, err := runCLI(t, []string{"queue", "history", entry.ID, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue history: %v", err)
	}
	var history api.HistoryResponse
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	var path []string
	for _, tr := range history.Transitions {
		path = append(path, tr.To)
	}
	if fmt.Sprint(path) != fmt.Sprint([]string{"queued", "analyzing", "analyzed"}) {
		t.Fatalf("unexpected history: %v", path)
	}

	out, _, err = runCLI(t, []string{"queue", "history", entry.ID}, env.configPath)
	if err != nil {
		t.Fatalf("queue history table: %v", err)
	}
	requireContains(t, out, "analyzing")

	unknown := testsupport.SHA256([]byte("unknown"))
	out, _, err = runCLI(t, []string{"queue", "history", unknown}, env.configPath)
	if err != nil {
		t.Fatalf("queue history unknown: %v", err)
	}
	requireContains(t, out, "No transitions recorded")
}
