package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quarantine/internal/ingest"
	"quarantine/internal/queue"
	"quarantine/internal/report"
	"quarantine/internal/testsupport"
)

func TestIngestOnceRegistersAndDeduplicates(t *testing.T) {
	env := setupCLITestEnv(t)
	content := []byte("MZ fake portable executable")
	testsupport.WriteContent(t, filepath.Join(env.cfg.Ingest.WatchDir, "a.exe"), content)
	testsupport.WriteContent(t, filepath.Join(env.cfg.Ingest.WatchDir, "nested", "copy.exe"), content)

	out, _, err := runCLI(t, []string{"ingest", "--once", "--json"}, env.configPath)
	require.NoError(t, err)
	var summary ingest.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary), out)
	require.Equal(t, 1, summary.Registered)
	require.Equal(t, 1, summary.Duplicates)

	store := env.openStore(t)
	entry, err := store.Get(context.Background(), testsupport.SHA256(content))
	require.NoError(t, err)
	require.Equal(t, queue.StateQueued, entry.State)
	require.FileExists(t, entry.StagedPath)

	out, _, err = runCLI(t, []string{"ingest", "--once"}, env.configPath)
	require.NoError(t, err)
	require.Contains(t, out, "Registered")
}

func TestIngestOnceRequiresWatchDir(t *testing.T) {
	env := setupCLITestEnv(t)
	require.NoError(t, os.RemoveAll(env.cfg.Ingest.WatchDir))
	_, _, err := runCLI(t, []string{"ingest", "--once"}, env.configPath)
	require.ErrorContains(t, err, "watch directory")
}

func TestReportRenderIsIdempotent(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	entry := env.analyzed(t, store, "render.bin", []byte("render me"))

	out, _, err := runCLI(t, []string{"report", "render", entry.ID}, env.configPath)
	require.NoError(t, err)
	require.Contains(t, out, "Risk: low")

	paths := report.PathsFor(env.cfg.Paths.ReportsDir, entry.ID)
	first, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	firstMD, err := os.ReadFile(paths.Markdown)
	require.NoError(t, err)

	_, _, err = runCLI(t, []string{"report", "render", entry.ID}, env.configPath)
	require.NoError(t, err)
	second, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	secondMD, err := os.ReadFile(paths.Markdown)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, firstMD, secondMD)

	after, err := store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StateAnalyzed, after.State, "re-render leaves the queue untouched")
}

func TestReportRenderRejectsUnanalyzedEntry(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	entry := testsupport.MustRegister(t, store, env.cfg, "fresh.bin", []byte("fresh"))

	_, _, err := runCLI(t, []string{"report", "render", entry.ID}, env.configPath)
	require.ErrorContains(t, err, "no analysis result")
}

func TestReportVerify(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.openStore(t)
	entry := env.analyzed(t, store, "signed.bin", []byte("signed"))

	_, _, err := runCLI(t, []string{"report", "render", entry.ID}, env.configPath)
	require.NoError(t, err)
	_, _, err = runCLI(t, []string{"report", "verify", entry.ID}, env.configPath)
	require.ErrorContains(t, err, "is not signed")

	keyDir := t.TempDir()
	privatePath, publicPath := testsupport.WriteKeyPair(t, keyDir, entry.AnalyzedAt.Add(-time.Hour))
	env.cfg.Report.SigningKey = privatePath
	env.cfg.Report.VerifyKeyring = publicPath
	env.rewriteConfig(t)

	out, _, err := runCLI(t, []string{"report", "render", entry.ID}, env.configPath)
	require.NoError(t, err)
	require.Contains(t, out, "Signature:")

	out, _, err = runCLI(t, []string{"report", "verify", entry.ID}, env.configPath)
	require.NoError(t, err)
	require.Contains(t, out, "Good signature")

	paths := report.PathsFor(env.cfg.Paths.ReportsDir, entry.ID)
	data, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.JSON, append(data, ' '), 0o644))
	_, _, err = runCLI(t, []string{"report", "verify", entry.ID}, env.configPath)
	require.Error(t, err)
}

func TestServiceCommandsRejectArguments(t *testing.T) {
	env := setupCLITestEnv(t)
	for _, args := range [][]string{{"run", "extra"}, {"analyze", "extra"}, {"report", "extra"}} {
		_, _, err := runCLI(t, args, env.configPath)
		require.Error(t, err, args)
	}
}
