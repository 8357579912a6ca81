package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"quarantine/internal/config"
	"quarantine/internal/queue"
	"quarantine/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

// setupCLITestEnv writes a config file for an isolated temp tree with a
// detector stub that always reports a clean result.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("NO_COLOR", "1")
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorScript(`echo '{"engine":"stub","matches":[]}'`))
	cfg.Analysis.RunAsUID = 0
	cfg.Analysis.RunAsGID = 0

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "quarantine.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}

func (e *cliTestEnv) openStore(t *testing.T, opts ...queue.Option) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg, opts...)
}

// analyzed registers content and drives it to the analyzed state.
func (e *cliTestEnv) analyzed(t *testing.T, store *queue.Store, name string, content []byte) *queue.Entry {
	t.Helper()
	ctx := context.Background()
	entry := testsupport.MustRegister(t, store, e.cfg, name, content)
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Complete(ctx, entry.ID, []byte(`{"engine":"stub","matches":[]}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func (e *cliTestEnv) rewriteConfig(t *testing.T) {
	t.Helper()
	data, err := toml.Marshal(e.cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(e.configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
