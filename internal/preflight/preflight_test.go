package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"quarantine/internal/config"
	"quarantine/internal/sandbox"
	"quarantine/internal/testsupport"
)

type stubExecutor struct {
	err error
}

func (s stubExecutor) Run(context.Context, sandbox.Command, sandbox.Constraints, time.Duration) (sandbox.Result, error) {
	return sandbox.Result{}, nil
}

func (stubExecutor) Name() string { return "stub" }

func (s stubExecutor) Available(context.Context) error { return s.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Empty(t *testing.T) {
	if result := CheckDirectoryReadable("test", ""); result.Passed {
		t.Fatal("expected failure for unconfigured path")
	}
}

func TestCheckExecutor(t *testing.T) {
	if result := CheckExecutor(context.Background(), stubExecutor{}); !result.Passed || result.Detail != "stub" {
		t.Fatalf("expected pass, got %+v", result)
	}
	result := CheckExecutor(context.Background(), stubExecutor{err: errors.New("no namespaces")})
	if result.Passed || !strings.Contains(result.Detail, "no namespaces") {
		t.Fatalf("expected failure with detail, got %+v", result)
	}
	if result := CheckExecutor(context.Background(), nil); result.Passed {
		t.Fatal("expected failure for nil executor")
	}
}

func TestCheckDetectorCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorScript(`echo '{"matches":[]}'`))
	if result := CheckDetectorCommand(cfg); !result.Passed {
		t.Fatalf("expected detector script to resolve, got %s", result.Detail)
	}

	cfg.Analysis.DetectorCommand = filepath.Join(testsupport.BaseDir(cfg), "missing-detector")
	if result := CheckDetectorCommand(cfg); result.Passed {
		t.Fatal("expected failure for missing detector")
	}

	cfg.Analysis.Executor = config.ExecutorContainer
	if result := CheckDetectorCommand(cfg); !result.Passed || !result.Optional {
		t.Fatalf("expected advisory pass for container executor, got %+v", result)
	}
}

func TestCheckPolicy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if result := CheckPolicy(cfg); !result.Passed {
		t.Fatalf("expected built-in policy to pass, got %s", result.Detail)
	}
	cfg.Report.PolicyFile = filepath.Join(testsupport.BaseDir(cfg), "policy.yaml")
	if err := os.WriteFile(cfg.Report.PolicyFile, []byte("unknown_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckPolicy(cfg); result.Passed {
		t.Fatal("expected invalid policy to fail")
	}
}

func TestCheckSigningKeyMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Report.SigningKey = filepath.Join(testsupport.BaseDir(cfg), "missing.asc")
	if result := CheckSigningKey(cfg); result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestCheckAPIBind(t *testing.T) {
	cases := []struct {
		bind     string
		passed   bool
		optional bool
	}{
		{bind: "", passed: true, optional: true},
		{bind: "127.0.0.1:7488", passed: true},
		{bind: "localhost:0", passed: true},
		{bind: "no-port", passed: false},
		{bind: "example.com:80", passed: false, optional: true},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.API.Bind = tc.bind
		result := CheckAPIBind(&cfg)
		if result.Passed != tc.passed || result.Optional != tc.optional {
			t.Errorf("bind %q: got %+v", tc.bind, result)
		}
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil, FullScope)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_FullScope(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorScript(`echo '{"matches":[]}'`))
	// Run the detector as the test user so the traversal check stays out of scope.
	cfg.Analysis.RunAsUID = 0
	results := RunAll(context.Background(), cfg, stubExecutor{}, FullScope)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected every check to pass, got %+v", failed)
	}
	names := make(map[string]bool, len(results))
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"State directory", "Watch directory", "Staging directory", "Isolated executor", "Detector command", "Reports directory", "Risk policy", "Status API"} {
		if !names[want] {
			t.Errorf("expected %q in results", want)
		}
	}
}

func TestRunAll_IngestOnlySkipsAnalysis(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = ""
	results := RunAll(context.Background(), cfg, nil, Scope{Ingest: true})
	for _, r := range results {
		if r.Name == "Isolated executor" || r.Name == "Risk policy" {
			t.Fatalf("unexpected check %q for ingest-only scope", r.Name)
		}
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestCheckStagingTraversal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if unix.Geteuid() != 0 {
		if _, ok := CheckStagingTraversal(cfg); ok {
			t.Fatal("traversal check applies only when privileges are dropped")
		}
		t.Skip("privilege drop requires root")
	}
	base := testsupport.BaseDir(cfg)
	if err := os.Chmod(base, 0o700); err != nil {
		t.Fatal(err)
	}
	if result, ok := CheckStagingTraversal(cfg); !ok || result.Passed {
		t.Fatalf("expected failure for a private parent, got %+v", result)
	}
	if err := os.Chmod(base, 0o711); err != nil {
		t.Fatal(err)
	}
	parent := filepath.Dir(base)
	if info, err := os.Stat(parent); err != nil || info.Mode().Perm()&0o001 == 0 {
		t.Skip("temp dir parent is not world-traversable")
	}
	if result, ok := CheckStagingTraversal(cfg); !ok || !result.Passed {
		t.Fatalf("expected pass once parents are traversable, got %+v", result)
	}
}

func TestFailedIgnoresOptional(t *testing.T) {
	failed := Failed([]Result{
		{Name: "a", Passed: true},
		{Name: "b", Optional: true},
		{Name: "c"},
	})
	if len(failed) != 1 || failed[0].Name != "c" {
		t.Fatalf("unexpected failed set: %+v", failed)
	}
}
