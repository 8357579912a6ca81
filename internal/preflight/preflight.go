package preflight

import (
	"context"

	"quarantine/internal/config"
	"quarantine/internal/sandbox"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional results never block startup.
	Optional bool
}

// Scope selects which pipeline services the checks cover.
type Scope struct {
	Ingest  bool
	Analyze bool
	Report  bool
}

// FullScope covers every service.
var FullScope = Scope{Ingest: true, Analyze: true, Report: true}

// RunAll executes all applicable preflight checks for the given config.
// A nil executor is built from cfg when scope includes analysis.
func RunAll(ctx context.Context, cfg *config.Config, executor sandbox.Executor, scope Scope) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory (always checked)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if scope.Ingest {
		results = append(results, CheckDirectoryReadable("Watch directory", cfg.Ingest.WatchDir))
		results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	}

	if scope.Analyze {
		if executor == nil {
			results = append(results, CheckExecutorFromConfig(ctx, cfg))
		} else {
			results = append(results, CheckExecutor(ctx, executor))
		}
		results = append(results, CheckDetectorCommand(cfg))
		if result, ok := CheckStagingTraversal(cfg); ok {
			results = append(results, result)
		}
	}

	if scope.Report {
		results = append(results, CheckDirectoryAccess("Reports directory", cfg.Paths.ReportsDir))
		results = append(results, CheckPolicy(cfg))
		if cfg.Report.SigningKey != "" {
			results = append(results, CheckSigningKey(cfg))
		}
	}

	if cfg.API.Bind != "" {
		results = append(results, CheckAPIBind(cfg))
	}
	return results
}

// Failed returns the non-optional results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
