package preflight

import (
	"context"
	"fmt"
	"net"

	"quarantine/internal/config"
	"quarantine/internal/sandbox"
)

// CheckExecutorFromConfig builds the configured executor and checks it.
func CheckExecutorFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Isolated executor"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	executor, err := sandbox.New(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return CheckExecutor(ctx, executor)
}

// CheckAPIBind verifies the status API address parses. It does not bind.
func CheckAPIBind(cfg *config.Config) Result {
	const name = "Status API"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if cfg.API.Bind == "" {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	host, port, err := net.SplitHostPort(cfg.API.Bind)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.API.Bind, err)}
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s (host is not an IP address)", cfg.API.Bind)}
	}
	detail := cfg.API.Bind
	if cfg.API.Token == "" {
		detail += " (no token)"
	}
	if port == "0" {
		detail += " (ephemeral port)"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}
