package sandbox

import (
	"fmt"

	"quarantine/internal/config"
	"quarantine/internal/services"
)

// New builds the executor selected by cfg.
func New(cfg *config.Config) (Executor, error) {
	switch cfg.Analysis.Executor {
	case config.ExecutorProcess, "":
		return NewProcessExecutor(), nil
	case config.ExecutorContainer:
		return NewContainerExecutor(cfg.Analysis.ContainerRuntime, cfg.Analysis.ContainerImage), nil
	default:
		return nil, fmt.Errorf("%w: unknown executor %q", services.ErrConfiguration, cfg.Analysis.Executor)
	}
}
