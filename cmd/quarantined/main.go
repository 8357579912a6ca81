// Command quarantined runs the full ingestion, analysis and report pipeline
// as a long-lived service. It is equivalent to `quarantine run`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"quarantine/internal/config"
	"quarantine/internal/daemonrun"
)

func main() {
	if err := newDaemonCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newDaemonCommand() *cobra.Command {
	var configPath string
	var logLevel string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:           "quarantined",
		Short:         "Quarantine pipeline daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:      logLevel,
				SkipPreflight: skipPreflight,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when critical preflight checks fail")
	return cmd
}
