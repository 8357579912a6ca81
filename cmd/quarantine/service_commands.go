package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quarantine/internal/daemonrun"
	"quarantine/internal/ingest"
	"quarantine/internal/logging"
	"quarantine/internal/preflight"
	"quarantine/internal/queue"
)

type serviceFlags struct {
	logLevel      string
	skipPreflight bool
	development   bool
}

func (f *serviceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&f.skipPreflight, "skip-preflight", false, "Start even when critical preflight checks fail")
	cmd.Flags().BoolVar(&f.development, "dev", false, "Verbose development logging")
}

func runService(cmd *cobra.Command, ctx *commandContext, scope preflight.Scope, flags *serviceFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
		LogLevel:      flags.logLevel,
		Development:   flags.development,
		Scope:         scope,
		SkipPreflight: flags.skipPreflight,
	})
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags serviceFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: ingest, analyze and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd, ctx, preflight.FullScope, &flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var flags serviceFlags
	var once bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Watch the inbox and stage new files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !once {
				return runService(cmd, ctx, preflight.Scope{Ingest: true}, &flags)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Ingest.WatchDir); err != nil {
				return fmt.Errorf("watch directory: %w", err)
			}
			return ctx.withStore(func(store *queue.Store) error {
				watcher := ingest.New(cfg, store, logging.NewNop())
				summary, err := watcher.ScanOnce(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scanned %s\n", cfg.Ingest.WatchDir)
				fmt.Fprint(out, renderTable(
					[]string{"Outcome", "Files"},
					[][]string{
						{"Registered", fmt.Sprint(summary.Registered)},
						{"Duplicates", fmt.Sprint(summary.Duplicates)},
						{"Skipped", fmt.Sprint(summary.Skipped)},
						{"Unsettled", fmt.Sprint(summary.Unsettled)},
						{"Extracted", fmt.Sprint(summary.Extracted)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "Scan the inbox a single time and exit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the --once summary as JSON")
	return cmd
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var flags serviceFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run only the analysis dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd, ctx, preflight.Scope{Analyze: true}, &flags)
		},
	}
	flags.bind(cmd)
	return cmd
}
