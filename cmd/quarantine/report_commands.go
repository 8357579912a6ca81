package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"quarantine/internal/logging"
	"quarantine/internal/preflight"
	"quarantine/internal/queue"
	"quarantine/internal/report"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var flags serviceFlags
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Run only the report compiler, or re-render and verify reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd, ctx, preflight.Scope{Report: true}, &flags)
		},
	}
	flags.bind(reportCmd)

	reportCmd.AddCommand(newReportRenderCommand(ctx))
	reportCmd.AddCommand(newReportVerifyCommand(ctx))
	return reportCmd
}

func newReportRenderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "render <id>",
		Short: "Re-render the report artifacts of an analyzed entry",
		Long: "Re-render writes the JSON, markdown and (when signing is configured) signature\n" +
			"artifacts again from the stored detector result. Output is byte-identical to\n" +
			"the original render and the queue entry is left untouched.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entry, err := store.Get(cmd.Context(), id)
				if err != nil {
					return notFoundHint(err, id)
				}
				if entry.AnalyzedAt == nil || len(entry.Result) == 0 {
					return fmt.Errorf("entry %s has no analysis result (state %s)", id, entry.State)
				}
				stage, err := report.NewStage(cfg, logging.NewNop())
				if err != nil {
					return err
				}
				paths, artifacts, err := stage.Write(entry)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Risk: %s (%s)\n", artifacts.Assessment.Level, artifacts.Assessment.Recommendation)
				fmt.Fprintf(out, "JSON: %s\n", paths.JSON)
				fmt.Fprintf(out, "Markdown: %s\n", paths.Markdown)
				if strings.TrimSpace(cfg.Report.SigningKey) != "" {
					fmt.Fprintf(out, "Signature: %s\n", paths.Signature)
				}
				return nil
			})
		},
	}
}

func newReportVerifyCommand(ctx *commandContext) *cobra.Command {
	var keyring string
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify the detached signature of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if keyring == "" {
				keyring = cfg.Report.VerifyKeyring
			}
			paths := report.PathsFor(cfg.Paths.ReportsDir, id)
			data, err := os.ReadFile(paths.JSON)
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			signature, err := os.ReadFile(paths.Signature)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("report %s is not signed", report.ReportID(id))
			}
			if err != nil {
				return fmt.Errorf("read signature: %w", err)
			}
			fingerprint, err := report.Verify(keyring, data, signature)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Good signature on %s from key %s\n", report.ReportID(id), fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyring, "keyring", "", "Armored public keyring (defaults to report.verify_keyring)")
	return cmd
}

// parseEntryID accepts a full lowercase or uppercase SHA-256 digest.
func parseEntryID(value string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(value))
	if !queue.ValidID(id) {
		return "", fmt.Errorf("invalid entry id %q: expected a 64-character SHA-256 digest", value)
	}
	return id, nil
}

func notFoundHint(err error, id string) error {
	if errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("queue entry %s not found", id)
	}
	return err
}
