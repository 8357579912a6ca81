package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quarantine/internal/api"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
	"quarantine/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and sweep the staging directory",
	}
	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingPruneCommand(ctx))
	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staged copies and the queue state that references them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entries, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				states := make(map[string]string, len(entries))
				for _, entry := range entries {
					states[entry.ID] = string(entry.State)
				}
				items, err := staging.List(cfg.Paths.StagingDir)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Staging directory is empty")
					return nil
				}
				color := colorEnabled(cmd.OutOrStdout())
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					state, ok := states[item.Name]
					switch {
					case item.Temp:
						state = "temp"
					case !ok:
						state = "orphaned"
					}
					rows = append(rows, []string{
						api.ShortID(item.Name),
						strconv.FormatInt(item.Size, 10),
						item.ModTime.UTC().Format(time.RFC3339),
						stateLabel(state, color),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Bytes", "Modified", "State"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newStagingPruneCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove staged copies no queue entry references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entries, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				result := staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, staging.Referenced(entries), grace, logging.NewNop())
				out := cmd.OutOrStdout()
				for _, path := range result.Removed {
					fmt.Fprintf(out, "Removed %s\n", path)
				}
				for _, e := range result.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: %s: %v\n", e.Path, e.Error)
				}
				fmt.Fprintf(out, "Pruned %d staged %s\n", len(result.Removed), pluralize(len(result.Removed), "file", "files"))
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d staged files could not be removed", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", staging.DefaultGrace, "Keep files modified more recently than this")
	return cmd
}
