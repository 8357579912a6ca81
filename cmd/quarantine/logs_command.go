package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"quarantine/internal/logging"
	"quarantine/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var entry string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the current daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := logs.Contains(entry)
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			result, err := logs.Tail(path, lines, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&entry, "entry", "", "Only show lines mentioning this entry id")
	return cmd
}
