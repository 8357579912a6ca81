package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quarantine/internal/api"
	"quarantine/internal/journal"
	"quarantine/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := api.NewQueueService(store, nil).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}
				rows := buildQueueStatusRows(stats, colorEnabled(cmd.OutOrStdout()))
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print counts as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stateFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries in claim order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := parseStates(stateFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entries, err := api.NewQueueService(store, nil).List(cmd.Context(), states...)
				if err != nil {
					return err
				}
				if asJSON {
					if entries == nil {
						entries = []api.QueueEntry{}
					}
					return writeJSON(cmd, api.QueueListResponse{Entries: entries})
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Source", "State", "Attempts", "Risk", "Discovered"},
					buildQueueListRows(entries, colorEnabled(cmd.OutOrStdout())),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&stateFlags, "state", "s", nil, "Filter by queue state (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entry, err := api.NewQueueService(store, nil).Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("queue entry %s not found", id)
				}
				if asJSON {
					return writeJSON(cmd, api.QueueEntryResponse{Entry: *entry})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderEntryDetail(*entry, colorEnabled(cmd.OutOrStdout())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the entry, including the detector result, as JSON")
	return cmd
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the journaled state transitions of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			return ctx.withJournal(func(j *journal.Journal) error {
				history, err := api.NewQueueService(emptyQueue{}, j).History(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					if history.Transitions == nil {
						history.Transitions = []api.Transition{}
					}
					return writeJSON(cmd, history)
				}
				if len(history.Transitions) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No transitions recorded for %s\n", api.ShortID(id))
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"At", "From", "To", "Attempts", "Reason"},
					buildHistoryRows(history.Transitions),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print transitions as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Return failed entries to the queue",
		Long: "Retry moves the named failed entries back to queued with their attempt\n" +
			"counters reset. Either every named entry is retried or none is.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := parseEntryID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d %s\n", count, pluralize(count, "entry", "entries"))
				return nil
			})
		},
	}
}

func parseStates(values []string) ([]queue.State, error) {
	var states []queue.State
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			state, ok := queue.ParseState(part)
			if !ok {
				return nil, fmt.Errorf("unknown queue state %q", part)
			}
			states = append(states, state)
		}
	}
	return states, nil
}

func buildQueueStatusRows(stats map[string]int, color bool) [][]string {
	rows := make([][]string, 0, len(stats)+1)
	total := 0
	for _, state := range queue.AllStates() {
		count := stats[string(state)]
		total += count
		rows = append(rows, []string{stateLabel(string(state), color), strconv.Itoa(count)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	return rows
}

func buildQueueListRows(entries []api.QueueEntry, color bool) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			api.ShortID(entry.ID),
			entry.SourcePath,
			stateLabel(entry.State, color),
			strconv.Itoa(entry.Attempts),
			riskLabel(entry.RiskLevel, color),
			entry.DiscoveredAt,
		})
	}
	return rows
}

func buildHistoryRows(transitions []api.Transition) [][]string {
	rows := make([][]string, 0, len(transitions))
	for _, tr := range transitions {
		from := tr.From
		if from == "" {
			from = "-"
		}
		reason := tr.Reason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{tr.At, from, tr.To, strconv.Itoa(tr.Attempts), reason})
	}
	return rows
}

func renderEntryDetail(entry api.QueueEntry, color bool) string {
	rows := [][]string{
		{"ID", entry.ID},
		{"Source", entry.SourcePath},
		{"Staged", entry.StagedPath},
		{"Size", strconv.FormatInt(entry.Size, 10)},
		{"Type", orDash(entry.FileType)},
		{"Extracted from", orDash(entry.ParentID)},
		{"State", stateLabel(entry.State, color)},
		{"Attempts", strconv.Itoa(entry.Attempts)},
		{"Discovered", entry.DiscoveredAt},
		{"Updated", entry.UpdatedAt},
		{"Analyzed", orDash(entry.AnalyzedAt)},
		{"Risk", riskLabel(entry.RiskLevel, color)},
		{"Report", orDash(entry.ReportPath)},
		{"Reported", orDash(entry.ReportedAt)},
		{"Last error", orDash(entry.LastError)},
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// emptyQueue satisfies api.QueueReader for journal-only queries.
type emptyQueue struct{}

func (emptyQueue) Snapshot(context.Context) ([]queue.Entry, error) { return nil, nil }
func (emptyQueue) Stats(context.Context) (map[queue.State]int, error) {
	return map[queue.State]int{}, nil
}
func (emptyQueue) Get(_ context.Context, id string) (*queue.Entry, error) {
	return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
}
