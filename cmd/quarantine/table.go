package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"quarantine/internal/preflight"
	"quarantine/internal/queue"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render() + "\n"
}

// colorEnabled reports whether w is an interactive terminal that should
// receive ANSI colors. NO_COLOR disables colors everywhere.
func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func stateLabel(state string, color bool) string {
	if !color {
		return state
	}
	switch queue.State(state) {
	case queue.StateFailed:
		return text.Colors{text.FgRed, text.Bold}.Sprint(state)
	case queue.StateReported:
		return text.FgGreen.Sprint(state)
	case queue.StateAnalyzing, queue.StateReporting:
		return text.FgCyan.Sprint(state)
	default:
		return state
	}
}

func riskLabel(risk string, color bool) string {
	if risk == "" {
		return "-"
	}
	if !color {
		return risk
	}
	switch queue.RiskLevel(risk) {
	case queue.RiskHigh:
		return text.Colors{text.FgRed, text.Bold}.Sprint(risk)
	case queue.RiskMedium:
		return text.FgYellow.Sprint(risk)
	default:
		return text.FgGreen.Sprint(risk)
	}
}

func checkLabel(r preflight.Result, color bool) string {
	label, c := "fail", text.Colors{text.FgRed, text.Bold}
	switch {
	case r.Passed:
		label, c = "ok", text.Colors{text.FgGreen}
	case r.Optional:
		label, c = "warn", text.Colors{text.FgYellow}
	}
	if !color {
		return label
	}
	return c.Sprint(label)
}
