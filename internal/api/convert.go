package api

import (
	"slices"
	"time"

	"quarantine/internal/journal"
	"quarantine/internal/queue"
	"quarantine/internal/stage"
	"quarantine/internal/workflow"
)

// FromEntry converts a queue entry to its API representation.
func FromEntry(entry *queue.Entry) QueueEntry {
	if entry == nil {
		return QueueEntry{}
	}
	dto := QueueEntry{
		ID:           entry.ID,
		SourcePath:   entry.SourcePath,
		StagedPath:   entry.StagedPath,
		Size:         entry.Size,
		FileType:     entry.FileType,
		ParentID:     entry.ParentID,
		State:        string(entry.State),
		Attempts:     entry.Attempts,
		LastError:    entry.LastError,
		RiskLevel:    string(entry.RiskLevel),
		ReportPath:   entry.ReportPath,
		DiscoveredAt: FormatTime(entry.DiscoveredAt),
		UpdatedAt:    FormatTime(entry.UpdatedAt),
	}
	if entry.AnalyzedAt != nil {
		dto.AnalyzedAt = FormatTime(*entry.AnalyzedAt)
	}
	if entry.ReportedAt != nil {
		dto.ReportedAt = FormatTime(*entry.ReportedAt)
	}
	if len(entry.Result) > 0 {
		dto.Result = append([]byte(nil), entry.Result...)
	}
	return dto
}

// FromEntries converts a slice of queue entries into API DTOs.
func FromEntries(entries []queue.Entry) []QueueEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]QueueEntry, 0, len(entries))
	for i := range entries {
		out = append(out, FromEntry(&entries[i]))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		Workers:     summary.Workers,
		LastError:   summary.LastError,
		FatalError:  summary.FatalError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastEntry != nil {
		last := FromEntry(summary.LastEntry)
		last.Result = nil
		wf.LastEntry = &last
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of queue stats with
// every known state present.
func MergeQueueStats(stats map[queue.State]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, state := range queue.AllStates() {
		out[string(state)] = stats[state]
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Backend: h.Backend, Detail: h.Detail})
	}
	return out
}

// FromRecords converts journal records into API transitions.
func FromRecords(records []journal.Record) []Transition {
	out := make([]Transition, 0, len(records))
	for _, rec := range records {
		out = append(out, Transition{
			From:      string(rec.From),
			To:        string(rec.To),
			Attempts:  rec.Attempts,
			Reason:    rec.Reason,
			RequestID: rec.RequestID,
			At:        FormatTime(rec.CreatedAt),
		})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
