package api

import (
	"slices"
	"strings"
	"time"

	"quarantine/internal/queue"
)

// FilterEntries keeps entries whose state is one of states.
func FilterEntries(entries []queue.Entry, states ...queue.State) []queue.Entry {
	if len(states) == 0 {
		return entries
	}
	out := make([]queue.Entry, 0, len(entries))
	for _, entry := range entries {
		if slices.Contains(states, entry.State) {
			out = append(out, entry)
		}
	}
	return out
}

// SortQueueEntriesNewestFirst orders entries by DiscoveredAt descending,
// breaking ties by ID descending.
func SortQueueEntriesNewestFirst(entries []QueueEntry) []QueueEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]QueueEntry, len(entries))
	copy(sorted, entries)
	slices.SortStableFunc(sorted, func(a, b QueueEntry) int {
		ta := ParseQueueTime(a.DiscoveredAt)
		tb := ParseQueueTime(b.DiscoveredAt)
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return sorted
}

// ParseQueueTime parses an API timestamp. Unparseable values yield the zero time.
func ParseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ShortID abbreviates a fingerprint for tables and log lines.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
