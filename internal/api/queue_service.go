package api

import (
	"context"
	"errors"

	"quarantine/internal/journal"
	"quarantine/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	Snapshot(ctx context.Context) ([]queue.Entry, error)
	Stats(ctx context.Context) (map[queue.State]int, error)
	Get(ctx context.Context, id string) (*queue.Entry, error)
}

// HistoryReader abstracts the transition journal.
type HistoryReader interface {
	History(ctx context.Context, entryID string) ([]journal.Record, error)
}

// ErrHistoryUnavailable is returned by History when no journal is attached.
var ErrHistoryUnavailable = errors.New("transition journal unavailable")

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store   QueueReader
	history HistoryReader
}

// NewQueueService constructs a QueueService around the provided readers.
// history may be nil.
func NewQueueService(store QueueReader, history HistoryReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store, history: history}
}

// List returns queue entries, optionally filtered by state, in claim order.
func (s *QueueService) List(ctx context.Context, states ...queue.State) ([]QueueEntry, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entries, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(states) > 0 {
		entries = FilterEntries(entries, states...)
	}
	out := FromEntries(entries)
	for i := range out {
		out[i].Result = nil
	}
	return out, nil
}

// Stats returns queue summary counts keyed by state string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single queue entry. An unknown id yields (nil, nil).
func (s *QueueService) Describe(ctx context.Context, id string) (*QueueEntry, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entry, err := s.store.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, nil
	}
	if err != nil || entry == nil {
		return nil, err
	}
	dto := FromEntry(entry)
	return &dto, nil
}

// History returns the journaled transitions of one entry.
func (s *QueueService) History(ctx context.Context, id string) (HistoryResponse, error) {
	if s == nil || s.history == nil {
		return HistoryResponse{}, ErrHistoryUnavailable
	}
	records, err := s.history.History(ctx, id)
	if err != nil {
		return HistoryResponse{}, err
	}
	return HistoryResponse{EntryID: id, Transitions: FromRecords(records)}, nil
}
