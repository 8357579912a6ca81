package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueEntry describes a queue entry in a transport-friendly format.
type QueueEntry struct {
	ID           string          `json:"id"`
	SourcePath   string          `json:"sourcePath"`
	StagedPath   string          `json:"stagedPath"`
	Size         int64           `json:"size"`
	FileType     string          `json:"fileType,omitempty"`
	ParentID     string          `json:"parentId,omitempty"`
	State        string          `json:"state"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"lastError,omitempty"`
	RiskLevel    string          `json:"riskLevel,omitempty"`
	ReportPath   string          `json:"reportPath,omitempty"`
	DiscoveredAt string          `json:"discoveredAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	AnalyzedAt   string          `json:"analyzedAt,omitempty"`
	ReportedAt   string          `json:"reportedAt,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	Workers     map[string]int `json:"workers"`
	LastError   string         `json:"lastError,omitempty"`
	FatalError  string         `json:"fatalError,omitempty"`
	LastEntry   *QueueEntry    `json:"lastEntry,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// IngestStatus reports watcher counters since the daemon started.
type IngestStatus struct {
	Running    bool   `json:"running"`
	WatchDir   string `json:"watchDir"`
	Registered int    `json:"registered"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Extracted  int    `json:"extracted"`
	LastError  string `json:"lastError,omitempty"`
}

// RecoveryStatus reports what crash recovery did at startup.
type RecoveryStatus struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
	Resumed  int `json:"resumed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueuePath    string         `json:"queuePath"`
	JournalPath  string         `json:"journalPath,omitempty"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
	Ingest       *IngestStatus  `json:"ingest,omitempty"`
	Recovery     RecoveryStatus `json:"recovery"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of queue entries for API responses.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueEntryResponse wraps a single queue entry.
type QueueEntryResponse struct {
	Entry QueueEntry `json:"entry"`
}

// Transition is one journaled state change.
type Transition struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	At        string `json:"at"`
}

// HistoryResponse lists the transitions recorded for one entry, oldest first.
type HistoryResponse struct {
	EntryID     string       `json:"entryId"`
	Transitions []Transition `json:"transitions"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
