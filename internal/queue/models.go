package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// State represents the lifecycle of a queue entry.
type State string

const (
	StateQueued    State = "queued"
	StateAnalyzing State = "analyzing"
	StateAnalyzed  State = "analyzed"
	StateReporting State = "reporting"
	StateReported  State = "reported"
	StateFailed    State = "failed"
)

var allStates = []State{
	StateQueued,
	StateAnalyzing,
	StateAnalyzed,
	StateReporting,
	StateReported,
	StateFailed,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateReported || s == StateFailed
}

// IsClaimed reports whether a worker currently owns an entry in this state.
func (s State) IsClaimed() bool {
	return s == StateAnalyzing || s == StateReporting
}

// RiskLevel is the report classification of an entry.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel converts a string into a known RiskLevel.
func ParseRiskLevel(value string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(value))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	}
	return "", false
}

// Entry is one distinct file content tracked by the store.
type Entry struct {
	ID           string          `json:"id"`
	SourcePath   string          `json:"source_path"`
	StagedPath   string          `json:"staged_path"`
	Size         int64           `json:"size"`
	FileType     string          `json:"file_type,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	State        State           `json:"state"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	AnalyzedAt   *time.Time      `json:"analyzed_at,omitempty"`
	RiskLevel    RiskLevel       `json:"risk_level,omitempty"`
	ReportPath   string          `json:"report_path,omitempty"`
	ReportedAt   *time.Time      `json:"reported_at,omitempty"`
}

// Clone returns a deep copy so callers never alias store-owned memory.
func (e Entry) Clone() Entry {
	cp := e
	if e.Result != nil {
		cp.Result = append(json.RawMessage(nil), e.Result...)
	}
	if e.AnalyzedAt != nil {
		t := *e.AnalyzedAt
		cp.AnalyzedAt = &t
	}
	if e.ReportedAt != nil {
		t := *e.ReportedAt
		cp.ReportedAt = &t
	}
	return cp
}

// Registration carries the ingestion metadata for a new entry.
type Registration struct {
	ID         string
	SourcePath string
	StagedPath string
	Size       int64
	FileType   string
	// ParentID is the digest of the archive the file was extracted from.
	ParentID string
}

// Transition records one committed state change. From is empty for registrations.
type Transition struct {
	EntryID   string
	From      State
	To        State
	Attempts  int
	Reason    string
	RequestID string
	At        time.Time
}

// RecoveryResult summarizes RecoverInterrupted.
type RecoveryResult struct {
	// Requeued lists analyzing entries returned to queued.
	Requeued []string
	// Failed lists analyzing entries that exhausted their retries.
	Failed []string
	// Reporting lists entries whose report was in flight; the report lane
	// resumes them.
	Reporting []Entry
}

// claimOrder is the FIFO order used by claims and snapshots: oldest
// discovered_at first, ties broken by id ascending.
func claimOrder(a, b *Entry) int {
	if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
