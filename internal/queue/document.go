package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
)

// documentVersion is the persisted format version. Bump it when the shape of
// Entry changes incompatibly.
const documentVersion = 1

var idPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidID reports whether id is a lower-case hex SHA-256 digest.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type document struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`

	index map[string]*Entry
}

func newDocument() *document {
	return &document{Version: documentVersion, Entries: []*Entry{}, index: map[string]*Entry{}}
}

func (d *document) get(id string) *Entry {
	return d.index[id]
}

func (d *document) add(entry *Entry) {
	d.Entries = append(d.Entries, entry)
	d.index[entry.ID] = entry
}

// oldest returns the first entry in claim order with the given state.
func (d *document) oldest(state State) *Entry {
	var best *Entry
	for _, entry := range d.Entries {
		if entry.State != state {
			continue
		}
		if best == nil || claimOrder(entry, best) < 0 {
			best = entry
		}
	}
	return best
}

// readDocument loads and validates the document at path. A missing file is an
// empty store; anything unreadable or invalid is ErrCorrupt.
func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue document: %w", err)
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (*document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, corruptf("document is empty")
	}
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, corruptf("decode: %v", err)
	}
	if dec.More() {
		return nil, corruptf("trailing data after document")
	}
	if doc.Version != documentVersion {
		return nil, corruptf("unsupported version %d", doc.Version)
	}
	if doc.Entries == nil {
		doc.Entries = []*Entry{}
	}
	doc.index = make(map[string]*Entry, len(doc.Entries))
	for i, entry := range doc.Entries {
		if entry == nil {
			return nil, corruptf("entry %d is null", i)
		}
		if err := validateEntry(entry); err != nil {
			return nil, corruptf("entry %d: %v", i, err)
		}
		if _, dup := doc.index[entry.ID]; dup {
			return nil, corruptf("duplicate id %s", entry.ID)
		}
		doc.index[entry.ID] = entry
	}
	return &doc, nil
}

func validateEntry(entry *Entry) error {
	if !ValidID(entry.ID) {
		return fmt.Errorf("invalid id %q", entry.ID)
	}
	if entry.ParentID != "" && !ValidID(entry.ParentID) {
		return fmt.Errorf("invalid parent id %q", entry.ParentID)
	}
	if _, ok := stateSet[entry.State]; !ok {
		return fmt.Errorf("unknown state %q", entry.State)
	}
	if entry.Attempts < 0 {
		return fmt.Errorf("negative attempts %d", entry.Attempts)
	}
	if entry.DiscoveredAt.IsZero() {
		return fmt.Errorf("missing discovered_at")
	}
	switch entry.State {
	case StateAnalyzed, StateReporting, StateReported:
		if len(entry.Result) == 0 {
			return fmt.Errorf("%s entry without result", entry.State)
		}
	}
	if entry.State == StateReported {
		if _, ok := ParseRiskLevel(string(entry.RiskLevel)); !ok {
			return fmt.Errorf("reported entry with risk level %q", entry.RiskLevel)
		}
	}
	if entry.State == StateAnalyzing && entry.Attempts == 0 {
		return fmt.Errorf("analyzing entry with zero attempts")
	}
	return nil
}

func encodeDocument(doc *document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode queue document: %w", err)
	}
	return append(data, '\n'), nil
}
