// Package detector models the structured output of the external signature
// engine and converts it into the canonical form stored on queue entries.
package detector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"quarantine/internal/services"
)

// Output formats understood by Decode.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Match sources.
const (
	SourceSignature = "signature"
	SourceHeuristic = "heuristic"
)

var severities = []string{"info", "low", "medium", "high", "critical"}

// Match is one rule hit.
type Match struct {
	Rule        string   `json:"rule" msgpack:"rule"`
	Severity    string   `json:"severity,omitempty" msgpack:"severity"`
	Confidence  float64  `json:"confidence,omitempty" msgpack:"confidence"`
	Description string   `json:"description,omitempty" msgpack:"description"`
	Source      string   `json:"source,omitempty" msgpack:"source"`
	Strings     []string `json:"strings,omitempty" msgpack:"strings"`
}

// Indicators are network artifacts extracted from the file.
type Indicators struct {
	URLs    []string `json:"urls,omitempty" msgpack:"urls"`
	IPs     []string `json:"ips,omitempty" msgpack:"ips"`
	Domains []string `json:"domains,omitempty" msgpack:"domains"`
}

// Count returns the total number of indicators.
func (i Indicators) Count() int {
	return len(i.URLs) + len(i.IPs) + len(i.Domains)
}

// Result is the decoded detector output.
type Result struct {
	Engine     string     `json:"engine,omitempty" msgpack:"engine"`
	Version    string     `json:"version,omitempty" msgpack:"version"`
	Matches    []Match    `json:"matches" msgpack:"matches"`
	Indicators Indicators `json:"indicators" msgpack:"indicators"`
	Heuristics []string   `json:"heuristics,omitempty" msgpack:"heuristics"`
}

// Decode parses raw detector stdout. Output that cannot be decoded or
// violates the model is a deterministic rejection of the input.
func Decode(format string, data []byte) (*Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: detector produced no output", services.ErrRejected)
	}
	var result Result
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("%w: decode detector json: %v", services.ErrRejected, err)
		}
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("%w: decode detector msgpack: %v", services.ErrRejected, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown detector output format %q", services.ErrConfiguration, format)
	}
	if err := result.normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrRejected, err)
	}
	return &result, nil
}

// Parse decodes a stored canonical result.
func Parse(stored []byte) (*Result, error) {
	var result Result
	if err := json.Unmarshal(stored, &result); err != nil {
		return nil, fmt.Errorf("%w: stored result: %v", services.ErrValidation, err)
	}
	if err := result.normalize(); err != nil {
		return nil, fmt.Errorf("%w: stored result: %v", services.ErrValidation, err)
	}
	return &result, nil
}

// Canonical encodes the result in the stable JSON form persisted on entries.
func (r *Result) Canonical() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode detector result: %w", err)
	}
	return data, nil
}

func (r *Result) normalize() error {
	r.Engine = strings.TrimSpace(r.Engine)
	r.Version = strings.TrimSpace(r.Version)
	if r.Matches == nil {
		r.Matches = []Match{}
	}
	for i := range r.Matches {
		m := &r.Matches[i]
		m.Rule = strings.TrimSpace(m.Rule)
		if m.Rule == "" {
			return fmt.Errorf("match %d has no rule", i)
		}
		m.Severity = strings.ToLower(strings.TrimSpace(m.Severity))
		if m.Severity != "" && !slices.Contains(severities, m.Severity) {
			return fmt.Errorf("match %s: unknown severity %q", m.Rule, m.Severity)
		}
		if math.IsNaN(m.Confidence) || m.Confidence < 0 || m.Confidence > 1 {
			return fmt.Errorf("match %s: confidence %v outside [0,1]", m.Rule, m.Confidence)
		}
		m.Source = strings.ToLower(strings.TrimSpace(m.Source))
		if m.Source == "" {
			m.Source = SourceSignature
		}
		if len(m.Strings) == 0 {
			m.Strings = nil
		}
	}
	r.Indicators.URLs = sortedUnique(r.Indicators.URLs)
	r.Indicators.IPs = sortedUnique(r.Indicators.IPs)
	r.Indicators.Domains = sortedUnique(r.Indicators.Domains)
	r.Heuristics = sortedUnique(r.Heuristics)
	return nil
}

func sortedUnique(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}
