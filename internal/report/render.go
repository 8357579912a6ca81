package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"quarantine/internal/detector"
	"quarantine/internal/queue"
	"quarantine/internal/services"
	"quarantine/internal/stage"
)

// maxStrings bounds the matched strings listed per rule in markdown.
const maxStrings = 10

// Paths are the artifact locations for one entry.
type Paths struct {
	JSON      string
	Markdown  string
	Signature string
}

// PathsFor names the artifacts of entry id inside reportsDir.
func PathsFor(reportsDir, id string) Paths {
	base := filepath.Join(reportsDir, ReportID(id))
	return Paths{
		JSON:      base + ".json",
		Markdown:  base + ".md",
		Signature: base + ".json.asc",
	}
}

// ReportID is the deterministic report name of an entry.
func ReportID(id string) string {
	return "report-" + id
}

// FileInfo describes the analyzed file.
type FileInfo struct {
	SHA256        string    `json:"sha256"`
	SourcePath    string    `json:"source_path"`
	FileType      string    `json:"file_type,omitempty"`
	ExtractedFrom string    `json:"extracted_from,omitempty"`
	Size          int64     `json:"size"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	Attempts      int       `json:"analysis_attempts"`
}

// DetectorInfo identifies the engine that produced the result.
type DetectorInfo struct {
	Engine  string `json:"engine,omitempty"`
	Version string `json:"version,omitempty"`
}

// Document is the structured report. Field order is the serialized order.
type Document struct {
	ReportID    string              `json:"report_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	File        FileInfo            `json:"file"`
	Risk        Assessment          `json:"risk"`
	Detector    DetectorInfo        `json:"detector"`
	Matches     []detector.Match    `json:"matches"`
	Indicators  detector.Indicators `json:"indicators"`
	Heuristics  []string            `json:"heuristics"`
}

// Artifacts holds rendered report bytes.
type Artifacts struct {
	Document   Document
	JSON       []byte
	Markdown   []byte
	Assessment Assessment
}

// Render builds both report forms from stored entry state only. Calling it
// twice for the same stored entry yields identical bytes.
func Render(entry *queue.Entry, policy *Policy) (*Artifacts, error) {
	if entry == nil {
		return nil, services.Wrap(services.ErrValidation, "report", "render", "No entry to render", nil)
	}
	if entry.AnalyzedAt == nil {
		return nil, services.Wrap(services.ErrValidation, "report", "render",
			fmt.Sprintf("Entry %s has no analysis timestamp", entry.ID), nil)
	}
	result, err := stage.ParseResult(entry)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	assessment := policy.Assess(result)

	heuristics := result.Heuristics
	if heuristics == nil {
		heuristics = []string{}
	}
	doc := Document{
		ReportID:    ReportID(entry.ID),
		GeneratedAt: entry.AnalyzedAt.UTC(),
		File: FileInfo{
			SHA256:        entry.ID,
			SourcePath:    entry.SourcePath,
			FileType:      entry.FileType,
			ExtractedFrom: entry.ParentID,
			Size:          entry.Size,
			DiscoveredAt:  entry.DiscoveredAt.UTC(),
			Attempts:      entry.Attempts,
		},
		Risk:       assessment,
		Detector:   DetectorInfo{Engine: result.Engine, Version: result.Version},
		Matches:    result.Matches,
		Indicators: result.Indicators,
		Heuristics: heuristics,
	}

	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report json: %w", err)
	}
	jsonData = append(jsonData, '\n')

	return &Artifacts{
		Document:   doc,
		JSON:       jsonData,
		Markdown:   renderMarkdown(doc),
		Assessment: assessment,
	}, nil
}

func renderMarkdown(doc Document) []byte {
	var b bytes.Buffer
	name := filepath.Base(doc.File.SourcePath)
	if name == "." || name == "/" || name == "" {
		name = doc.File.SHA256
	}

	fmt.Fprintf(&b, "# Quarantine Report: %s\n\n", escapeText(name))
	fmt.Fprintf(&b, "- **Report ID:** %s\n", doc.ReportID)
	fmt.Fprintf(&b, "- **Generated:** %s\n", formatTime(doc.GeneratedAt))
	fmt.Fprintf(&b, "- **Risk:** %s (score %d)\n", riskLabel(doc.Risk.Level), doc.Risk.Score)
	fmt.Fprintf(&b, "- **Recommendation:** %s\n", doc.Risk.Recommendation)

	b.WriteString("\n## File Information\n\n")
	b.WriteString("| Field | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Original path | `%s` |\n", escapeCell(doc.File.SourcePath))
	fmt.Fprintf(&b, "| SHA-256 | `%s` |\n", doc.File.SHA256)
	fmt.Fprintf(&b, "| File type | %s |\n", orDash(escapeCell(doc.File.FileType)))
	if doc.File.ExtractedFrom != "" {
		fmt.Fprintf(&b, "| Extracted from | `%s` |\n", doc.File.ExtractedFrom)
	}
	fmt.Fprintf(&b, "| Size | %d bytes |\n", doc.File.Size)
	fmt.Fprintf(&b, "| Discovered | %s |\n", formatTime(doc.File.DiscoveredAt))
	fmt.Fprintf(&b, "| Analysis attempts | %d |\n", doc.File.Attempts)

	b.WriteString("\n## Risk Assessment\n\n")
	for _, reason := range doc.Risk.Reasons {
		fmt.Fprintf(&b, "- %s\n", escapeText(reason))
	}

	b.WriteString("\n## Matches\n\n")
	if len(doc.Matches) == 0 {
		b.WriteString("No matches.\n")
	} else {
		b.WriteString("| Rule | Severity | Confidence | Source | Description |\n")
		b.WriteString("| --- | --- | --- | --- | --- |\n")
		for _, m := range doc.Matches {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				escapeCell(m.Rule),
				orDash(m.Severity),
				formatConfidence(m.Confidence),
				m.Source,
				orDash(escapeCell(m.Description)),
			)
		}
		writeStrings(&b, doc.Matches)
	}

	b.WriteString("\n## Network Indicators\n\n")
	if doc.Indicators.Count() == 0 {
		b.WriteString("None.\n")
	} else {
		first := writeList(&b, "URLs", doc.Indicators.URLs, true)
		first = writeList(&b, "IP addresses", doc.Indicators.IPs, first)
		writeList(&b, "Domains", doc.Indicators.Domains, first)
	}

	b.WriteString("\n## Heuristics\n\n")
	if len(doc.Heuristics) == 0 {
		b.WriteString("None.\n")
	} else {
		for _, h := range doc.Heuristics {
			fmt.Fprintf(&b, "- %s\n", escapeText(h))
		}
	}

	b.WriteString("\n## Detector\n\n")
	fmt.Fprintf(&b, "- Engine: %s\n", orDash(escapeText(doc.Detector.Engine)))
	fmt.Fprintf(&b, "- Version: %s\n", orDash(escapeText(doc.Detector.Version)))
	return b.Bytes()
}

func writeStrings(b *bytes.Buffer, matches []detector.Match) {
	for _, m := range matches {
		if len(m.Strings) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n### Strings: %s\n\n", escapeText(m.Rule))
		shown := m.Strings
		if len(shown) > maxStrings {
			shown = shown[:maxStrings]
		}
		for _, s := range shown {
			fmt.Fprintf(b, "- `%s`\n", strings.ReplaceAll(s, "`", "'"))
		}
		if extra := len(m.Strings) - len(shown); extra > 0 {
			fmt.Fprintf(b, "- ... (%d more)\n", extra)
		}
	}
}

func writeList(b *bytes.Buffer, title string, values []string, first bool) bool {
	if len(values) == 0 {
		return first
	}
	if !first {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, v := range values {
		fmt.Fprintf(b, "- `%s`\n", strings.ReplaceAll(v, "`", "'"))
	}
	return false
}

// riskLabel builds a fresh Caser per call; Casers are stateful and must not
// be shared across report workers.
func riskLabel(level queue.RiskLevel) string {
	return cases.Title(language.English).String(string(level))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatConfidence(c float64) string {
	if c == 0 {
		return "-"
	}
	return strconv.FormatFloat(c, 'f', 2, 64)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func escapeText(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
