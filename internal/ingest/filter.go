package ingest

import (
	"path/filepath"
	"slices"
	"strings"

	"quarantine/internal/config"
)

// tempExtensions mark files that browsers and download managers are still
// writing.
var tempExtensions = []string{
	".crdownload", ".part", ".download", ".inprogress", "._mp", ".partial",
	".dms", ".bak", ".opdownload", ".!ut", ".bc!", ".xltd", ".filepart",
	".tmp", ".unfinished", ".aria2",
}

// Filter decides which paths under the watch root are ingested.
type Filter struct {
	extensions []string
	patterns   []string
}

// NewFilter builds a filter. Empty lists accept everything.
func NewFilter(extensions, patterns []string) Filter {
	return Filter{
		extensions: config.NormalizeExtensions(extensions),
		patterns:   slices.Clone(patterns),
	}
}

// Accept reports whether the file at path should be ingested.
func (f Filter) Accept(path string) bool {
	base := filepath.Base(path)
	if base == "" || base == "." || strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	if slices.Contains(tempExtensions, ext) {
		return false
	}
	if len(f.extensions) > 0 && !slices.Contains(f.extensions, ext) {
		return false
	}
	if len(f.patterns) == 0 {
		return true
	}
	for _, pattern := range f.patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// skipDir reports whether a directory is never descended into.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".")
}
