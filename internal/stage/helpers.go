package stage

import (
	"quarantine/internal/detector"
	"quarantine/internal/queue"
	"quarantine/internal/services"
)

// ParseResult decodes the stored detector result of entry.
// On failure it returns a services.ErrValidation suitable for stage Execute methods.
func ParseResult(entry *queue.Entry) (*detector.Result, error) {
	if entry == nil || len(entry.Result) == 0 {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse result",
			"Entry has no stored detector result", nil)
	}
	result, err := detector.Parse(entry.Result)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse result",
			"Stored detector result is invalid; retry the entry to re-analyze", err)
	}
	return result, nil
}
