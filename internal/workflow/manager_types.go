package workflow

import (
	"log/slog"

	"quarantine/internal/stage"
)

// StageSet bundles the concrete workflow handlers the manager orchestrates.
type StageSet struct {
	Analysis stage.Handler
	Report   stage.Handler
}

type laneKind string

const (
	laneAnalysis laneKind = "analysis"
	laneReport   laneKind = "report"
)

type laneState struct {
	kind    laneKind
	handler stage.Handler
	workers int
	logger  *slog.Logger
}

func (l *laneState) name() string {
	return string(l.kind)
}
