package stage

import (
	"context"

	"quarantine/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
//
// Execute works on the claimed entry in place: the analysis stage fills
// Result, the report stage fills RiskLevel and ReportPath. The manager owns
// every store transition; handlers never call the store themselves.
type Handler interface {
	Prepare(context.Context, *queue.Entry) error
	Execute(context.Context, *queue.Entry) error
	HealthCheck(context.Context) Health
}

// Health reports whether a stage can take claims right now.
type Health struct {
	Name  string
	Ready bool
	// Backend is what the stage runs against: the executor for analysis,
	// the reports directory for reporting.
	Backend string
	Detail  string
}

// Available reports stage name ready on backend.
func Available(name, backend string) Health {
	return Health{Name: name, Ready: true, Backend: backend}
}

// Blocked reports stage name unable to run on backend, with the reason.
func Blocked(name, backend, detail string) Health {
	return Health{Name: name, Backend: backend, Detail: detail}
}
