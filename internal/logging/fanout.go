package logging

import (
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

// TeeHandler fans records out to every non-nil handler. A single handler is
// returned unwrapped and an empty set yields a NoopHandler.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	filtered := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopHandler{}
	case 1:
		return filtered[0]
	}
	return slogmulti.Fanout(filtered...)
}

// TeeLogger returns a logger that writes to base and to each extra handler.
func TeeLogger(base *slog.Logger, handlers ...slog.Handler) *slog.Logger {
	var baseHandler slog.Handler
	if base != nil {
		baseHandler = base.Handler()
	}
	return slog.New(TeeHandler(append([]slog.Handler{baseHandler}, handlers...)...))
}
