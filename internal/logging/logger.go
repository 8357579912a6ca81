package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"quarantine/internal/config"
)

// LogFileName is the name of the persistent log written under log_dir.
const LogFileName = "quarantine.log"

// Options describes logger construction parameters.
type Options struct {
	Level string
	// Format selects the terminal rendering: console, json or auto.
	Format string
	// Writer receives terminal output. Nil means os.Stdout.
	Writer io.Writer
	// FilePath, when set, receives a JSON copy of every record.
	FilePath    string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}
	addSource := opts.Development || level <= slog.LevelDebug

	format, err := resolveFormat(opts.Format, writer)
	if err != nil {
		return nil, err
	}

	var terminal slog.Handler
	switch format {
	case "json":
		terminal = newJSONHandler(writer, levelVar, addSource)
	default:
		terminal = newPrettyHandler(writer, levelVar, addSource)
	}

	if strings.TrimSpace(opts.FilePath) == "" {
		return slog.New(terminal), nil
	}

	file, err := openLogFile(opts.FilePath)
	if err != nil {
		return nil, err
	}
	return slog.New(TeeHandler(terminal, newJSONHandler(file, levelVar, addSource))), nil
}

// NewFromConfig creates a logger using application config defaults.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	opts := Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Paths.LogDir != "" {
		opts.FilePath = filepath.Join(cfg.Paths.LogDir, LogFileName)
	}
	return New(opts)
}

func resolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return "console", nil
	case "json":
		return "json", nil
	case "auto":
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return "console", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("log format: unsupported value %q", format)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Key = "level"
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}
