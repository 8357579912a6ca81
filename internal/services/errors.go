package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrTimeout       = errors.New("timeout")
	ErrUnavailable   = errors.New("executor unavailable")
	ErrRejected      = errors.New("input rejected")
	ErrUnsupported   = errors.New("unsupported input")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// ErrorKind names the failure class carried by a wrapped error.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindTimeout       ErrorKind = "timeout"
	KindUnavailable   ErrorKind = "unavailable"
	KindRejected      ErrorKind = "rejected"
	KindUnsupported   ErrorKind = "unsupported"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPermanent reports whether err describes a failure that will repeat
// deterministically for the same input. Anything unclassified is treated as
// transient so it gets a bounded number of retries.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRejected), errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return true
	default:
		return false
	}
}

// Kind returns the classification of err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// ErrorDetails is the structured view of a wrapped error used for logging.
type ErrorDetails struct {
	Kind      ErrorKind
	Permanent bool
	Message   string
	Hint      string
}

// Details extracts loggable fields from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	kind := Kind(err)
	return ErrorDetails{
		Kind:      kind,
		Permanent: IsPermanent(err),
		Message:   strings.TrimSpace(err.Error()),
		Hint:      hintFor(kind),
	}
}

func hintFor(kind ErrorKind) string {
	switch kind {
	case KindTimeout:
		return "raise dispatch.timeout if large samples routinely exceed it"
	case KindUnavailable:
		return "check analysis.detector_command and the container runtime"
	case KindRejected, KindUnsupported:
		return "sample cannot be processed by the detector; inspect it manually"
	case KindConfiguration:
		return "check the configuration file"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
