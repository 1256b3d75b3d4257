package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout marks a stage call that exceeded its wall-clock budget.
	ErrTimeout = errors.New("timeout")
	// ErrUnavailable marks a stage service that refused or dropped the request.
	ErrUnavailable = errors.New("service unavailable")
	// ErrValidation marks input the stage service permanently rejected
	// (no detectable face, unusable audio). Never retried.
	ErrValidation = errors.New("validation rejected")
	// ErrLowConfidence marks a transcription whose confidence fell below the
	// configured floor. Retryable once, on transcription only.
	ErrLowConfidence = errors.New("low confidence")
	// ErrConsentDenied marks a failed consent check. Fails the job outright.
	ErrConsentDenied = errors.New("consent denied")
	// ErrConfiguration marks missing or invalid local configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a lookup for an unknown job or track.
	ErrNotFound = errors.New("not found")
	// ErrTransient is the conservative default for unclassified failures.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later outcome classification. The marker should be one
// of the exported sentinel errors above.
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

// Kind identifies which sentinel marker an error carries.
type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindUnavailable   Kind = "unavailable"
	KindValidation    Kind = "validation"
	KindLowConfidence Kind = "low_confidence"
	KindConsentDenied Kind = "consent_denied"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindCancelled     Kind = "cancelled"
	KindTransient     Kind = "transient"
)

// ErrorDetails carries the classified view of a stage error for logging and
// persistence.
type ErrorDetails struct {
	Kind    Kind
	Message string
	Cause   error
}

// Details classifies err against the sentinel markers. A nil error yields a
// zero-valued record.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	d := ErrorDetails{Kind: ClassifyKind(err), Cause: err, Message: strings.TrimSpace(err.Error())}
	return d
}

// ClassifyKind maps an error to its taxonomy kind.
func ClassifyKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrLowConfidence):
		return KindLowConfidence
	case errors.Is(err, ErrConsentDenied):
		return KindConsentDenied
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindTransient
	}
}

// IsFatal reports whether an error must never be retried regardless of budget.
func IsFatal(err error) bool {
	switch ClassifyKind(err) {
	case KindValidation, KindConsentDenied, KindConfiguration:
		return true
	default:
		return false
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
