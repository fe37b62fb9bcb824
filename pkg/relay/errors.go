package relay

import (
	"errors"
	"fmt"
)

// LocationErrorKind classifies position acquisition failures. Permission
// problems are terminal and need user action; the rest are retryable.
type LocationErrorKind string

const (
	KindPermissionDenied LocationErrorKind = "permission_denied"
	KindUnavailable      LocationErrorKind = "position_unavailable"
	KindTimeout          LocationErrorKind = "timeout"
)

// LocationError wraps a source failure with its class.
type LocationError struct {
	Kind LocationErrorKind
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Retryable reports whether another acquisition attempt can succeed without
// user intervention.
func (e *LocationError) Retryable() bool {
	return e.Kind != KindPermissionDenied
}

// ClassifyLocationError extracts the kind from an error chain, defaulting to
// position_unavailable for unclassified failures.
func ClassifyLocationError(err error) LocationErrorKind {
	var le *LocationError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnavailable
}
