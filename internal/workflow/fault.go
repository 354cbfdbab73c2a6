package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow fault. The kind decides the handling
// policy: only transient faults are retried; protocol violations are
// rejected without retry; fatal inconsistencies halt the workflow
// pending operator action.
type Kind string

const (
	KindValidationFailure  Kind = "validation_failure"
	KindTransientFault     Kind = "transient_fault"
	KindExternalDegraded   Kind = "external_service_degraded"
	KindProtocolViolation  Kind = "protocol_violation"
	KindFatalInconsistency Kind = "fatal_inconsistency"
)

// Fault is a classified workflow error.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Transient wraps err as a retryable infrastructure fault.
func Transient(err error) error {
	return &Fault{Kind: KindTransientFault, Err: err}
}

// Protocol reports a rejected out-of-contract event.
func Protocol(format string, args ...any) error {
	return &Fault{Kind: KindProtocolViolation, Err: fmt.Errorf(format, args...)}
}

// Fatal wraps err as an unrecoverable inconsistency.
func Fatal(err error) error {
	return &Fault{Kind: KindFatalInconsistency, Err: err}
}

// IsKind reports whether err carries the given fault kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
