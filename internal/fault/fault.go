// Package fault classifies publish failures so callers can tell what is
// safe to retry and which phase to resume.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind int

const (
	// Unclassified is returned by KindOf for errors without a Kind.
	Unclassified Kind = iota

	// Validation is malformed input. Raised before any external call.
	Validation

	// ExternalUnavailable is a transient read or network failure, or an
	// exhausted readiness wait.
	ExternalUnavailable

	// PartialCommit means an earlier signed phase landed but a later one failed.
	// The error carries enough state to resume the failed phase.
	PartialCommit

	// AtomicRejection means the ledger rejected a batch with no partial effect.
	AtomicRejection
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case ExternalUnavailable:
		return "external-unavailable"
	case PartialCommit:
		return "partial-commit"
	case AtomicRejection:
		return "atomic-rejection"
	default:
		return "unclassified"
	}
}

// Error is a classified failure. Step names the phase that failed
// ("encode", "register", "store", "certify", "commit", ...).
type Error struct {
	Kind Kind   // Kind is the failure class
	Step string // Step is the failed phase, empty when not phase-bound
	Err  error  // Err is the underlying cause
}

// Error implements error.
func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s:\n%v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s at %s:\n%v", e.Kind, e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and step. A nil err yields nil.
func New(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Step: step, Err: err}
}

// Validationf builds a Validation error from a format string.
func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return Unclassified
}

// StepOf returns the step of the outermost classified error in err's chain.
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}

	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
