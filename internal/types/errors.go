package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies how a collaborator failure affects the job.
type FailureKind string

const (
	// FailureTransient marks errors worth retrying, e.g. upstream rate
	// limiting or a flaky network call.
	FailureTransient FailureKind = "transient"
	// FailurePermanent terminates the job stage: no speech detected,
	// zero accepted moments, out-of-bounds source.
	FailurePermanent FailureKind = "permanent"
	// FailureCorruption is reasoning output that stayed malformed after
	// tolerant re-parsing. Terminal, same as permanent.
	FailureCorruption FailureKind = "corruption"
)

// StageError is the typed outcome every stage boundary maps collaborator
// failures into. It always carries a human-readable reason.
type StageError struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *StageError) Unwrap() error { return e.Err }

func Transient(reason string, err error) *StageError {
	return &StageError{Kind: FailureTransient, Reason: reason, Err: err}
}

func Permanent(reason string) *StageError {
	return &StageError{Kind: FailurePermanent, Reason: reason}
}

func Corrupt(reason string, err error) *StageError {
	return &StageError{Kind: FailureCorruption, Reason: reason, Err: err}
}

// IsTransient is the retry predicate used by the concurrency
// controller's retry wrapper.
func IsTransient(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == FailureTransient
}

// IsTerminal reports failures that end the job rather than a single clip.
func IsTerminal(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == FailurePermanent || se.Kind == FailureCorruption
}

// Reason extracts the human-readable reason, falling back to Error().
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason
	}
	return err.Error()
}
