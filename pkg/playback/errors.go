package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrConstructionFailed is matched by every error returned when a handle
	// could not be constructed within the retry budget.
	ErrConstructionFailed = errors.New("construction failed")

	// ErrRecoveryExhausted marks a recovery sequence whose reload step failed.
	// It is logged and emitted, never returned to callers.
	ErrRecoveryExhausted = errors.New("recovery exhausted")

	// ErrTeardown marks a failed native destroy call. It is logged and
	// emitted, never returned to callers.
	ErrTeardown = errors.New("teardown failed")

	// ErrCapacity is returned when the registry already holds the maximum
	// number of live handles.
	ErrCapacity = errors.New("maximum number of handles reached")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("controller closed")

	// ErrNotFound is returned when no handle is registered under an id.
	ErrNotFound = errors.New("handle not found")

	// ErrInvalidRequest is returned for requests without a channel.
	ErrInvalidRequest = errors.New("invalid request")
)

// FailureKind distinguishes stream-format problems from infrastructure ones.
type FailureKind int

const (
	// KindInfrastructure covers script loading, network and widget runtime failures.
	KindInfrastructure FailureKind = iota
	// KindStreamFormat covers playlist, manifest and HLS failures.
	KindStreamFormat
)

func (k FailureKind) String() string {
	switch k {
	case KindStreamFormat:
		return "stream_format"
	default:
		return "infrastructure"
	}
}

// ConstructionError reports a construction that exhausted its attempts.
// Unwrap yields the error of the final attempt so callers can inspect the
// widget's own error type.
type ConstructionError struct {
	ID       string
	Attempts int
	Kind     FailureKind
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construction of %q failed after %d attempt(s) (%s): %v", e.ID, e.Attempts, e.Kind, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConstructionFailed) hold.
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstructionFailed
}

// TeardownError reports a native destroy call that failed after the handle
// had already left the registry.
type TeardownError struct {
	ID  string
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %q failed: %v", e.ID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

func (e *TeardownError) Is(target error) bool {
	return target == ErrTeardown
}
