package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ErrAllBackendsFailed matches any AllBackendsFailedError via errors.Is
var ErrAllBackendsFailed = errors.New("all backends failed")

// Attempt records one backend call made while routing
type Attempt struct {
	ModelID  string
	Err      error
	Duration time.Duration
}

// AllBackendsFailedError is returned when every candidate failed. It wraps
// the last attempt's error and lists every attempted model id.
type AllBackendsFailedError struct {
	// Op is "generate" or "embed"
	Op string

	// Requested is the target model id
	Requested string

	// Attempts in the order they were made
	Attempts []Attempt

	// Interrupted is set when the loop stopped because the context ended
	// before every candidate was tried
	Interrupted error
}

func (e *AllBackendsFailedError) Error() string {
	msg := fmt.Sprintf("%s: all backends failed (tried %s)", e.Op, strings.Join(e.ModelIDs(), ", "))
	if last := e.Last(); last != nil {
		msg += ": " + last.Error()
	}
	if e.Interrupted != nil {
		msg += " (stopped: " + e.Interrupted.Error() + ")"
	}
	return msg
}

// Last returns the error from the final attempt
func (e *AllBackendsFailedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Unwrap exposes the last attempt's error and, when set, the context error
// that stopped the loop
func (e *AllBackendsFailedError) Unwrap() []error {
	var errs []error
	if last := e.Last(); last != nil {
		errs = append(errs, last)
	}
	if e.Interrupted != nil {
		errs = append(errs, e.Interrupted)
	}
	return errs
}

// Is matches ErrAllBackendsFailed
func (e *AllBackendsFailedError) Is(target error) bool {
	return target == ErrAllBackendsFailed
}

// ModelIDs lists the attempted ids in attempt order
func (e *AllBackendsFailedError) ModelIDs() []string {
	ids := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		ids[i] = a.ModelID
	}
	return ids
}

// Combined returns every attempt error, each prefixed with its model id
func (e *AllBackendsFailedError) Combined() error {
	var err error
	for _, a := range e.Attempts {
		err = multierr.Append(err, fmt.Errorf("%s: %w", a.ModelID, a.Err))
	}
	return err
}

// Errors returns the per-attempt errors as a slice
func (e *AllBackendsFailedError) Errors() []error {
	return multierr.Errors(e.Combined())
}

// IsAllBackendsFailed reports whether err is or wraps an AllBackendsFailedError
func IsAllBackendsFailed(err error) bool {
	return errors.Is(err, ErrAllBackendsFailed)
}

// AsAllBackendsFailed extracts the aggregated error
func AsAllBackendsFailed(err error) (*AllBackendsFailedError, bool) {
	var e *AllBackendsFailedError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
