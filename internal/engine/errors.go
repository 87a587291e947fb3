package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels for errors.Is checks. Every typed error below unwraps to one of them.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrLaunch          = errors.New("engine launch failed")
	ErrEngineFailure   = errors.New("engine failed")
	ErrMissingOutput   = errors.New("missing engine output")
	ErrMalformedResult = errors.New("malformed attitude result")
	ErrTimeout         = errors.New("engine timed out")
)

// ConfigurationError reports a bad variant or flag combination, detected before
// the engine is started.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration.Error(), e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// LaunchError reports that the engine executable could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrLaunch.Error(), e.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunch, e.Err} }

// EngineFailure reports a non-zero exit or a signal-terminated engine.
type EngineFailure struct {
	Operation string
	Status    ExitStatus
}

func (e *EngineFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", ErrEngineFailure.Error(), e.Operation)
	if e.Status.Signaled {
		fmt.Fprintf(&b, ": killed by %s", e.Status.Signal)
	} else {
		fmt.Fprintf(&b, ": exit status %d", e.Status.Code)
	}
	if tail := e.Status.StderrTail(); tail != "" {
		fmt.Fprintf(&b, ": %s", tail)
	}
	return b.String()
}

func (e *EngineFailure) Unwrap() error { return ErrEngineFailure }

// MissingOutputError reports an exchange file the engine was expected to write
// but did not.
type MissingOutputError struct {
	Role Role
	Path string
	Err  error
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrMissingOutput.Error(), e.Role, e.Path, e.Err)
}

func (e *MissingOutputError) Unwrap() []error { return []error{ErrMissingOutput, e.Err} }

// MalformedResultError reports a line of attitude text that breaks the
// "<field> <value>" protocol.
type MalformedResultError struct {
	Line int
	Text string
	Msg  string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("%s: line %d %q: %s", ErrMalformedResult.Error(), e.Line, e.Text, e.Msg)
}

func (e *MalformedResultError) Unwrap() error { return ErrMalformedResult }

// TimeoutError reports an engine that was killed because its context expired or
// was cancelled.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s: %v", ErrTimeout.Error(), e.After.Round(time.Millisecond), e.Err)
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }
