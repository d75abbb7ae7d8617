// Package errs holds the error kinds shared by every part of the engine.
//
// Concrete errors wrap one of the sentinels with fmt.Errorf("...: %w") so
// callers can classify them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is a bad tempo, subdivision or index, rejected synchronously.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDecode means a sample could not be fetched or decoded. The channel
	// is silenced, playback continues.
	ErrDecode = errors.New("decode error")

	// ErrValidation means a saved project is malformed. Loading is aborted
	// and the current project is left untouched.
	ErrValidation = errors.New("validation error")

	// ErrCapabilityUnavailable means a worker, effect or device could not be
	// created and a fallback path is in use.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// InvalidParameter builds an ErrInvalidParameter error for the named parameter.
func InvalidParameter(name string, value any) error {
	return fmt.Errorf("%s=%v: %w", name, value, ErrInvalidParameter)
}

// Validation builds an ErrValidation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Unavailable builds an ErrCapabilityUnavailable error for a capability.
func Unavailable(capability string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", capability, ErrCapabilityUnavailable)
	}
	return fmt.Errorf("%s: %w (%v)", capability, ErrCapabilityUnavailable, cause)
}

// Handler receives recoverable conditions that were downgraded to warnings
// (decode failures, effect substitutions, timer fallbacks).
type Handler interface {
	HandleError(error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(error)

// HandleError implements Handler
func (f HandlerFunc) HandleError(err error) {
	if f != nil {
		f(err)
	}
}

// Recoverable reports whether err is one of the kinds that must never stop
// playback.
func Recoverable(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrCapabilityUnavailable)
}
