// Package errs defines the error kinds shared by the stereo depth pipeline.
//
// All failures are deterministic configuration or input problems. Callers
// classify them with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadableInput reports a missing or corrupt source image.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrUnsupportedSampleFormat reports a pixel sample type outside the accepted set.
	ErrUnsupportedSampleFormat = errors.New("unsupported sample format")

	// ErrInvalidParameter reports a parameter that violates its constraint.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedAlgorithm reports an unknown matcher or filter name.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm selection")
)

// ParameterError describes an offending parameter and the constraint it broke.
type ParameterError struct {
	Name       string
	Value      any
	Constraint string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Constraint)
}

// Unwrap lets errors.Is(err, ErrInvalidParameter) succeed.
func (e *ParameterError) Unwrap() error { return ErrInvalidParameter }

// Parameter builds a ParameterError.
func Parameter(name string, value any, constraint string) error {
	return &ParameterError{Name: name, Value: value, Constraint: constraint}
}

// Algorithm reports an unknown selection for the named setting.
func Algorithm(setting, value string, valid ...string) error {
	return fmt.Errorf("%w: %s %q (must be one of: %v)", ErrUnsupportedAlgorithm, setting, value, valid)
}
