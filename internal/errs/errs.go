// SPDX-License-Identifier: MIT

// Package errs defines the error taxonomy shared by the acquisition core.
//
// Two classes of failure are represented as error values:
//   - ConfigurationError: invalid construction parameters. Fatal to the
//     component instance; the caller must rebuild it with valid parameters.
//   - InvalidInputError: malformed per-call input. The failing call returns
//     an error and the component remains usable for subsequent calls.
//
// Buffer overflow and per-bin dispersion non-convergence are deliberately
// NOT errors; they are reported through counters and result flags so that a
// continuous acquisition session is never torn down by transient conditions.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports invalid construction parameters.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidInputError reports malformed input to a single call.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// Invalidf builds an InvalidInputError from a format string.
func Invalidf(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInvalidInput reports whether err is (or wraps) an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}
