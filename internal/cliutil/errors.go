// Package cliutil carries the CLI's error-classification types, grounded
// on the teacher's internal/cmdutils error handling: a SilentError that
// has already been reported to the user (no stack trace, no re-print) and
// an IncorrectUsageError that additionally triggers a usage/help print.
package cliutil

import "github.com/pkg/errors"

// ErrSilent marks an error that has already been printed to the user;
// the top-level handler checks for it via errors.As to decide whether to
// print the error again.
var ErrSilent = &SilentError{}

// SilentError wraps an error that must not be printed a second time by
// the top-level handler.
type SilentError struct {
	err error
}

func (e *SilentError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.err
}

// WrapSilentError wraps err so the top-level handler suppresses printing
// it again.
func WrapSilentError(err error) error {
	return &SilentError{err: err}
}

// IncorrectUsageError marks an error caused by invalid CLI invocation
// (bad flags, missing required arguments); the top-level handler prints
// the command's usage/help text in response.
type IncorrectUsageError struct {
	err error
}

func (e *IncorrectUsageError) Error() string {
	return e.err.Error()
}

func (e *IncorrectUsageError) Unwrap() error {
	return e.err
}

// WrapIncorrectUsageError wraps err to mark it as caused by invalid CLI
// usage.
func WrapIncorrectUsageError(err error) error {
	return &IncorrectUsageError{err: err}
}

// NewIncorrectUsageError formats msg and marks the result as an incorrect
// usage error, matching the teacher's errors.New(msg)-then-wrap idiom.
func NewIncorrectUsageError(msg string) error {
	return WrapIncorrectUsageError(errors.New(msg))
}
