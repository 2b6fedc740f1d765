// Package apperr defines the sentinel errors shared across the pipeline.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput reports a schematic with no regions or a zero-sized axis.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport is a connectivity-level failure talking to the execution target.
	// It is retryable after a reconnect.
	ErrTransport = errors.New("transport error")

	// ErrSemanticRejection means the target received the command but refused it.
	// It is never retried.
	ErrSemanticRejection = errors.New("command rejected")

	// ErrConvergence means the deconstruction planner ran out of iterations.
	ErrConvergence = errors.New("deconstruction did not converge")

	// ErrVerification is a verification contract outcome that did not match the
	// expectation of the caller.
	ErrVerification = errors.New("verification failed")
)
