package telemetry

import "errors"

var (
	// ErrInvalidInput marks a malformed append payload.
	ErrInvalidInput = errors.New("telemetry: invalid input")
	// ErrStorageFailure marks an unavailable store or failed query.
	ErrStorageFailure = errors.New("telemetry: storage failure")
	// ErrSchemaMismatch marks a store layout the migration policy cannot handle.
	ErrSchemaMismatch = errors.New("telemetry: unrecoverable schema mismatch")
)
