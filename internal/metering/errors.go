package metering

import "errors"

var (
	ErrAlreadyFinalized    = errors.New("execution_already_finalized")
	ErrFinalizeInProgress  = errors.New("execution_finalize_in_progress")
	ErrExecutionNotFound   = errors.New("execution_not_found")
	ErrExecutionExists     = errors.New("execution_already_started")
	ErrInvalidExecution    = errors.New("invalid_execution_context")
	ErrUnrecognizedUsage   = errors.New("unrecognized_usage_payload")
	ErrUnsupportedProvider = errors.New("unsupported_provider")
)
