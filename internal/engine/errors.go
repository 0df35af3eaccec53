package engine

import "errors"

// Error taxonomy for the automation engine. Callers match with errors.Is;
// components wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrValidation marks malformed rule/action/campaign input, rejected
	// before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks an illegal campaign status or action state
	// change. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound marks a lookup for an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrNotPending marks an approval decision on an action that is not
	// currently pending_approval.
	ErrNotPending = errors.New("action not pending approval")

	// ErrUnavailable marks an unreachable external collaborator. Idempotent
	// calls are retried with backoff; others surface to the caller.
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrExecutionFailed marks an external apply that failed after retries.
	// The action is marked failed and the campaign keeps its last known-good
	// state.
	ErrExecutionFailed = errors.New("execution failed")
)
