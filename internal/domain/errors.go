package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMetricsUnavailable indicates that the metrics source could not be
	// reached within the retry budget. Fatal before a baseline exists;
	// mid-rollout it aborts the session through the rollback path.
	ErrMetricsUnavailable = errors.New("metrics source unavailable")

	// ErrTrafficShiftFailed indicates that the traffic router rejected or
	// timed out a percentage change. Fatal to the current stage.
	ErrTrafficShiftFailed = errors.New("traffic shift failed")

	// ErrRollbackFailed indicates that reverting traffic to 0% failed after
	// the configured number of attempts. The session is left in the Failed
	// state and requires manual intervention.
	ErrRollbackFailed = errors.New("rollback failed")
)
