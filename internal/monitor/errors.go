package monitor

import "codeberg.org/mutker/sensord/internal/errors"

const (
	// Registry Errors
	ErrDuplicateParameter = errors.ErrorCode("monitor_duplicate_parameter")
	ErrUnknownParameter   = errors.ErrorCode("monitor_unknown_parameter")
	ErrInvalidRange       = errors.ErrorCode("monitor_invalid_range")

	// Scheduler Errors
	ErrInvalidInterval = errors.ErrorCode("monitor_invalid_interval")
	ErrNoSource        = errors.ErrorCode("monitor_no_source")
	ErrFetchFailed     = errors.ErrorCode("monitor_fetch_failed")
	ErrNotRunning      = errors.ErrorCode("monitor_not_running")
)
