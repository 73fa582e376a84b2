package thresholds

import "codeberg.org/mutker/sensord/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("thresholds_invalid_db_path")

	// Storage Errors
	ErrStorageAccess    = errors.ErrorCode("thresholds_storage_access_failed")
	ErrStorageInit      = errors.ErrorCode("thresholds_storage_init_failed")
	ErrStorageClose     = errors.ErrorCode("thresholds_storage_close_failed")
	ErrSchemaInitFailed = errors.ErrorCode("thresholds_schema_init_failed")
)
