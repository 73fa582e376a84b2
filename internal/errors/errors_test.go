package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"codeberg.org/mutker/sensord/internal/errors"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Invalid log level", errors.New(errors.ErrInvalidLogLevel).Error())
	assert.Equal(t, "Invalid log level: trace2", errors.WithData(errors.ErrInvalidLogLevel, "trace2").Error())
	assert.Equal(t, "could not bind cli flags", errors.WithMessage(errors.ErrBindFlags, "could not bind cli flags").Error())

	cause := fmt.Errorf("disk full")
	err := errors.Wrap(errors.ErrOperationFailed, cause)
	assert.Equal(t, "Operation failed: disk full", err.Error())
	assert.True(t, errors.Is(err, cause))

	assert.Equal(t, "Operation failed: flush", err.WithData("flush").Error(), "data wins over the wrapped cause")
}

func TestCodeOf(t *testing.T) {
	err := errors.New(errors.ErrInvalidConfig)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
	assert.True(t, errors.IsCode(err, errors.ErrInvalidConfig))
	assert.False(t, errors.IsCode(err, errors.ErrInternal))

	plain := fmt.Errorf("plain failure")
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(plain))
	assert.False(t, errors.IsCode(plain, errors.ErrInternal))

	wrapped := fmt.Errorf("while shutting down: %w", errors.New(errors.ErrTimeout))
	assert.Equal(t, errors.ErrTimeout, errors.CodeOf(wrapped))
	assert.True(t, errors.IsCode(wrapped, errors.ErrTimeout))
}

func TestUnmappedCodeRendersItself(t *testing.T) {
	code := errors.ErrorCode("telemetry_flush_failed")
	assert.Equal(t, "telemetry_flush_failed", errors.GetErrorMessage(code))
	assert.Equal(t, "telemetry_flush_failed", errors.New(code).Error())
}
