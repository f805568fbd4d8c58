package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{name: "message only", err: Validation("queue name is required"), want: "queue name is required"},
		{name: "with field", err: ValidationField("data", "must be a JSON object"), want: "data: must be a JSON object"},
		{
			name: "with cause",
			err:  &AppError{Code: ErrCodeBusy, Message: "job store busy", Cause: errors.New("deadlock")},
			want: "job store busy: deadlock",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestFormattedConstructors(t *testing.T) {
	assert.Equal(t, "job j-1 already exists", Conflictf("job %s already exists", "j-1").Message)
	assert.Equal(t, "job j-2 not found", NotFoundf("job %s not found", "j-2").Message)
	assert.Equal(t, "queue is paused", Validationf("queue is paused").Message)
	assert.Equal(t, ErrCodeValidation, Validationf("bad %d", 1).Code)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, ErrCodeInternal, "ignored"))

	cause := errors.New("payload is not JSON")
	err := Wrap(cause, ErrCodeValidation, "invalid job data")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "invalid job data: payload is not JSON", err.Error())
}

func TestCodeOfThroughWrapping(t *testing.T) {
	base := Conflictf("job %s already exists", "j-1")
	wrapped := fmt.Errorf("add job: %w", base)

	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Empty(t, CodeOf(errors.New("plain")))
	assert.Empty(t, CodeOf(nil))
}

func TestFieldOf(t *testing.T) {
	assert.Equal(t, "id", FieldOf(fmt.Errorf("insert: %w", &AppError{Code: ErrCodeConflict, Field: "id"})))
	assert.Empty(t, FieldOf(errors.New("plain")))
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("claim: %w", Wrap(errors.New("lock timeout"), ErrCodeBusy, "job store busy"))

	assert.ErrorIs(t, err, &AppError{Code: ErrCodeBusy})
	assert.NotErrorIs(t, err, &AppError{Code: ErrCodeUnavailable})
	assert.NotErrorIs(t, err, &AppError{Code: ErrCodeBusy, Message: "other"})
}

func TestRetryable(t *testing.T) {
	tests := map[ErrorCode]bool{
		ErrCodeBusy:        true,
		ErrCodeUnavailable: true,
		ErrCodeTimeout:     false,
		ErrCodeConflict:    false,
		ErrCodeValidation:  false,
		ErrCodeInternal:    false,
	}
	for code, want := range tests {
		err := Wrap(errors.New("x"), code, "op failed")
		assert.Equal(t, want, Retryable(err), "code %s", code)
	}
	assert.False(t, Retryable(errors.New("plain")))
	assert.True(t, IsBusy(Wrap(errors.New("x"), ErrCodeBusy, "busy")))
	assert.True(t, IsUnavailable(Wrap(errors.New("x"), ErrCodeUnavailable, "down")))
}
