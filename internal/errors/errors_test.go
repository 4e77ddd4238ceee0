package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeStatus(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{ErrorTypeValidation, http.StatusBadRequest},
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeInternal, http.StatusInternalServerError},
		{ErrorTypeTimeout, http.StatusGatewayTimeout},
		{ErrorTypeConflict, http.StatusConflict},
		{ErrorTypeUnprocessable, http.StatusUnprocessableEntity},
		{ErrorTypeRateLimit, http.StatusTooManyRequests},
		{ErrorTypeServiceDown, http.StatusServiceUnavailable},
		{ErrorType("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.errType.Status())
		})
	}
}

func TestNew(t *testing.T) {
	err := New(ErrorTypeValidation, "rate must be positive")
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "VALIDATION_ERROR: rate must be positive", err.Error())

	err = NewValidationError("invalid %s %q", "position", "abc")
	assert.Equal(t, `invalid position "abc"`, err.Message)

	assert.Equal(t, "session not found", NewNotFoundError("session").Message)
	assert.Equal(t, "100%", NewInternalError("100%").Message, "message is not a format string")
}

func TestWrap(t *testing.T) {
	cause := errors.New("read /media/feed.ts: input/output error")
	err := Wrap(cause, ErrorTypeUnprocessable, "cannot open container")

	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "UNPROCESSABLE_MEDIA: cannot open container: read /media/feed.ts: input/output error", err.Error())
}

func TestBuilders(t *testing.T) {
	err := NewValidationError("bad stream").
		WithCode(CodeStreamNotFound).
		WithDetail("stream", 3).
		WithDetail("kind", "audio").
		WithStatus(http.StatusMethodNotAllowed)

	assert.Equal(t, CodeStreamNotFound, err.Code)
	assert.Equal(t, map[string]interface{}{"stream": 3, "kind": "audio"}, err.Details)
	assert.Equal(t, http.StatusMethodNotAllowed, err.HTTPStatus)
	assert.Equal(t, ErrorTypeValidation, err.Type, "status override keeps the type")
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("session")

	got, ok := GetAppError(appErr)
	require.True(t, ok)
	assert.Same(t, appErr, got)

	got, ok = GetAppError(fmt.Errorf("close session: %w", appErr))
	require.True(t, ok)
	assert.Same(t, appErr, got)

	got, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.Nil(t, got)
}
