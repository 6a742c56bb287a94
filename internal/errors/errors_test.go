package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/secretvault/internal/errors"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unauthorized", errors.Unauthorized("missing bearer token"), http.StatusUnauthorized},
		{"forbidden", errors.Forbidden("super admin required"), http.StatusForbidden},
		{"validation", errors.Validation("master_key is required"), http.StatusBadRequest},
		{"precondition", errors.PreconditionFailed("master key not set"), http.StatusBadRequest},
		{"not configured", errors.NotFound("secret not configured"), http.StatusBadRequest},
		{"internal", errors.Internal(fmt.Errorf("conn reset"), "load secret"), http.StatusInternalServerError},
		{"foreign error", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("rotate: %w", errors.Validation("old key mismatch")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, errors.HTTPStatus(tt.err))
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("gate: %w", errors.Forbidden("role %q not allowed", "admin"))
	assert.True(t, stderrors.Is(err, errors.ErrForbidden))
	assert.False(t, stderrors.Is(err, errors.ErrUnauthorized))
	assert.Equal(t, errors.KindForbidden, errors.KindOf(err))
}

func TestInternalUnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("cipher: message authentication failed")
	err := errors.Internal(cause, "decrypt %s/%s", "acme", "token")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "decrypt acme/token")
	assert.Equal(t, "internal error", errors.PublicMessage(err))
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "secret not configured", errors.PublicMessage(errors.NotFound("secret not configured")))
	assert.Equal(t, "internal error", errors.PublicMessage(fmt.Errorf("pq: relation does not exist")))
}

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "database.driver",
		Value:      "sqlite",
		Message:    "unsupported driver",
		Suggestion: "Use postgres or mysql",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "database.driver")
	assert.Contains(t, errMsg, "sqlite")
	assert.Contains(t, errMsg, "unsupported driver")
	assert.Contains(t, errMsg, "Use postgres or mysql")
}

func TestClientErrorSuggestions(t *testing.T) {
	t.Parallel()

	err := errors.ClientError(http.StatusForbidden, "super admin required")
	var ue errors.UserError
	assert.True(t, stderrors.As(err, &ue))
	assert.Contains(t, ue.Suggestion, "super-admin")
	assert.Contains(t, err.Error(), "403")
}
