package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a vault failure and determines how it is reported to callers.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindValidation         Kind = "validation"
	KindPreconditionFailed Kind = "precondition_failed"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// VaultError is the error type returned by every vault operation.
type VaultError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *VaultError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// Is matches any VaultError of the same kind, so sentinel comparisons like
// errors.Is(err, ErrForbidden) work regardless of message.
func (e *VaultError) Is(target error) bool {
	t, ok := target.(*VaultError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized       = &VaultError{Kind: KindUnauthorized}
	ErrForbidden          = &VaultError{Kind: KindForbidden}
	ErrValidation         = &VaultError{Kind: KindValidation}
	ErrPreconditionFailed = &VaultError{Kind: KindPreconditionFailed}
	ErrNotFound           = &VaultError{Kind: KindNotFound}
	ErrInternal           = &VaultError{Kind: KindInternal}
)

func Unauthorized(format string, args ...interface{}) error {
	return &VaultError{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &VaultError{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return &VaultError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PreconditionFailed(format string, args ...interface{}) error {
	return &VaultError{Kind: KindPreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &VaultError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an underlying store or cipher failure.
func Internal(err error, format string, args ...interface{}) error {
	return &VaultError{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first VaultError in err's chain.
// Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindPreconditionFailed, KindNotFound:
		// "not configured" is reported to the admin UI as a bad request
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to an API caller.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	var ve *VaultError
	if errors.As(err, &ve) && ve.Message != "" {
		return ve.Message
	}
	return err.Error()
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  " + e.Suggestion
	}

	return msg
}

// ClientError converts an API error response into a UserError for CLI output.
func ClientError(status int, message string) error {
	ue := UserError{
		Message: message,
		Details: fmt.Sprintf("server responded %d %s", status, http.StatusText(status)),
	}
	switch status {
	case http.StatusUnauthorized:
		ue.Suggestion = "Run 'secretvault login' or pass --token with a valid bearer token"
	case http.StatusForbidden:
		ue.Suggestion = "The token's user must hold the super-admin role"
	case http.StatusInternalServerError:
		ue.Suggestion = "Check the server logs; the operation may need to be re-verified before retrying"
	}
	return ue
}
