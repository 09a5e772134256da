package types

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeMuted             ErrorCode = "MUTED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
)

// ChatError is the only error shape that crosses the wire. It is converted into an "error" event for the
// originating connection and never terminates the connection.
type ChatError struct {
	Code    ErrorCode
	Message string
	Err     error
}

var (
	ErrUnauthorized      = &ChatError{Code: CodeUnauthorized, Message: "not authenticated"}
	ErrInvalidInput      = &ChatError{Code: CodeInvalidInput, Message: "invalid input"}
	ErrRateLimited       = &ChatError{Code: CodeRateLimited, Message: "too many messages, slow down"}
	ErrMuted             = &ChatError{Code: CodeMuted, Message: "you are muted in this room"}
	ErrNotFound          = &ChatError{Code: CodeNotFound, Message: "not found"}
	ErrPersistenceFailed = &ChatError{Code: CodePersistenceFailed, Message: "message could not be saved"}
	ErrForbidden         = &ChatError{Code: CodeForbidden, Message: "not allowed"}
)

func NewError(code ErrorCode, format string, args ...interface{}) *ChatError {
	return &ChatError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError keeps err as the cause while presenting message to the client.
func WrapError(code ErrorCode, err error, message string) *ChatError {
	return &ChatError{Code: code, Message: message, Err: err}
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Is matches any ChatError with the same code, so errors.Is(err, ErrMuted) works for custom messages.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	return ok && t.Code == e.Code
}

// AsChatError extracts the ChatError from err. Anything else is reported as invalid input, with the original
// error kept as the cause.
func AsChatError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce
	}
	return WrapError(CodeInvalidInput, err, "invalid request")
}

// CodeOf returns the error code of err, or "" for nil.
func CodeOf(err error) ErrorCode {
	if ce := AsChatError(err); ce != nil {
		return ce.Code
	}
	return ""
}
