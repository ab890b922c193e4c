// Package apperr defines the error taxonomy shared by the conversation
// managers, the stores and the transport layer.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an AppError. The transport layer maps codes to status codes.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeNotFound           Code = "NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeInvalidTarget      Code = "INVALID_TARGET"
	CodeConversationClosed Code = "CONVERSATION_CLOSED"
	CodeEmptyContent       Code = "EMPTY_CONTENT"
	CodeContentTooLong     Code = "CONTENT_TOO_LONG"
	CodeMissingProfile     Code = "MISSING_PROFILE"
	CodeNamespaceExhausted Code = "NAMESPACE_EXHAUSTED"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError of the same code. A target with an
// empty message matches every error of its code, so the package-level kinds
// below can be used with errors.Is as categories.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func PermissionDenied(msg string) error {
	return New(CodePermissionDenied, msg)
}

func InvalidTarget(msg string) error {
	return New(CodeInvalidTarget, msg)
}

func StoreUnavailable(cause error) error {
	return Wrap(CodeStoreUnavailable, "store unavailable", cause)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// IsCode is shorthand for CodeOf(err) == code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
