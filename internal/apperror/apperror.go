// Package apperror defines the error taxonomy shared by the store, the
// services and the HTTP layer.
//
// Every AppError carries two things:
//   - a sentinel kind (ErrValidation, ErrUnauthenticated, ...) that errors.Is
//     can match anywhere in a wrapped chain
//   - a machine-readable Code ("BAD_SLOT", "NO_COOKIE", ...) that is sent to
//     clients verbatim in {"ok":false,"error":"<code>"}
//
// Handlers map the kind to an HTTP status; clients only ever look at the code.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage error")
)

// Wire codes. These strings are part of the public API.
const (
	CodeBadUsername  = "BAD_USERNAME"
	CodeNoCookie     = "NO_COOKIE"
	CodeBadSlot      = "BAD_SLOT"
	CodeBadFilename  = "BAD_FILENAME"
	CodeBadFiletype  = "BAD_FILETYPE"
	CodeTooManyFiles = "TOO_MANY_FILES"
	CodeFileTooLarge = "FILE_TOO_LARGE"
	CodeClearFailed  = "CLEAR_FAILED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL"
)

type AppError struct {
	Err     error  // kind sentinel, possibly joined with the cause
	Code    string // wire code
	Message string // human-readable message
	Field   string // optional: input that caused the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func ValidationFailed(code, field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    code,
		Message: message,
		Field:   field,
	}
}

func BadUsername() *AppError {
	return ValidationFailed(CodeBadUsername, "username", "username is empty after sanitizing")
}

func BadSlot(slot string) *AppError {
	return ValidationFailed(CodeBadSlot, "slot", fmt.Sprintf("slot %q is not a single digit 0-9", slot))
}

func BadFilename(name string) *AppError {
	return ValidationFailed(CodeBadFilename, name,
		fmt.Sprintf("file name %q must look like <number>.png, .jpg or .jpeg", name))
}

func BadFiletype(name, contentType string) *AppError {
	return ValidationFailed(CodeBadFiletype, name,
		fmt.Sprintf("file %q has content type %q, want image/png or image/jpeg", name, contentType))
}

func TooManyFiles(name string, max int) *AppError {
	return ValidationFailed(CodeTooManyFiles, name,
		fmt.Sprintf("file %q exceeds the limit of %d files per upload", name, max))
}

func FileTooLarge(name string, max int64) *AppError {
	return ValidationFailed(CodeFileTooLarge, name,
		fmt.Sprintf("file %q exceeds the limit of %d bytes", name, max))
}

func BadRequest(message string) *AppError {
	return ValidationFailed(CodeBadRequest, "", message)
}

// NoCookie is returned when a request carries no usable identity cookie.
// HTTP handlers map this to 401 Unauthorized.
func NoCookie() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Code:    CodeNoCookie,
		Message: "login required",
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ClearFailed wraps an I/O failure hit while emptying a slot.
// Both ErrStorage and the cause stay reachable through errors.Is.
func ClearFailed(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrStorage, cause),
		Code:    CodeClearFailed,
		Message: "failed to clear slot",
	}
}

// CodeOf returns the wire code carried by err, or CodeInternal when err is
// not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}
