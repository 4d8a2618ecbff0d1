package domain

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable, enumerable error code crossing the core boundary.
// Callers switch on the code, never on message text.
type Code string

const (
	CodeContainerRead        Code = "CODE_CONTAINER_READ"
	CodeContainerUnsupported Code = "CODE_CONTAINER_OPEN_UNSUPPORTED"
	CodeEmptyBook            Code = "CODE_EMPTY_BOOK"
	CodeImageOpen            Code = "CODE_IMAGE_OPEN"
	CodePageNotFound         Code = "CODE_PAGE_NOT_FOUND"
	CodeHandleReleased       Code = "CODE_HANDLE_RELEASED"
	CodeInterpreter          Code = "CODE_INTERPRETER"
	CodeOCR                  Code = "CODE_OCR"
	CodeCancelled            Code = "CODE_CANCELLED"
	CodeInvalidArgument      Code = "CODE_INVALID_ARGUMENT"
	CodePathForbidden        Code = "CODE_PATH_FORBIDDEN"
	CodeConfig               Code = "CODE_CONFIG"
	CodeStorage              Code = "CODE_STORAGE"
	CodeAPI                  Code = "CODE_API"
	CodeUnknown              Code = "CODE_UNKNOWN"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(code Code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ContainerReadError(message string, err error) *DomainError {
	return NewError(CodeContainerRead, message, err)
}

func ContainerUnsupportedError(message string, err error) *DomainError {
	return NewError(CodeContainerUnsupported, message, err)
}

func EmptyBookError(message string) *DomainError {
	return NewError(CodeEmptyBook, message, nil)
}

func ImageOpenError(message string, err error) *DomainError {
	return NewError(CodeImageOpen, message, err)
}

func PageNotFoundError(position int) *DomainError {
	return NewError(CodePageNotFound, fmt.Sprintf("no page at position %d", position), nil)
}

func InterpreterError(message string, err error) *DomainError {
	return NewError(CodeInterpreter, message, err)
}

func OCRError(message string, err error) *DomainError {
	return NewError(CodeOCR, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(CodeInvalidArgument, message, err)
}

// PathForbiddenError reports a path outside every configured library root.
func PathForbiddenError(path string) *DomainError {
	return NewError(CodePathForbidden, fmt.Sprintf("path is outside the library: %s", path), nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(CodeConfig, message, err)
}

func StorageError(message string, err error) *DomainError {
	return NewError(CodeStorage, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(CodeAPI, message, err)
}

// ErrHandleReleased is returned when an encoded page handle is used or
// released after its first release.
var ErrHandleReleased = NewError(CodeHandleReleased, "page handle already released", nil)

// CodeOf extracts the stable code from err. Context cancellation and
// deadline expiry map to CodeCancelled.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
