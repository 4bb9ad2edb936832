// Package apperr defines the error kinds surfaced by the dictation gateway.
// Every failure that leaves the core carries a stable Kind tag; transport
// shells map the kind to a status code and never expose the cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindInvalidRequest         Kind = "invalid_request"
	KindNotFound               Kind = "not_found"
	KindTranscriptionFailure   Kind = "transcription_failure"
	KindExtractionParseError   Kind = "extraction_parse_error"
	KindExtractionServiceError Kind = "extraction_service_error"
	KindGenerationServiceError Kind = "generation_service_error"
	KindInternal               Kind = "internal"
)

// Error is the structured error returned across component boundaries.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetails merges details into the error and returns the receiver.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func TranscriptionFailure(cause error) *Error {
	return Wrap(KindTranscriptionFailure, "failed to process audio", cause)
}

func GenerationServiceError(message string, cause error) *Error {
	return Wrap(KindGenerationServiceError, message, cause)
}

// KindOf walks the error chain and reports the first kind it finds.
// Errors that carry no kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k interface{ ErrorKind() Kind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// ErrorKind lets other typed errors participate in KindOf.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	var m interface{ PublicMessage() string }
	if errors.As(err, &m) {
		return m.PublicMessage()
	}
	return "internal error"
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTranscriptionFailure, KindExtractionParseError, KindGenerationServiceError:
		return http.StatusBadGateway
	case KindExtractionServiceError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
