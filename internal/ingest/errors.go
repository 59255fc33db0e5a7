package ingest

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorUnsupportedType ErrorCode = "unsupported_type"
	ErrorFileTooLarge    ErrorCode = "file_too_large"
	ErrorEmptyFile       ErrorCode = "empty_file"
	ErrorProduceFailed   ErrorCode = "produce_failed"
	ErrorStorageFailed   ErrorCode = "storage_failed"
)

type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ingest: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("ingest: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatusCode maps ingest failures for the handler layer. Client mistakes
// are 4xx, backend trouble is 502.
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case ErrorUnsupportedType, ErrorFileTooLarge, ErrorEmptyFile:
		return http.StatusBadRequest
	case ErrorStorageFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
