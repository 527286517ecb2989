package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// TransportErrorCode is the APIError code used when the remote call never produced an envelope.
const TransportErrorCode = -1

// ParseError is returned when a file cannot be read into rows.
type ParseError struct {
	File    string
	Line    int
	Message string
	Err     error
}

func NewParseError(file string, err error) *ParseError {
	return &ParseError{
		File:    file,
		Message: err.Error(),
		Err:     err,
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) AddLine(line int) *ParseError {
	e.Line = line
	return e
}

func (e *ParseError) Error() string {
	path := []string{}
	if e.File != "" {
		path = append(path, fmt.Sprintf("file '%s'", e.File))
	}
	if e.Line > 0 {
		path = append(path, fmt.Sprintf("line %d", e.Line))
	}
	if len(path) == 0 {
		return "parse error: " + e.Message
	}
	return strings.Join(path, " -> ") + ": parse error: " + e.Message
}

// ClassificationError is returned when a header set matches no record kind.
type ClassificationError struct {
	File    string
	Headers []string
}

func NewClassificationError(file string, headers []string) *ClassificationError {
	return &ClassificationError{File: file, Headers: headers}
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("file '%s': unrecognized headers [%s]", e.File, strings.Join(e.Headers, ", "))
}

// ResolutionError describes a row whose foreign keys could not be resolved.
type ResolutionError struct {
	Key    string
	Reason string
}

func NewResolutionError(key, reason string) *ResolutionError {
	return &ResolutionError{Key: key, Reason: reason}
}

func (e *ResolutionError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

// APIError is a non-success envelope (or transport failure) from the inventory API.
type APIError struct {
	Operation  string
	StatusCode int
	Code       int
	Message    string
}

func NewAPIError(operation string, statusCode, code int, message string) *APIError {
	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// WrapTransportError converts a network failure into an APIError.
func WrapTransportError(operation string, err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Operation: operation,
		Code:      TransportErrorCode,
		Message:   err.Error(),
	}
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: API error %d (status %d): %s", e.Operation, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Operation, e.Code, e.Message)
}

func (e *APIError) ToHTTPError() *httperror.HTTPError {
	status := http.StatusBadGateway
	if e.StatusCode >= 400 && e.StatusCode < 600 {
		status = e.StatusCode
	}
	return httperror.NewHTTPError(status, e.Error()).AddMetaValue("operation", e.Operation).AddMetaValue("code", e.Code)
}

func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

func IsResolutionError(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}

// AsAPIError unwraps err into an APIError.
func AsAPIError(err error) (*APIError, bool) {
	var target *APIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
