// Package toolerrors defines the stable error taxonomy codes returned to
// clients and recorded in telemetry (spec §7). Errors preserve cause chains
// for errors.Is/As while remaining safe to serialize for transport.
package toolerrors

import (
	"errors"
	"fmt"
)

// Code is a stable taxonomy code. Codes are part of the wire contract: they
// are compared by telemetry pipelines and must not change meaning.
type Code string

const (
	ToolNotFound             Code = "ToolNotFound"
	ToolDisabled             Code = "ToolDisabled"
	FeatureDisabled          Code = "FeatureDisabled"
	InvalidArguments         Code = "InvalidArguments"
	ConfirmationDeclined     Code = "ConfirmationDeclined"
	NotConnected             Code = "NotConnected"
	ConnectionFailed         Code = "ConnectionFailed"
	ForbiddenWriteOperation  Code = "ForbiddenWriteOperation"
	ForbiddenReadOperation   Code = "ForbiddenReadOperation"
	AtlasSearchNotSupported  Code = "AtlasSearchNotSupported"
	AtlasVectorSearchIndexNF Code = "AtlasVectorSearchIndexNotFound"
	AtlasVectorSearchInvalid Code = "AtlasVectorSearchInvalidQuery"
	EmbeddingServiceError    Code = "EmbeddingServiceError"
	EmbeddingDimensionMismatch Code = "EmbeddingDimensionMismatch"
	Unexpected               Code = "Unexpected"
)

// FieldIssue reports a single argument validation failure for one field
// path, used to build the "per-field reasons" text spec §4.1 requires.
type FieldIssue struct {
	Field      string
	Constraint string
}

// Error is a structured, classified tool failure. It implements the error
// interface and supports errors.Is/As through Unwrap so call sites can still
// branch on sentinel causes when one is wrapped.
type Error struct {
	Code    Code
	Message string
	Issues  []FieldIssue
	Cause   error
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause and returns the receiver for
// chaining at construction time.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithIssues attaches field-level validation issues and returns the receiver.
func (e *Error) WithIssues(issues []FieldIssue) *Error {
	e.Issues = issues
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Unwrap exposes the cause chain to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CodeOf extracts the taxonomy code from err, defaulting to Unexpected when
// err does not carry one.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return Unexpected
}

// IssuesOf extracts field issues from err, if any.
func IssuesOf(err error) []FieldIssue {
	var te *Error
	if errors.As(err, &te) {
		return te.Issues
	}
	return nil
}
