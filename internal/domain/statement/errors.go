package statement

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyStatement      = errors.New("no transactions could be extracted from the statement")
	ErrDetectionFailed     = errors.New("format specification could not be detected")
	ErrService             = errors.New("understanding service call failed")
	ErrValidation          = errors.New("extracted data failed validation")
	ErrEncoding            = errors.New("statement cannot be encoded as MT940")
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrUnknownBank         = errors.New("bank is not supported")
)

// Error codes exposed to callers and analytics.
const (
	CodeEmptyStatement      = "empty_statement"
	CodeDetectionFailed     = "detection_failed"
	CodeServiceUnavailable  = "service_unavailable"
	CodeValidationFailed    = "validation_failed"
	CodeEncodingFailed      = "encoding_failed"
	CodeUnsupportedDocument = "unsupported_document"
	CodeUnknownBank         = "unknown_bank"
	CodeInternal            = "internal_error"
)

// EmptyStatementError means every applicable strategy ran and none produced a ledger.
type EmptyStatementError struct {
	Attempted []ParsingMethod
}

func (e *EmptyStatementError) Error() string {
	methods := make([]string, len(e.Attempted))
	for i, m := range e.Attempted {
		methods[i] = string(m)
	}
	return fmt.Sprintf("%s (tried: %s)", ErrEmptyStatement.Error(), strings.Join(methods, ", "))
}

func (e *EmptyStatementError) Is(target error) bool {
	return target == ErrEmptyStatement
}

// DetectionFailure means the understanding service produced no usable format specification.
type DetectionFailure struct {
	Reason string
	Err    error
}

func (e *DetectionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDetectionFailed.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDetectionFailed.Error(), e.Reason)
}

func (e *DetectionFailure) Is(target error) bool {
	return target == ErrDetectionFailed
}

func (e *DetectionFailure) Unwrap() error {
	return e.Err
}

// ServiceError wraps a transport failure talking to the understanding service.
// Transient errors are retried by the retry combinator.
type ServiceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrService.Error(), e.Op, e.Err)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ValidationError reports a record that cannot be coerced into the canonical model.
type ValidationError struct {
	Field  string
	Row    int // 1-based record position, 0 when not tied to a record
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Row > 0 {
		fmt.Fprintf(&b, " at record %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ", field %s", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// EncodingError is a structural MT940 field that cannot be rendered.
type EncodingError struct {
	Field  string
	Value  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("mt940 field %s: %s (%q)", e.Field, e.Reason, e.Value)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// IsRetryable reports whether the caller may retry the whole request.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Transient
}

// ErrorCode maps an error to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyStatement):
		return CodeEmptyStatement
	case errors.Is(err, ErrValidation):
		return CodeValidationFailed
	case errors.Is(err, ErrEncoding):
		return CodeEncodingFailed
	case errors.Is(err, ErrUnsupportedDocument):
		return CodeUnsupportedDocument
	case errors.Is(err, ErrUnknownBank):
		return CodeUnknownBank
	case errors.Is(err, ErrDetectionFailed):
		return CodeDetectionFailed
	case errors.Is(err, ErrService), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}
