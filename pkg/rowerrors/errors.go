// Package rowerrors provides structured error handling for rowpack with error
// categorization, key-value context, and stack traces.
//
// # Overview
//
// Every failure produced by the row containers and the binary codec is an
// *Error carrying an ErrorType. Callers branch on the category rather than on
// message text:
//
//	batch, err := rowcodec.Unmarshal(data)
//	if rowerrors.IsType(err, rowerrors.ErrorTypeUnexpectedEOF) {
//	    // the payload was truncated, re-fetch it
//	}
//
// None of the categories are retried internally. A decode failure never
// returns a partial batch.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Add details with
// WithDetail before sharing an error across goroutines.
package rowerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeCapacityExceeded is returned when a new key is inserted into a
	// full CompactMap.
	ErrorTypeCapacityExceeded ErrorType = "capacity_exceeded"
	// ErrorTypeSchemaMismatch is returned for column-count mismatches and
	// incompatible batch merges.
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeUnsupportedValue is returned when a runtime value has no wire type.
	ErrorTypeUnsupportedValue ErrorType = "unsupported_value_type"
	// ErrorTypeFormat is returned for malformed encoded input.
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeUnexpectedEOF is returned when input ends before a declared field.
	ErrorTypeUnexpectedEOF ErrorType = "unexpected_eof"
	// ErrorTypeShortBuffer is returned when an output buffer is too small.
	ErrorTypeShortBuffer ErrorType = "short_buffer"
	// ErrorTypeReadOnly is returned for mutations through read-only views.
	ErrorTypeReadOnly ErrorType = "read_only"
	// ErrorTypeOutOfRange is returned for invalid row or column indexes.
	ErrorTypeOutOfRange ErrorType = "out_of_range"
	// ErrorTypeUnsupportedFormat is returned when asked to write the legacy
	// row-oriented encoding.
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeStorage represents blob storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeQuery represents result-set reading errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error with a category, optional cause, detail map and
// the call stack captured where it was created.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of a captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As can walk the chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
//
//	return rowerrors.New(rowerrors.ErrorTypeSchemaMismatch, "illegal values size").
//	    WithDetail("values", len(values)).
//	    WithDetail("keys", len(keys))
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error of the given type, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a category and message. If err is already an *Error its
// stack is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether the outermost *Error in err's chain has the given type.
//
//	if rowerrors.IsType(err, rowerrors.ErrorTypeCapacityExceeded) {
//	    row = rows.NewHashRow()
//	}
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the category of the outermost *Error in err's chain, or the
// empty string if there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
