package flowforge

import (
	"context"
	"fmt"
	"log/slog"
)

// Error is a context-aware compile-time or configuration error that carries
// metadata for logging and tracing. It is distinct from AssertionError, which
// signals a runtime invariant violation inside a running segment.
//
// It implements the standard error interface and supports Go's error wrapping
// (errors.Is, errors.As, errors.Unwrap). Metadata includes trace ID, request ID,
// and arbitrary tags as slog.Attr for structured logging.
//
// Example:
//
//	err := flowforge.WrapErr(ctx, originalErr, "failed to normalize binding rate")
//	err.Tag(slog.String("kernel", k.Name))
//	err.Tag(slog.Int("binding_index", i))
//	return err
type Error struct {
	msg       string
	cause     error
	traceID   string
	requestID string
	attrs     []slog.Attr
}

// WrapErr wraps an existing error with context metadata.
//
// The trace ID and request ID are automatically extracted from context.
// Use Tag() to add additional metadata.
//
// Example:
//
//	if err != nil {
//	    return flowforge.WrapErr(ctx, err, "failed to open object cache")
//	}
//
//	// With tags
//	return flowforge.WrapErr(ctx, err, "rate normalization failed").
//	    Tag(slog.String("kernel", k.Name)).
//	    Tag(slog.Duration("elapsed", elapsed))
func WrapErr(ctx context.Context, err error, msg string) *Error {
	return &Error{
		msg:       msg,
		cause:     err,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
		attrs:     make([]slog.Attr, 0),
	}
}

// NewErr creates a new error with context metadata (no underlying cause).
//
// The trace ID and request ID are automatically extracted from context.
// Use Tag() to add additional metadata.
//
// Example:
//
//	if binding.Rate == nil {
//	    return flowforge.NewErr(ctx, "binding has no processing rate")
//	}
//
//	// With tags
//	return flowforge.NewErr(ctx, "configuration rejected").
//	    Tag(slog.String("kernel", k.Name)).
//	    Tag(slog.String("reason", "greedy rate not permitted on outputs"))
func NewErr(ctx context.Context, msg string) *Error {
	return &Error{
		msg:       msg,
		cause:     nil,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
		attrs:     make([]slog.Attr, 0),
	}
}

// Tag adds a slog.Attr to the error for structured logging.
//
// Returns the error for fluent chaining. Use slog.String, slog.Int,
// slog.Bool, slog.Duration, slog.Any, etc. to create attributes.
//
// Example:
//
//	return flowforge.WrapErr(ctx, err, "operation failed").
//	    Tag(slog.String("operation", "create_user")).
//	    Tag(slog.Int("user_id", 123)).
//	    Tag(slog.Bool("retryable", true)).
//	    Tag(slog.Duration("elapsed", elapsed))
func (e *Error) Tag(attr slog.Attr) *Error {
	e.attrs = append(e.attrs, attr)
	return e
}

// Tags adds multiple slog.Attr to the error.
//
// Returns the error for fluent chaining.
//
// Example:
//
//	return flowforge.WrapErr(ctx, err, "request failed").
//	    Tags(
//	        slog.String("method", "POST"),
//	        slog.String("path", "/api/users"),
//	        slog.Int("status", 500),
//	    )
func (e *Error) Tags(attrs ...slog.Attr) *Error {
	e.attrs = append(e.attrs, attrs...)
	return e
}

// Error implements the error interface.
//
// Returns the message with the cause error if present.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the underlying error.
//
// This enables errors.Is and errors.As to work with wrapped errors.
func (e *Error) Unwrap() error {
	return e.cause
}

// TraceID returns the trace ID associated with this error.
func (e *Error) TraceID() string {
	return e.traceID
}

// RequestID returns the request ID associated with this error.
func (e *Error) RequestID() string {
	return e.requestID
}

// Attrs returns the slog attributes associated with this error.
//
// Useful for logging the error with all its metadata.
func (e *Error) Attrs() []slog.Attr {
	return e.attrs
}

// Message returns the error message without the cause.
func (e *Error) Message() string {
	return e.msg
}

// Cause returns the underlying error (alias for Unwrap).
func (e *Error) Cause() error {
	return e.cause
}

// LogAttrs returns all attributes including trace_id and request_id.
//
// This is useful for logging the error with all context metadata.
//
// Example:
//
//	flowforge.LogErrorAttr(ctx, "operation failed", err.LogAttrs()...)
func (e *Error) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+3)

	// Add error itself
	if e.cause != nil {
		attrs = append(attrs, slog.Any("error", e.cause))
	}

	// Add trace and request IDs if present
	if e.traceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.traceID))
	}
	if e.requestID != "" {
		attrs = append(attrs, slog.String("request_id", e.requestID))
	}

	// Add custom attrs
	attrs = append(attrs, e.attrs...)

	return attrs
}

// Log logs this error at error level with all metadata.
//
// Uses the logger from context or slog.Default().
//
// Example:
//
//	err := flowforge.WrapErr(ctx, originalErr, "failed to process").
//	    Tag(slog.String("item_id", itemID))
//	err.Log(ctx)  // Logs with all metadata
func (e *Error) Log(ctx context.Context) {
	LogErrorAttr(ctx, e.msg, e.LogAttrs()...)
}

// LogWithLevel logs this error at the specified level with all metadata.
//
// Example:
//
//	err.LogWithLevel(ctx, slog.LevelWarn)  // Log as warning instead of error
func (e *Error) LogWithLevel(ctx context.Context, level slog.Level) {
	LogAttr(ctx, level, e.msg, e.LogAttrs()...)
}

// WithMessage returns a copy of the error with a new message.
//
// Useful when you want to add context without losing the original error.
// The attrs slice is copied to prevent mutation of the original error.
//
// Example:
//
//	return err.WithMessage("failed in handler")
func (e *Error) WithMessage(msg string) *Error {
	attrsCopy := make([]slog.Attr, len(e.attrs))
	copy(attrsCopy, e.attrs)
	return &Error{
		msg:       msg,
		cause:     e,
		traceID:   e.traceID,
		requestID: e.requestID,
		attrs:     attrsCopy,
	}
}

// Is implements errors.Is for this error.
//
// Returns true if target is the same type and has the same message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.msg == t.msg
	}
	return false
}

// AssertionError reports a runtime invariant violation raised by a kernel or
// by the generated segment state machine, analogous to the original C++
// system's assert/report_fatal_error calls. Unlike Error, an AssertionError
// is never expected in a correctly-configured pipeline: its presence means
// either a kernel violated its declared processing rates or the compiler
// produced an inconsistent schedule.
type AssertionError struct {
	Kernel  string
	Segment uint64
	msg     string
	attrs   []slog.Attr
}

// NewAssertionError creates an AssertionError for the named kernel at the
// given segment number.
//
// Example:
//
//	if produced > binding.Rate.UpperBound(strides) {
//	    panic(flowforge.NewAssertionError(k.Name, segNo, "produced more items than the declared upper bound"))
//	}
func NewAssertionError(kernel string, segment uint64, msg string) *AssertionError {
	return &AssertionError{Kernel: kernel, Segment: segment, msg: msg}
}

// Tag adds a slog.Attr to the assertion error for structured logging.
func (e *AssertionError) Tag(attr slog.Attr) *AssertionError {
	e.attrs = append(e.attrs, attr)
	return e
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("kernel %q segment %d: %s", e.Kernel, e.Segment, e.msg)
}

// LogAttrs returns all attributes including kernel and segment identifiers.
func (e *AssertionError) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+2)
	attrs = append(attrs, slog.String("kernel", e.Kernel), slog.Uint64("segment", e.Segment))
	return append(attrs, e.attrs...)
}

// Log logs this assertion error at error level with all metadata.
func (e *AssertionError) Log(ctx context.Context) {
	LogErrorAttr(ctx, e.msg, e.LogAttrs()...)
}
