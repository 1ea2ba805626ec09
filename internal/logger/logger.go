// Package logger provides structured logging middleware for flowforge's
// segment-loop instrumentation and CLI output: level-based logging with
// context support and adapters for various logging backends (zerolog, slog,
// the standard log package), plus handlers.go's SegmentLoop wrappers for
// per-kernel, per-segment tracing.
package logger

import (
	"context"
	"fmt"
	"log"
)

// LogLevel represents logging levels (Debug < Info < Warn < Error)
type LogLevel int

const (
	// DebugLevel is for detailed debugging information
	DebugLevel LogLevel = iota
	// InfoLevel is for general informational messages
	InfoLevel
	// WarnLevel is for warning messages that are not errors
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// Attribute represents a structured logging attribute for key-value pairs
type Attribute struct {
	Key   string
	Value any
}

// Attr creates an Attribute
func Attr(key string, value any) Attribute {
	return Attribute{Key: key, Value: value}
}

// Adapter defines the contract for logging backends (zerolog, slog, standard log, etc.)
type Adapter interface {
	Log(ctx context.Context, level LogLevel, msg string, attrs ...Attribute) // Structured logging with level
	IsLevelEnabled(ctx context.Context, level LogLevel) bool                 // Performance check - skip work if disabled
	Printf(format string, v ...any)                                          // Simple printf-style logging
}

// ============================================================================
// LOGGER INSTANCE
// ============================================================================

// Logger wraps any Adapter backend and provides the main API. A Logger may
// carry a fixed set of baseAttrs, prepended ahead of every call-site
// attribute by ForKernel/ForRun/WithAttrs, so cmd/flowforgec and
// handlers.go's wrappers don't have to repeat a kernel name or run ID on
// every log line by hand.
type Logger struct {
	backend   Adapter
	baseAttrs []Attribute
}

// New creates a Logger with a custom backend (zerolog, slog, etc.)
func New(backend Adapter) *Logger {
	return &Logger{backend: backend}
}

// Default creates a Logger using the standard library log package (simple, no levels)
func Default() *Logger {
	return New(NewStandardAdapter(log.Default()))
}

// WithAttrs returns a Logger that prepends attrs ahead of every record's
// call-site attributes, in addition to any this Logger already carries.
func (l *Logger) WithAttrs(attrs ...Attribute) *Logger {
	merged := make([]Attribute, 0, len(l.baseAttrs)+len(attrs))
	merged = append(merged, l.baseAttrs...)
	merged = append(merged, attrs...)
	return &Logger{backend: l.backend, baseAttrs: merged}
}

// ForKernel returns a Logger tagging every record it produces with the
// given kernel name, the attribute handlers.go's per-segment wrappers
// otherwise have to attach by hand on every call.
func (l *Logger) ForKernel(name string) *Logger {
	return l.WithAttrs(Attr("kernel", name))
}

// ForRun returns a Logger tagging every record with a compiled Program's
// run ID (compiler.go's Program.ID), so a CLI invocation's log lines can be
// correlated back to the exact compile/run that produced them.
func (l *Logger) ForRun(id string) *Logger {
	return l.WithAttrs(Attr("run_id", id))
}

// ============================================================================
// LEVEL METHODS - Create HandlerBuilder with specific log levels
// ============================================================================

// Debug provides debug-level logging
func (l *Logger) Debug() *HandlerBuilder {
	return l.builder(&LeveledPrinter{backend: l.backend, level: DebugLevel})
}

// Info provides info-level logging
func (l *Logger) Info() *HandlerBuilder {
	return l.builder(&LeveledPrinter{backend: l.backend, level: InfoLevel})
}

// Warn provides warning-level logging
func (l *Logger) Warn() *HandlerBuilder {
	return l.builder(&LeveledPrinter{backend: l.backend, level: WarnLevel})
}

// Error provides error-level logging
func (l *Logger) Error() *HandlerBuilder {
	return l.builder(&LeveledPrinter{backend: l.backend, level: ErrorLevel})
}

// Print provides level-agnostic logging
func (l *Logger) Print() *HandlerBuilder {
	return l.builder(&SimplePrinter{backend: l.backend})
}

func (l *Logger) builder(p Printer) *HandlerBuilder {
	return &HandlerBuilder{logger: l, printer: p, baseAttrs: l.baseAttrs}
}

// ============================================================================
// INTERNAL TYPES - HandlerBuilder and Printers
// ============================================================================

// HandlerBuilder provides the specialized logging methods (Timing, Cycle,
// etc. in handlers.go) and the one-off Msg method below. All Logger level
// methods return this to enable: log.Info().Timing("POPCOUNT", loop).
type HandlerBuilder struct {
	logger    *Logger
	printer   Printer
	ctx       context.Context // Optional explicit context for tracing/observability
	baseAttrs []Attribute
}

// WithContext returns a new HandlerBuilder with the specified context for tracing/observability
func (hb *HandlerBuilder) WithContext(ctx context.Context) *HandlerBuilder {
	return &HandlerBuilder{
		logger:    hb.logger,
		printer:   hb.printer,
		ctx:       ctx,
		baseAttrs: hb.baseAttrs,
	}
}

// Msg logs a single record at this builder's level with its persistent
// attributes (kernel/run tags from ForKernel/ForRun), without wrapping a
// SegmentLoop -- for one-off lines like "compiled pipeline" rather than
// per-segment instrumentation, which handlers.go's wrappers handle instead.
func (hb *HandlerBuilder) Msg(ctx context.Context, msg string, attrs ...Attribute) {
	hb.print(ctx, msg, attrs...)
}

func (hb *HandlerBuilder) print(ctx context.Context, msg string, attrs ...Attribute) {
	finalCtx := ctx
	if hb.ctx != nil {
		finalCtx = hb.ctx
	}
	all := attrs
	if len(hb.baseAttrs) > 0 {
		all = make([]Attribute, 0, len(hb.baseAttrs)+len(attrs))
		all = append(all, hb.baseAttrs...)
		all = append(all, attrs...)
	}
	hb.printer.Print(finalCtx, msg, all...)
}

// Printer interface abstracts different printing strategies (leveled vs simple)
type Printer interface {
	Print(ctx context.Context, msg string, attrs ...Attribute)
}

// SimplePrinter uses Printf() - no levels, simple formatting
type SimplePrinter struct {
	backend Adapter
}

// Print implements Printer interface with simple Printf formatting
func (sp *SimplePrinter) Print(_ context.Context, msg string, attrs ...Attribute) {
	if len(attrs) == 0 {
		sp.backend.Printf("%s", msg)
		return
	}

	// Simple attribute formatting: msg key1=value1 key2=value2
	var attrStr string
	for _, attr := range attrs {
		attrStr += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
	}
	sp.backend.Printf("%s%s", msg, attrStr)
}

// LeveledPrinter uses Log() with level checking - structured logging
type LeveledPrinter struct {
	backend Adapter
	level   LogLevel
}

// Print implements Printer interface with level checking
func (lp *LeveledPrinter) Print(ctx context.Context, msg string, attrs ...Attribute) {
	if lp.backend.IsLevelEnabled(ctx, lp.level) {
		lp.backend.Log(ctx, lp.level, msg, attrs...)
	}
}
