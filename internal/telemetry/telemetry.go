// Package telemetry defines the logging, metrics, and tracing interfaces
// used throughout the broker, plus the ToolEvent envelope emitted by the
// dispatcher after every tool invocation (spec §4.1 step 8).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging. The interface is intentionally small
// so tests can supply lightweight stubs without pulling in a logging
// backend.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so dispatcher code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Result classifies the outcome of a tool invocation for telemetry
// purposes.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ToolEvent describes a single completed tool invocation (spec §4.1 step 8,
// §3 ToolResult / Provider / Session data model).
type ToolEvent struct {
	// ID is a synthetic per-call identifier (uuid.NewString(), stamped by the
	// dispatcher), letting a telemetry backend correlate a ToolEvent with the
	// structured log lines emitted for the same call.
	ID                 string
	Name               string
	Category           string
	OperationType      string
	Result             Result
	DurationMs         int64
	SessionID          string
	ConnectionAuthType string
	Custom             map[string]any
}
