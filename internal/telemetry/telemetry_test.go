package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mongodb-tool-broker/broker/internal/telemetry"
)

func TestNoopImplementationsDoNotPanic(t *testing.T) {
	logger := telemetry.NewNoopLogger()
	logger.Info(context.Background(), "hello", "k", "v")

	tracer := telemetry.NewNoopTracer()
	ctx, span := tracer.Start(context.Background(), "op")
	assert.NotNil(t, ctx)
	span.AddEvent("evt")
	span.End()

	metrics := telemetry.NewNoopMetrics()
	metrics.IncCounter("c", 1)
}

func TestStderrLoggerWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := telemetry.NewStderrLoggerTo(&buf)
	l.Info(context.Background(), "starting", "port", 3000)
	assert.Contains(t, buf.String(), `msg="starting"`)
	assert.Contains(t, buf.String(), "port=3000")
	assert.Contains(t, buf.String(), "level=info")
}
