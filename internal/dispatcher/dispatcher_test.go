package dispatcher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/telemetry"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

func echoSpec(t *testing.T, name string, op toolspec.OperationType) toolspec.Spec {
	t.Helper()
	args, err := toolspec.Compile(name, json.RawMessage(`{
		"type": "object",
		"properties": {"msg": {"type": "string"}},
		"required": ["msg"],
		"additionalProperties": false
	}`))
	require.NoError(t, err)
	return toolspec.Spec{Name: name, Category: toolspec.CategoryMongoDB, OperationType: op, Args: args}
}

func TestInvokeSuccessPath(t *testing.T) {
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec: echoSpec(t, "echo", toolspec.OperationRead),
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			return dispatcher.Text(args["msg"].(string)), nil
		},
	})

	result := d.Invoke(context.Background(), config.Defaults(), nil, "s1", "echo", json.RawMessage(`{"msg":"hi"}`))
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hi", result.Content[0].Text)
}

func TestInvokeUnknownToolIsToolNotFound(t *testing.T) {
	d := dispatcher.New()
	result := d.Invoke(context.Background(), config.Defaults(), nil, "s1", "missing", nil)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, string(toolerrors.ToolNotFound))
}

func TestInvokeRejectsDisabledTool(t *testing.T) {
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec:    echoSpec(t, "echo", toolspec.OperationRead),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) { return dispatcher.Text("ok"), nil },
	})
	cfg := config.Defaults()
	cfg.DisabledTools = []string{"echo"}

	result := d.Invoke(context.Background(), cfg, nil, "s1", "echo", json.RawMessage(`{"msg":"hi"}`))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, string(toolerrors.ToolDisabled))
}

func TestInvokeRejectsWriteWhenReadOnly(t *testing.T) {
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec:    echoSpec(t, "delete-many", toolspec.OperationDelete),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) { return dispatcher.Text("ok"), nil },
	})
	cfg := config.Defaults()
	cfg.ReadOnly = true

	result := d.Invoke(context.Background(), cfg, nil, "s1", "delete-many", json.RawMessage(`{"msg":"hi"}`))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, string(toolerrors.ForbiddenWriteOperation))
}

func TestInvokeRejectsInvalidArguments(t *testing.T) {
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec:    echoSpec(t, "echo", toolspec.OperationRead),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) { return dispatcher.Text("ok"), nil },
	})

	result := d.Invoke(context.Background(), config.Defaults(), nil, "s1", "echo", json.RawMessage(`{}`))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, string(toolerrors.InvalidArguments))
}

func TestInvokeDeclinedConfirmationIsNotAnError(t *testing.T) {
	d := dispatcher.New(dispatcher.WithConfirmer(dispatcher.ConfirmerFunc(
		func(context.Context, string, string) (bool, error) { return false, nil },
	)))
	d.Register(dispatcher.Tool{
		Spec:    echoSpec(t, "drop-database", toolspec.OperationDelete),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) { return dispatcher.Text("dropped"), nil },
	})
	cfg := config.Defaults() // drop-database is in DefaultConfirmationRequiredTools

	result := d.Invoke(context.Background(), cfg, nil, "s1", "drop-database", json.RawMessage(`{"msg":"hi"}`))
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "not confirmed")
}

func TestInvokeToolErrorIsTranslatedNotPanicked(t *testing.T) {
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec: echoSpec(t, "echo", toolspec.OperationRead),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) {
			return dispatcher.Result{}, toolerrors.New(toolerrors.NotConnected, "no session")
		},
	})

	result := d.Invoke(context.Background(), config.Defaults(), nil, "s1", "echo", json.RawMessage(`{"msg":"hi"}`))
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, string(toolerrors.NotConnected))
}

func TestInvokeEmitsTelemetryEvent(t *testing.T) {
	var events []telemetry.ToolEvent
	d := dispatcher.New(dispatcher.WithEventSink(func(ev telemetry.ToolEvent) {
		events = append(events, ev)
	}))
	d.Register(dispatcher.Tool{
		Spec:    echoSpec(t, "echo", toolspec.OperationRead),
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) { return dispatcher.Text("ok"), nil },
	})

	d.Invoke(context.Background(), config.Defaults(), nil, "s1", "echo", json.RawMessage(`{"msg":"hi"}`))
	require.Len(t, events, 1)
	assert.Equal(t, "echo", events[0].Name)
	assert.Equal(t, telemetry.ResultSuccess, events[0].Result)
	assert.NotEmpty(t, events[0].ID)
}
