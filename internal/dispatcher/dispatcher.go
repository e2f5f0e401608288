// Package dispatcher implements the Tool Dispatch Engine (spec.md §4.1): a
// registry of Tools plus an invocation wrapper enforcing, in order,
// existence/feature gating, the disabled-tool set, read-only policy,
// confirmation elicitation, argument validation, execution, error
// translation, and telemetry emission. Grounded on the teacher's
// executor.Executor option-pattern and ordered-gate structure
// (runtime/toolregistry/executor/executor.go), generalized from
// registry-routed calls to direct in-process tool execution.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/telemetry"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

// TextBlock is one unit of ToolResult content (spec.md §3). IsUntrusted
// marks text that originated from the database or a cloud API and must be
// visually distinguished so the model does not treat it as instructions.
type TextBlock struct {
	Text        string
	IsUntrusted bool
}

// Result is a tool's outcome, always rendered as text (spec.md §3
// ToolResult).
type Result struct {
	Content []TextBlock
	IsError bool
}

// Text builds a single-block, trusted Result.
func Text(s string) Result { return Result{Content: []TextBlock{{Text: s}}} }

// UntrustedJSON builds a single-block Result wrapping v as indented JSON,
// marked untrusted because it was read back from the database or a cloud
// API (spec.md §3).
func UntrustedJSON(summary string, v any) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Result{Content: []TextBlock{{Text: summary}, {Text: fmt.Sprintf("failed to encode result: %v", err)}}, IsError: true}
	}
	return Result{Content: []TextBlock{
		{Text: summary},
		{Text: string(data), IsUntrusted: true},
	}}
}

// ErrorResult converts err into a non-panicking, classified Result whose
// text begins with "Error running <name>" (spec.md §4.1 step 7, §6 "Text
// output conventions").
func ErrorResult(name string, err error) Result {
	code := toolerrors.CodeOf(err)
	msg := err.Error()
	issues := toolerrors.IssuesOf(err)
	text := fmt.Sprintf("Error running %s: [%s] %s", name, code, msg)
	for _, issue := range issues {
		text += fmt.Sprintf("\n  - %s: %s", issue.Field, issue.Constraint)
	}
	return Result{Content: []TextBlock{{Text: text}}, IsError: true}
}

// ExecutionContext is threaded through a Tool's execute function (spec.md
// §2 "ToolExecutionContext").
type ExecutionContext struct {
	context.Context

	SessionID string
	Config    config.Config
	Logger    telemetry.Logger
	Sessions  *session.Manager
}

// Confirmer asks the end user, via the model client, to confirm or decline
// an elicited action (spec.md §4.1 step 4, GLOSSARY "Elicitation").
type Confirmer interface {
	Confirm(ctx context.Context, toolName, prompt string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, toolName, prompt string) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, toolName, prompt string) (bool, error) {
	return f(ctx, toolName, prompt)
}

// AutoApprove always confirms, useful for tests and non-interactive
// transports that resolve confirmation out of band.
var AutoApprove Confirmer = ConfirmerFunc(func(context.Context, string, string) (bool, error) { return true, nil })

// Execute runs a tool's business logic against validated arguments.
type Execute func(ctx *ExecutionContext, args map[string]any) (Result, error)

// Tool is a registered capability (spec.md §3 "Tool").
type Tool struct {
	Spec    toolspec.Spec
	Execute Execute
}

// Dispatcher routes (toolName, arguments) pairs to registered Tools,
// applying the ordered gate pipeline spec.md §4.1 defines.
type Dispatcher struct {
	tools     map[string]Tool
	confirmer Confirmer
	logger    telemetry.Logger
	tracer    telemetry.Tracer
	metrics   telemetry.Metrics
	emit      func(telemetry.ToolEvent)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfirmer overrides the default auto-approving Confirmer.
func WithConfirmer(c Confirmer) Option {
	return func(d *Dispatcher) { d.confirmer = c }
}

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracer sets the tracer used to span each invocation.
func WithTracer(t telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEventSink registers a callback invoked with every ToolEvent after an
// invocation completes (spec.md §4.1 step 8).
func WithEventSink(sink func(telemetry.ToolEvent)) Option {
	return func(d *Dispatcher) { d.emit = sink }
}

// New constructs an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:     make(map[string]Tool),
		confirmer: AutoApprove,
		logger:    telemetry.NewNoopLogger(),
		tracer:    telemetry.NewNoopTracer(),
		metrics:   telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	return d
}

// Register adds a tool to the registry. It panics on a duplicate name,
// since that violates spec.md §3's uniqueness invariant and can only be a
// wiring bug.
func (d *Dispatcher) Register(tool Tool) {
	if _, exists := d.tools[tool.Spec.Name]; exists {
		panic(fmt.Sprintf("dispatcher: duplicate tool registration for %q", tool.Spec.Name))
	}
	d.tools[tool.Spec.Name] = tool
}

// Lookup returns the registered spec for a tool name, for transports that
// need to advertise the catalog.
func (d *Dispatcher) Lookup(name string) (toolspec.Spec, bool) {
	t, ok := d.tools[name]
	if !ok {
		return toolspec.Spec{}, false
	}
	return t.Spec, true
}

// Catalog returns every registered tool's spec.
func (d *Dispatcher) Catalog() []toolspec.Spec {
	out := make([]toolspec.Spec, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t.Spec)
	}
	return out
}

// Invoke runs the full spec.md §4.1 gate pipeline for one (name, rawArgs)
// call and always returns a Result — tool and gate failures alike are
// translated into an isError Result rather than propagated (step 7).
func (d *Dispatcher) Invoke(ctx context.Context, cfg config.Config, sessions *session.Manager, sessionID, name string, rawArgs json.RawMessage) Result {
	start := time.Now()
	eventID := uuid.NewString()
	spanCtx, span := d.tracer.Start(ctx, "dispatcher.invoke."+name)
	defer span.End()

	result, toolErr := d.invoke(spanCtx, cfg, sessions, sessionID, name, rawArgs)

	duration := time.Since(start)
	outcome := telemetry.ResultSuccess
	if result.IsError {
		outcome = telemetry.ResultFailure
		span.SetStatus(codes.Error, errMessage(toolErr))
	}

	spec, _ := d.Lookup(name)
	d.metrics.RecordTimer("tool.duration", duration, "tool:"+name, "result:"+string(outcome))
	d.metrics.IncCounter("tool.invocations", 1, "tool:"+name, "result:"+string(outcome))
	span.AddEvent("tool.invoked",
		attribute.String("tool.name", name),
		attribute.String("tool.result", string(outcome)),
		attribute.String("tool.event_id", eventID),
	)

	if d.emit != nil {
		authType := ""
		if sessions != nil {
			if s, ok := sessions.Get(sessionID); ok {
				authType = s.AuthType
			}
		}
		d.emit(telemetry.ToolEvent{
			ID:                 eventID,
			Name:               name,
			Category:           string(spec.Category),
			OperationType:      string(spec.OperationType),
			Result:             outcome,
			DurationMs:         duration.Milliseconds(),
			SessionID:          sessionID,
			ConnectionAuthType: authType,
		})
	}

	return result
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// invoke runs the ordered gate pipeline and returns both the rendered
// Result and the underlying error (nil on success), so Invoke can still
// classify the outcome for telemetry after translation.
func (d *Dispatcher) invoke(ctx context.Context, cfg config.Config, sessions *session.Manager, sessionID, name string, rawArgs json.RawMessage) (Result, error) {
	// Step 1: existence & feature gate.
	tool, ok := d.tools[name]
	if !ok {
		err := toolerrors.New(toolerrors.ToolNotFound, fmt.Sprintf("no tool registered with name %q", name))
		return ErrorResult(name, err), err
	}
	for _, feature := range tool.Spec.RequiredFeatures {
		if !cfg.HasPreviewFeature(config.PreviewFeature(feature)) {
			err := toolerrors.New(toolerrors.FeatureDisabled, fmt.Sprintf("tool %q requires preview feature %q", name, feature))
			return ErrorResult(name, err), err
		}
	}

	// Step 2: disabled-set check (by name, category, or operation type).
	if isDisabled(cfg.DisabledTools, name, string(tool.Spec.Category), string(tool.Spec.OperationType)) {
		err := toolerrors.New(toolerrors.ToolDisabled, fmt.Sprintf("tool %q is disabled by configuration", name))
		return ErrorResult(name, err), err
	}

	// Step 3: read-only check.
	if cfg.ReadOnly && isWriteOperation(tool.Spec.OperationType) {
		err := toolerrors.New(toolerrors.ForbiddenWriteOperation, fmt.Sprintf("tool %q performs a write operation and readOnly is enabled", name))
		return ErrorResult(name, err), err
	}

	// Step 4: confirmation.
	if contains(cfg.ConfirmationRequiredTools, name) {
		prompt := confirmationPrompt(tool.Spec, rawArgs)
		confirmed, err := d.confirmer.Confirm(ctx, name, prompt)
		if err != nil {
			toolErr := toolerrors.New(toolerrors.Unexpected, "failed to obtain confirmation").WithCause(err)
			return ErrorResult(name, toolErr), toolErr
		}
		if !confirmed {
			// Declined confirmation is a non-error outcome (spec.md §4.1 step 4).
			return Text(fmt.Sprintf("%s was not confirmed; no action was taken.", name)), nil
		}
	}

	// Step 5: argument validation.
	var args map[string]any
	var err error
	if tool.Spec.Args != nil {
		args, err = tool.Spec.Args.Validate(rawArgs)
		if err != nil {
			return ErrorResult(name, err), err
		}
	} else {
		args = map[string]any{}
	}

	// Step 6: execution.
	execCtx := &ExecutionContext{Context: ctx, SessionID: sessionID, Config: cfg, Logger: d.logger, Sessions: sessions}
	result, err := tool.Execute(execCtx, args)
	if err != nil {
		// Step 7: error translation.
		return ErrorResult(name, err), err
	}
	return result, nil
}

func isWriteOperation(op toolspec.OperationType) bool {
	switch op {
	case toolspec.OperationCreate, toolspec.OperationUpdate, toolspec.OperationDelete:
		return true
	default:
		return false
	}
}

func isDisabled(disabled []string, name, category, operationType string) bool {
	for _, d := range disabled {
		if d == name || d == category || d == operationType {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func confirmationPrompt(spec toolspec.Spec, rawArgs json.RawMessage) string {
	if spec.ConfirmationTemplate == "" {
		return fmt.Sprintf("Confirm running %q with arguments %s?", spec.Name, strings.TrimSpace(string(rawArgs)))
	}
	return spec.ConfirmationTemplate
}
