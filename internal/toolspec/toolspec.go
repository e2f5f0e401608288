// Package toolspec describes a tool's argument shape (name, description,
// JSON Schema, category/operation-type metadata) and compiles/validates
// arguments against that schema (spec.md §4.1 step: argument validation).
package toolspec

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

// Category groups tools for disabledTools/confirmationRequiredTools
// membership checks (spec.md §6).
type Category string

const (
	CategoryMongoDB Category = "mongodb"
	CategoryGraph   Category = "graph"
	CategoryAtlas   Category = "atlas"
)

// OperationType classifies the tool for read-only/index-check gating and
// telemetry (spec.md §4.1, §7).
type OperationType string

const (
	OperationRead     OperationType = "read"
	OperationCreate   OperationType = "create"
	OperationUpdate   OperationType = "update"
	OperationDelete   OperationType = "delete"
	OperationMetadata OperationType = "metadata"
)

// ArgsShape is the compiled argument schema for one tool: the raw JSON
// Schema document plus the compiled validator used on every call.
type ArgsShape struct {
	Name   string
	Schema json.RawMessage

	compiled *jsonschema.Schema
}

// Compile parses and compiles the raw JSON Schema document. name is used
// purely as the in-memory resource identifier handed to the compiler.
func Compile(name string, schema json.RawMessage) (*ArgsShape, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("toolspec: unmarshal schema for %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("toolspec: add schema resource for %s: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("toolspec: compile schema for %s: %w", name, err)
	}

	return &ArgsShape{Name: name, Schema: schema, compiled: compiled}, nil
}

// Validate decodes rawArgs as JSON and checks it against the compiled
// schema. On failure it returns a *toolerrors.Error with code
// InvalidArguments and one FieldIssue per leaf schema violation.
func (s *ArgsShape) Validate(rawArgs json.RawMessage) (map[string]any, error) {
	var doc any
	if len(rawArgs) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(rawArgs, &doc); err != nil {
		return nil, toolerrors.New(toolerrors.InvalidArguments, fmt.Sprintf("arguments for %s are not valid JSON", s.Name)).WithCause(err)
	}

	if err := s.compiled.Validate(doc); err != nil {
		issues := issuesFromValidationError(err)
		toolErr := toolerrors.New(toolerrors.InvalidArguments, fmt.Sprintf("arguments for %s failed schema validation", s.Name)).WithCause(err)
		if len(issues) > 0 {
			toolErr = toolErr.WithIssues(issues)
		}
		return nil, toolErr
	}

	args, _ := doc.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// issuesFromValidationError flattens a jsonschema validation error tree into
// the flat FieldIssue list the dispatcher reports back to callers.
func issuesFromValidationError(err error) []toolerrors.FieldIssue {
	valErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil
	}

	var issues []toolerrors.FieldIssue
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			field := "$"
			if len(v.InstanceLocation) > 0 {
				field = "/" + joinLocation(v.InstanceLocation)
			}
			issues = append(issues, toolerrors.FieldIssue{
				Field:      field,
				Constraint: v.Error(),
			})
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(valErr)
	return issues
}

func joinLocation(loc []string) string {
	out := ""
	for i, p := range loc {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
