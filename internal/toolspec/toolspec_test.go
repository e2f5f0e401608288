package toolspec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

const findSchema = `{
  "type": "object",
  "properties": {
    "database": {"type": "string"},
    "collection": {"type": "string"},
    "filter": {"type": "object"}
  },
  "required": ["database", "collection"]
}`

func TestCompileAndValidateSuccess(t *testing.T) {
	shape, err := toolspec.Compile("find", json.RawMessage(findSchema))
	require.NoError(t, err)

	args, err := shape.Validate(json.RawMessage(`{"database":"db","collection":"coll"}`))
	require.NoError(t, err)
	assert.Equal(t, "db", args["database"])
}

func TestValidateMissingRequiredField(t *testing.T) {
	shape, err := toolspec.Compile("find", json.RawMessage(findSchema))
	require.NoError(t, err)

	_, err = shape.Validate(json.RawMessage(`{"database":"db"}`))
	require.Error(t, err)
	assert.Equal(t, toolerrors.InvalidArguments, toolerrors.CodeOf(err))
	assert.NotEmpty(t, toolerrors.IssuesOf(err))
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	shape, err := toolspec.Compile("find", json.RawMessage(findSchema))
	require.NoError(t, err)

	_, err = shape.Validate(json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, toolerrors.InvalidArguments, toolerrors.CodeOf(err))
}

func TestValidateEmptyArgsUsesEmptyObject(t *testing.T) {
	shape, err := toolspec.Compile("noop", json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)

	args, err := shape.Validate(nil)
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestCompileRejectsInvalidSchema(t *testing.T) {
	_, err := toolspec.Compile("bad", json.RawMessage(`{"type": 123}`))
	require.Error(t, err)
}
