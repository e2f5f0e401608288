package stdio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
	"github.com/mongodb-tool-broker/broker/internal/transport/stdio"
)

func newEchoDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	args, err := toolspec.Compile("echo", json.RawMessage(`{
		"type": "object",
		"properties": {"msg": {"type": "string"}},
		"required": ["msg"],
		"additionalProperties": false
	}`))
	require.NoError(t, err)

	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec: toolspec.Spec{Name: "echo", Category: toolspec.CategoryMongoDB, OperationType: toolspec.OperationRead, Args: args},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			return dispatcher.Text(args["msg"].(string)), nil
		},
	})
	return d
}

func TestServeDispatchesToolCallAndWritesResult(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")

	in := strings.NewReader(`{"id":1,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}` + "\n")
	var out bytes.Buffer

	srv := stdio.New(in, &out, d, sessions, config.Defaults(), "s1", nil)
	err := srv.Serve(context.Background())
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Content []struct{ Text string }
			IsError bool
		}
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.False(t, resp.Result.IsError)
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "hi", resp.Result.Content[0].Text)
}

func TestServeReportsUnsupportedMethod(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")

	in := strings.NewReader(`{"id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	srv := stdio.New(in, &out, d, sessions, config.Defaults(), "s1", nil)
	require.NoError(t, srv.Serve(context.Background()))

	var resp struct {
		Error struct{ Message string }
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.Contains(t, resp.Error.Message, "unsupported method")
}

func TestServeSurfacesMalformedRequestWithoutAborting(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")

	in := strings.NewReader("not json\n" + `{"id":3,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"ok"}}}` + "\n")
	var out bytes.Buffer

	srv := stdio.New(in, &out, d, sessions, config.Defaults(), "s1", nil)
	require.NoError(t, srv.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first struct {
		Error struct{ Message string }
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Contains(t, first.Error.Message, "malformed request")

	var second struct {
		Result struct{ Content []struct{ Text string } }
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ok", second.Result.Content[0].Text)
}
