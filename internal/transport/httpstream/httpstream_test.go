package httpstream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider/fake"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
	"github.com/mongodb-tool-broker/broker/internal/transport/httpstream"
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

func TestHandleCallRequiresSessionHeader(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc/call", bytes.NewReader([]byte(`{"name":"echo","arguments":{"msg":"hi"}}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallDispatchesAndReturnsResult(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc/call", bytes.NewReader([]byte(`{"name":"echo","arguments":{"msg":"hi"}}`)))
	req.Header.Set(httpstream.SessionIDHeader, "s1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Content []struct{ Text string }
		IsError bool
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsError)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi", resp.Content[0].Text)
}

func TestHandleCallRejectsGetMethod(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(nil, "")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/rpc/call", nil)
	req.Header.Set(httpstream.SessionIDHeader, "s1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCallSurfacesToolErrorAsOKWithIsError(t *testing.T) {
	args, err := toolspec.Compile("boom", json.RawMessage(`{"type":"object","additionalProperties":false}`))
	require.NoError(t, err)
	d := dispatcher.New()
	d.Register(dispatcher.Tool{
		Spec: toolspec.Spec{Name: "boom", Category: toolspec.CategoryMongoDB, OperationType: toolspec.OperationRead, Args: args},
		Execute: func(*dispatcher.ExecutionContext, map[string]any) (dispatcher.Result, error) {
			return dispatcher.Result{}, assertError{}
		},
	})
	sessions := session.NewManager(nil, "")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc/call", bytes.NewReader([]byte(`{"name":"boom","arguments":{}}`)))
	req.Header.Set(httpstream.SessionIDHeader, "s1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct{ IsError bool }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsError)
}

type assertError struct{}

func (assertError) Error() string { return "boom failed" }

func TestHandleHealthzOKWhenProviderReachable(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(func(context.Context, string) (mongoprovider.Provider, error) {
		return fake.New(), nil
	}, "mongodb://default")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct{ Status string }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleHealthzUnavailableWhenNotConnectable(t *testing.T) {
	d := newEchoDispatcher(t)
	sessions := session.NewManager(func(context.Context, string) (mongoprovider.Provider, error) {
		return nil, assertError{}
	}, "")
	handler := httpstream.NewHandler(d, sessions, config.Defaults(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
