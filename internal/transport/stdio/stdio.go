// Package stdio implements the line-oriented JSON-RPC transport (spec.md
// §1, §6): one JSON object per line on stdin, one JSON object per line on
// stdout. Grounded on the teacher's stdio MCP caller
// (features/mcp/runtime/stdiocaller.go), which frames the same protocol
// from the client side — this package plays the server role, reading
// `tools/call` requests and writing responses, with writes serialized by a
// mutex exactly as the caller serializes its own stdin writes.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/telemetry"
)

// request is one line of input: a JSON-RPC-shaped tool call.
type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result *callResult     `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	IsUntrusted bool   `json:"isUntrusted,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server reads newline-delimited JSON-RPC requests from r and writes
// responses to w, dispatching every "tools/call" request through d. One
// Server instance corresponds to exactly one logical Session (spec.md §3).
type Server struct {
	reader     *bufio.Scanner
	writer     io.Writer
	writeMu    sync.Mutex
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Manager
	config     config.Config
	sessionID  string
	logger     telemetry.Logger
}

// New constructs a Server bound to one transport client session.
func New(r io.Reader, w io.Writer, d *dispatcher.Dispatcher, sessions *session.Manager, cfg config.Config, sessionID string, logger telemetry.Logger) *Server {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		reader:     scanner,
		writer:     w,
		dispatcher: d,
		sessions:   sessions,
		config:     cfg,
		sessionID:  sessionID,
		logger:     logger,
	}
}

// Serve reads and dispatches requests until the stream ends or ctx is
// canceled, then disconnects the session (spec.md §4.2 "Disconnection"); a
// disconnect tool call does not end Serve. Read errors are returned; a clean
// EOF returns nil.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.sessions.Disconnect(ctx, s.sessionID); err != nil {
			s.logger.Warn(ctx, "failed to close session provider on transport teardown", "error", err.Error())
		}
	}()

	for s.reader.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := s.reader.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, fmt.Sprintf("malformed request: %v", err))
			continue
		}
		s.handle(ctx, req)
	}
	return s.reader.Err()
}

func (s *Server) handle(ctx context.Context, req request) {
	if req.Method != "tools/call" {
		s.writeError(req.ID, fmt.Sprintf("unsupported method %q", req.Method))
		return
	}

	result := s.dispatcher.Invoke(ctx, s.config, s.sessions, s.sessionID, req.Params.Name, req.Params.Arguments)
	s.writeResult(req.ID, result)
}

func (s *Server) writeResult(id json.RawMessage, result dispatcher.Result) {
	blocks := make([]contentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		blocks = append(blocks, contentBlock{Type: "text", Text: c.Text, IsUntrusted: c.IsUntrusted})
	}
	s.write(response{ID: id, Result: &callResult{Content: blocks, IsError: result.IsError}})
}

func (s *Server) writeError(id json.RawMessage, message string) {
	s.write(response{ID: id, Error: &rpcError{Code: -32600, Message: message}})
}

func (s *Server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
