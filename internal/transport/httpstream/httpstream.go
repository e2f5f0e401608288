// Package httpstream is the HTTP stand-in for the wire protocol spec.md §1
// calls out of scope for the core: one POST request per tool call, with a
// JSON request body {name, arguments} and a JSON response body {content,
// isError}, the same shape as the result object internal/transport/stdio
// writes (spec.md §6). Grounded on the teacher's HTTP
// mounting pattern (example/cmd/assistant/http.go): a single *http.Server
// with ReadHeaderTimeout, a context-driven graceful Shutdown, and mount
// logging, generalized from a goa-generated mux to a plain
// http.ServeMux since the broker has one RPC method rather than a generated
// service surface.
package httpstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/sessionstore"
	"github.com/mongodb-tool-broker/broker/internal/telemetry"
)

// SessionIDHeader carries the logical session identifier a client must
// supply on every /rpc/call request; a request without it is rejected with
// 400 Bad Request (spec.md §3 "Session").
const SessionIDHeader = "X-Mcp-Session-Id"

type callRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callResponse struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	IsUntrusted bool   `json:"isUntrusted,omitempty"`
}

// Handler answers one tool call per HTTP POST /rpc/call, threading the
// caller-supplied session ID header through to the Dispatcher.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Manager
	config     config.Config
	logger     telemetry.Logger
	store      sessionstore.Store
}

// NewHandler builds the broker's HTTP handler. store tracks each session's
// idle deadline (spec.md §4.2); pass sessionstore.NewMemory() when no shared
// Redis deployment is configured.
func NewHandler(d *dispatcher.Dispatcher, sessions *session.Manager, cfg config.Config, logger telemetry.Logger, store sessionstore.Store) http.Handler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if store == nil {
		store = sessionstore.NewMemory()
	}
	h := &Handler{dispatcher: d, sessions: sessions, config: cfg, logger: logger, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/call", h.handleCall)
	mux.HandleFunc("/healthz", h.handleHealthz)
	return mux
}

// healthzSessionID is a reserved session identifier the health check uses to
// EnsureConnected against the configured default connection string, kept
// separate from real client session IDs so a failed health check never
// disturbs a client's own connection state.
const healthzSessionID = "__healthz__"

// handleHealthz reports whether the broker can reach its configured MongoDB
// deployment, grounded on the teacher's health.Pinger (Name/Ping) shape
// (features/*/mongo/clients/mongo) but mounted by hand: the retrieval pack
// shows no HTTP-mounting side of goa.design/clue/health to ground against, so
// this checks mongoprovider's Pinger directly rather than guessing at an
// unverified Handler/Mount API.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	provider, err := h.sessions.EnsureConnected(r.Context(), healthzSessionID)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "down", "reason": err.Error()})
		return
	}
	if err := provider.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "down", "reason": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, SessionIDHeader+" header is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req callRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.Invoke(r.Context(), h.config, h.sessions, sessionID, req.Name, req.Arguments)

	if req.Name == "disconnect" {
		_ = h.store.Forget(r.Context(), sessionID)
	} else if err := h.store.Touch(r.Context(), sessionID, h.config.IdleTimeout); err != nil {
		h.logger.Warn(r.Context(), "failed to record session activity", "session_id", sessionID, "error", err.Error())
	}

	blocks := make([]contentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		blocks = append(blocks, contentBlock{Type: "text", Text: c.Text, IsUntrusted: c.IsUntrusted})
	}

	w.Header().Set("Content-Type", "application/json")
	if result.IsError {
		w.WriteHeader(http.StatusOK) // tool errors are protocol-level success, spec.md §3
	}
	_ = json.NewEncoder(w).Encode(callResponse{Content: blocks, IsError: result.IsError})
}

// Server wraps an http.Server with the broker's idle-timeout configuration
// and a context-driven graceful shutdown, mirroring the teacher's
// handleHTTPServer lifecycle (listen in a goroutine, shut down on ctx.Done).
type Server struct {
	inner *http.Server
}

// NewServer builds a Server bound to cfg's host/port and idle timeout.
func NewServer(addr string, handler http.Handler, idleTimeout time.Duration) *Server {
	return &Server{inner: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       idleTimeout,
	}}
}

// Run listens until ctx is canceled, then shuts down gracefully with a 30s
// budget, returning any ListenAndServe error other than the expected
// shutdown-triggered http.ErrServerClosed.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.inner.ListenAndServe() }()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.inner.Shutdown(shutdownCtx)
	}
}
