// Package session implements the Session & Connection Manager (spec.md
// §4.2): one Session owns exactly one connectionState variable, mutated
// only through Manager.EnsureConnected/Disconnect so concurrent tool calls
// never race two "Connecting" transitions for the same session. Grounded on
// the teacher's runtime/agent/session Store/mutex-map idiom, generalized
// from durable session bookkeeping to an in-process connection lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

// State is the connection lifecycle state for one Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "errored"
)

// Session tracks one client's MongoDB connection lifecycle.
type Session struct {
	ID               string
	State            State
	Provider         mongoprovider.Provider
	ConnectionString string
	AuthType         string
	ErrReason        string
	ConnectedAt      *time.Time
}

// Dialer opens a live Provider for a connection string. Production code
// passes mongoprovider.Connect; tests inject a fake.
type Dialer func(ctx context.Context, uri string) (mongoprovider.Provider, error)

// Manager serializes connection-state transitions across sessions. Each
// session's transitions are additionally serialized by a per-entry mutex so
// at most one "Connecting" attempt runs at a time for that session.
type Manager struct {
	dial Dialer

	// DefaultConnectionString is used by auto-connect when a session has
	// never called the `connect` tool explicitly (spec.md §4.2).
	DefaultConnectionString string

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// NewManager constructs a Manager backed by dial for opening connections.
func NewManager(dial Dialer, defaultConnectionString string) *Manager {
	return &Manager{
		dial:                    dial,
		DefaultConnectionString: defaultConnectionString,
		entries:                 make(map[string]*entry),
	}
}

func (m *Manager) entryFor(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		e = &entry{session: Session{ID: sessionID, State: StateDisconnected}}
		m.entries[sessionID] = e
	}
	return e
}

// Get returns a snapshot of the session's current state, or ok=false if the
// session has never been seen.
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	m.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// Connect opens a connection for sessionID using connectionString explicitly
// (the `connect` tool), falling back to DefaultConnectionString when it is
// empty. If the session is already connected, the existing Provider is
// returned unchanged, even when connectionString differs from the one in
// use; a call made while another attempt is in flight waits for it.
func (m *Manager) Connect(ctx context.Context, sessionID, connectionString string) (mongoprovider.Provider, error) {
	if connectionString == "" {
		connectionString = m.DefaultConnectionString
	}
	if connectionString == "" {
		return nil, toolerrors.New(toolerrors.NotConnected, "no connection string configured; call connect first")
	}
	return m.ensureConnected(ctx, sessionID, connectionString)
}

// EnsureConnected implements auto-connect: if the session already has a
// live Provider it is returned; otherwise a connection is opened using the
// configured default connection string. Fails with NotConnected when no
// default is configured (spec.md §4.2 "Auto-connect behavior").
func (m *Manager) EnsureConnected(ctx context.Context, sessionID string) (mongoprovider.Provider, error) {
	e := m.entryFor(sessionID)
	e.mu.Lock()
	if e.session.State == StateConnected && e.session.Provider != nil {
		p := e.session.Provider
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	if m.DefaultConnectionString == "" {
		return nil, toolerrors.New(toolerrors.NotConnected, "not connected; use the connect tool or configure connectionString")
	}
	return m.ensureConnected(ctx, sessionID, m.DefaultConnectionString)
}

// ensureConnected performs the Disconnected->Connecting->Connected/Errored
// transition for one session, serialized by the entry's mutex so only one
// dial attempt runs at a time.
func (m *Manager) ensureConnected(ctx context.Context, sessionID, connectionString string) (mongoprovider.Provider, error) {
	e := m.entryFor(sessionID)

	// The entry mutex is held for the full dial so concurrent callers never
	// run two Connecting attempts for the same session at once (spec.md
	// §4.2): the second caller blocks here and then observes Connected.
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State == StateConnected && e.session.Provider != nil {
		return e.session.Provider, nil
	}
	e.session.State = StateConnecting
	e.session.ConnectionString = connectionString
	e.session.AuthType = DetectAuthType(connectionString)

	provider, err := m.dial(ctx, connectionString)
	if err != nil {
		e.session.State = StateErrored
		e.session.ErrReason = err.Error()
		return nil, toolerrors.New(toolerrors.ConnectionFailed, "failed to connect to MongoDB").WithCause(err)
	}
	now := time.Now().UTC()
	e.session.State = StateConnected
	e.session.Provider = provider
	e.session.ErrReason = ""
	e.session.ConnectedAt = &now
	return provider, nil
}

// Disconnect closes the session's Provider, if any, and resets its state to
// Disconnected. Closing errors are logged by the caller, never raised
// (spec.md §4.2 "Disconnection").
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	e := m.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	var closeErr error
	if e.session.Provider != nil {
		closeErr = e.session.Provider.Disconnect(ctx)
	}
	e.session = Session{ID: sessionID, State: StateDisconnected}
	return closeErr
}
