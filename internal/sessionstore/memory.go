package sessionstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store, used when no Redis URL is configured
// (spec.md §4.2's idle-timeout tracking has no hard dependency on Redis).
type Memory struct {
	mu       sync.Mutex
	deadline map[string]time.Time
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{deadline: make(map[string]time.Time)}
}

func (m *Memory) Touch(_ context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline[sessionID] = time.Now().Add(ttl)
	return nil
}

func (m *Memory) Alive(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.deadline[sessionID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(deadline), nil
}

func (m *Memory) Forget(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadline, sessionID)
	return nil
}
