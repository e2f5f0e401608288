// Package sessionstore tracks the idle deadline for HTTP sessions (spec.md
// §4.2 "Idle timeout"): every inbound call touches its session's deadline,
// and Alive reports whether a session is still within its idleTimeout
// window. Grounded on the teacher's direct *redis.Client key operations
// (registry/result_stream.go's Set/Get/Expire/Del calls on mapping keys),
// generalized from tool_use_id->stream_id mappings to session_id->deadline
// tracking, with an in-memory Store as the no-Redis-configured fallback.
package sessionstore

import (
	"context"
	"time"
)

// Store tracks per-session idle deadlines.
type Store interface {
	// Touch resets sessionID's idle deadline to ttl from now.
	Touch(ctx context.Context, sessionID string, ttl time.Duration) error

	// Alive reports whether sessionID has been touched within its last ttl
	// window. A session never touched is reported dead.
	Alive(ctx context.Context, sessionID string) (bool, error)

	// Forget removes sessionID's tracked deadline, called once a session
	// disconnects explicitly (spec.md §4.2 "Disconnection").
	Forget(ctx context.Context, sessionID string) error
}
