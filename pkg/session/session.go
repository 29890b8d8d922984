// Package session provides session management for the slide viewer. It
// defines the Registry interface for session lookup and the Session type
// that scopes a set of slide and overlay locations behind an opaque token.
package session

import (
	"context"
	"time"
)

// Session grants access to a bounded set of slide and overlay locations for
// a limited time window. The token is a URL path segment, not a credential:
// an invalid token is indistinguishable from "not found".
type Session struct {
	// Token is the opaque unique identifier used as a URL path segment.
	Token string

	// SlideLocations are the search roots for slides, in precedence order:
	// local directories, local files, or gs:// bucket/prefix URIs.
	SlideLocations []string

	// OverlayLocations are the search roots for per-slide overlay artifacts.
	OverlayLocations []string

	// UploadDir is the session-private directory for uploaded slides. Files
	// written there are immutable for the rest of the session's lifetime.
	UploadDir string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastHeartbeatAt is the most recent explicit keep-alive. Only the
	// heartbeat route refreshes it; reads do not.
	LastHeartbeatAt time.Time

	// TTL is the expiry window measured from LastHeartbeatAt.
	TTL time.Duration
}

// Expired reports whether the session's TTL has elapsed at the given time.
// This is the single expiry predicate shared by lookups and the background
// sweep.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastHeartbeatAt) > s.TTL
}

// Registry is the process-wide mapping from token to session state. All
// session-scoped routes re-validate token liveness against it per request.
type Registry interface {
	// Create registers a new session and returns it with a fresh token.
	Create(ctx context.Context, slideLocations, overlayLocations []string, ttl time.Duration) (*Session, error)

	// Get retrieves a live session by token. Returns nil, nil when the
	// token is unknown or the session has expired.
	Get(ctx context.Context, token string) (*Session, error)

	// SetUploadDir records the session-private upload directory.
	SetUploadDir(ctx context.Context, token, dir string) error

	// Heartbeat resets the session's expiry clock. Returns nil, reporting
	// found via the boolean, so a missing token is not an error condition.
	Heartbeat(ctx context.Context, token string) (bool, error)

	// Delete removes a session. Returns whether a session was removed.
	Delete(ctx context.Context, token string) (bool, error)

	// SweepExpired removes all expired sessions and returns the count.
	SweepExpired(ctx context.Context) (int, error)

	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)

	// Close stops background routines.
	Close() error
}
