package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry implements Registry with an in-memory map guarded by a
// single coarse lock. A process restart discards all sessions.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaultTTL time.Duration
	onEvict    func(*Session)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryRegistry creates an in-memory registry. defaultTTL applies when
// Create is called with a zero or negative TTL. onEvict, if non-nil, runs
// for every session removed by Delete or SweepExpired (used to clean up
// session-private upload directories); it is called outside the lock.
func NewMemoryRegistry(defaultTTL time.Duration, onEvict func(*Session)) *MemoryRegistry {
	return &MemoryRegistry{
		sessions:   make(map[string]*Session),
		defaultTTL: defaultTTL,
		onEvict:    onEvict,
	}
}

// Create registers a new session with a fresh UUID token. Tokens are drawn
// from a 122-bit space; a collision is still checked and regenerated.
func (r *MemoryRegistry) Create(_ context.Context, slideLocations, overlayLocations []string, ttl time.Duration) (*Session, error) {
	if ttl < 0 {
		ttl = r.defaultTTL
	}

	now := time.Now()
	sess := &Session{
		SlideLocations:   append([]string(nil), slideLocations...),
		OverlayLocations: append([]string(nil), overlayLocations...),
		CreatedAt:        now,
		LastHeartbeatAt:  now,
		TTL:              ttl,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		token := uuid.NewString()
		if _, exists := r.sessions[token]; exists {
			continue
		}
		sess.Token = token
		r.sessions[token] = sess
		break
	}

	slog.Info("session: created",
		"token", sess.Token,
		"slide_locations", len(sess.SlideLocations),
		"overlay_locations", len(sess.OverlayLocations),
		"ttl", sess.TTL)
	return copySession(sess), nil
}

// SetUploadDir records the session-private upload directory. Called once by
// the creation handler after the directory is made.
func (r *MemoryRegistry) SetUploadDir(_ context.Context, token, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[token]; ok {
		sess.UploadDir = dir
	}
	return nil
}

// Get retrieves a live session. Expiry is double-checked lazily here with
// the same predicate the sweep uses, so a token never resolves between
// expiry and the next sweep. Get does not refresh the heartbeat.
func (r *MemoryRegistry) Get(_ context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[token]
	if !ok {
		return nil, nil //nolint:nilnil // Registry interface specifies nil,nil for not-found
	}
	if sess.Expired(time.Now()) {
		return nil, nil //nolint:nilnil // Registry interface specifies nil,nil for expired
	}
	return copySession(sess), nil
}

// Heartbeat resets the session's expiry clock forward. A heartbeat against
// an expired session reports not-found rather than reviving it.
func (r *MemoryRegistry) Heartbeat(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return false, nil
	}
	now := time.Now()
	if sess.Expired(now) {
		return false, nil
	}
	sess.LastHeartbeatAt = now
	return true, nil
}

// Delete removes a session.
func (r *MemoryRegistry) Delete(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	sess, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	slog.Info("session: deleted", "token", token)
	if r.onEvict != nil {
		r.onEvict(sess)
	}
	return true, nil
}

// SweepExpired removes every expired session and returns the count.
func (r *MemoryRegistry) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()

	r.mu.Lock()
	var evicted []*Session
	for token, sess := range r.sessions {
		if sess.Expired(now) {
			delete(r.sessions, token)
			evicted = append(evicted, sess)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, sess := range evicted {
		slog.Info("session: expired", "token", sess.Token, "ttl", sess.TTL)
		if r.onEvict != nil {
			r.onEvict(sess)
		}
	}
	if len(evicted) > 0 {
		slog.Info("session: sweep complete", "removed", len(evicted), "active", remaining)
	}
	return len(evicted), nil
}

// List returns all live sessions.
func (r *MemoryRegistry) List(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	result := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if !sess.Expired(now) {
			result = append(result, copySession(sess))
		}
	}
	return result, nil
}

// StartSweep starts a background goroutine that periodically removes
// expired sessions, independent of request traffic. Stopped by Close.
func (r *MemoryRegistry) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = r.SweepExpired(ctx)
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit. Safe to call
// even if StartSweep was never called.
func (r *MemoryRegistry) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}

// copySession returns a shallow copy so callers never share the mutable
// registry entry.
func copySession(s *Session) *Session {
	c := *s
	c.SlideLocations = append([]string(nil), s.SlideLocations...)
	c.OverlayLocations = append([]string(nil), s.OverlayLocations...)
	return &c
}

// Verify interface compliance.
var _ Registry = (*MemoryRegistry)(nil)
