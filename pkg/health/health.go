// Package health provides readiness state tracking and HTTP health check
// handlers for the viewer server.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks the readiness state of the server. It is safe for
// concurrent use.
type Checker struct {
	state   atomic.Int32
	started time.Time

	// sessionCount reports live sessions in the readiness body. May be nil.
	sessionCount func() int
}

// NewChecker creates a Checker in the Starting state. sessionCount, if
// non-nil, is polled per readiness request.
func NewChecker(sessionCount func() int) *Checker {
	return &Checker{started: time.Now(), sessionCount: sessionCount}
}

// SetReady transitions to the Ready state. Called once the default session
// and the expiry sweep are up.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state. Called when shutdown
// begins so load balancers stop routing before in-flight streams finish.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// Register attaches /healthz and /readyz to the mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", c.handleLiveness)
	mux.HandleFunc("GET /readyz", c.handleReadiness)
}

// handleLiveness always responds 200; the process being able to answer is
// the check. Use for K8s livenessProbe.
func (c *Checker) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(c.started).Seconds()),
	})
}

// handleReadiness responds 200 when ready, 503 while starting or draining.
// Use for K8s readinessProbe.
func (c *Checker) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": c.State()}
	if c.sessionCount != nil {
		body["active_sessions"] = c.sessionCount()
	}

	code := http.StatusOK
	if !c.IsReady() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
