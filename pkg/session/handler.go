package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/slidekit/slideview/pkg/blob"
)

// HandlerConfig configures the session API handler.
type HandlerConfig struct {
	Registry Registry

	// Auth wraps the privileged routes (create, list, delete). Heartbeat
	// is authorized solely by possession of the token.
	Auth func(http.Handler) http.Handler

	// UploadsRoot is the directory under which each session gets a private
	// upload subdirectory named by its token.
	UploadsRoot string

	// DefaultTTL applies when a creation request omits session_ttl.
	DefaultTTL time.Duration
}

// Handler serves the global (non-session-scoped) session API.
type Handler struct {
	registry    Registry
	auth        func(http.Handler) http.Handler
	uploadsRoot string
	defaultTTL  time.Duration
}

// NewHandler creates the session API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		registry:    cfg.Registry,
		auth:        cfg.Auth,
		uploadsRoot: cfg.UploadsRoot,
		defaultTTL:  cfg.DefaultTTL,
	}
}

// Register attaches the session API routes to the mux. Creation, listing,
// and deletion are privileged; heartbeat is not.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/sessions", h.protect(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET /api/sessions", h.protect(http.HandlerFunc(h.handleList)))
	mux.Handle("DELETE /api/sessions/{token}", h.protect(http.HandlerFunc(h.handleDelete)))
	mux.HandleFunc("POST /api/sessions/{token}/heartbeat", h.handleHeartbeat)
}

func (h *Handler) protect(next http.Handler) http.Handler {
	if h.auth == nil {
		return next
	}
	return h.auth(next)
}

// createRequest is the session-creation payload. SessionTTL is a pointer so
// an explicit zero (expire immediately unless heartbeated) is
// distinguishable from an omitted field.
type createRequest struct {
	Slides     []string `json:"slides"`
	Overlay    []string `json:"overlay,omitempty"`
	SessionTTL *int     `json:"session_ttl,omitempty"`
}

type createResponse struct {
	Token            string   `json:"token"`
	URL              string   `json:"url"`
	SlideLocations   []string `json:"slide_locations"`
	OverlayLocations []string `json:"overlay_locations"`
	TTLMinutes       int      `json:"ttl_minutes"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Slides) == 0 {
		writeError(w, http.StatusBadRequest, "at least one slide location is required")
		return
	}

	slideLocs, err := normalizeLocations(req.Slides)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	overlayLocs, err := normalizeLocations(req.Overlay)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := time.Duration(-1)
	if req.SessionTTL != nil {
		if *req.SessionTTL < 0 {
			writeError(w, http.StatusBadRequest, "session_ttl must not be negative")
			return
		}
		ttl = time.Duration(*req.SessionTTL) * time.Minute
	}

	sess, err := h.registry.Create(r.Context(), slideLocs, overlayLocs, ttl)
	if err != nil {
		slog.Error("session: create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if h.uploadsRoot != "" {
		dir := filepath.Join(h.uploadsRoot, sess.Token)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			slog.Error("session: creating upload dir failed", "token", sess.Token, "error", err)
		} else if err := h.registry.SetUploadDir(r.Context(), sess.Token, dir); err != nil {
			slog.Error("session: recording upload dir failed", "token", sess.Token, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, createResponse{
		Token:            sess.Token,
		URL:              "/" + sess.Token + "/",
		SlideLocations:   sess.SlideLocations,
		OverlayLocations: sess.OverlayLocations,
		TTLMinutes:       int(sess.TTL / time.Minute),
	})
}

type sessionSummary struct {
	Token           string   `json:"token"`
	SlideLocations  []string `json:"slide_locations"`
	CreatedAt       string   `json:"created_at"`
	LastHeartbeatAt string   `json:"last_heartbeat_at"`
	TTLMinutes      int      `json:"ttl_minutes"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.registry.List(r.Context())
	if err != nil {
		slog.Error("session: list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			Token:           s.Token,
			SlideLocations:  s.SlideLocations,
			CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
			LastHeartbeatAt: s.LastHeartbeatAt.UTC().Format(time.RFC3339),
			TTLMinutes:      int(s.TTL / time.Minute),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	deleted, err := h.registry.Delete(r.Context(), token)
	if err != nil {
		slog.Error("session: delete failed", "token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	ok, err := h.registry.Heartbeat(r.Context(), token)
	if err != nil {
		slog.Error("session: heartbeat failed", "token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// normalizeLocations resolves local paths to absolute form and verifies
// they exist; GCS URIs pass through untouched. Search order is preserved
// because it determines name-collision precedence.
func normalizeLocations(locations []string) ([]string, error) {
	normalized := make([]string, 0, len(locations))
	for _, loc := range locations {
		if loc == "" {
			continue
		}
		if blob.IsGCSPath(loc) {
			normalized = append(normalized, loc)
			continue
		}
		abs, err := filepath.Abs(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q", loc)
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("path not found: %s", loc)
			}
			return nil, fmt.Errorf("cannot access path %q", loc)
		}
		normalized = append(normalized, abs)
	}
	return normalized, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
