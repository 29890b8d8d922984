package slides

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/session"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing; the
// rest spools to disk.
const maxUploadMemory = 32 << 20

// HandlerConfig configures the session-scoped slide API.
type HandlerConfig struct {
	Registry session.Registry
	Catalog  *Catalog

	// MaxRangeBytes bounds the span of a single explicit Range request.
	// Zero disables the cap.
	MaxRangeBytes int64
}

// Handler serves all /{token}/api/... routes. Every request re-validates
// token liveness against the registry; none of them refresh the heartbeat.
type Handler struct {
	registry      session.Registry
	catalog       *Catalog
	maxRangeBytes int64
}

// NewHandler creates the session-scoped slide API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		maxRangeBytes: cfg.MaxRangeBytes,
	}
}

// Register attaches the session-scoped routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{token}/api/slides", h.withSession(h.handleListSlides))
	mux.HandleFunc("GET /{token}/api/info/{slide_name}", h.withSession(h.handleSlideInfo))
	mux.HandleFunc("GET /{token}/api/raw_slides/{filename}", h.withSession(h.handleRawSlide))
	mux.HandleFunc("OPTIONS /{token}/api/raw_slides/{filename}", h.handlePreflight)
	mux.HandleFunc("GET /{token}/api/overlay-config/{slide_name}", h.withSession(h.handleOverlayConfig))
	mux.HandleFunc("GET /{token}/api/overlay-file/{filename}", h.withSession(h.handleOverlayFile))
	mux.HandleFunc("POST /{token}/api/upload", h.withSession(h.handleUpload))
	mux.HandleFunc("DELETE /{token}/api/delete/{slide_name}", h.withSession(h.handleDeleteSlide))
}

// sessionHandler is a handler with the resolved session injected.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves and validates the token path segment. An unknown or
// expired token is a 404, not a 401: the token is a resource locator, and
// an invalid one must be indistinguishable from "not found".
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		sess, err := h.registry.Get(r.Context(), token)
		if err != nil {
			slog.Error("slides: session lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if sess == nil {
			writeError(w, http.StatusNotFound, "session not found or expired")
			return
		}
		next(w, r, sess)
	}
}

type slideSummary struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Source   string `json:"slide_source"`
	Viewable bool   `json:"viewable"`
}

func (h *Handler) handleListSlides(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	entries, err := h.catalog.List(r.Context(), sess)
	if err != nil {
		slog.Error("slides: list failed", "token", sess.Token, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list slides")
		return
	}

	summaries := make([]slideSummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, slideSummary{
			Name:     e.Name,
			Filename: e.Filename,
			Size:     e.Size,
			Source:   string(e.Source),
			Viewable: e.Viewable(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slides": summaries})
}

func (h *Handler) handleSlideInfo(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	name := r.PathValue("slide_name")
	entry, err := h.catalog.FindByName(r.Context(), sess, name)
	if err != nil {
		slog.Error("slides: info lookup failed", "token", sess.Token, "slide", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve slide")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "slide not found")
		return
	}

	size := entry.Size
	if size == 0 {
		if s, err := entry.Object.Size(r.Context()); err == nil {
			size = s
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":         entry.Name,
		"filename":     entry.Filename,
		"size":         size,
		"slide_source": string(entry.Source),
		"content_type": ContentTypeFor(entry.Filename),
		"viewable":     entry.Viewable(),
		"raw_url":      fmt.Sprintf("/%s/api/raw_slides/%s", sess.Token, entry.Filename),
	})
}

func (h *Handler) handleOverlayConfig(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	name := r.PathValue("slide_name")

	urls := make(map[string]any, len(overlaySuffixes))
	keys := map[string]string{
		"_density.png":   "density_image",
		"_metadata.json": "metadata",
		"_grid.json":     "grid",
	}
	for _, suffix := range overlaySuffixes {
		if h.catalog.FindOverlay(sess, name, suffix) != "" {
			urls[keys[suffix]] = fmt.Sprintf("/%s/api/overlay-file/%s%s", sess.Token, name, suffix)
		} else {
			urls[keys[suffix]] = nil
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"available":     urls["density_image"] != nil && urls["metadata"] != nil,
		"density_image": urls["density_image"],
		"metadata":      urls["metadata"],
		"grid":          urls["grid"],
	})
}

func (h *Handler) handleOverlayFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filename := r.PathValue("filename")

	for _, suffix := range overlaySuffixes {
		if !strings.HasSuffix(filename, suffix) {
			continue
		}
		slideName := strings.TrimSuffix(filename, suffix)
		if path := h.catalog.FindOverlay(sess, slideName, suffix); path != "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			http.ServeFile(w, r, path)
			return
		}
		break
	}
	writeError(w, http.StatusNotFound, "overlay file not found: "+filename)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if sess.UploadDir == "" {
		writeError(w, http.StatusBadRequest, "session has no upload directory")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || !AllowedFile(filename) {
		writeError(w, http.StatusBadRequest, "file type not supported")
		return
	}

	// Uploads are write-once: the file is immutable for the rest of the
	// session's lifetime.
	dst := filepath.Join(sess.UploadDir, filename)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			writeError(w, http.StatusConflict, "file already exists")
			return
		}
		slog.Error("slides: creating upload failed", "token", sess.Token, "file", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer out.Close()

	written, err := io.Copy(out, file)
	if err != nil {
		_ = os.Remove(dst)
		slog.Error("slides: writing upload failed", "token", sess.Token, "file", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	slog.Info("slides: upload stored", "token", sess.Token, "file", filename, "bytes", written)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"filename": filename,
		"name":     stem(filename),
		"size":     written,
	})
}

func (h *Handler) handleDeleteSlide(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	name := r.PathValue("slide_name")
	if sess.UploadDir == "" {
		writeError(w, http.StatusNotFound, "slide not found")
		return
	}

	// Only uploaded slides can be deleted; configured search roots are
	// read-only.
	matches, err := filepath.Glob(filepath.Join(sess.UploadDir, name+".*"))
	if err != nil || len(matches) == 0 {
		writeError(w, http.StatusNotFound, "slide not found")
		return
	}

	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			slog.Error("slides: delete failed", "token", sess.Token, "file", m, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete slide")
			return
		}
	}
	slog.Info("slides: deleted", "token", sess.Token, "slide", name, "files", len(matches))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
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

// blobErrorStatus maps blob taxonomy errors to HTTP status and message.
func blobErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "file not found"
	case errors.Is(err, blob.ErrAccessDenied):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, blob.ErrUpstream):
		return http.StatusBadGateway, "upstream storage error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
