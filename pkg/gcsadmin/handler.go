// Package gcsadmin serves the authenticated bucket-management API: status,
// object listing, server-side downloads into the uploads directory, and
// signed URLs. These routes operate on the configured bucket and are not
// session-scoped.
package gcsadmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/slides"
)

// defaultSignedURLHours is the signed-URL lifetime when the request omits
// expiration_hours.
const defaultSignedURLHours = 1

// maxSignedURLHours caps requested signed-URL lifetimes. GCS itself rejects
// V4 URLs beyond seven days.
const maxSignedURLHours = 7 * 24

// HandlerConfig configures the bucket-management API.
type HandlerConfig struct {
	// GCS is the storage client. May be nil when GCS is not configured;
	// every route then reports unavailable.
	GCS *blob.GCS

	// Bucket is the managed bucket name.
	Bucket string

	// UploadsDir receives server-side downloads.
	UploadsDir string

	// Auth wraps every route.
	Auth func(http.Handler) http.Handler
}

// Handler serves the /api/gcs/... routes.
type Handler struct {
	gcs        *blob.GCS
	bucket     string
	uploadsDir string
	auth       func(http.Handler) http.Handler
}

// NewHandler creates the bucket-management handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		gcs:        cfg.GCS,
		bucket:     cfg.Bucket,
		uploadsDir: cfg.UploadsDir,
		auth:       cfg.Auth,
	}
}

// Register attaches the bucket-management routes to the mux. All of them
// are privileged.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/gcs/status", h.protect(http.HandlerFunc(h.handleStatus)))
	mux.Handle("GET /api/gcs/files", h.protect(http.HandlerFunc(h.handleListFiles)))
	mux.Handle("POST /api/gcs/download", h.protect(http.HandlerFunc(h.handleDownload)))
	mux.Handle("GET /api/gcs/proxy/{blob_path...}", h.protect(http.HandlerFunc(h.handleProxy)))
	mux.Handle("GET /api/gcs/signed-url", h.protect(http.HandlerFunc(h.handleSignedURL)))
}

func (h *Handler) protect(next http.Handler) http.Handler {
	if h.auth == nil {
		return next
	}
	return h.auth(next)
}

func (h *Handler) available() bool {
	return h.gcs != nil && h.bucket != ""
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"available":     h.available(),
		"bucket":        h.bucket,
		"authenticated": false,
	}
	if h.gcs != nil {
		status["authenticated"] = h.gcs.Credentialed()
	}
	writeJSON(w, http.StatusOK, status)
}

type bucketFile struct {
	Name     string `json:"name"`
	Path     string `json:"blob_path"`
	Size     int64  `json:"size"`
	Updated  string `json:"updated"`
	GCSPath  string `json:"gcs_path"`
	Viewable bool   `json:"viewable"`
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeError(w, http.StatusServiceUnavailable, "gcs is not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	objects, err := h.gcs.ListObjects(r.Context(), h.bucket, prefix)
	if err != nil {
		status, msg := storageErrorStatus(err)
		slog.Error("gcsadmin: listing bucket failed", "bucket", h.bucket, "prefix", prefix, "error", err)
		writeError(w, status, msg)
		return
	}

	files := make([]bucketFile, 0, len(objects))
	for _, o := range objects {
		base := path.Base(o.Name)
		if !slides.AllowedFile(base) {
			continue
		}
		files = append(files, bucketFile{
			Name:     base,
			Path:     o.Name,
			Size:     o.Size,
			Updated:  o.Updated.UTC().Format(time.RFC3339),
			GCSPath:  fmt.Sprintf("gs://%s/%s", h.bucket, o.Name),
			Viewable: slides.ViewableFile(base),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": h.bucket, "files": files})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeError(w, http.StatusServiceUnavailable, "gcs is not configured")
		return
	}
	if h.uploadsDir == "" {
		writeError(w, http.StatusServiceUnavailable, "no uploads directory configured")
		return
	}

	blobPath, err := h.normalizeBlobPath(r.URL.Query().Get("blob_path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filename := path.Base(blobPath)
	if !slides.AllowedFile(filename) {
		writeError(w, http.StatusBadRequest, "file type not supported")
		return
	}

	dst := filepath.Join(h.uploadsDir, filename)
	if fi, err := os.Stat(dst); err == nil {
		// Already downloaded; report success without re-copying.
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"filename": filename,
			"size":     fi.Size(),
			"cached":   true,
		})
		return
	}

	written, err := h.copyObject(r, blobPath, dst)
	if err != nil {
		status, msg := storageErrorStatus(err)
		slog.Error("gcsadmin: download failed",
			"bucket", h.bucket, "object", blobPath, "error", err)
		writeError(w, status, msg)
		return
	}

	slog.Info("gcsadmin: downloaded object",
		"bucket", h.bucket, "object", blobPath, "bytes", written)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": filename,
		"size":     written,
		"cached":   false,
	})
}

// copyObject streams the object to a temp file and renames it into place,
// so a failed download never leaves a truncated slide behind.
func (h *Handler) copyObject(r *http.Request, blobPath, dst string) (int64, error) {
	obj := h.gcs.Object(h.bucket, blobPath)
	reader, err := obj.NewRangeReader(r.Context(), 0, -1)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(h.uploadsDir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, reader)
	if err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("moving download into place: %w", err)
	}
	return written, nil
}

// handleProxy streams a bucket object through the server, so a browser
// frontend can fetch GCS content without the bucket needing CORS rules.
func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeError(w, http.StatusServiceUnavailable, "gcs is not configured")
		return
	}

	blobPath, err := h.normalizeBlobPath(r.PathValue("blob_path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	obj := h.gcs.Object(h.bucket, blobPath)
	size, err := obj.Size(r.Context())
	if err != nil {
		status, msg := storageErrorStatus(err)
		slog.Error("gcsadmin: proxy stat failed", "bucket", h.bucket, "object", blobPath, "error", err)
		writeError(w, status, msg)
		return
	}

	reader, err := obj.NewRangeReader(r.Context(), 0, -1)
	if err != nil {
		status, msg := storageErrorStatus(err)
		slog.Error("gcsadmin: proxy read failed", "bucket", h.bucket, "object", blobPath, "error", err)
		writeError(w, status, msg)
		return
	}
	defer reader.Close()

	filename := path.Base(blobPath)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", slides.ContentTypeFor(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		slog.Error("gcsadmin: proxy streaming failed", "bucket", h.bucket, "object", blobPath, "error", err)
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeError(w, http.StatusServiceUnavailable, "gcs is not configured")
		return
	}
	if !h.gcs.Credentialed() {
		writeError(w, http.StatusServiceUnavailable, "signed urls require service-account credentials")
		return
	}

	blobPath, err := h.normalizeBlobPath(r.URL.Query().Get("blob_path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hours := defaultSignedURLHours
	if raw := r.URL.Query().Get("expiration_hours"); raw != "" {
		hours, err = strconv.Atoi(raw)
		if err != nil || hours < 1 || hours > maxSignedURLHours {
			writeError(w, http.StatusBadRequest, "expiration_hours must be between 1 and 168")
			return
		}
	}

	expires := time.Now().Add(time.Duration(hours) * time.Hour)
	url, err := h.gcs.SignedURL(h.bucket, blobPath, expires)
	if err != nil {
		slog.Error("gcsadmin: signing url failed", "bucket", h.bucket, "object", blobPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign url")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"blob_path":  blobPath,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// normalizeBlobPath accepts a bare object path, a gs:// URI, or an HTTPS
// storage URL, and returns the object path within the configured bucket.
// A URI naming a different bucket is rejected.
func (h *Handler) normalizeBlobPath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errors.New("blob_path is required")
	}

	if blob.IsGCSPath(p) {
		bucket, object, err := blob.ParseGCSPath(p)
		if err != nil {
			return "", err
		}
		if bucket != h.bucket {
			return "", fmt.Errorf("bucket %q is not managed by this server", bucket)
		}
		p = object
	}

	// A path that starts with the bucket name is a common copy-paste form.
	p = strings.TrimPrefix(p, h.bucket+"/")
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.Contains(p, "..") {
		return "", errors.New("invalid blob_path")
	}
	return p, nil
}

// storageErrorStatus maps blob taxonomy errors to HTTP status and message.
func storageErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "object not found"
	case errors.Is(err, blob.ErrAccessDenied):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, blob.ErrUpstream):
		return http.StatusBadGateway, "upstream storage error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
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
