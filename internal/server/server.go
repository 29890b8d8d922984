// Package server assembles the viewer's HTTP surface: the session API, the
// session-scoped slide routes, the bucket-management API and health checks,
// all on one mux.
package server

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slidekit/slideview/pkg/auth"
	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/gcsadmin"
	"github.com/slidekit/slideview/pkg/health"
	"github.com/slidekit/slideview/pkg/session"
	"github.com/slidekit/slideview/pkg/slides"
	"github.com/slidekit/slideview/pkg/viewer"
)

// Version is set at build time.
var Version = "dev"

// Deps are the assembled dependencies the handler wires together.
type Deps struct {
	Registry session.Registry
	Catalog  *slides.Catalog
	GCS      *blob.GCS
	Checker  *health.Checker
}

// New builds the complete HTTP handler from config and dependencies.
func New(cfg *viewer.Config, deps Deps) (http.Handler, error) {
	var authenticator auth.Authenticator
	if cfg.Auth.Enabled {
		a, err := auth.NewBasicAuthenticator(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordHash)
		if err != nil {
			return nil, err
		}
		authenticator = a
	}
	protect := auth.Require(authenticator)

	mux := http.NewServeMux()

	session.NewHandler(session.HandlerConfig{
		Registry:    deps.Registry,
		Auth:        protect,
		UploadsRoot: cfg.Slides.UploadsDir,
		DefaultTTL:  time.Duration(cfg.Session.TTLMinutes) * time.Minute,
	}).Register(mux)

	slides.NewHandler(slides.HandlerConfig{
		Registry:      deps.Registry,
		Catalog:       deps.Catalog,
		MaxRangeBytes: cfg.Slides.MaxRangeBytes,
	}).Register(mux)

	gcsadmin.NewHandler(gcsadmin.HandlerConfig{
		GCS:        deps.GCS,
		Bucket:     cfg.GCS.Bucket,
		UploadsDir: cfg.Slides.UploadsDir,
		Auth:       protect,
	}).Register(mux)

	if deps.Checker != nil {
		deps.Checker.Register(mux)
	}

	return logRequests(mux), nil
}

// RemoveSessionUploads is the registry evict hook: it deletes a session's
// private upload directory when the session ends. uploadsRoot guards
// against a session record pointing outside the managed tree.
func RemoveSessionUploads(uploadsRoot string) func(*session.Session) {
	return func(sess *session.Session) {
		if sess.UploadDir == "" || uploadsRoot == "" {
			return
		}
		rel, ok := containedIn(uploadsRoot, sess.UploadDir)
		if !ok {
			slog.Warn("server: refusing to remove upload dir outside uploads root",
				"dir", sess.UploadDir, "root", uploadsRoot)
			return
		}
		if err := os.RemoveAll(sess.UploadDir); err != nil {
			slog.Error("server: removing upload dir failed", "dir", sess.UploadDir, "error", err)
			return
		}
		slog.Info("server: removed upload dir", "token", sess.Token, "dir", rel)
	}
}

// containedIn reports whether path sits under root, returning the relative
// form when it does.
func containedIn(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// logRequests wraps the mux with structured access logging.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
