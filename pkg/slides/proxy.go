package slides

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/slidekit/slideview/pkg/byterange"
	"github.com/slidekit/slideview/pkg/session"
)

// copyBufferSize is the chunk size for streaming slide bytes. Streaming in
// fixed chunks bounds per-request memory regardless of span size.
const copyBufferSize = 256 << 10

// setCORSHeaders applies the permissive cross-origin headers a browser-side
// streaming tile reader needs to issue ranged reads from another origin.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type, Accept")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, Content-Range, Accept-Ranges")
}

// handlePreflight answers CORS preflights without touching the blob source
// or even requiring a live session.
func (*Handler) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w.Header())
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

// handleRawSlide streams slide bytes with RFC 7233 range support. The
// response is 200 for full reads, 206 for partial, 416 for unsatisfiable
// ranges. CORS headers go on every response, errors included, so a
// cross-origin frontend can read the failure instead of an opaque network
// error.
func (h *Handler) handleRawSlide(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	setCORSHeaders(w.Header())

	filename := r.PathValue("filename")
	if filename != filepath.Base(filename) || filename == "." || filename == ".." {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	entry, err := h.catalog.Find(r.Context(), sess, filename)
	if err != nil {
		slog.Error("proxy: slide lookup failed", "token", sess.Token, "file", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve slide")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	totalSize, err := entry.Object.Size(r.Context())
	if err != nil {
		status, msg := blobErrorStatus(err)
		slog.Error("proxy: size lookup failed", "token", sess.Token, "file", filename, "error", err)
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", ContentTypeFor(filename))

	res := byterange.Resolve(totalSize, r.Header.Get("Range"))

	if res.Status == byterange.Unsatisfiable ||
		(res.Status == byterange.Partial && h.maxRangeBytes > 0 && res.Length() > h.maxRangeBytes) {
		w.Header().Set("Content-Range", byterange.UnsatisfiableRange(totalSize))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	status := http.StatusOK
	if res.Status == byterange.Partial {
		status = http.StatusPartialContent
	}
	h.serveSpan(w, r, entry, res, status, totalSize)
}

// serveSpan commits the span headers and streams the resolved bytes. The
// range reader is opened before any header is written, so an open failure
// still produces a mapped JSON error response. Once the first byte is out
// the only safe failure mode left is dropping the connection.
func (h *Handler) serveSpan(w http.ResponseWriter, r *http.Request, entry *Entry, res byterange.Resolution, status int, totalSize int64) {
	if r.Method == http.MethodHead || res.Length() == 0 {
		writeSpanHeaders(w, res, totalSize)
		w.WriteHeader(status)
		return
	}

	reader, err := entry.Object.NewRangeReader(r.Context(), res.Start, res.Length())
	if err != nil {
		errStatus, msg := blobErrorStatus(err)
		slog.Error("proxy: opening range reader failed",
			"file", entry.Filename, "start", res.Start, "length", res.Length(), "error", err)
		writeError(w, errStatus, msg)
		return
	}
	defer reader.Close()

	writeSpanHeaders(w, res, totalSize)
	w.WriteHeader(status)

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(w, reader, buf); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
			slog.Debug("proxy: client aborted download", "file", entry.Filename)
		} else {
			slog.Error("proxy: streaming failed", "file", entry.Filename, "error", err)
		}
		// Headers are out; aborting the connection is the only way the
		// client never mistakes a short body for success.
		panic(http.ErrAbortHandler)
	}
}

// writeSpanHeaders sets Content-Range and Content-Length for the span.
func writeSpanHeaders(w http.ResponseWriter, res byterange.Resolution, totalSize int64) {
	if res.Status == byterange.Partial {
		w.Header().Set("Content-Range", byterange.ContentRange(res, totalSize))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(res.Length(), 10))
}
