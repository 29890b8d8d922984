package slides

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/byterange"
	"github.com/slidekit/slideview/pkg/session"
)

// proxyFixture wires a registry, a catalog and the slide handler onto a
// test server with one session and one 1000-byte slide.
type proxyFixture struct {
	server  *httptest.Server
	token   string
	content []byte
}

func newProxyFixture(t *testing.T, maxRangeBytes int64) *proxyFixture {
	t.Helper()

	content := make([]byte, 1000)
	_, err := rand.Read(content)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "case.svs"), content, 0o600))

	reg := session.NewMemoryRegistry(time.Hour, nil)
	t.Cleanup(func() { _ = reg.Close() })

	sess, err := reg.Create(context.Background(), []string{dir}, nil, -1)
	require.NoError(t, err)
	require.NoError(t, reg.SetUploadDir(context.Background(), sess.Token, t.TempDir()))

	mux := http.NewServeMux()
	NewHandler(HandlerConfig{
		Registry:      reg,
		Catalog:       NewCatalog(nil),
		MaxRangeBytes: maxRangeBytes,
	}).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &proxyFixture{server: server, token: sess.Token, content: content}
}

func (f *proxyFixture) get(t *testing.T, path, rangeHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func TestRawSlide_FullRead(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "image/tiff", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1000", resp.Header.Get("Content-Length"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Content-Range"))
	assert.Equal(t, f.content, body)
}

func TestRawSlide_PartialClampedToEnd(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "bytes=900-1500")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 900-999/1000", resp.Header.Get("Content-Range"))
	assert.Equal(t, "100", resp.Header.Get("Content-Length"))
	assert.Len(t, body, 100)
	assert.Equal(t, f.content[900:], body)
}

func TestRawSlide_SuffixRange(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "bytes=-500")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 500-999/1000", resp.Header.Get("Content-Range"))
	assert.Equal(t, f.content[500:], body)
}

func TestRawSlide_Unsatisfiable(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "bytes=1000-1100")
	readBody(t, resp)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */1000", resp.Header.Get("Content-Range"))
}

func TestRawSlide_SpanOverCapRejected(t *testing.T) {
	f := newProxyFixture(t, 64)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "bytes=0-999")
	readBody(t, resp)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */1000", resp.Header.Get("Content-Range"))

	// Full reads without a Range header are never capped.
	resp = f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "")
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body, 1000)
}

func TestRawSlide_MalformedRangeFallsBackToFull(t *testing.T) {
	f := newProxyFixture(t, 0)

	for _, header := range []string{"bytes=abc-def", "items=0-99", "bytes=0-99,200-299"} {
		resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", header)
		body := readBody(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "header %q", header)
		assert.Len(t, body, 1000, "header %q", header)
	}
}

func TestRawSlide_TwoHalvesReassemble(t *testing.T) {
	f := newProxyFixture(t, 0)
	path := "/" + f.token + "/api/raw_slides/case.svs"

	first := f.get(t, path, "bytes=0-499")
	firstBody := readBody(t, first)
	require.Equal(t, http.StatusPartialContent, first.StatusCode)

	second := f.get(t, path, "bytes=500-999")
	secondBody := readBody(t, second)
	require.Equal(t, http.StatusPartialContent, second.StatusCode)

	assert.Equal(t, f.content, append(firstBody, secondBody...),
		"concatenated halves must equal the full object")
}

func TestRawSlide_HeadRequest(t *testing.T) {
	f := newProxyFixture(t, 0)

	req, err := http.NewRequest(http.MethodHead, f.server.URL+"/"+f.token+"/api/raw_slides/case.svs", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-99")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-99/1000", resp.Header.Get("Content-Range"))
	assert.Empty(t, body)
}

func TestRawSlide_Preflight(t *testing.T) {
	f := newProxyFixture(t, 0)

	// Preflights succeed even for a token no session owns; they must not
	// touch the registry or the blob source.
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/no-such-token/api/raw_slides/case.svs", nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	readBody(t, resp)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Range")
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))
}

func TestRawSlide_UnknownFile(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/ghost.svs", "")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "file not found", payload["error"])
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"),
		"error responses need CORS headers too, or the frontend only sees an opaque failure")
}

func TestRawSlide_ErrorResponsesCarryCORS(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/case.svs", "bytes=1000-1100")
	readBody(t, resp)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// brokenObject fails every ranged read with a fixed error.
type brokenObject struct {
	size int64
	err  error
}

func (*brokenObject) Kind() blob.Kind { return blob.KindGCS }

func (o *brokenObject) Size(context.Context) (int64, error) { return o.size, nil }

func (o *brokenObject) NewRangeReader(context.Context, int64, int64) (io.ReadCloser, error) {
	return nil, o.err
}

func TestServeSpan_OpenFailureMapsToJSONError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"access denied", fmt.Errorf("read denied: %w", blob.ErrAccessDenied), http.StatusForbidden, "access denied"},
		{"upstream failure", fmt.Errorf("read failed: %w", blob.ErrUpstream), http.StatusBadGateway, "upstream storage error"},
		{"vanished object", fmt.Errorf("read gone: %w", blob.ErrNotFound), http.StatusNotFound, "file not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(HandlerConfig{})
			entry := &Entry{
				Name:     "case",
				Filename: "case.svs",
				Source:   blob.KindGCS,
				Object:   &brokenObject{size: 1000, err: tc.err},
			}
			res := byterange.Resolve(1000, "bytes=0-99")
			require.Equal(t, byterange.Partial, res.Status)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/t/api/raw_slides/case.svs", nil)
			h.serveSpan(rec, req, entry, res, http.StatusPartialContent, 1000)

			assert.Equal(t, tc.wantStatus, rec.Code,
				"a reader-open failure must not commit the 206")
			assert.Empty(t, rec.Header().Get("Content-Range"))
			assert.Empty(t, rec.Header().Get("Content-Length"))

			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, tc.wantMsg, payload["error"])
		})
	}
}

func TestRawSlide_PathEscapeRejected(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/"+f.token+"/api/raw_slides/..%2Fsecret.svs", "")
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRawSlide_UnknownToken(t *testing.T) {
	f := newProxyFixture(t, 0)

	resp := f.get(t, "/not-a-token/api/raw_slides/case.svs", "")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("session not found or expired")))
}

func TestRawSlide_ExpiredToken(t *testing.T) {
	content := []byte("0123456789")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "case.svs"), content, 0o600))

	reg := session.NewMemoryRegistry(time.Nanosecond, nil)
	t.Cleanup(func() { _ = reg.Close() })
	sess, err := reg.Create(context.Background(), []string{dir}, nil, -1)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(HandlerConfig{Registry: reg, Catalog: NewCatalog(nil)}).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	time.Sleep(10 * time.Millisecond)

	resp, err := server.Client().Get(server.URL + "/" + sess.Token + "/api/raw_slides/case.svs")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
