// Package slides resolves a session's search roots into slide entries and
// serves the session-scoped slide API, including the byte-range proxy.
package slides

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/session"
)

// Entry is one slide resolved within a session. The blob variant is picked
// once here, so the proxy never branches on source kind.
type Entry struct {
	// Name is the logical identifier, the filename without extension.
	Name string

	// Filename is the on-disk or on-bucket basename.
	Filename string

	// Size in bytes as observed at listing time. Zero when the source
	// could not be statted cheaply; the proxy re-reads size per request.
	Size int64

	// Source is "local" or "gcs".
	Source blob.Kind

	// Object reads the slide's bytes.
	Object blob.Object
}

// Viewable reports whether a browser-side streaming reader can render the
// entry directly.
func (e Entry) Viewable() bool {
	return viewableExtensions[ext(e.Filename)]
}

// Catalog lists and resolves slides for sessions. It holds no per-session
// state; every call re-walks the session's search roots.
type Catalog struct {
	gcs *blob.GCS
}

// NewCatalog creates a catalog. gcs may be nil, in which case GCS search
// roots are skipped with a warning.
func NewCatalog(gcs *blob.GCS) *Catalog {
	return &Catalog{gcs: gcs}
}

// List resolves the session's search roots, in order, into deduplicated
// slide entries. When the same filename appears under multiple roots, the
// first root wins. The session's upload directory is searched last.
func (c *Catalog) List(ctx context.Context, sess *session.Session) ([]Entry, error) {
	roots := append([]string(nil), sess.SlideLocations...)
	if sess.UploadDir != "" {
		roots = append(roots, sess.UploadDir)
	}

	seen := make(map[string]bool)
	var entries []Entry
	for _, root := range roots {
		found, err := c.listRoot(ctx, root)
		if err != nil {
			slog.Warn("slides: listing root failed", "root", root, "error", err)
			continue
		}
		for _, e := range found {
			if seen[e.Filename] {
				continue
			}
			seen[e.Filename] = true
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Find resolves a slide by exact filename.
func (c *Catalog) Find(ctx context.Context, sess *session.Session, filename string) (*Entry, error) {
	entries, err := c.List(ctx, sess)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Filename == filename {
			return &entries[i], nil
		}
	}
	return nil, nil //nolint:nilnil // not-found is not an error for lookups
}

// FindByName resolves a slide by logical name (filename without extension).
func (c *Catalog) FindByName(ctx context.Context, sess *session.Session, name string) (*Entry, error) {
	entries, err := c.List(ctx, sess)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, nil //nolint:nilnil // not-found is not an error for lookups
}

// listRoot resolves a single search root into entries.
func (c *Catalog) listRoot(ctx context.Context, root string) ([]Entry, error) {
	if blob.IsGCSPath(root) {
		return c.listGCSRoot(ctx, root)
	}
	return listLocalRoot(root)
}

// listLocalRoot handles a local directory or a single local file.
func listLocalRoot(root string) ([]Entry, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	if !fi.IsDir() {
		name := filepath.Base(root)
		if !AllowedFile(name) {
			return nil, nil
		}
		return []Entry{localEntry(root, fi.Size())}, nil
	}

	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() || !AllowedFile(de.Name()) {
			continue
		}
		info, err := de.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		entries = append(entries, localEntry(filepath.Join(root, de.Name()), size))
	}
	return entries, nil
}

// listGCSRoot handles a gs:// bucket/prefix root. When the prefix itself
// names a slide object the root is treated as that single object, which
// also covers anonymous clients without bucket list permission.
func (c *Catalog) listGCSRoot(ctx context.Context, root string) ([]Entry, error) {
	if c.gcs == nil {
		return nil, fmt.Errorf("gcs client not configured, skipping %s", root)
	}

	bucket, prefix, err := blob.ParseGCSPath(root)
	if err != nil {
		return nil, err
	}

	if AllowedFile(prefix) {
		obj := c.gcs.Object(bucket, prefix)
		size, err := obj.Size(ctx)
		if err != nil {
			slog.Debug("slides: stat of gcs object failed", "bucket", bucket, "object", prefix, "error", err)
		}
		return []Entry{gcsEntry(filepath.Base(prefix), size, obj)}, nil
	}

	objects, err := c.gcs.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, o := range objects {
		base := o.Name[strings.LastIndex(o.Name, "/")+1:]
		if !AllowedFile(base) {
			continue
		}
		entries = append(entries, gcsEntry(base, o.Size, c.gcs.Object(bucket, o.Name)))
	}
	return entries, nil
}

func localEntry(path string, size int64) Entry {
	name := filepath.Base(path)
	return Entry{
		Name:     stem(name),
		Filename: name,
		Size:     size,
		Source:   blob.KindLocal,
		Object:   blob.NewLocalObject(path),
	}
}

func gcsEntry(filename string, size int64, obj blob.Object) Entry {
	return Entry{
		Name:     stem(filename),
		Filename: filename,
		Size:     size,
		Source:   blob.KindGCS,
		Object:   obj,
	}
}

// overlaySuffixes are the per-slide overlay artifacts the viewer knows.
var overlaySuffixes = []string{"_density.png", "_metadata.json", "_grid.json"}

// FindOverlay searches for an overlay artifact named {slideName}{suffix}.
// Overlay roots are searched first, then the local slide roots, then the
// session upload directory. GCS overlay roots are not yet supported and
// are skipped. Returns the local path, or empty when absent.
func (c *Catalog) FindOverlay(sess *session.Session, slideName, suffix string) string {
	target := slideName + suffix

	for _, root := range sess.OverlayLocations {
		if blob.IsGCSPath(root) {
			continue
		}
		candidate := filepath.Join(root, target)
		if fileExists(candidate) {
			return candidate
		}
	}

	roots := append([]string(nil), sess.SlideLocations...)
	if sess.UploadDir != "" {
		roots = append(roots, sess.UploadDir)
	}
	for _, root := range roots {
		if blob.IsGCSPath(root) {
			continue
		}
		dir := root
		if fi, err := os.Stat(root); err == nil && !fi.IsDir() {
			dir = filepath.Dir(root)
		}
		candidate := filepath.Join(dir, target)
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
