package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// staleSizeDelay is how long to wait before re-fetching object metadata
// when the reported size is zero. Object size can be stale immediately
// after an upload; trusting it would produce spurious 416s.
const staleSizeDelay = 200 * time.Millisecond

// GCS wraps a Google Cloud Storage client. The client is credentialed when
// a service-account file is present at startup, anonymous otherwise
// (anonymous clients can only read public objects).
type GCS struct {
	client       *storage.Client
	credentialed bool
}

// NewGCSClient creates a GCS client. When credentialsPath names an existing
// service-account file the client authenticates with it; otherwise the
// client is anonymous.
func NewGCSClient(ctx context.Context, credentialsPath string) (*GCS, error) {
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err == nil {
			client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsPath))
			if err != nil {
				return nil, fmt.Errorf("creating credentialed gcs client: %w", err)
			}
			return &GCS{client: client, credentialed: true}, nil
		}
	}

	client, err := storage.NewClient(ctx, option.WithoutAuthentication())
	if err != nil {
		return nil, fmt.Errorf("creating anonymous gcs client: %w", err)
	}
	return &GCS{client: client}, nil
}

// Credentialed reports whether the client holds service-account credentials.
func (g *GCS) Credentialed() bool {
	return g.credentialed
}

// Object returns a blob handle over a single GCS object.
func (g *GCS) Object(bucket, name string) Object {
	return &gcsObject{
		handle: g.client.Bucket(bucket).Object(name),
		bucket: bucket,
		name:   name,
	}
}

// ObjectInfo describes an object returned by ListObjects.
type ObjectInfo struct {
	Name    string
	Size    int64
	Updated time.Time
}

// ListObjects lists objects under a bucket prefix.
func (g *GCS) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSErr(err)
		}
		objects = append(objects, ObjectInfo{
			Name:    attrs.Name,
			Size:    attrs.Size,
			Updated: attrs.Updated,
		})
	}
	return objects, nil
}

// SignedURL generates a V4 signed GET URL for an object. Requires a
// credentialed client.
func (g *GCS) SignedURL(bucket, object string, expires time.Time) (string, error) {
	url, err := g.client.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", fmt.Errorf("signing url for gs://%s/%s: %w", bucket, object, err)
	}
	return url, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// gcsObject is a blob handle over one GCS object.
type gcsObject struct {
	handle *storage.ObjectHandle
	bucket string
	name   string
}

// Kind reports KindGCS.
func (*gcsObject) Kind() Kind {
	return KindGCS
}

// Size fetches the object's metadata and returns its size. A zero size is
// re-fetched once after a short delay before being trusted.
func (o *gcsObject) Size(ctx context.Context) (int64, error) {
	attrs, err := o.attrs(ctx)
	if err != nil {
		return 0, err
	}
	if attrs.Size == 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(staleSizeDelay):
		}
		attrs, err = o.attrs(ctx)
		if err != nil {
			return 0, err
		}
	}
	return attrs.Size, nil
}

// attrs fetches object metadata with a single retry on transient failure.
func (o *gcsObject) attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	var attrs *storage.ObjectAttrs
	err := retryOnce(ctx, func() error {
		var err error
		attrs, err = o.handle.Attrs(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stat gs://%s/%s: %w", o.bucket, o.name, mapGCSErr(err))
	}
	return attrs, nil
}

// NewRangeReader opens a ranged read against the object. A negative length
// reads to the end.
func (o *gcsObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	var r *storage.Reader
	err := retryOnce(ctx, func() error {
		var err error
		r, err = o.handle.NewRangeReader(ctx, offset, length)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", o.bucket, o.name, mapGCSErr(err))
	}
	return r, nil
}

// retryOnce runs op, retrying a single time with exponential backoff on
// transient errors. Not-found and permission errors are permanent.
func retryOnce(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransientGCSErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}

// isTransientGCSErr reports whether an error is worth one retry.
func isTransientGCSErr(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unclassified network failures get one retry.
	return true
}

// mapGCSErr converts GCS client errors into the blob taxonomy.
func mapGCSErr(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// IsGCSPath reports whether a location string points at Google Cloud
// Storage rather than the local filesystem.
func IsGCSPath(path string) bool {
	p := strings.ToLower(strings.TrimSpace(path))
	return strings.HasPrefix(p, "gs://") ||
		strings.HasPrefix(p, "gcs://") ||
		strings.HasPrefix(p, "https://storage.googleapis.com/") ||
		strings.HasPrefix(p, "https://storage.cloud.google.com/")
}

// ParseGCSPath splits a GCS location into bucket and object path. Accepts
// gs://, gcs://, and the two HTTPS console/API URL forms.
func ParseGCSPath(raw string) (bucket, path string, err error) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	var rest string
	switch {
	case strings.HasPrefix(lower, "gs://"):
		rest = trimmed[len("gs://"):]
	case strings.HasPrefix(lower, "gcs://"):
		rest = trimmed[len("gcs://"):]
	case strings.HasPrefix(lower, "https://storage.googleapis.com/"):
		rest = trimmed[len("https://storage.googleapis.com/"):]
	case strings.HasPrefix(lower, "https://storage.cloud.google.com/"):
		rest = trimmed[len("https://storage.cloud.google.com/"):]
	default:
		return "", "", fmt.Errorf("not a gcs path: %s", raw)
	}

	bucket, path, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs path missing bucket: %s", raw)
	}
	return bucket, path, nil
}

// Verify interface compliance.
var _ Object = (*gcsObject)(nil)
