// Package blob abstracts where slide bytes physically live. An Object is a
// read-only handle over a single resource, a local file or a GCS object,
// exposing exactly the two capabilities the range proxy needs: total size
// and ranged reads. Bytes are never cached across calls; every read goes
// back to the source so repeated requests observe identical behavior.
package blob

import (
	"context"
	"io"
)

// Kind tags where an object's bytes live.
type Kind string

const (
	// KindLocal is a file on the local filesystem.
	KindLocal Kind = "local"

	// KindGCS is an object in a Google Cloud Storage bucket.
	KindGCS Kind = "gcs"
)

// Object is a read-only handle over a single blob.
type Object interface {
	// Kind reports where the bytes live.
	Kind() Kind

	// Size returns the total size of the object in bytes.
	Size(ctx context.Context) (int64, error)

	// NewRangeReader returns a reader over length bytes starting at offset.
	// A negative length reads to the end of the object. The caller must
	// close the returned reader.
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}
