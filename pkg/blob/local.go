package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// LocalObject reads byte ranges from a file on the local filesystem.
type LocalObject struct {
	path string
}

// NewLocalObject creates a handle over a local file. The file is opened per
// read, not held open.
func NewLocalObject(path string) *LocalObject {
	return &LocalObject{path: path}
}

// Path returns the filesystem path backing the object.
func (o *LocalObject) Path() string {
	return o.path
}

// Kind reports KindLocal.
func (*LocalObject) Kind() Kind {
	return KindLocal
}

// Size returns the file size in bytes.
func (o *LocalObject) Size(_ context.Context) (int64, error) {
	fi, err := os.Stat(o.path)
	if err != nil {
		return 0, mapLocalErr(err)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrNotFound, o.path)
	}
	return fi.Size(), nil
}

// NewRangeReader opens the file and returns a reader over length bytes
// starting at offset. A negative length reads to the end of the file.
func (o *LocalObject) NewRangeReader(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, mapLocalErr(err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seeking %s to %d: %w", o.path, offset, err)
	}
	if length < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

// limitedFile bounds reads to the requested span while keeping Close on the
// underlying file.
type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error {
	return l.f.Close()
}

// mapLocalErr converts filesystem errors into the blob taxonomy.
func mapLocalErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return err
	}
}

// Verify interface compliance.
var _ Object = (*LocalObject)(nil)
