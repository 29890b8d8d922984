package blob

import "errors"

// Error taxonomy for blob sources. Handlers dispatch on these with
// errors.Is to pick the HTTP status.
var (
	// ErrNotFound is returned when the file, object, or bucket does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrAccessDenied is returned on a credential or permission failure
	// against remote storage.
	ErrAccessDenied = errors.New("access denied")

	// ErrUpstream is returned on a transient network or storage failure
	// after the internal retry has been exhausted.
	ErrUpstream = errors.New("upstream storage error")
)
