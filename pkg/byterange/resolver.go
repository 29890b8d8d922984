// Package byterange resolves HTTP Range headers (RFC 7233) against a known
// resource size. It is the single range authority for the server: both the
// local-file and GCS proxy paths resolve ranges here so their semantics
// cannot drift apart.
package byterange

import (
	"fmt"
	"strconv"
	"strings"
)

// Status classifies the outcome of resolving a Range header.
type Status int

const (
	// Full means no usable range was requested: serve the whole resource
	// with HTTP 200 and no Content-Range header.
	Full Status = iota

	// Partial means a satisfiable byte range was requested: serve HTTP 206
	// with a Content-Range header.
	Partial

	// Unsatisfiable means the range lies outside the resource: serve
	// HTTP 416 with Content-Range: bytes */{size}.
	Unsatisfiable
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "unknown"
	}
}

// Resolution is the resolved byte span. Start and End are inclusive and
// only meaningful when Status is Partial.
type Resolution struct {
	Start  int64
	End    int64
	Status Status
}

// Length returns the number of bytes covered by the resolution. For Full it
// is the supplied total size, for Unsatisfiable it is zero.
func (r Resolution) Length() int64 {
	if r.Status == Unsatisfiable {
		return 0
	}
	return r.End - r.Start + 1
}

const bytesPrefix = "bytes="

// Resolve maps a raw Range header and a total resource size to a byte span.
//
// An absent header, or one that does not match the single-range grammar
// bytes=<start>-<end> | bytes=<start>- | bytes=-<suffix>, resolves to Full.
// Multi-range headers (comma-separated) do not match the grammar and
// therefore resolve to Full. An end past the last byte is clamped, not
// rejected. A start at or past the end of the resource, an inverted range,
// or any range against an empty resource is Unsatisfiable.
func Resolve(totalSize int64, header string) Resolution {
	if totalSize < 0 {
		totalSize = 0
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}

	spec, ok := strings.CutPrefix(header, bytesPrefix)
	if !ok {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || strings.Contains(endStr, "-") || strings.ContainsAny(spec, ", ") {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}

	if startStr == "" && endStr == "" {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}

	// Suffix form: bytes=-N means the last N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return Resolution{Start: 0, End: totalSize - 1, Status: Full}
		}
		start := totalSize - n
		if start < 0 {
			start = 0
		}
		return checkSpan(totalSize, start, totalSize-1)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}

	// Open-ended form: bytes=N- means from byte N to the end.
	if endStr == "" {
		return checkSpan(totalSize, start, totalSize-1)
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return Resolution{Start: 0, End: totalSize - 1, Status: Full}
	}
	if end > totalSize-1 {
		end = totalSize - 1
	}
	return checkSpan(totalSize, start, end)
}

// checkSpan validates an already-clamped span against the resource size.
func checkSpan(totalSize, start, end int64) Resolution {
	if totalSize == 0 || start >= totalSize || start > end {
		return Resolution{Status: Unsatisfiable}
	}
	return Resolution{Start: start, End: end, Status: Partial}
}

// ContentRange formats the Content-Range header value for a Partial
// resolution: "bytes {start}-{end}/{size}".
func ContentRange(r Resolution, totalSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, totalSize)
}

// UnsatisfiableRange formats the Content-Range header value carried by a
// 416 response: "bytes */{size}".
func UnsatisfiableRange(totalSize int64) string {
	return fmt.Sprintf("bytes */%d", totalSize)
}
