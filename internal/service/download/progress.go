package download

import (
	"strconv"
	"strings"

	"github.com/go-http-utils/headers"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// tracker maintains the running received-byte counter, seeded with the
// resume offset so progress is continuous across a resumed transfer.
type tracker struct {
	received int64
	total    int64
	fn       domain.ProgressFunc
}

// newTracker computes the expected total for a response per the
// length-accounting policy and seeds the counter with the resume offset.
// When the total is unknown it stays -1: adding the resume offset to an
// unknown size would report a meaningless negative value.
func newTracker(offset int64, info *port.ResponseInfo, lengthHeader string, fn domain.ProgressFunc) *tracker {
	total := expectedTotal(info, lengthHeader)
	if total >= 0 {
		total += offset
	}
	return &tracker{
		received: offset,
		total:    total,
		fn:       fn,
	}
}

// expectedTotal derives the total expected size from the configured length
// header, or -1 when the true size is unknowable from it.
func expectedTotal(info *port.ResponseInfo, lengthHeader string) int64 {
	if lengthHeader == "" {
		lengthHeader = headers.ContentLength
	}

	// A compressed response's Content-Length reports the compressed size,
	// which says nothing about the bytes this download will produce.
	if strings.EqualFold(lengthHeader, headers.ContentLength) &&
		isCompressed(info.Header.Get(headers.ContentEncoding)) {
		return -1
	}

	v := strings.TrimSpace(info.Header.Get(lengthHeader))
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// isCompressed reports whether the content-encoding is a recognized
// compression scheme.
func isCompressed(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "deflate", "compress":
		return true
	}
	return false
}

// add advances the counter by one chunk and fires the callback. Calls are
// made in chunk-write order, so receivedTotal is monotonically
// non-decreasing.
func (t *tracker) add(n int) {
	t.received += int64(n)
	if t.fn != nil {
		t.fn(t.received, t.total)
	}
}
