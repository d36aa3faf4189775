package download

import (
	"context"
	"net/http"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
	"go.uber.org/zap"
)

// probeLastModified runs the metadata probe with the same URL, headers and
// body the real transfer will use, and extracts the remote Last-Modified
// timestamp that anchors the resume key.
//
// http.ParseTime matches the three fixed English HTTP date layouts, so the
// result never depends on the system locale. An absent or unparsable header
// returns ok=false: resume degrades to a fresh transfer instead of failing.
func probeLastModified(ctx context.Context, tr port.Transport, req port.Request, logger *zap.Logger) (time.Time, bool, error) {
	info, err := tr.Probe(ctx, req)
	if err != nil {
		return time.Time{}, false, domain.NewDownloadError(domain.KindProbe, err)
	}

	v := info.Header.Get(headers.LastModified)
	if v == "" {
		logger.Debug("no last-modified header, resume disabled",
			zap.String("url", req.URL))
		return time.Time{}, false, nil
	}

	t, err := http.ParseTime(v)
	if err != nil {
		logger.Debug("unparsable last-modified header, resume disabled",
			zap.String("url", req.URL),
			zap.String("value", v))
		return time.Time{}, false, nil
	}
	return t, true, nil
}
