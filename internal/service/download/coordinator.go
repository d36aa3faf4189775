package download

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"

	"github.com/go-http-utils/headers"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
	"go.uber.org/zap"
)

// Coordinator sequences one download: probe, resume bookkeeping, streaming
// GET, backpressured drain into the writer, then finalize or abort. Every
// invocation produces exactly one outcome.
type Coordinator struct {
	transport port.Transport
	store     port.TempStore
	logger    *zap.Logger
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(transport port.Transport, store port.TempStore, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		transport: transport,
		store:     store,
		logger:    logger,
	}
}

// DownloadURL is a convenience variant of Download taking a pre-parsed URL.
func (c *Coordinator) DownloadURL(ctx context.Context, u *url.URL, req domain.Request) (*domain.Outcome, error) {
	req.URL = u.String()
	return c.Download(ctx, req)
}

// Download runs one download to completion. The returned error, when
// non-nil, is a *domain.DownloadError carrying the failure kind; cancel the
// passed context to cancel the download.
func (c *Coordinator) Download(ctx context.Context, req domain.Request) (*domain.Outcome, error) {
	if req.URL == "" {
		return nil, domain.NewDownloadError(domain.KindRequest, domain.ErrNoURL)
	}
	if req.Destination == "" && req.DestinationFunc == nil {
		return nil, domain.NewDownloadError(domain.KindRequest, domain.ErrNoDestination)
	}

	treq := port.Request{URL: req.URL, Headers: req.Headers, Body: req.Body}

	// Probing
	lastMod, hasKey, err := probeLastModified(ctx, c.transport, treq, c.logger)
	if err != nil {
		return nil, err
	}

	// Requesting: derive the resume key and offset from the temp file on
	// disk. The key is embedded in the temp filename, so a partial left by a
	// different remote version simply never matches.
	stem := destStem(req)
	var key int64
	if hasKey {
		key = lastMod.UnixMilli()
	}
	tempPath := c.store.TempPath(stem, key)

	var fromOffset int64
	if hasKey {
		size, err := c.store.Size(tempPath)
		if err != nil {
			c.logger.Warn("cannot stat temp file, starting fresh",
				zap.String("temp", tempPath), zap.Error(err))
		} else {
			fromOffset = size
		}
	}

	greq := port.Request{URL: req.URL, Headers: make(map[string]string, len(req.Headers)+1), Body: req.Body}
	for k, v := range req.Headers {
		greq.Headers[k] = v
	}
	if fromOffset > 0 {
		greq.Headers[headers.Range] = fmt.Sprintf("bytes=%d-", fromOffset)
	}

	// The receive timeout bounds the streaming phase from request issuance
	// to stream completion. Using a distinct cause keeps it separable from
	// caller cancellation. Without a timeout the context is still wrapped,
	// so the deferred cancel releases the interrupt watcher on every path.
	var sctx context.Context
	var cancel context.CancelFunc
	if req.ReceiveTimeout > 0 {
		sctx, cancel = context.WithTimeoutCause(ctx, req.ReceiveTimeout, domain.ErrReceiveTimeout)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	info, stream, err := c.transport.OpenStream(sctx, greq)
	if err != nil {
		if sctx.Err() != nil {
			err = classifyInterrupt(sctx)
		}
		if !req.KeepPartialOnError {
			c.removeTemp(tempPath)
		}
		return nil, err
	}

	// A server that ignores the range request replays the whole resource;
	// trusting the old offset would corrupt the file.
	if fromOffset > 0 && info.StatusCode != http.StatusPartialContent {
		c.logger.Debug("server ignored range request, restarting",
			zap.String("url", req.URL),
			zap.Int("status", info.StatusCode),
			zap.Int64("offset", fromOffset))
		fromOffset = 0
	}

	w, err := OpenWriter(c.store, tempPath, fromOffset)
	if err != nil {
		stream.Cancel()
		if !req.KeepPartialOnError {
			c.removeTemp(tempPath)
		}
		return nil, domain.NewDownloadError(domain.KindWrite, err)
	}

	if req.OnTempFile != nil {
		req.OnTempFile(tempPath)
	}

	// Streaming: the drain loop and the timeout/cancel watcher race to
	// resolve the cell; whichever terminal transition happens first wins.
	// Guarding the progress callback on the cell keeps it from firing after
	// the outcome is decided.
	cell := newResultCell()
	tr := newTracker(fromOffset, info, req.LengthHeader, cell.guard(req.OnProgress))
	go func() {
		cell.resolve(drain(sctx, stream, w, tr))
	}()
	go func() {
		select {
		case <-sctx.Done():
			cell.resolve(classifyInterrupt(sctx))
		case <-cell.done:
		}
	}()

	if err := cell.wait(); err != nil {
		// Aborting: stop the source, wait out any in-flight write, apply the
		// delete policy. Teardown problems are logged, never surfaced over
		// the primary failure.
		stream.Cancel()
		if terr := w.Abort(!req.KeepPartialOnError); terr != nil {
			c.logger.Warn("teardown failed",
				zap.String("temp", tempPath), zap.Error(terr))
		}
		return nil, err
	}

	// Finalizing: the destination is only ever touched here.
	dest := req.Destination
	if req.DestinationFunc != nil {
		dest = req.DestinationFunc(info.Header)
	}
	if dest == "" {
		if terr := w.Abort(!req.KeepPartialOnError); terr != nil {
			c.logger.Warn("teardown failed",
				zap.String("temp", tempPath), zap.Error(terr))
		}
		return nil, domain.NewDownloadError(domain.KindWrite, domain.ErrNoDestination)
	}

	if err := w.Finalize(dest); err != nil {
		if !req.KeepPartialOnError {
			c.removeTemp(tempPath)
		}
		return nil, domain.NewDownloadError(domain.KindWrite, err)
	}

	c.logger.Info("download complete",
		zap.String("url", req.URL),
		zap.String("dest", dest),
		zap.Int64("bytes", tr.received),
		zap.Int64("resumed_from", fromOffset))

	return &domain.Outcome{
		Path:          dest,
		StatusCode:    info.StatusCode,
		Header:        info.Header,
		BytesReceived: tr.received,
		ResumedFrom:   fromOffset,
	}, nil
}

// removeTemp deletes a temp file best-effort.
func (c *Coordinator) removeTemp(tempPath string) {
	if err := c.store.Remove(tempPath); err != nil {
		c.logger.Warn("failed to delete temp file",
			zap.String("temp", tempPath), zap.Error(err))
	}
}

// destStem returns the last path segment the temp filename is derived from:
// the destination when it is a literal path, otherwise the URL path (the
// destination function cannot run until response headers exist).
func destStem(req domain.Request) string {
	if req.Destination != "" {
		return filepath.Base(req.Destination)
	}
	if u, err := url.Parse(req.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}
