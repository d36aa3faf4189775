package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-http-utils/headers"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
	"go.uber.org/zap"
)

// Config contains transport configuration
type Config struct {
	// UserAgent is sent on every request when non-empty.
	UserAgent string

	// ReadBufferSize is the socket read buffer used while streaming.
	ReadBufferSize int

	// MaxErrorBodyBytes bounds how much of an error-status response body is
	// captured into the returned error.
	MaxErrorBodyBytes int64

	// Client overrides the HTTP client used for all requests. Redirects,
	// pooling and TLS stay its concern.
	Client *http.Client
}

// DefaultConfig returns default transport configuration
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:    128 * 1024,
		MaxErrorBodyBytes: 8 * 1024,
	}
}

// Transport implements port.Transport on top of net/http.
type Transport struct {
	config *Config
	client *http.Client
	logger *zap.Logger
}

// Ensure Transport implements port.Transport
var _ port.Transport = (*Transport)(nil)

// New creates a new Transport
func New(cfg *Config, logger *zap.Logger) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 128 * 1024
	}
	if cfg.MaxErrorBodyBytes <= 0 {
		cfg.MaxErrorBodyBytes = 8 * 1024
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Transport{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// newRequest builds an HTTP request with the configured and per-call headers
// applied.
func (t *Transport) newRequest(ctx context.Context, method string, req port.Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	r, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}

	if t.config.UserAgent != "" {
		r.Header.Set(headers.UserAgent, t.config.UserAgent)
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	return r, nil
}

// Probe issues a metadata-only HEAD request and returns the response
// headers. Non-2xx responses become a response-status failure with a bounded
// slice of the body attached.
func (t *Transport) Probe(ctx context.Context, req port.Request) (*port.ResponseInfo, error) {
	r, err := t.newRequest(ctx, http.MethodHead, req)
	if err != nil {
		return nil, domain.NewDownloadError(domain.KindRequest, err)
	}

	resp, err := t.client.Do(r)
	if err != nil {
		return nil, domain.NewDownloadError(domain.KindRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := t.readErrorBody(resp.Body)
		_ = resp.Body.Close()
		return nil, domain.NewStatusError(resp.StatusCode, body)
	}

	// HEAD bodies are empty by contract but some servers misbehave.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, t.config.MaxErrorBodyBytes))
	_ = resp.Body.Close()

	return &port.ResponseInfo{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
	}, nil
}

// OpenStream issues the streaming GET and hands back the response metadata
// plus the body as a ByteStream.
func (t *Transport) OpenStream(ctx context.Context, req port.Request) (*port.ResponseInfo, port.ByteStream, error) {
	r, err := t.newRequest(ctx, http.MethodGet, req)
	if err != nil {
		return nil, nil, domain.NewDownloadError(domain.KindRequest, err)
	}

	resp, err := t.client.Do(r)
	if err != nil {
		return nil, nil, domain.NewDownloadError(domain.KindRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := t.readErrorBody(resp.Body)
		_ = resp.Body.Close()
		return nil, nil, domain.NewStatusError(resp.StatusCode, body)
	}

	t.logger.Debug("stream opened",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength))

	s := newStream(resp.Body, t.config.ReadBufferSize)
	go s.run()

	info := &port.ResponseInfo{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
	}
	return info, s, nil
}

// readErrorBody captures at most MaxErrorBodyBytes of an error response.
func (t *Transport) readErrorBody(body io.Reader) []byte {
	b, err := io.ReadAll(io.LimitReader(body, t.config.MaxErrorBodyBytes))
	if err != nil || len(b) == 0 {
		return nil
	}
	return b
}
