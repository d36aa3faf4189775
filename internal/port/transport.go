package port

import (
	"context"
	"net/http"
)

// Request is the transport-level view of one HTTP exchange. The transport
// decides the method: Probe forces a metadata-only request, OpenStream a GET.
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// ResponseInfo carries the response metadata of a probe or streaming request.
type ResponseInfo struct {
	StatusCode int
	Header     http.Header

	// ContentLength is the transport-reported body length, -1 when unknown.
	ContentLength int64
}

// ByteStream delivers response body chunks over an unbuffered handoff
// channel: the transport's reading goroutine blocks on each send until the
// consumer takes the chunk, so the consumer paces the source and at most one
// chunk is ever in flight.
type ByteStream interface {
	// Chunks returns the handoff channel. It is closed when the stream ends,
	// after which Err reports how.
	Chunks() <-chan []byte

	// Err returns the terminal stream error once Chunks is closed, or nil on
	// natural completion.
	Err() error

	// Cancel stops the source and releases the underlying body. Safe to call
	// multiple times and concurrently with channel operations.
	Cancel()
}

// Transport is the generic request/response collaborator the downloader sits
// on top of. Redirects, connection pooling and TLS are its concern alone.
type Transport interface {
	// Probe issues a metadata-only request (HEAD) and returns the response
	// headers. The response body, if any, is drained and discarded.
	Probe(ctx context.Context, req Request) (*ResponseInfo, error)

	// OpenStream issues the streaming GET and hands back the response
	// metadata plus the body as a ByteStream.
	OpenStream(ctx context.Context, req Request) (*ResponseInfo, ByteStream, error)
}
