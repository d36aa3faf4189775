package domain

import (
	"net/http"
	"time"
)

// ProgressFunc is called after every chunk lands on disk. received is the
// cumulative byte count including any resumed offset; total is the expected
// final size, or -1 when it is unknown.
type ProgressFunc func(received, total int64)

// DestinationFunc derives the destination path from the response headers.
// It runs once, at finalization time.
type DestinationFunc func(header http.Header) string

// TempFileFunc is called once with the temp file path the download writes
// to, before the first chunk lands.
type TempFileFunc func(path string)

// Request describes one download.
type Request struct {
	// URL is the resource to fetch.
	URL string

	// Destination is the final path of the downloaded file. Exactly one of
	// Destination and DestinationFunc must be set.
	Destination string

	// DestinationFunc derives the destination from the response headers
	// when the path cannot be known up front.
	DestinationFunc DestinationFunc

	// Headers are sent on both the probe and the streaming request.
	Headers map[string]string

	// Body is sent on both the probe and the streaming request.
	Body []byte

	// LengthHeader names the response header carrying the expected size.
	// Empty means Content-Length.
	LengthHeader string

	// KeepPartialOnError leaves the partial temp file on disk after a
	// failure so a later attempt can resume it. The zero value deletes it.
	KeepPartialOnError bool

	// ReceiveTimeout bounds the whole streaming phase. 0 means unbounded.
	ReceiveTimeout time.Duration

	// OnProgress, when non-nil, receives progress updates.
	OnProgress ProgressFunc

	// OnTempFile, when non-nil, receives the temp file path once the
	// streaming response is open.
	OnTempFile TempFileFunc
}

// Outcome is the result of a completed download.
type Outcome struct {
	// Path is the finalized destination path.
	Path string

	// StatusCode and Header come from the streaming response.
	StatusCode int
	Header     http.Header

	// BytesReceived is the final size of the file, including any resumed
	// prefix.
	BytesReceived int64

	// ResumedFrom is the offset the transfer resumed at, 0 for a fresh
	// transfer.
	ResumedFrom int64
}
