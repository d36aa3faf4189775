package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrNoURL            = errors.New("no URL given")
	ErrNoDestination    = errors.New("no destination given")
	ErrAlreadyQueued    = errors.New("transfer already queued")
	ErrTransferNotFound = errors.New("transfer not found")
)

// FailureKind classifies the terminal failure of a download.
type FailureKind int

const (
	KindUnknown FailureKind = iota

	// KindProbe covers failures of the metadata probe.
	KindProbe

	// KindRequest covers connect/send failures of the streaming GET.
	KindRequest

	// KindResponseStatus covers non-2xx responses.
	KindResponseStatus

	// KindStream covers transport errors while the body is streaming.
	KindStream

	// KindWrite covers disk I/O errors.
	KindWrite

	// KindReceiveTimeout covers an elapsed receive timeout during streaming.
	KindReceiveTimeout

	// KindCancelled covers caller cancellation.
	KindCancelled
)

// String returns a short name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case KindProbe:
		return "probe_failure"
	case KindRequest:
		return "request_failure"
	case KindResponseStatus:
		return "response_status_failure"
	case KindStream:
		return "stream_failure"
	case KindWrite:
		return "write_failure"
	case KindReceiveTimeout:
		return "receive_timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrReceiveTimeout is used as the cancellation cause when the configured
// receive timeout elapses, so it can be told apart from caller cancellation.
var ErrReceiveTimeout = errors.New("receive timeout exceeded")

// DownloadError is the single failure type surfaced to callers. The
// underlying transport or I/O error stays reachable through Unwrap.
type DownloadError struct {
	Kind FailureKind
	Err  error

	// StatusCode and Body are populated for KindResponseStatus failures.
	// Body holds at most the transport's configured error-body limit.
	StatusCode int
	Body       []byte
}

// Error returns the error message.
func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Kind == KindResponseStatus {
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying error.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError wraps err with a failure kind.
func NewDownloadError(kind FailureKind, err error) *DownloadError {
	return &DownloadError{Kind: kind, Err: err}
}

// NewStatusError creates a KindResponseStatus failure carrying the response
// status and an optional (bounded) error body.
func NewStatusError(statusCode int, body []byte) *DownloadError {
	return &DownloadError{Kind: KindResponseStatus, StatusCode: statusCode, Body: body}
}

// KindOf returns the failure kind of err, or KindUnknown if err is not a
// DownloadError.
func KindOf(err error) FailureKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Retryable reports whether a failed download is worth retrying. Transient
// transport conditions are; caller cancellation, disk errors and 4xx
// responses are not.
func Retryable(err error) bool {
	var de *DownloadError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Kind {
	case KindProbe, KindRequest, KindStream, KindReceiveTimeout:
		return true
	case KindResponseStatus:
		return de.StatusCode >= 500
	default:
		return false
	}
}

// RetryableError wraps an error with an explicit retry delay. The queue
// service uses it to override the default backoff schedule.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// RetryAfterOf returns the explicit retry delay if err carries one.
func RetryAfterOf(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
