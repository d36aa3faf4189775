package domain

import "time"

// Transfer status constants
const (
	TransferStatusPending    = "pending"
	TransferStatusInProgress = "in_progress"
	TransferStatusComplete   = "complete"
	TransferStatusFailed     = "failed"
)

// Default retry backoffs
var defaultRetryBackoffs = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// Transfer is a journaled download: one row per queued URL, carrying retry
// and progress bookkeeping. The resume offset itself is always re-derived
// from the temp file on disk, never from this record.
type Transfer struct {
	ID          int64
	URL         string
	Destination string

	// State
	Status   string
	WorkerID string

	// Progress bookkeeping
	TempFilePath  string
	BytesReceived int64
	TotalBytes    int64

	// Retry handling
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   string

	// Timestamps
	CreatedAt time.Time
	ClaimedAt *time.Time
	UpdatedAt time.Time
}

// CanRetry returns true if the transfer has retry budget left.
func (t *Transfer) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkFailed records a failed attempt. When retry budget remains the
// transfer goes back to pending with a backoff; otherwise it is failed
// terminally.
func (t *Transfer) MarkFailed(errMsg string) {
	t.RetryCount++
	t.LastError = errMsg
	t.WorkerID = ""
	t.ClaimedAt = nil

	if t.CanRetry() {
		t.Status = TransferStatusPending
		backoffIdx := t.RetryCount - 1
		if backoffIdx >= len(defaultRetryBackoffs) {
			backoffIdx = len(defaultRetryBackoffs) - 1
		}
		nextRetry := time.Now().Add(defaultRetryBackoffs[backoffIdx])
		t.NextRetryAt = &nextRetry
	} else {
		t.Status = TransferStatusFailed
	}
}

// Claim marks the transfer as claimed by a worker.
func (t *Transfer) Claim(workerID string) {
	t.Status = TransferStatusInProgress
	t.WorkerID = workerID
	now := time.Now()
	t.ClaimedAt = &now
	t.NextRetryAt = nil
}

// QueueStats represents download queue statistics.
type QueueStats struct {
	PendingCount    int
	InProgressCount int
	CompleteCount   int
	FailedCount     int
	TotalBytesDone  int64
}
