package port

import (
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// TransferJournal persists queued transfers and their progress. It is
// bookkeeping only: the resume offset of a download is always re-derived
// from the temp file on disk.
type TransferJournal interface {
	// CreateTransfer inserts a pending transfer. Returns
	// domain.ErrAlreadyQueued when an active transfer for the same URL and
	// destination exists.
	CreateTransfer(t *domain.Transfer) error

	// ClaimNextTransfer atomically claims the next runnable pending
	// transfer for a worker. Returns (nil, nil) when none is due.
	ClaimNextTransfer(workerID string) (*domain.Transfer, error)

	// GetTransfer retrieves a transfer by ID, (nil, nil) when missing.
	GetTransfer(id int64) (*domain.Transfer, error)

	// UpdateProgress records the bytes received so far and the temp path.
	UpdateProgress(id int64, bytesReceived int64, tempPath string) error

	// CompleteTransfer marks a transfer complete with its final byte count.
	CompleteTransfer(id int64, bytesReceived int64) error

	// FailTransfer records a failed attempt, scheduling a retry when canRetry
	// is true. retryAfter overrides the default backoff when > 0.
	FailTransfer(id int64, errMsg string, canRetry bool, retryAfter time.Duration) error

	// ReleaseStaleTransfers resets in-progress transfers claimed longer ago
	// than staleAfter and returns how many were released.
	ReleaseStaleTransfers(staleAfter time.Duration) (int, error)

	// CleanupOldTransfers deletes terminal (complete or failed) transfers
	// older than the given age and returns how many were removed.
	CleanupOldTransfers(olderThan time.Duration) (int, error)

	// ListRecentTransfers returns the most recently updated transfers.
	ListRecentTransfers(limit int) ([]*domain.Transfer, error)

	// QueueStats returns aggregate queue counters.
	QueueStats() (*domain.QueueStats, error)
}
