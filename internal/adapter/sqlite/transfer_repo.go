package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// CreateTransfer inserts a pending transfer
func (s *Store) CreateTransfer(t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (url, destination, status, max_retries)
		VALUES (?, ?, 'pending', ?)
	`

	result, err := s.db.Exec(query, t.URL, t.Destination, t.MaxRetries)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyQueued
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	t.ID = id
	t.Status = domain.TransferStatusPending
	return nil
}

// ClaimNextTransfer atomically claims the next runnable pending transfer
func (s *Store) ClaimNextTransfer(workerID string) (*domain.Transfer, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, url, destination, status,
			   temp_file_path, bytes_received, total_bytes,
			   retry_count, max_retries, last_error, created_at, updated_at
		FROM transfers
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= datetime('now'))
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	t := &domain.Transfer{}
	var tempPath, lastError sql.NullString

	err = tx.QueryRow(selectQuery).Scan(
		&t.ID, &t.URL, &t.Destination, &t.Status,
		&tempPath, &t.BytesReceived, &t.TotalBytes,
		&t.RetryCount, &t.MaxRetries, &lastError,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if tempPath.Valid {
		t.TempFilePath = tempPath.String
	}
	if lastError.Valid {
		t.LastError = lastError.String
	}

	updateQuery := `
		UPDATE transfers
		SET status = 'in_progress',
			worker_id = ?,
			claimed_at = datetime('now'),
			updated_at = datetime('now')
		WHERE id = ?
	`
	if _, err := tx.Exec(updateQuery, workerID, t.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t.Claim(workerID)
	return t, nil
}

// GetTransfer retrieves a transfer by ID
func (s *Store) GetTransfer(id int64) (*domain.Transfer, error) {
	query := `
		SELECT id, url, destination, status, worker_id,
			   temp_file_path, bytes_received, total_bytes,
			   retry_count, max_retries, next_retry_at, last_error,
			   created_at, claimed_at, updated_at
		FROM transfers
		WHERE id = ?
	`
	return s.scanTransfer(s.db.QueryRow(query, id))
}

// UpdateProgress records the bytes received so far. An empty tempPath keeps
// the previously recorded one.
func (s *Store) UpdateProgress(id int64, bytesReceived int64, tempPath string) error {
	query := `
		UPDATE transfers
		SET bytes_received = ?,
			temp_file_path = COALESCE(NULLIF(?, ''), temp_file_path),
			updated_at = datetime('now')
		WHERE id = ?
	`
	_, err := s.db.Exec(query, bytesReceived, tempPath, id)
	return err
}

// CompleteTransfer marks a transfer complete with its final byte count
func (s *Store) CompleteTransfer(id int64, bytesReceived int64) error {
	query := `
		UPDATE transfers
		SET status = 'complete', bytes_received = ?, total_bytes = ?,
			worker_id = NULL, claimed_at = NULL, updated_at = datetime('now')
		WHERE id = ?
	`
	_, err := s.db.Exec(query, bytesReceived, bytesReceived, id)
	return err
}

// FailTransfer records a failed attempt and schedules a retry when possible
func (s *Store) FailTransfer(id int64, errMsg string, canRetry bool, retryAfter time.Duration) error {
	if canRetry {
		var retryCount int
		err := s.db.QueryRow("SELECT retry_count FROM transfers WHERE id = ?", id).Scan(&retryCount)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		if retryAfter <= 0 {
			backoffs := []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}
			backoffIdx := retryCount
			if backoffIdx >= len(backoffs) {
				backoffIdx = len(backoffs) - 1
			}
			retryAfter = backoffs[backoffIdx]
		}

		// The retry schedule is computed in SQLite's clock so it compares
		// cleanly with datetime('now') at claim time.
		query := `
			UPDATE transfers
			SET status = 'pending', worker_id = NULL, claimed_at = NULL,
				retry_count = retry_count + 1,
				next_retry_at = datetime('now', ?),
				last_error = ?,
				updated_at = datetime('now')
			WHERE id = ?
		`
		modifier := fmt.Sprintf("+%d seconds", int64(retryAfter.Seconds()))
		_, err = s.db.Exec(query, modifier, errMsg, id)
		return err
	}

	query := `
		UPDATE transfers
		SET status = 'failed', worker_id = NULL, claimed_at = NULL,
			retry_count = retry_count + 1, last_error = ?,
			updated_at = datetime('now')
		WHERE id = ?
	`
	_, err := s.db.Exec(query, errMsg, id)
	return err
}

// ReleaseStaleTransfers resets transfers stuck in in_progress state
func (s *Store) ReleaseStaleTransfers(staleAfter time.Duration) (int, error) {
	query := `
		UPDATE transfers
		SET status = 'pending', worker_id = NULL, claimed_at = NULL,
			updated_at = datetime('now')
		WHERE status = 'in_progress' AND claimed_at <= datetime('now', ?)
	`
	modifier := fmt.Sprintf("-%d seconds", int64(staleAfter.Seconds()))
	result, err := s.db.Exec(query, modifier)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	return int(count), err
}

// CleanupOldTransfers removes terminal transfers older than the given age
func (s *Store) CleanupOldTransfers(olderThan time.Duration) (int, error) {
	result, err := s.db.Exec(
		"DELETE FROM transfers WHERE status IN ('complete', 'failed') AND updated_at <= datetime('now', ?)",
		fmt.Sprintf("-%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	return int(count), err
}

// ListRecentTransfers returns the most recently updated transfers
func (s *Store) ListRecentTransfers(limit int) ([]*domain.Transfer, error) {
	query := `
		SELECT id, url, destination, status, worker_id,
			   temp_file_path, bytes_received, total_bytes,
			   retry_count, max_retries, next_retry_at, last_error,
			   created_at, claimed_at, updated_at
		FROM transfers
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		t, err := scanTransferRow(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// QueueStats returns aggregate queue counters
func (s *Store) QueueStats() (*domain.QueueStats, error) {
	stats := &domain.QueueStats{}

	query := `
		SELECT status, COUNT(*), COALESCE(SUM(bytes_received), 0)
		FROM transfers
		GROUP BY status
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		var bytes int64

		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return nil, err
		}

		switch status {
		case domain.TransferStatusPending:
			stats.PendingCount = count
		case domain.TransferStatusInProgress:
			stats.InProgressCount = count
		case domain.TransferStatusComplete:
			stats.CompleteCount = count
			stats.TotalBytesDone += bytes
		case domain.TransferStatusFailed:
			stats.FailedCount = count
		}
	}
	return stats, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTransfer scans a single transfer row, (nil, nil) when missing
func (s *Store) scanTransfer(row *sql.Row) (*domain.Transfer, error) {
	t, err := scanTransferRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTransferRow(row rowScanner) (*domain.Transfer, error) {
	t := &domain.Transfer{}
	var workerID, tempPath, lastError sql.NullString
	var nextRetryAt, claimedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.URL, &t.Destination, &t.Status, &workerID,
		&tempPath, &t.BytesReceived, &t.TotalBytes,
		&t.RetryCount, &t.MaxRetries, &nextRetryAt, &lastError,
		&t.CreatedAt, &claimedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workerID.Valid {
		t.WorkerID = workerID.String
	}
	if tempPath.Valid {
		t.TempFilePath = tempPath.String
	}
	if lastError.Valid {
		t.LastError = lastError.String
	}
	if nextRetryAt.Valid {
		t.NextRetryAt = &nextRetryAt.Time
	}
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	return t, nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
