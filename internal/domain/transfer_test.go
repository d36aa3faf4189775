package domain

import (
	"testing"
	"time"
)

func TestTransfer_CanRetry(t *testing.T) {
	tr := &Transfer{RetryCount: 0, MaxRetries: 3}
	if !tr.CanRetry() {
		t.Error("CanRetry() = false with budget left")
	}

	tr.RetryCount = 3
	if tr.CanRetry() {
		t.Error("CanRetry() = true with budget exhausted")
	}

	tr = &Transfer{MaxRetries: 0}
	if tr.CanRetry() {
		t.Error("CanRetry() = true with zero budget")
	}
}

func TestTransfer_MarkFailed(t *testing.T) {
	tr := &Transfer{
		Status:     TransferStatusInProgress,
		WorkerID:   "worker-1",
		MaxRetries: 2,
	}
	now := time.Now()
	tr.ClaimedAt = &now

	tr.MarkFailed("boom")
	if tr.Status != TransferStatusPending {
		t.Errorf("Status = %q, want pending after first failure", tr.Status)
	}
	if tr.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", tr.RetryCount)
	}
	if tr.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", tr.LastError, "boom")
	}
	if tr.WorkerID != "" || tr.ClaimedAt != nil {
		t.Error("claim state should be cleared on failure")
	}
	if tr.NextRetryAt == nil || !tr.NextRetryAt.After(time.Now()) {
		t.Error("NextRetryAt should be set in the future")
	}

	tr.MarkFailed("boom again")
	if tr.Status != TransferStatusFailed {
		t.Errorf("Status = %q, want failed after budget exhausted", tr.Status)
	}
	if tr.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", tr.RetryCount)
	}
}

func TestTransfer_Claim(t *testing.T) {
	next := time.Now().Add(time.Minute)
	tr := &Transfer{
		Status:      TransferStatusPending,
		NextRetryAt: &next,
	}

	tr.Claim("worker-7")
	if tr.Status != TransferStatusInProgress {
		t.Errorf("Status = %q, want in_progress", tr.Status)
	}
	if tr.WorkerID != "worker-7" {
		t.Errorf("WorkerID = %q, want worker-7", tr.WorkerID)
	}
	if tr.ClaimedAt == nil {
		t.Error("ClaimedAt should be set")
	}
	if tr.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared on claim")
	}
}
