package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
	"github.com/vertextoedge/rangefetch/internal/service/download"
	"github.com/vertextoedge/rangefetch/internal/util/throttle"
	"go.uber.org/zap"
)

// Config contains queue configuration
type Config struct {
	// Workers is the number of concurrent download workers.
	Workers int

	// PollInterval is how long an idle worker waits before re-polling.
	PollInterval time.Duration

	// ErrorBackoff is how long a worker pauses after a journal error.
	ErrorBackoff time.Duration

	// StaleTimeout is when an in-progress transfer is considered abandoned.
	StaleTimeout time.Duration

	// ProgressInterval caps how often per-transfer progress is journaled.
	ProgressInterval time.Duration

	// MaxRetries is the per-transfer retry budget.
	MaxRetries int

	// ReceiveTimeout is applied to every queued transfer. 0 means unbounded.
	ReceiveTimeout time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:          3,
		PollInterval:     2 * time.Second,
		ErrorBackoff:     5 * time.Second,
		StaleTimeout:     30 * time.Minute,
		ProgressInterval: 5 * time.Second,
		MaxRetries:       3,
	}
}

// Queue runs journaled transfers through the download coordinator with a
// pool of workers. Failed attempts keep their partial temp file so the next
// attempt resumes instead of restarting.
type Queue struct {
	config     *Config
	journal    port.TransferJournal
	downloader *download.Coordinator
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Queue
func New(cfg *Config, journal port.TransferJournal, downloader *download.Coordinator, logger *zap.Logger) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Queue{
		config:     cfg,
		journal:    journal,
		downloader: downloader,
		logger:     logger,
	}
}

// Enqueue journals a new pending transfer.
func (q *Queue) Enqueue(url, destination string) (*domain.Transfer, error) {
	t := &domain.Transfer{
		URL:         url,
		Destination: destination,
		MaxRetries:  q.config.MaxRetries,
	}
	if err := q.journal.CreateTransfer(t); err != nil {
		return nil, err
	}
	q.logger.Info("transfer queued",
		zap.Int64("id", t.ID),
		zap.String("url", url),
		zap.String("dest", destination))
	return t, nil
}

// Stats returns aggregate queue counters.
func (q *Queue) Stats() (*domain.QueueStats, error) {
	return q.journal.QueueStats()
}

// Recent returns the most recently updated transfers.
func (q *Queue) Recent(limit int) ([]*domain.Transfer, error) {
	return q.journal.ListRecentTransfers(limit)
}

// Start starts the worker pool and blocks until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	// Anything claimed by a previous run is abandoned by definition.
	released, err := q.journal.ReleaseStaleTransfers(0)
	if err != nil {
		q.logger.Warn("failed to release stale transfers on startup", zap.Error(err))
	} else if released > 0 {
		q.logger.Info("released stale transfers from previous run", zap.Int("count", released))
	}

	q.logger.Info("queue started", zap.Int("workers", q.config.Workers))

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	<-ctx.Done()
	q.wg.Wait()
	q.logger.Info("queue stopped")
	return nil
}

// Stop stops the queue
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	q.running = false
}

// worker claims and runs transfers until the context ends.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	log := q.logger.With(zap.String("worker", workerID))
	log.Debug("queue worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("queue worker stopped")
			return
		default:
		}

		t, err := q.journal.ClaimNextTransfer(workerID)
		if err != nil {
			log.Error("failed to claim transfer", zap.Error(err))
			q.sleep(ctx, q.config.ErrorBackoff)
			continue
		}
		if t == nil {
			q.sleep(ctx, q.config.PollInterval)
			continue
		}

		q.run(ctx, t, log)
	}
}

// run executes one claimed transfer and records the result.
func (q *Queue) run(ctx context.Context, t *domain.Transfer, log *zap.Logger) {
	log.Info("transfer started",
		zap.Int64("id", t.ID),
		zap.String("url", t.URL),
		zap.Int("attempt", t.RetryCount+1))

	lim := throttle.New(q.config.ProgressInterval)
	// The temp path is announced before the first progress callback, so
	// every journaled update carries it.
	var tempPath string
	req := domain.Request{
		URL:         t.URL,
		Destination: t.Destination,
		// Keep partials so the next attempt resumes instead of restarting.
		KeepPartialOnError: true,
		ReceiveTimeout:     q.config.ReceiveTimeout,
		OnTempFile: func(path string) {
			tempPath = path
		},
		OnProgress: func(received, total int64) {
			if lim.Allow() {
				if err := q.journal.UpdateProgress(t.ID, received, tempPath); err != nil {
					log.Warn("failed to journal progress",
						zap.Int64("id", t.ID), zap.Error(err))
				}
			}
		},
	}

	outcome, err := q.downloader.Download(ctx, req)
	if err != nil {
		canRetry := domain.Retryable(err) && t.CanRetry()
		retryAfter, _ := domain.RetryAfterOf(err)
		log.Warn("transfer failed",
			zap.Int64("id", t.ID),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Bool("will_retry", canRetry),
			zap.Error(err))

		if jerr := q.journal.FailTransfer(t.ID, err.Error(), canRetry, retryAfter); jerr != nil {
			log.Error("failed to journal failure", zap.Int64("id", t.ID), zap.Error(jerr))
		}
		return
	}

	if err := q.journal.CompleteTransfer(t.ID, outcome.BytesReceived); err != nil {
		log.Error("failed to journal completion", zap.Int64("id", t.ID), zap.Error(err))
	}

	log.Info("transfer complete",
		zap.Int64("id", t.ID),
		zap.String("dest", outcome.Path),
		zap.Int64("bytes", outcome.BytesReceived))
}

// sleep waits for d or until ctx is cancelled.
func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
