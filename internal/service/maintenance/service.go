package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/rangefetch/internal/port"
	"go.uber.org/zap"
)

// Config contains maintenance service configuration
type Config struct {
	// StaleCheckInterval is how often to check for stale transfers
	StaleCheckInterval time.Duration

	// StaleTimeout is when an in-progress transfer is considered stale
	StaleTimeout time.Duration

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// TransferMaxAge is the maximum age of terminal transfers before cleanup
	TransferMaxAge time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		StaleCheckInterval: time.Minute,
		StaleTimeout:       30 * time.Minute,
		CleanupInterval:    time.Hour,
		TransferMaxAge:     24 * time.Hour,
		TempFileMaxAge:     7 * 24 * time.Hour,
	}
}

// Service handles periodic maintenance: releasing abandoned transfers,
// pruning old journal rows and sweeping stale temp files.
type Service struct {
	config  *Config
	journal port.TransferJournal
	store   port.TempStore
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, journal port.TransferJournal, store port.TempStore, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StaleCheckInterval == 0 {
		cfg.StaleCheckInterval = time.Minute
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.TransferMaxAge == 0 {
		cfg.TransferMaxAge = 24 * time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 7 * 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		journal: journal,
		store:   store,
		logger:  logger,
	}
}

// Start starts the maintenance service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("stale_check_interval", s.config.StaleCheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.loop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	staleTicker := time.NewTicker(s.config.StaleCheckInterval)
	defer staleTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			s.releaseStale()
		case <-cleanupTicker.C:
			s.cleanupJournal()
			s.cleanupTempFiles()
		}
	}
}

// releaseStale resets transfers that have been in progress for too long
func (s *Service) releaseStale() {
	released, err := s.journal.ReleaseStaleTransfers(s.config.StaleTimeout)
	if err != nil {
		s.logger.Error("failed to release stale transfers", zap.Error(err))
	} else if released > 0 {
		s.logger.Info("released stale transfers", zap.Int("count", released))
	}
}

// cleanupJournal removes old terminal transfers
func (s *Service) cleanupJournal() {
	cleared, err := s.journal.CleanupOldTransfers(s.config.TransferMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old transfers", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up old transfers", zap.Int("count", cleared))
	}
}

// cleanupTempFiles sweeps old partials out of the temp directory
func (s *Service) cleanupTempFiles() {
	count, err := s.store.CleanOld(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", count))
	}
}
