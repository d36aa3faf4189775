package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vertextoedge/rangefetch/internal/port"
	"go.uber.org/zap"
)

// Config contains HTTP status server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server exposes queue state over HTTP: health, aggregate stats and the
// recent transfer list.
type Server struct {
	config  *Config
	journal port.TransferJournal
	logger  *zap.Logger
	server  *http.Server
}

// New creates a new status server
func New(cfg *Config, journal port.TransferJournal, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		journal: journal,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/transfers", s.handleTransfers)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.journal.QueueStats()
	if err != nil {
		s.logger.Error("failed to load queue stats", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending":          stats.PendingCount,
		"in_progress":      stats.InProgressCount,
		"complete":         stats.CompleteCount,
		"failed":           stats.FailedCount,
		"total_bytes_done": stats.TotalBytesDone,
	})
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	transfers, err := s.journal.ListRecentTransfers(limit)
	if err != nil {
		s.logger.Error("failed to list transfers", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type transferView struct {
		ID            int64  `json:"id"`
		URL           string `json:"url"`
		Destination   string `json:"destination"`
		Status        string `json:"status"`
		BytesReceived int64  `json:"bytes_received"`
		TotalBytes    int64  `json:"total_bytes"`
		RetryCount    int    `json:"retry_count"`
		LastError     string `json:"last_error,omitempty"`
		UpdatedAt     string `json:"updated_at"`
	}

	views := make([]transferView, 0, len(transfers))
	for _, t := range transfers {
		views = append(views, transferView{
			ID:            t.ID,
			URL:           t.URL,
			Destination:   t.Destination,
			Status:        t.Status,
			BytesReceived: t.BytesReceived,
			TotalBytes:    t.TotalBytes,
			RetryCount:    t.RetryCount,
			LastError:     t.LastError,
			UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
