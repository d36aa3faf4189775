package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vertextoedge/rangefetch/internal/adapter/filesystem"
	"github.com/vertextoedge/rangefetch/internal/adapter/httptransport"
	"github.com/vertextoedge/rangefetch/internal/adapter/sqlite"
	"github.com/vertextoedge/rangefetch/internal/config"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/logger"
	"github.com/vertextoedge/rangefetch/internal/service/download"
	"github.com/vertextoedge/rangefetch/internal/service/maintenance"
	"github.com/vertextoedge/rangefetch/internal/service/queue"
	"github.com/vertextoedge/rangefetch/internal/service/server"
	"github.com/vertextoedge/rangefetch/internal/util/throttle"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	serve := flag.Bool("serve", false, "Run the queue daemon instead of a one-shot download")
	output := flag.String("o", "", "Destination path (single URL only)")
	keepPartial := flag.Bool("keep-partial", false, "Keep the partial temp file when a download fails")
	receiveTimeout := flag.Duration("timeout", 0, "Receive timeout for the whole transfer, 0 for unbounded")
	quiet := flag.Bool("q", false, "Suppress the progress display")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger. One-shot runs keep the log quiet so the progress
	// display owns the terminal.
	logLevel := cfg.Logging.Level
	logFormat := cfg.Logging.Format
	if !*serve {
		logLevel = "error"
		logFormat = "console"
	}
	if err := logger.Init(logLevel, logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.L()

	// Initialize temp store
	store, err := filesystem.New(cfg.Download.TempDir)
	if err != nil {
		zapLogger.Fatal("failed to create temp store", zap.Error(err))
	}

	// Create transport
	transport := httptransport.New(&httptransport.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		ReadBufferSize:    cfg.HTTP.GetReadBufferSize(),
		MaxErrorBodyBytes: cfg.HTTP.GetMaxErrorBodyBytes(),
		Client:            newHTTPClient(cfg),
	}, zapLogger)

	coordinator := download.NewCoordinator(transport, store, zapLogger)

	if *serve {
		runDaemon(cfg, *configPath, coordinator, store, zapLogger)
		return
	}

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: rangefetch [flags] URL [URL...]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *output != "" && len(urls) > 1 {
		fmt.Fprintln(os.Stderr, "-o can only be used with a single URL")
		os.Exit(2)
	}

	timeout := *receiveTimeout
	if timeout == 0 {
		timeout = cfg.Download.GetReceiveTimeout()
	}

	// Ctrl-C cancels the in-flight download.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	for _, rawURL := range urls {
		dest := *output
		if dest == "" {
			dest = destFromURL(rawURL)
		}

		req := domain.Request{
			URL:                rawURL,
			Destination:        dest,
			KeepPartialOnError: *keepPartial || cfg.Download.KeepPartialOnError,
			ReceiveTimeout:     timeout,
		}
		if !*quiet {
			req.OnProgress = newProgressDisplay(dest)
		}

		outcome, err := coordinator.Download(ctx, req)
		if !*quiet {
			fmt.Println()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", rawURL, err)
			exitCode = 1
			if domain.KindOf(err) == domain.KindCancelled {
				break
			}
			continue
		}
		fmt.Printf("%s -> %s (%s", rawURL, outcome.Path, humanize.Bytes(uint64(outcome.BytesReceived)))
		if outcome.ResumedFrom > 0 {
			fmt.Printf(", resumed at %s", humanize.Bytes(uint64(outcome.ResumedFrom)))
		}
		fmt.Println(")")
	}
	os.Exit(exitCode)
}

// runDaemon wires up the journal, queue, maintenance and status server and
// blocks until a shutdown signal arrives.
func runDaemon(cfg *config.Config, configPath string, coordinator *download.Coordinator, store *filesystem.Store, zapLogger *zap.Logger) {
	zapLogger.Info("starting rangefetch",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	// Open journal database
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(store.Dir(), "rangefetch.db")
	}
	journal, err := sqlite.Open(dbPath)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", dbPath))
	}
	defer journal.Close()

	// Create queue
	queueCfg := &queue.Config{
		Workers:          cfg.Queue.Workers,
		PollInterval:     cfg.Queue.GetPollInterval(),
		ErrorBackoff:     cfg.Queue.GetErrorBackoff(),
		StaleTimeout:     cfg.Queue.GetStaleTimeout(),
		ProgressInterval: cfg.Queue.GetProgressInterval(),
		MaxRetries:       cfg.Queue.MaxRetries,
		ReceiveTimeout:   cfg.Download.GetReceiveTimeout(),
	}
	queueService := queue.New(queueCfg, journal, coordinator, zapLogger)

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		StaleCheckInterval: cfg.Maintenance.GetStaleCheckInterval(),
		StaleTimeout:       cfg.Queue.GetStaleTimeout(),
		CleanupInterval:    cfg.Maintenance.GetCleanupInterval(),
		TransferMaxAge:     cfg.Maintenance.GetTransferMaxAge(),
		TempFileMaxAge:     cfg.Maintenance.GetTempFileMaxAge(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, journal, store, zapLogger)

	// Create HTTP status server
	var httpServer *server.Server
	if cfg.Server.Enabled {
		serverCfg := &server.Config{
			BindAddr:     cfg.Server.BindAddr,
			ReadTimeout:  cfg.Server.GetReadTimeout(),
			WriteTimeout: cfg.Server.GetWriteTimeout(),
			IdleTimeout:  cfg.Server.GetIdleTimeout(),
		}
		httpServer = server.New(serverCfg, journal, zapLogger)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				zapLogger.Fatal("HTTP server failed", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := queueService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("queue stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Enqueue any URLs passed on the command line
	for _, rawURL := range flag.Args() {
		if _, err := queueService.Enqueue(rawURL, destFromURL(rawURL)); err != nil {
			zapLogger.Warn("failed to enqueue", zap.String("url", rawURL), zap.Error(err))
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("daemon started successfully",
		zap.String("db", dbPath),
		zap.String("temp_dir", store.Dir()),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	queueService.Stop()
	maintenanceService.Stop()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
	}

	zapLogger.Info("daemon stopped successfully")
}

// newHTTPClient builds the shared HTTP client from config.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.HTTP.MaxIdleConns
	transport.IdleConnTimeout = cfg.HTTP.GetIdleConnTimeout()
	transport.ResponseHeaderTimeout = cfg.HTTP.GetConnectTimeout()
	if cfg.HTTP.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

// destFromURL derives a destination filename from the URL's last path
// segment.
func destFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

// newProgressDisplay returns a progress callback that repaints a single
// status line, throttled so a fast transfer does not flood the terminal.
func newProgressDisplay(dest string) domain.ProgressFunc {
	lim := throttle.New(100 * time.Millisecond)
	start := time.Now()
	return func(received, total int64) {
		done := total >= 0 && received >= total
		if !done && !lim.Allow() {
			return
		}
		elapsed := time.Since(start).Seconds()
		rate := uint64(0)
		if elapsed > 0 {
			rate = uint64(float64(received) / elapsed)
		}
		if total >= 0 {
			pct := float64(0)
			if total > 0 {
				pct = float64(received) / float64(total) * 100
			}
			fmt.Printf("\r%s  %s / %s (%.1f%%)  %s/s",
				dest, humanize.Bytes(uint64(received)), humanize.Bytes(uint64(total)), pct, humanize.Bytes(rate))
		} else {
			fmt.Printf("\r%s  %s  %s/s",
				dest, humanize.Bytes(uint64(received)), humanize.Bytes(rate))
		}
	}
}
