package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Download    DownloadConfig    `mapstructure:"download"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Server      ServerConfig      `mapstructure:"server"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
}

// HTTPConfig contains transport settings
type HTTPConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	ReadBufferKB    int    `mapstructure:"read_buffer_kb"`
	MaxErrorBodyKB  int    `mapstructure:"max_error_body_kb"`
	SkipTLSVerify   bool   `mapstructure:"skip_tls_verify"`
	ConnectTimeout  string `mapstructure:"connect_timeout"`
	IdleConnTimeout string `mapstructure:"idle_conn_timeout"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
}

// DownloadConfig contains per-download settings
type DownloadConfig struct {
	TempDir            string `mapstructure:"temp_dir"`
	ReceiveTimeout     string `mapstructure:"receive_timeout"`
	KeepPartialOnError bool   `mapstructure:"keep_partial_on_error"`
}

// QueueConfig contains download queue settings
type QueueConfig struct {
	Workers          int    `mapstructure:"workers"`
	PollInterval     string `mapstructure:"poll_interval"`
	ErrorBackoff     string `mapstructure:"error_backoff"`
	StaleTimeout     string `mapstructure:"stale_timeout"`
	ProgressInterval string `mapstructure:"progress_interval"`
	MaxRetries       int    `mapstructure:"max_retries"`
}

// ServerConfig contains status server settings
type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// MaintenanceConfig contains maintenance settings
type MaintenanceConfig struct {
	StaleCheckInterval string `mapstructure:"stale_check_interval"`
	CleanupInterval    string `mapstructure:"cleanup_interval"`
	TransferMaxAge     string `mapstructure:"transfer_max_age"`
	TempFileMaxAge     string `mapstructure:"temp_file_max_age"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains journal database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path. An empty path
// yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("http.user_agent", "rangefetch")
	v.SetDefault("http.read_buffer_kb", 128)
	v.SetDefault("http.max_error_body_kb", 8)
	v.SetDefault("http.skip_tls_verify", false)
	v.SetDefault("http.connect_timeout", "30s")
	v.SetDefault("http.idle_conn_timeout", "90s")
	v.SetDefault("http.max_idle_conns", 10)
	v.SetDefault("download.temp_dir", "")
	v.SetDefault("download.receive_timeout", "0")
	v.SetDefault("download.keep_partial_on_error", false)
	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.poll_interval", "2s")
	v.SetDefault("queue.error_backoff", "5s")
	v.SetDefault("queue.stale_timeout", "30m")
	v.SetDefault("queue.progress_interval", "5s")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.bind_addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("maintenance.stale_check_interval", "1m")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.transfer_max_age", "24h")
	v.SetDefault("maintenance.temp_file_max_age", "168h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "rangefetch.db")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Queue.Workers < 1 || c.Queue.Workers > 32 {
		return fmt.Errorf("queue.workers must be between 1 and 32")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative")
	}

	durations := map[string]string{
		"http.connect_timeout":             c.HTTP.ConnectTimeout,
		"http.idle_conn_timeout":           c.HTTP.IdleConnTimeout,
		"download.receive_timeout":         c.Download.ReceiveTimeout,
		"queue.poll_interval":              c.Queue.PollInterval,
		"queue.error_backoff":              c.Queue.ErrorBackoff,
		"queue.stale_timeout":              c.Queue.StaleTimeout,
		"queue.progress_interval":          c.Queue.ProgressInterval,
		"maintenance.stale_check_interval": c.Maintenance.StaleCheckInterval,
		"maintenance.cleanup_interval":     c.Maintenance.CleanupInterval,
		"maintenance.transfer_max_age":     c.Maintenance.TransferMaxAge,
		"maintenance.temp_file_max_age":    c.Maintenance.TempFileMaxAge,
	}
	for key, value := range durations {
		if value == "" || value == "0" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// duration parses a duration string, returning fallback for empty, zero or
// invalid values.
func duration(value string, fallback time.Duration) time.Duration {
	if value == "" || value == "0" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetConnectTimeout returns the connect timeout as time.Duration
func (c *HTTPConfig) GetConnectTimeout() time.Duration {
	return duration(c.ConnectTimeout, 30*time.Second)
}

// GetIdleConnTimeout returns the idle connection timeout as time.Duration
func (c *HTTPConfig) GetIdleConnTimeout() time.Duration {
	return duration(c.IdleConnTimeout, 90*time.Second)
}

// GetReadBufferSize returns the stream read buffer size in bytes
func (c *HTTPConfig) GetReadBufferSize() int {
	if c.ReadBufferKB <= 0 {
		return 128 * 1024
	}
	return c.ReadBufferKB * 1024
}

// GetMaxErrorBodyBytes returns the error body capture limit in bytes
func (c *HTTPConfig) GetMaxErrorBodyBytes() int64 {
	if c.MaxErrorBodyKB <= 0 {
		return 8 * 1024
	}
	return int64(c.MaxErrorBodyKB) * 1024
}

// GetReceiveTimeout returns the receive timeout, 0 meaning unbounded
func (c *DownloadConfig) GetReceiveTimeout() time.Duration {
	return duration(c.ReceiveTimeout, 0)
}

// GetPollInterval returns the worker poll interval as time.Duration
func (c *QueueConfig) GetPollInterval() time.Duration {
	return duration(c.PollInterval, 2*time.Second)
}

// GetErrorBackoff returns the worker error backoff as time.Duration
func (c *QueueConfig) GetErrorBackoff() time.Duration {
	return duration(c.ErrorBackoff, 5*time.Second)
}

// GetStaleTimeout returns the stale transfer timeout as time.Duration
func (c *QueueConfig) GetStaleTimeout() time.Duration {
	return duration(c.StaleTimeout, 30*time.Minute)
}

// GetProgressInterval returns the progress journaling interval
func (c *QueueConfig) GetProgressInterval() time.Duration {
	return duration(c.ProgressInterval, 5*time.Second)
}

// GetReadTimeout returns the server read timeout as time.Duration
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return duration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the server write timeout as time.Duration
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return duration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the server idle timeout as time.Duration
func (c *ServerConfig) GetIdleTimeout() time.Duration {
	return duration(c.IdleTimeout, 60*time.Second)
}

// GetStaleCheckInterval returns the stale check interval as time.Duration
func (c *MaintenanceConfig) GetStaleCheckInterval() time.Duration {
	return duration(c.StaleCheckInterval, time.Minute)
}

// GetCleanupInterval returns the cleanup interval as time.Duration
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return duration(c.CleanupInterval, time.Hour)
}

// GetTransferMaxAge returns the terminal transfer retention as time.Duration
func (c *MaintenanceConfig) GetTransferMaxAge() time.Duration {
	return duration(c.TransferMaxAge, 24*time.Hour)
}

// GetTempFileMaxAge returns the temp file retention as time.Duration
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	return duration(c.TempFileMaxAge, 7*24*time.Hour)
}
