package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the orchestrator
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Connection ConnectionConfig `yaml:"connection"`
	Slack      SlackConfig      `yaml:"slack"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig selects the relational store that persists connections, tasks,
// history and checkpoints.
type StoreConfig struct {
	Driver         string        `yaml:"driver"` // sqlite (default), postgres, mysql
	DSN            string        `yaml:"dsn"`
	DataDir        string        `yaml:"data_dir"`
	ReadRetries    int           `yaml:"read_retries"`
	ReadRetryDelay time.Duration `yaml:"read_retry_delay"`
}

// ExecutorConfig sizes the background worker pool.
type ExecutorConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CancelPollInterval is how often a running attempt checks the store for
	// a cancellation recorded by another process. Negative disables it.
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`
}

// TransferConfig holds strategy-wide defaults; per-task config overrides them.
type TransferConfig struct {
	BatchRetryDelay      time.Duration `yaml:"batch_retry_delay"`
	KVPipelineSize       int           `yaml:"kv_pipeline_size"`
	StatementPreviewRows int           `yaml:"statement_preview_rows"`
}

// ConnectionConfig controls connectivity probes.
type ConnectionConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for the sqlite store.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".etl-orchestrator"
	}
	return filepath.Join(home, ".etl-orchestrator")
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.DataDir == "" {
		c.Store.DataDir = DefaultDataDir()
	} else {
		c.Store.DataDir = expandTilde(c.Store.DataDir)
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = filepath.Join(c.Store.DataDir, "etl.db")
	}
	if c.Store.ReadRetries == 0 {
		c.Store.ReadRetries = 3
	}
	if c.Store.ReadRetryDelay == 0 {
		c.Store.ReadRetryDelay = time.Second
	}

	// Leave a core for the store and the OS, but never fewer than 2 workers
	if c.Executor.Workers == 0 {
		c.Executor.Workers = runtime.NumCPU() - 1
		if c.Executor.Workers < 2 {
			c.Executor.Workers = 2
		}
		if c.Executor.Workers > 16 {
			c.Executor.Workers = 16
		}
	}
	if c.Executor.QueueSize == 0 {
		c.Executor.QueueSize = 64
	}
	if c.Executor.ShutdownTimeout == 0 {
		c.Executor.ShutdownTimeout = 30 * time.Second
	}
	if c.Executor.CancelPollInterval == 0 {
		c.Executor.CancelPollInterval = 2 * time.Second
	}

	if c.Transfer.BatchRetryDelay == 0 {
		c.Transfer.BatchRetryDelay = 2 * time.Second
	}
	if c.Transfer.KVPipelineSize == 0 {
		c.Transfer.KVPipelineSize = 500
	}
	if c.Transfer.StatementPreviewRows == 0 {
		c.Transfer.StatementPreviewRows = 100
	}

	if c.Connection.ProbeTimeout == 0 {
		c.Connection.ProbeTimeout = 10 * time.Second
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9464"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store.driver must be 'sqlite', 'postgres' or 'mysql', got '%s'", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}
	if c.Store.ReadRetries < 1 {
		return fmt.Errorf("store.read_retries must be at least 1")
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor.workers must be at least 1")
	}
	if c.Executor.QueueSize < 1 {
		return fmt.Errorf("executor.queue_size must be at least 1")
	}
	if c.Transfer.KVPipelineSize < 1 {
		return fmt.Errorf("transfer.kv_pipeline_size must be at least 1")
	}
	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		return fmt.Errorf("slack.webhook_url is required when slack is enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}
	return nil
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Store.DSN = redactDSN(c.Store.DSN)

	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

// redactDSN masks the password in URL-style and MySQL-style DSNs.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
			return u.String()
		}
		return dsn
	}
	// user:pass@tcp(host)/db
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return creds[:colon] + ":[REDACTED]" + dsn[at:]
	}
	return dsn
}
