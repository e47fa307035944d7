// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Output    string         `mapstructure:"output"`
	Workers   int            `mapstructure:"workers"`
	StateFile string         `mapstructure:"state_file"`
	Judges    []string       `mapstructure:"judges"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Worker    WorkerConfig   `mapstructure:"worker"`
	Browser   BrowserConfig  `mapstructure:"browser"`
	Listing   ListingConfig  `mapstructure:"listing"`
	Ledger    LedgerConfig   `mapstructure:"ledger"`
	Storage   StorageConfig  `mapstructure:"storage"`
	PubSub    PubSubConfig   `mapstructure:"pubsub"`
	Server    ServerConfig   `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PipelineConfig shapes the mailboxes between stages.
type PipelineConfig struct {
	// TaskBuffer bounds the task mailbox; zero keeps it unbounded.
	TaskBuffer int `mapstructure:"task_buffer"`
}

// WorkerConfig governs session lifetime and retries.
type WorkerConfig struct {
	RestartAfter        int           `mapstructure:"restart_after"`
	ReceiveRetryDelay   time.Duration `mapstructure:"receive_retry_delay"`
	RelaunchBackoffBase time.Duration `mapstructure:"relaunch_backoff_base"`
	RelaunchBackoffMax  time.Duration `mapstructure:"relaunch_backoff_max"`
	TaskAttempts        int           `mapstructure:"task_attempts"`
	TaskRetryBase       time.Duration `mapstructure:"task_retry_base"`
	TaskRetryMax        time.Duration `mapstructure:"task_retry_max"`
}

// BrowserConfig fixes the browser identity.
type BrowserConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	ExecPath          string        `mapstructure:"exec_path"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

// ListingConfig configures the HTTP client used by judge listings.
type ListingConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
}

// LedgerConfig controls ledger durability.
type LedgerConfig struct {
	Sync bool `mapstructure:"sync"`
}

// StorageConfig selects where images are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `mapstructure:"addr"`
}

// DefaultWorkers leaves two CPUs for the aggregator and the system.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-2, 1)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output", "")
	v.SetDefault("workers", DefaultWorkers())
	v.SetDefault("state_file", "")
	v.SetDefault("judges", []string{})
	v.SetDefault("logging.development", true)
	v.SetDefault("pipeline.task_buffer", 0)
	v.SetDefault("worker.restart_after", 100)
	v.SetDefault("worker.receive_retry_delay", "1s")
	v.SetDefault("worker.relaunch_backoff_base", "1s")
	v.SetDefault("worker.relaunch_backoff_max", "30s")
	v.SetDefault("worker.task_attempts", 1)
	v.SetDefault("worker.task_retry_base", "2s")
	v.SetDefault("worker.task_retry_max", "20s")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle_delay", "500ms")
	v.SetDefault("listing.max_attempts", 5)
	v.SetDefault("listing.timeout", "15s")
	v.SetDefault("listing.rate_per_second", 2.0)
	v.SetDefault("listing.backoff_base", "1s")
	v.SetDefault("listing.backoff_max", "30s")
	v.SetDefault("ledger.sync", false)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.addr", "")
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return fmt.Errorf("output must be set")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.Pipeline.TaskBuffer < 0 {
		return fmt.Errorf("pipeline.task_buffer must be >= 0")
	}
	if c.Worker.RestartAfter <= 0 {
		return fmt.Errorf("worker.restart_after must be > 0")
	}
	if c.Worker.TaskAttempts <= 0 {
		return fmt.Errorf("worker.task_attempts must be > 0")
	}
	if c.Listing.MaxAttempts <= 0 {
		return fmt.Errorf("listing.max_attempts must be > 0")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if _, err := c.EnabledJudges(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is %q", StorageGCS)
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// EnabledJudges parses the judges list. An empty list means every judge.
func (c Config) EnabledJudges() ([]crawler.Judge, error) {
	out := make([]crawler.Judge, 0, len(c.Judges))
	for _, raw := range c.Judges {
		j, err := crawler.ParseJudge(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("judges: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}
