package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig() error = %v", err)
		}
	}
	return v
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	v := newViper(t, `
output: /data/statements
workers: 6
state_file: state.json
judges: [luogu, AtCoder]
pipeline:
  task_buffer: 32
worker:
  restart_after: 50
  task_attempts: 3
  relaunch_backoff_max: 1m
browser:
  headless: false
  navigation_timeout: 20s
listing:
  max_attempts: 7
  rate_per_second: 0.5
ledger:
  sync: true
storage:
  backend: gcs
  gcs_bucket: statements
  prefix: runs/1
pubsub:
  project_id: proj
  topic: statements
server:
  addr: ":9090"
`)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "/data/statements" || cfg.Workers != 6 || cfg.StateFile != "state.json" {
		t.Fatalf("expected top-level overrides, got %+v", cfg)
	}
	if cfg.Pipeline.TaskBuffer != 32 || cfg.Worker.RestartAfter != 50 || cfg.Worker.TaskAttempts != 3 {
		t.Fatalf("expected pipeline overrides, got %+v %+v", cfg.Pipeline, cfg.Worker)
	}
	if cfg.Worker.RelaunchBackoffMax != time.Minute || cfg.Worker.RelaunchBackoffBase != time.Second {
		t.Fatalf("expected relaunch backoff 1s..1m, got %v..%v", cfg.Worker.RelaunchBackoffBase, cfg.Worker.RelaunchBackoffMax)
	}
	if cfg.Browser.Headless || cfg.Browser.NavigationTimeout != 20*time.Second || cfg.Browser.ViewportWidth != 1920 {
		t.Fatalf("unexpected browser config: %+v", cfg.Browser)
	}
	if cfg.Listing.MaxAttempts != 7 || cfg.Listing.RatePerSecond != 0.5 {
		t.Fatalf("unexpected listing config: %+v", cfg.Listing)
	}
	if !cfg.Ledger.Sync || cfg.Storage.Backend != StorageGCS || cfg.PubSub.Topic != "statements" || cfg.Server.Addr != ":9090" {
		t.Fatalf("unexpected sink config: %+v", cfg)
	}

	judges, err := cfg.EnabledJudges()
	if err != nil {
		t.Fatalf("EnabledJudges() error = %v", err)
	}
	if len(judges) != 2 || judges[0] != crawler.JudgeLuogu || judges[1] != crawler.JudgeAtCoder {
		t.Fatalf("unexpected judges: %v", judges)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	v := newViper(t, "")
	v.Set("output", "out")
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != DefaultWorkers() {
		t.Fatalf("expected %d workers, got %d", DefaultWorkers(), cfg.Workers)
	}
	if cfg.Worker.RestartAfter != 100 || cfg.Worker.TaskAttempts != 1 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Pipeline.TaskBuffer != 0 || cfg.Storage.Backend != StorageLocal || cfg.Server.Addr != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if judges, _ := cfg.EnabledJudges(); len(judges) != 0 {
		t.Fatalf("expected empty judge list, got %v", judges)
	}
}

func TestDefaultWorkersIsPositive(t *testing.T) {
	t.Parallel()

	if DefaultWorkers() < 1 {
		t.Fatalf("DefaultWorkers() = %d", DefaultWorkers())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		v := newViper(t, "")
		v.Set("output", "out")
		cfg, err := Load(v)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"output must be set":             func(c *Config) { c.Output = " " },
		"workers must be > 0":            func(c *Config) { c.Workers = 0 },
		"pipeline.task_buffer":           func(c *Config) { c.Pipeline.TaskBuffer = -1 },
		"worker.restart_after":           func(c *Config) { c.Worker.RestartAfter = 0 },
		"worker.task_attempts":           func(c *Config) { c.Worker.TaskAttempts = 0 },
		"listing.max_attempts":           func(c *Config) { c.Listing.MaxAttempts = 0 },
		"browser.navigation_timeout":     func(c *Config) { c.Browser.NavigationTimeout = 0 },
		"unknown judge":                  func(c *Config) { c.Judges = []string{"spoj"} },
		"storage.gcs_bucket must be set": func(c *Config) { c.Storage.Backend = StorageGCS },
		"unknown storage.backend":        func(c *Config) { c.Storage.Backend = "s3" },
		"pubsub.project_id must be set":  func(c *Config) { c.PubSub.Topic = "t" },
	}
	for want, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: Validate() error = %v", want, err)
		}
	}
}
