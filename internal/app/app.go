// Package app initializes and holds the long-lived services of a crawl run,
// acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/browser"
	"github.com/JakeFAU/statement-crawler/internal/config"
	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/dispatcher"
	"github.com/JakeFAU/statement-crawler/internal/judge"
	"github.com/JakeFAU/statement-crawler/internal/policy/retry"
	"github.com/JakeFAU/statement-crawler/internal/progress"
	pubsubpublisher "github.com/JakeFAU/statement-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/statement-crawler/internal/storage/gcs"
	"github.com/JakeFAU/statement-crawler/internal/telemetry"
	"github.com/JakeFAU/statement-crawler/internal/worker"
)

// App holds the services shared by the stages of one run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *judge.Registry
	launcher  *browser.Launcher
	images    crawler.BlobStore
	publisher *pubsubpublisher.Publisher

	closers []func() error
}

// New builds every service named by cfg. It fails fast when a configured
// backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, "statement-crawler")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return tp.Shutdown(context.WithoutCancel(ctx))
	})

	judges, err := cfg.EnabledJudges()
	if err != nil {
		a.Close()
		return nil, err
	}
	client := judge.NewClient(judge.ClientConfig{
		UserAgent:     cfg.Browser.UserAgent,
		Timeout:       cfg.Listing.Timeout,
		MaxAttempts:   cfg.Listing.MaxAttempts,
		RetryBase:     cfg.Listing.BackoffBase,
		RetryMax:      cfg.Listing.BackoffMax,
		RatePerSecond: cfg.Listing.RatePerSecond,
	}, logger.Named("listing"))
	a.registry = judge.Default(client).Restrict(judges)

	userAgent := cfg.Browser.UserAgent
	if userAgent == "" {
		userAgent = judge.DefaultUserAgent
	}
	a.launcher, err = browser.NewLauncher(browser.Config{
		UserAgent:         userAgent,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		ExecPath:          cfg.Browser.ExecPath,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		SettleDelay:       cfg.Browser.SettleDelay,
		StateFile:         cfg.StateFile,
	}, logger.Named("browser"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init browser: %w", err)
	}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.logger.Info("using GCS image store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.images = store
	default:
		// Left nil: the dispatcher roots a local store at the output directory.
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.publisher = pubsubpublisher.New(client.Topic(a.cfg.PubSub.Topic))
	a.logger.Info("publishing completions", zap.String("topic", a.cfg.PubSub.Topic))
	return nil
}

// Registry returns the judges enabled for this run.
func (a *App) Registry() *judge.Registry {
	return a.registry
}

// Dispatcher assembles the pipeline for cfg, drawing progress on out.
func (a *App) Dispatcher(out *os.File) *dispatcher.Dispatcher {
	judges, _ := a.cfg.EnabledJudges()
	deps := dispatcher.Dependencies{
		Registry: a.registry,
		Launcher: a.launcher,
		Images:   a.images,
		Display:  progress.New(out, a.logger),
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	return dispatcher.New(dispatcher.Config{
		OutputDir:      a.cfg.Output,
		Workers:        a.cfg.Workers,
		TaskBuffer:     a.cfg.Pipeline.TaskBuffer,
		SyncEachAppend: a.cfg.Ledger.Sync,
		Judges:         judges,
		Topic:          a.cfg.PubSub.Topic,
		Worker: worker.Config{
			RestartAfter:      a.cfg.Worker.RestartAfter,
			ReceiveRetryDelay: a.cfg.Worker.ReceiveRetryDelay,
			Relaunch:          retry.NewExponential(0, a.cfg.Worker.RelaunchBackoffBase, a.cfg.Worker.RelaunchBackoffMax),
			TaskRetry:         retry.NewExponential(a.cfg.Worker.TaskAttempts, a.cfg.Worker.TaskRetryBase, a.cfg.Worker.TaskRetryMax),
		},
	}, deps, a.logger)
}

// Close shuts down the cloud clients. It is safe to call more than once.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Stop()
		a.publisher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing client", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr fails on some terminals; nothing else to do.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
