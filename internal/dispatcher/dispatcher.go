// Package dispatcher wires one crawl run: the producer, a pool of workers,
// and the aggregator, connected by in-process mailboxes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/statement-crawler/internal/aggregator"
	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/id/uuid"
	"github.com/JakeFAU/statement-crawler/internal/judge"
	"github.com/JakeFAU/statement-crawler/internal/ledger"
	"github.com/JakeFAU/statement-crawler/internal/producer"
	"github.com/JakeFAU/statement-crawler/internal/progress"
	"github.com/JakeFAU/statement-crawler/internal/queue/memory"
	"github.com/JakeFAU/statement-crawler/internal/storage/local"
	"github.com/JakeFAU/statement-crawler/internal/worker"
)

// Config controls a crawl run.
type Config struct {
	OutputDir string
	Workers   int
	// TaskBuffer bounds the task mailbox; zero leaves it unbounded.
	TaskBuffer int
	// SyncEachAppend fsyncs the ledger after every record.
	SyncEachAppend bool
	Judges         []crawler.Judge
	Topic          string
	Worker         worker.Config
}

// Dependencies are the collaborators shared by every stage. Images defaults
// to a local store rooted at OutputDir and IDs to UUIDv7 tokens.
type Dependencies struct {
	Registry  *judge.Registry
	Launcher  crawler.SessionLauncher
	Images    crawler.BlobStore
	IDs       crawler.IDGenerator
	Publisher crawler.Publisher
	Display   progress.Display
}

// Summary reports the outcome of a run.
type Summary struct {
	aggregator.Snapshot
	Enqueued int           `json:"enqueued"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Dispatcher runs crawl pipelines.
type Dispatcher struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	current atomic.Pointer[aggregator.Aggregator]
}

// New creates a Dispatcher.
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, deps: deps, logger: logger}
}

// Progress returns the counters of the active or last run.
func (d *Dispatcher) Progress() (aggregator.Snapshot, bool) {
	agg := d.current.Load()
	if agg == nil {
		return aggregator.Snapshot{}, false
	}
	return agg.Snapshot(), true
}

// Run executes one crawl and blocks until every worker has finished or ctx
// ends. Records completed before cancellation stay in the ledger.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	if d.cfg.Workers < 1 {
		return Summary{}, fmt.Errorf("workers must be at least 1, got %d", d.cfg.Workers)
	}
	if d.deps.Registry == nil || d.deps.Launcher == nil {
		return Summary{}, errors.New("registry and launcher are required")
	}
	imageDir := d.cfg.Worker.ImageDir
	if imageDir == "" {
		imageDir = "images"
	}
	if err := os.MkdirAll(filepath.Join(d.cfg.OutputDir, imageDir), 0o750); err != nil {
		return Summary{}, fmt.Errorf("create output directory: %w", err)
	}

	images := d.deps.Images
	if images == nil {
		store, err := local.New(local.Config{BaseDir: d.cfg.OutputDir})
		if err != nil {
			return Summary{}, fmt.Errorf("open image store: %w", err)
		}
		images = store
	}
	ids := d.deps.IDs
	if ids == nil {
		ids = uuid.New()
	}

	ledgerPath := ledger.Path(d.cfg.OutputDir)
	writer, err := ledger.OpenWriter(ledgerPath, d.cfg.SyncEachAppend)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			d.logger.Error("close ledger failed", zap.Error(cerr))
		}
	}()

	tasks := memory.NewQueue[crawler.TaskMessage](d.cfg.TaskBuffer)
	reports := memory.NewQueue[crawler.ReportMessage](0)
	defer tasks.Close()
	defer reports.Close()

	agg := aggregator.New(
		aggregator.Config{Workers: d.cfg.Workers, Topic: d.cfg.Topic},
		reports, writer, d.deps.Publisher, d.deps.Display, d.logger,
	)
	d.current.Store(agg)

	d.logger.Info("starting crawl",
		zap.String("output", d.cfg.OutputDir),
		zap.Int("workers", d.cfg.Workers),
		zap.Int("task_buffer", d.cfg.TaskBuffer),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var enqueued atomic.Int64
	prod := producer.New(
		producer.Config{LedgerPath: ledgerPath, Workers: d.cfg.Workers, Judges: d.cfg.Judges},
		d.deps.Registry, tasks, reports, d.logger,
	)
	g.Go(func() error {
		n, err := prod.Run(gctx)
		enqueued.Store(int64(n))
		return err
	})

	for i := range d.cfg.Workers {
		wcfg := d.cfg.Worker
		wcfg.ID = i
		wcfg.ImageDir = imageDir
		w := worker.New(worker.Dependencies{
			Tasks:    tasks,
			Reports:  reports,
			Launcher: d.deps.Launcher,
			Registry: d.deps.Registry,
			Images:   images,
			IDs:      ids,
		}, wcfg, d.logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	aggErr := agg.Run(gctx)
	if aggErr != nil {
		cancel()
	}
	waitErr := g.Wait()

	summary := Summary{
		Snapshot: agg.Snapshot(),
		Enqueued: int(enqueued.Load()),
		Elapsed:  time.Since(start),
	}
	d.logger.Info("crawl finished",
		zap.Int("enqueued", summary.Enqueued),
		zap.Int64("completed", summary.Completed),
		zap.Int64("ledger_errors", summary.LedgerErrors),
		zap.Duration("elapsed", summary.Elapsed),
	)
	if err := errors.Join(waitErr, aggErr); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}
