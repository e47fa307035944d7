// Package producer streams crawl tasks from judge listings into the task
// mailbox, skipping everything the ledger already records.
package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/judge"
	"github.com/JakeFAU/statement-crawler/internal/ledger"
	"github.com/JakeFAU/statement-crawler/internal/metrics"
)

// TaskSink accepts task channel messages.
type TaskSink interface {
	Enqueue(ctx context.Context, msg crawler.TaskMessage) error
}

// ReportSink accepts report channel messages.
type ReportSink interface {
	Enqueue(ctx context.Context, msg crawler.ReportMessage) error
}

// Config controls a producer run.
type Config struct {
	// LedgerPath is read once at startup to build the dedup set.
	LedgerPath string
	// Workers is the number of terminate messages sent after enumeration.
	Workers int
	// Judges restricts and orders enumeration; empty means every registered judge.
	Judges []crawler.Judge
}

// Producer enumerates judges and feeds the pipeline.
type Producer struct {
	cfg      Config
	registry *judge.Registry
	tasks    TaskSink
	reports  ReportSink
	logger   *zap.Logger
}

// New constructs a Producer.
func New(cfg Config, registry *judge.Registry, tasks TaskSink, reports ReportSink, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Judges) == 0 {
		cfg.Judges = registry.Judges()
	}
	return &Producer{
		cfg:      cfg,
		registry: registry,
		tasks:    tasks,
		reports:  reports,
		logger:   logger.Named("producer"),
	}
}

// Run enumerates every configured judge, then sends one terminate message per
// worker. It returns the number of tasks enqueued. Listing failures only end
// the affected judge; an error is returned only when ctx ends.
func (p *Producer) Run(ctx context.Context) (int, error) {
	done, err := ledger.Load(p.cfg.LedgerPath, p.logger)
	if err != nil {
		p.logger.Error("failed to load ledger, continuing without dedup",
			zap.String("path", p.cfg.LedgerPath),
			zap.Error(err),
		)
		done = ledger.Set{}
	}
	p.logger.Info("ledger loaded", zap.Int("records", len(done)))

	total := 0
	for _, j := range p.cfg.Judges {
		n, err := p.enumerate(ctx, j, done)
		total += n
		if err != nil {
			return total, err
		}
	}

	for range p.cfg.Workers {
		if err := p.tasks.Enqueue(ctx, crawler.TerminateMessage()); err != nil {
			return total, fmt.Errorf("send terminate: %w", err)
		}
	}
	p.logger.Info("enumeration finished", zap.Int("enqueued", total))
	return total, nil
}

func (p *Producer) enumerate(ctx context.Context, j crawler.Judge, done ledger.Set) (int, error) {
	entry, err := p.registry.Lookup(j)
	if err != nil {
		p.logger.Warn("skipping judge", zap.String("judge", string(j)), zap.Error(err))
		return 0, nil
	}

	logger := p.logger.With(zap.String("judge", string(j)))
	logger.Info("listing problems")

	// Paged listings can repeat an entry across page boundaries.
	seen := make(map[crawler.Task]struct{})
	count, skipped := 0, 0
	for item, err := range entry.Lister.List(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return count, fmt.Errorf("list %s: %w", j, ctx.Err())
			}
			metrics.ObserveListingError(string(j))
			logger.Error("listing failed, abandoning judge", zap.Int("enqueued", count), zap.Error(err))
			break
		}
		task := crawler.Task{Judge: j, ProblemID: item.ProblemID, ContestID: item.ContestID}
		if done.Contains(task) {
			skipped++
			continue
		}
		if _, dup := seen[task]; dup {
			continue
		}
		seen[task] = struct{}{}

		if err := p.tasks.Enqueue(ctx, crawler.NewTaskMessage(task)); err != nil {
			return count, fmt.Errorf("enqueue %s: %w", task, err)
		}
		if err := p.reports.Enqueue(ctx, crawler.ProgressMessage(1)); err != nil {
			return count, fmt.Errorf("report progress: %w", err)
		}
		metrics.ObserveEnqueued(string(j))
		count++
	}
	logger.Info("judge enumerated", zap.Int("enqueued", count), zap.Int("already_done", skipped))
	return count, nil
}
