// Package aggregator consumes the report channel: it owns the ledger writer,
// advances the progress display, and decides when the run is over.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/metrics"
	"github.com/JakeFAU/statement-crawler/internal/progress"
	"github.com/JakeFAU/statement-crawler/internal/queue/memory"
	"github.com/JakeFAU/statement-crawler/internal/telemetry"
)

// ReportSource yields report channel messages.
type ReportSource interface {
	Dequeue(ctx context.Context) (crawler.ReportMessage, error)
}

// Appender persists completed records.
type Appender interface {
	Append(rec crawler.Record) error
}

// Config controls an aggregator run.
type Config struct {
	// Workers is the number of WorkerDone messages that end the run.
	Workers int
	// Topic receives one event per completed record when a publisher is set.
	Topic string
}

// Snapshot is a point-in-time view of the run counters.
type Snapshot struct {
	Total           int64 `json:"total"`
	Completed       int64 `json:"completed"`
	LedgerErrors    int64 `json:"ledger_errors"`
	PublishErrors   int64 `json:"publish_errors"`
	FinishedWorkers int64 `json:"finished_workers"`
	Workers         int64 `json:"workers"`
}

// Aggregator is the single consumer of the report channel.
type Aggregator struct {
	cfg       Config
	reports   ReportSource
	ledger    Appender
	publisher crawler.Publisher
	display   progress.Display
	logger    *zap.Logger

	total         atomic.Int64
	completed     atomic.Int64
	ledgerErrors  atomic.Int64
	publishErrors atomic.Int64
	finished      atomic.Int64
}

// New constructs an Aggregator. publisher and display may be nil.
func New(cfg Config, reports ReportSource, ledger Appender, publisher crawler.Publisher, display progress.Display, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if display == nil {
		display = progress.Nop{}
	}
	return &Aggregator{
		cfg:       cfg,
		reports:   reports,
		ledger:    ledger,
		publisher: publisher,
		display:   display,
		logger:    logger.Named("aggregator"),
	}
}

// Snapshot returns the current counters. It is safe to call concurrently
// with Run.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Total:           a.total.Load(),
		Completed:       a.completed.Load(),
		LedgerErrors:    a.ledgerErrors.Load(),
		PublishErrors:   a.publishErrors.Load(),
		FinishedWorkers: a.finished.Load(),
		Workers:         int64(a.cfg.Workers),
	}
}

// Run consumes reports until every worker has reported done. The display is
// closed on return.
func (a *Aggregator) Run(ctx context.Context) error {
	defer a.display.Close()

	for a.finished.Load() < int64(a.cfg.Workers) {
		msg, err := a.reports.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("aggregator: %w", ctx.Err())
			}
			if errors.Is(err, memory.ErrQueueClosed) {
				return fmt.Errorf("aggregator: report queue closed with %d/%d workers done: %w",
					a.finished.Load(), a.cfg.Workers, err)
			}
			return fmt.Errorf("aggregator: receive report: %w", err)
		}
		a.handle(ctx, msg)
	}
	a.logger.Info("all workers finished",
		zap.Int64("completed", a.completed.Load()),
		zap.Int64("total", a.total.Load()),
	)
	return nil
}

func (a *Aggregator) handle(ctx context.Context, msg crawler.ReportMessage) {
	switch msg.Kind {
	case crawler.ReportKindProgress:
		a.total.Add(int64(msg.Delta))
		a.display.Grow(msg.Delta)
	case crawler.ReportKindCompleted:
		a.record(ctx, msg.Record)
	case crawler.ReportKindWorkerDone:
		n := a.finished.Add(1)
		a.logger.Debug("worker finished", zap.Int("worker_id", msg.WorkerID), zap.Int64("finished", n))
	default:
		a.logger.Warn("ignoring unknown report", zap.Int("kind", int(msg.Kind)))
	}
}

func (a *Aggregator) record(ctx context.Context, rec crawler.Record) {
	ctx, span := telemetry.Tracer().Start(ctx, "aggregator.record", trace.WithAttributes(
		attribute.String("judge", string(rec.Task.Judge)),
		attribute.String("problem_id", rec.Task.ProblemID),
	))
	defer span.End()

	if err := a.ledger.Append(rec); err != nil {
		span.RecordError(err)
		a.ledgerErrors.Add(1)
		metrics.ObserveLedgerAppend(false)
		a.logger.Error("ledger append failed",
			zap.String("judge", string(rec.Task.Judge)),
			zap.String("problem_id", rec.Task.ProblemID),
			zap.String("contest_id", rec.Task.ContestID),
			zap.Error(err),
		)
	} else {
		metrics.ObserveLedgerAppend(true)
	}
	a.completed.Add(1)
	a.display.Advance(1)

	if a.publisher == nil || a.cfg.Topic == "" {
		return
	}
	if _, err := a.publisher.Publish(ctx, a.cfg.Topic, rec); err != nil {
		a.publishErrors.Add(1)
		a.logger.Warn("publish completion failed",
			zap.String("topic", a.cfg.Topic),
			zap.String("problem_id", rec.Task.ProblemID),
			zap.Error(err),
		)
	}
}
