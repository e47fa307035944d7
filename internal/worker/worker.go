// Package worker implements the crawl pipeline execution loop. Each worker
// owns one browser session and turns tasks into completed records.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/imaging"
	"github.com/JakeFAU/statement-crawler/internal/judge"
	"github.com/JakeFAU/statement-crawler/internal/metrics"
	"github.com/JakeFAU/statement-crawler/internal/policy/retry"
	"github.com/JakeFAU/statement-crawler/internal/queue/memory"
	"github.com/JakeFAU/statement-crawler/internal/telemetry"
	"github.com/JakeFAU/statement-crawler/internal/textnorm"
)

// TaskSource yields task channel messages.
type TaskSource interface {
	Dequeue(ctx context.Context) (crawler.TaskMessage, error)
}

// ReportSink accepts report channel messages.
type ReportSink interface {
	Enqueue(ctx context.Context, msg crawler.ReportMessage) error
}

// Config controls Worker behavior.
type Config struct {
	ID int
	// RestartAfter is the number of loop iterations, receives included,
	// after which the browser session is replaced.
	RestartAfter int
	// ReceiveRetryDelay is waited after a failed receive.
	ReceiveRetryDelay time.Duration
	// Relaunch paces session launch attempts; launches are retried until one
	// succeeds or the context ends. The zero policy relaunches immediately.
	Relaunch retry.Policy
	// TaskRetry bounds attempts per task. One attempt means no retries.
	TaskRetry retry.Policy
	// ImageDir is the blob path prefix for screenshots.
	ImageDir string
}

func (c Config) withDefaults() Config {
	if c.RestartAfter <= 0 {
		c.RestartAfter = 100
	}
	if c.ReceiveRetryDelay <= 0 {
		c.ReceiveRetryDelay = time.Second
	}
	// Launches never give up. A zero BaseDelay relaunches back to back.
	c.Relaunch.MaxAttempts = 0
	if c.TaskRetry.MaxAttempts <= 0 {
		c.TaskRetry.MaxAttempts = 1
	}
	if c.ImageDir == "" {
		c.ImageDir = "images"
	}
	return c
}

// Dependencies bundles the collaborators a Worker needs.
type Dependencies struct {
	Tasks    TaskSource
	Reports  ReportSink
	Launcher crawler.SessionLauncher
	Registry *judge.Registry
	Images   crawler.BlobStore
	IDs      crawler.IDGenerator
}

// Worker consumes tasks and reports completed records.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", cfg.ID)),
	}
}

// Run blocks until a terminate message arrives, the task queue is closed, or
// ctx ends. It reports WorkerDone only on the terminate path.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	session, err := w.launch(ctx)
	if err != nil {
		return err
	}
	defer func() { w.closeSession(session) }()

	iterations := 0
	for {
		if iterations >= w.cfg.RestartAfter {
			w.logger.Info("restarting browser session", zap.Int("iterations", iterations))
			w.closeSession(session)
			metrics.ObserveSessionRestart()
			if session, err = w.launch(ctx); err != nil {
				return err
			}
			iterations = 0
		}
		iterations++

		msg, err := w.deps.Tasks.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("worker %d: %w", w.cfg.ID, ctx.Err())
			}
			if errors.Is(err, memory.ErrQueueClosed) {
				return fmt.Errorf("worker %d: task queue closed before terminate: %w", w.cfg.ID, err)
			}
			w.logger.Warn("task receive failed", zap.Error(err))
			if err := retry.Sleep(ctx, w.cfg.ReceiveRetryDelay); err != nil {
				return fmt.Errorf("worker %d: %w", w.cfg.ID, err)
			}
			continue
		}

		switch msg.Kind {
		case crawler.TaskKindTerminate:
			w.logger.Info("received terminate, exiting")
			if err := w.deps.Reports.Enqueue(ctx, crawler.WorkerDoneMessage(w.cfg.ID)); err != nil {
				return fmt.Errorf("worker %d: report done: %w", w.cfg.ID, err)
			}
			return nil
		case crawler.TaskKindTask:
			w.process(ctx, session, msg.Task)
		default:
			w.logger.Warn("ignoring unknown task message", zap.Int("kind", int(msg.Kind)))
		}
	}
}

func (w *Worker) launch(ctx context.Context) (crawler.Session, error) {
	for attempt := 1; ; attempt++ {
		session, err := w.deps.Launcher.Launch(ctx)
		if err == nil {
			metrics.ObserveSessionLaunch(true)
			return session, nil
		}
		metrics.ObserveSessionLaunch(false)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker %d: launch session: %w", w.cfg.ID, ctx.Err())
		}
		delay := w.cfg.Relaunch.Backoff(attempt)
		w.logger.Warn("session launch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("worker %d: launch session: %w", w.cfg.ID, err)
		}
	}
}

func (w *Worker) closeSession(session crawler.Session) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		w.logger.Warn("session close failed", zap.Error(err))
	}
}

func taskFields(task crawler.Task) []zap.Field {
	return []zap.Field{
		zap.String("judge", string(task.Judge)),
		zap.String("problem_id", task.ProblemID),
		zap.String("contest_id", task.ContestID),
	}
}

func (w *Worker) process(ctx context.Context, session crawler.Session, task crawler.Task) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("judge", string(task.Judge)),
		attribute.String("problem_id", task.ProblemID),
		attribute.Int("worker_id", w.cfg.ID),
	))
	rec, err := w.crawlWithRetry(ctx, session, task)
	telemetry.End(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ObserveTask(string(task.Judge), metrics.StatusFailed, time.Since(start))
		w.logger.Error("task failed", append(taskFields(task), zap.Error(err))...)
		return
	}
	metrics.ObserveTask(string(task.Judge), metrics.StatusCompleted, time.Since(start))
	w.logger.Debug("task completed", append(taskFields(task), zap.String("image_path", rec.ImagePath))...)

	if err := w.deps.Reports.Enqueue(ctx, crawler.CompletedMessage(rec)); err != nil {
		w.logger.Error("report completion failed", append(taskFields(task), zap.Error(err))...)
	}
}

// permanent errors cannot be fixed by another attempt.
func permanent(err error) bool {
	return errors.Is(err, crawler.ErrInvalidProblemID) || errors.Is(err, crawler.ErrUnknownJudge)
}

func (w *Worker) crawlWithRetry(ctx context.Context, session crawler.Session, task crawler.Task) (crawler.Record, error) {
	for attempt := 1; ; attempt++ {
		rec, err := w.crawl(ctx, session, task)
		if err == nil || permanent(err) || !w.cfg.TaskRetry.ShouldRetry(err, attempt) {
			return rec, err
		}
		delay := w.cfg.TaskRetry.Backoff(attempt)
		w.logger.Warn("task attempt failed, retrying",
			append(taskFields(task), zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))...,
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return crawler.Record{}, err
		}
	}
}

func (w *Worker) crawl(ctx context.Context, session crawler.Session, task crawler.Task) (crawler.Record, error) {
	entry, err := w.deps.Registry.Lookup(task.Judge)
	if err != nil {
		return crawler.Record{}, err
	}
	st, err := entry.Extractor.Extract(ctx, session, task)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("extract %s: %w", task, err)
	}
	img, err := imaging.Quantize(st.Image)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("quantize %s: %w", task, err)
	}
	token, err := w.deps.IDs.NewID()
	if err != nil {
		return crawler.Record{}, fmt.Errorf("image token: %w", err)
	}
	imagePath := path.Join(w.cfg.ImageDir, token+".png")
	if _, err := w.deps.Images.PutObject(ctx, imagePath, "image/png", bytes.NewReader(img)); err != nil {
		return crawler.Record{}, fmt.Errorf("store image %s: %w", imagePath, err)
	}
	return crawler.Record{
		Task:        task,
		ImagePath:   imagePath,
		Description: textnorm.Normalize(st.Markup),
	}, nil
}
