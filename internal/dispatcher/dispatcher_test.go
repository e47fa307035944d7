package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
	"github.com/JakeFAU/statement-crawler/internal/judge"
	"github.com/JakeFAU/statement-crawler/internal/ledger"
	pubmemory "github.com/JakeFAU/statement-crawler/internal/publisher/memory"
	"github.com/JakeFAU/statement-crawler/internal/worker"
)

type listLister []crawler.Listing

func (l listLister) List(context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		for _, it := range l {
			if !yield(it, nil) {
				return
			}
		}
	}
}

type nopSession struct{}

func (nopSession) Navigate(context.Context, string) error { return nil }
func (nopSession) Eval(context.Context, string) error { return nil }
func (nopSession) OuterHTML(context.Context, string) (string, error) { return "", nil }
func (nopSession) Screenshot(context.Context, string) ([]byte, error) { return nil, nil }
func (nopSession) Close() error { return nil }

type nopLauncher struct{}

func (nopLauncher) Launch(context.Context) (crawler.Session, error) { return nopSession{}, nil }

type pngExtractor struct {
	image  []byte
	failOn map[string]bool

	mu    sync.Mutex
	calls int
}

func (e *pngExtractor) Extract(ctx context.Context, _ crawler.Session, task crawler.Task) (crawler.Statement, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.failOn[task.ProblemID] {
		return crawler.Statement{}, crawler.ErrStatementNotFound
	}
	if err := ctx.Err(); err != nil {
		return crawler.Statement{}, err
	}
	return crawler.Statement{Image: e.image, Markup: "statement " + task.ProblemID}, nil
}

func (e *pngExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func listings(ids ...string) listLister {
	out := make(listLister, 0, len(ids))
	for _, id := range ids {
		out = append(out, crawler.Listing{ProblemID: id})
	}
	return out
}

func newDispatcher(dir string, workers int, lister crawler.Lister, ext crawler.Extractor, logger *zap.Logger) *Dispatcher {
	reg := judge.NewRegistry(map[crawler.Judge]judge.Entry{
		crawler.JudgeLOJ: {Lister: lister, Extractor: ext},
	})
	return New(Config{OutputDir: dir, Workers: workers, TaskBuffer: 2}, Dependencies{
		Registry: reg,
		Launcher: nopLauncher{},
	}, logger)
}

func readLedger(t *testing.T, dir string) []crawler.Record {
	t.Helper()
	f, err := os.Open(ledger.Path(dir))
	require.NoError(t, err)
	defer f.Close()

	var out []crawler.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec crawler.Record
		require.NoError(t, rec.UnmarshalJSON(scanner.Bytes()))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestRunRecordsSuccessesAndLogsFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	core, logs := observer.New(zapcore.InfoLevel)
	ext := &pngExtractor{image: tinyPNG(t), failOn: map[string]bool{"B": true}}

	summary, err := newDispatcher(dir, 1, listings("A", "B", "C"), ext, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	recs := readLedger(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].Task.ProblemID)
	assert.Equal(t, "C", recs[1].Task.ProblemID)
	for _, r := range recs {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(r.ImagePath)))
		require.NoError(t, err)
		assert.Equal(t, "statement "+r.Task.ProblemID, r.Description)
	}

	failures := logs.FilterMessage("task failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "B", failures[0].ContextMap()["problem_id"])

	assert.Equal(t, 3, summary.Enqueued)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.Completed)
	assert.Equal(t, int64(1), summary.FinishedWorkers)
}

func TestSecondRunEnqueuesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ext := &pngExtractor{image: tinyPNG(t)}
	lister := listings("1", "2", "3", "4")

	first, err := newDispatcher(dir, 2, lister, ext, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.Enqueued)
	before, err := os.ReadFile(ledger.Path(dir))
	require.NoError(t, err)

	second, err := newDispatcher(dir, 2, lister, ext, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Enqueued)
	assert.Equal(t, int64(2), second.FinishedWorkers)
	assert.Equal(t, 4, ext.callCount())

	after, err := os.ReadFile(ledger.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEveryTaskCompletesExactlyOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ids := make([]string, 60)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	ext := &pngExtractor{image: tinyPNG(t)}

	summary, err := newDispatcher(dir, 4, listings(ids...), ext, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.FinishedWorkers)

	recs := readLedger(t, dir)
	require.Len(t, recs, len(ids))
	seen := map[string]int{}
	images := map[string]bool{}
	for _, r := range recs {
		seen[r.Task.ProblemID]++
		images[r.ImagePath] = true
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], id)
	}
	assert.Len(t, images, len(ids))
	assert.Equal(t, len(ids), ext.callCount())
}

func TestRunResumesAfterTornLedgerTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	done := crawler.Record{Task: crawler.Task{Judge: crawler.JudgeLOJ, ProblemID: "1"}, ImagePath: "images/x.png"}
	line, err := done.MarshalJSON()
	require.NoError(t, err)
	torn := append(append(line, '\n'), []byte(`{"judge":"loj","problem_id":"2","ima`)...)
	require.NoError(t, os.WriteFile(ledger.Path(dir), torn, 0o600))

	ext := &pngExtractor{image: tinyPNG(t)}
	summary, err := newDispatcher(dir, 1, listings("1", "2"), ext, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enqueued)

	recs := readLedger(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[1].Task.ProblemID)
}

func TestRunPublishesCompletions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pub := pubmemory.New()
	reg := judge.NewRegistry(map[crawler.Judge]judge.Entry{
		crawler.JudgeLOJ: {Lister: listings("1"), Extractor: &pngExtractor{image: tinyPNG(t)}},
	})
	d := New(Config{OutputDir: dir, Workers: 1, Topic: "statements"}, Dependencies{
		Registry:  reg,
		Launcher:  nopLauncher{},
		Publisher: pub,
	}, nil)

	_, ok := d.Progress()
	assert.False(t, ok)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, "statements", pub.Messages()[0].Topic)

	snap, ok := d.Progress()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Completed)
}

func TestRunValidatesWorkers(t *testing.T) {
	t.Parallel()

	_, err := newDispatcher(t.TempDir(), 0, listings(), &pngExtractor{}, nil).Run(context.Background())
	require.ErrorContains(t, err, "workers must be at least 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	reg := judge.NewRegistry(map[crawler.Judge]judge.Entry{
		crawler.JudgeLOJ: {Lister: blockingLister{}, Extractor: &pngExtractor{}},
	})
	d := New(Config{OutputDir: t.TempDir(), Workers: 2, Worker: worker.Config{RestartAfter: 10}}, Dependencies{
		Registry: reg,
		Launcher: nopLauncher{},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingLister struct{}

func (blockingLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		<-ctx.Done()
		yield(crawler.Listing{}, ctx.Err())
	}
}
