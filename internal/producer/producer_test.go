package producer_test

import (
	"context"
	"errors"
	"iter"
	"os"
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
	"github.com/JakeFAU/statement-crawler/internal/producer"
	"github.com/JakeFAU/statement-crawler/internal/queue/memory"
)

type staticLister struct {
	items []crawler.Listing
	err   error
}

func (l staticLister) List(context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		for _, it := range l.items {
			if !yield(it, nil) {
				return
			}
		}
		if l.err != nil {
			yield(crawler.Listing{}, l.err)
		}
	}
}

type noopExtractor struct{}

func (noopExtractor) Extract(context.Context, crawler.Session, crawler.Task) (crawler.Statement, error) {
	return crawler.Statement{}, nil
}

func registryOf(listers map[crawler.Judge]crawler.Lister) *judge.Registry {
	entries := make(map[crawler.Judge]judge.Entry, len(listers))
	for j, l := range listers {
		entries[j] = judge.Entry{Lister: l, Extractor: noopExtractor{}}
	}
	return judge.NewRegistry(entries)
}

func drain(t *testing.T, q *memory.Queue[crawler.TaskMessage]) []crawler.TaskMessage {
	t.Helper()
	var out []crawler.TaskMessage
	for q.Len() > 0 {
		msg, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestRunEnqueuesInJudgeOrderThenTerminates(t *testing.T) {
	t.Parallel()

	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeLuogu:   staticLister{items: []crawler.Listing{{ProblemID: "P1000"}, {ProblemID: "P1000"}}},
		crawler.JudgeAtCoder: staticLister{items: []crawler.Listing{{ContestID: "abc1", ProblemID: "abc1_a"}}},
	})
	tasks := memory.NewQueue[crawler.TaskMessage](0)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	p := producer.New(producer.Config{LedgerPath: ledger.Path(t.TempDir()), Workers: 3}, reg, tasks, reports, zap.NewNop())
	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := drain(t, tasks)
	require.Len(t, msgs, 5)
	assert.Equal(t, crawler.NewTaskMessage(crawler.Task{Judge: crawler.JudgeAtCoder, ContestID: "abc1", ProblemID: "abc1_a"}), msgs[0])
	assert.Equal(t, crawler.NewTaskMessage(crawler.Task{Judge: crawler.JudgeLuogu, ProblemID: "P1000"}), msgs[1])
	for _, m := range msgs[2:] {
		assert.Equal(t, crawler.TaskKindTerminate, m.Kind)
	}
	assert.Equal(t, 2, reports.Len())
}

func TestRunSkipsLedgerEntries(t *testing.T) {
	t.Parallel()

	path := ledger.Path(t.TempDir())
	w, err := ledger.OpenWriter(path, true)
	require.NoError(t, err)
	require.NoError(t, w.Append(crawler.Record{Task: crawler.Task{Judge: crawler.JudgeLOJ, ProblemID: "1"}, ImagePath: "images/a.png"}))
	require.NoError(t, w.Close())

	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeLOJ: staticLister{items: []crawler.Listing{{ProblemID: "1"}, {ProblemID: "2"}}},
	})
	tasks := memory.NewQueue[crawler.TaskMessage](0)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	n, err := producer.New(producer.Config{LedgerPath: path, Workers: 1}, reg, tasks, reports, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := drain(t, tasks)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[0].Task.ProblemID)
}

func TestRunAbandonsFailingJudgeOnly(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeCodeforces: staticLister{items: []crawler.Listing{{ContestID: "1", ProblemID: "1A"}}, err: errors.New("boom")},
		crawler.JudgeAcCoding:   staticLister{items: []crawler.Listing{{ProblemID: "7"}}},
	})
	tasks := memory.NewQueue[crawler.TaskMessage](0)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	n, err := producer.New(producer.Config{LedgerPath: ledger.Path(t.TempDir()), Workers: 2}, reg, tasks, reports, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, tasks.Len())
	require.Equal(t, 1, logs.FilterMessage("listing failed, abandoning judge").Len())
}

func TestRunSkipsUnknownConfiguredJudge(t *testing.T) {
	t.Parallel()

	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeLOJ: staticLister{items: []crawler.Listing{{ProblemID: "1"}}},
	})
	tasks := memory.NewQueue[crawler.TaskMessage](0)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	cfg := producer.Config{
		LedgerPath: ledger.Path(t.TempDir()),
		Workers:    1,
		Judges:     []crawler.Judge{crawler.JudgeLuogu, crawler.JudgeLOJ},
	}
	n, err := producer.New(cfg, reg, tasks, reports, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunTreatsUnreadableLedgerAsEmpty(t *testing.T) {
	t.Parallel()

	path := ledger.Path(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("not json\n{}\n"), 0o600))

	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeLOJ: staticLister{items: []crawler.Listing{{ProblemID: "1"}}},
	})
	tasks := memory.NewQueue[crawler.TaskMessage](0)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	n, err := producer.New(producer.Config{LedgerPath: path, Workers: 1}, reg, tasks, reports, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	reg := registryOf(map[crawler.Judge]crawler.Lister{
		crawler.JudgeLOJ: staticLister{items: []crawler.Listing{{ProblemID: "1"}, {ProblemID: "2"}}},
	})
	// Capacity one: the second enqueue blocks until ctx ends.
	tasks := memory.NewQueue[crawler.TaskMessage](1)
	reports := memory.NewQueue[crawler.ReportMessage](0)

	p := producer.New(producer.Config{LedgerPath: ledger.Path(t.TempDir()), Workers: 1}, reg, tasks, reports, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return reports.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
