package progress

import (
	"io"
	"os"
	"sync"
	"time"

	pretty "github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// Display renders the run's completion progress. The total grows as the
// producer discovers work, so it is never known up front.
type Display interface {
	// Grow raises the expected total by n.
	Grow(n int)
	// Advance records n completed tasks.
	Advance(n int)
	// Close stops rendering.
	Close()
}

// New returns a terminal bar when out is a TTY and a log-based display
// otherwise.
func New(out *os.File, logger *zap.Logger) Display {
	if out != nil && term.IsTerminal(int(out.Fd())) {
		return NewBar(out, "statements")
	}
	return NewLogDisplay(logger, 100)
}

// Bar is a go-pretty progress tracker. It is erased from the terminal on
// Close.
type Bar struct {
	out     io.Writer
	writer  pretty.Writer
	tracker *pretty.Tracker
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	total int64
}

// NewBar starts rendering a tracker labelled message to out.
func NewBar(out io.Writer, message string) *Bar {
	pw := pretty.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(40)
	pw.SetMessageLength(12)
	pw.SetStyle(pretty.StyleDefault)
	pw.SetTrackerPosition(pretty.PositionRight)
	pw.SetUpdateFrequency(200 * time.Millisecond)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Speed = true
	pw.Style().Visibility.Value = true

	tracker := &pretty.Tracker{Message: message, Units: pretty.UnitsDefault}
	pw.AppendTracker(tracker)

	b := &Bar{out: out, writer: pw, tracker: tracker, done: make(chan struct{})}
	go func() {
		defer close(b.done)
		pw.Render()
	}()
	return b
}

// Grow implements Display.
func (b *Bar) Grow(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += int64(n)
	b.tracker.UpdateTotal(b.total)
}

// Advance implements Display.
func (b *Bar) Advance(n int) {
	b.tracker.Increment(int64(n))
}

// Close implements Display.
func (b *Bar) Close() {
	b.once.Do(func() {
		b.tracker.MarkAsDone()
		// Stop is ignored until Render has started.
		for i := 0; i < 50 && !b.writer.IsRenderInProgress(); i++ {
			time.Sleep(10 * time.Millisecond)
		}
		b.writer.Stop()
		select {
		case <-b.done:
			// The finished tracker is left as the last line; wipe it.
			_, _ = io.WriteString(b.out, "\r"+text.CursorUp.Sprintn(1)+text.EraseLine.Sprint())
		case <-time.After(time.Second):
		}
	})
}

// LogDisplay emits a structured log line every Every completions.
type LogDisplay struct {
	logger *zap.Logger
	every  int

	mu        sync.Mutex
	total     int
	completed int
	started   time.Time
}

// NewLogDisplay wires a zap logger to the Display interface.
func NewLogDisplay(logger *zap.Logger, every int) *LogDisplay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = 1
	}
	return &LogDisplay{logger: logger.Named("progress"), every: every, started: time.Now()}
}

// Grow implements Display.
func (d *LogDisplay) Grow(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total += n
}

// Advance implements Display.
func (d *LogDisplay) Advance(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.completed / d.every
	d.completed += n
	if d.completed/d.every != before {
		d.logLocked("progress")
	}
}

// Close implements Display.
func (d *LogDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logLocked("progress finished")
}

func (d *LogDisplay) logLocked(msg string) {
	d.logger.Info(msg,
		zap.Int("completed", d.completed),
		zap.Int("total", d.total),
		zap.Duration("elapsed", time.Since(d.started).Round(time.Second)),
	)
}

// Nop discards progress.
type Nop struct{}

// Grow implements Display.
func (Nop) Grow(int) {}

// Advance implements Display.
func (Nop) Advance(int) {}

// Close implements Display.
func (Nop) Close() {}
