// Package ledger persists completed records as JSON lines and rebuilds the
// dedup set from them.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// FileName is the ledger's file name inside the output directory.
const FileName = "meta.jsonl"

// Path returns the ledger location for an output directory.
func Path(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

// Set holds the identities of tasks already present in the ledger.
type Set map[crawler.Task]struct{}

// Contains reports whether t was completed in an earlier run.
func (s Set) Contains(t crawler.Task) bool {
	_, ok := s[t]
	return ok
}

// Load reads the ledger at path. A missing file is created empty. A final
// line without a terminating newline is a torn write; it is skipped with a
// warning. Any other malformed line fails the whole load.
func Load(path string, logger *zap.Logger) (Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path) // #nosec G304 -- ledger path comes from operator configuration.
	if errors.Is(err, os.ErrNotExist) {
		if err := touch(path); err != nil {
			return Set{}, err
		}
		return Set{}, nil
	}
	if err != nil {
		return Set{}, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("close ledger failed", zap.Error(cerr))
		}
	}()

	set := Set{}
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return Set{}, fmt.Errorf("read ledger line %d: %w", lineNo, readErr)
		}
		terminated := len(line) > 0 && line[len(line)-1] == '\n'
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var rec crawler.Record
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				if !terminated {
					logger.Warn("skipping torn ledger tail", zap.Int("line", lineNo), zap.Error(err))
					break
				}
				return Set{}, fmt.Errorf("parse ledger line %d: %w", lineNo, err)
			}
			set[rec.Task] = struct{}{}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	return set, nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- see Load.
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger %s: %w", path, err)
	}
	return nil
}

// Writer appends records to the ledger. It is owned by a single goroutine.
type Writer struct {
	f    *os.File
	sync bool
}

// OpenWriter opens path for appending, creating it when absent. A torn
// final line left by an earlier crash is truncated so the next record
// starts on a fresh line.
func OpenWriter(path string, syncEach bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 -- see Load.
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if err := repairTail(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, sync: syncEach}, nil
}

// repairTail leaves f positioned at its end with a newline-terminated last
// line. A complete record missing only its newline is kept.
func repairTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}
	end, err := completeLength(f, info.Size())
	if err != nil {
		return err
	}
	if end < info.Size() {
		tail := make([]byte, info.Size()-end)
		if _, err := f.ReadAt(tail, end); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read ledger tail: %w", err)
		}
		var rec crawler.Record
		if json.Unmarshal(bytes.TrimSpace(tail), &rec) == nil {
			end = info.Size()
			if _, err := f.WriteAt([]byte{'\n'}, end); err != nil {
				return fmt.Errorf("terminate ledger tail: %w", err)
			}
			end++
		} else if err := f.Truncate(end); err != nil {
			return fmt.Errorf("truncate torn ledger tail: %w", err)
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek ledger end: %w", err)
	}
	return nil
}

// Append writes rec as one line with a single write call.
func (w *Writer) Append(rec crawler.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Task, err)
	}
	data = append(data, '\n')
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("append record %s: %w", rec.Task, err)
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("sync ledger: %w", err)
		}
	}
	return nil
}

// Close releases the file handle.
func (w *Writer) Close() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// completeLength returns the offset just past the last newline in f.
func completeLength(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("scan ledger tail: %w", err)
		}
		if idx := bytes.LastIndexByte(buf[:n], '\n'); idx >= 0 {
			return start + int64(idx) + 1, nil
		}
		end = start
	}
	return 0, nil
}
