package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Tailer follows a JSONL log file and forwards each parsed record to a Sink.
//
// The first open starts at the end of the file unless FromStart is set.
// When the file is truncated or replaced the tailer reopens it and reads
// the new file from the beginning. While the file is missing it retries
// with backoff.
type Tailer struct {
	logger    *zap.Logger
	path      string
	poll      time.Duration
	fromStart bool
	sink      Sink
	now       func() time.Time

	lines   atomic.Uint64
	parsed  atomic.Uint64
	skipped atomic.Uint64
	reopens atomic.Uint64
}

// TailerStats counts what a Tailer has seen.
type TailerStats struct {
	Path    string `json:"path"`
	Lines   uint64 `json:"lines"`
	Parsed  uint64 `json:"parsed"`
	Skipped uint64 `json:"skipped"`
	Reopens uint64 `json:"reopens"`
}

// NewTailer returns a tailer for path polling every poll for new data.
func NewTailer(logger *zap.Logger, path string, poll time.Duration, fromStart bool, sink Sink) *Tailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Tailer{
		logger:    logger,
		path:      path,
		poll:      poll,
		fromStart: fromStart,
		sink:      sink,
		now:       time.Now,
	}
}

// Stats returns counters for the tailer.
func (t *Tailer) Stats() TailerStats {
	return TailerStats{
		Path:    t.path,
		Lines:   t.lines.Load(),
		Parsed:  t.parsed.Load(),
		Skipped: t.skipped.Load(),
		Reopens: t.reopens.Load(),
	}
}

// Run tails the file until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: time.Second, Max: 10 * time.Second, Factor: 2, Jitter: true}
	seekEnd := !t.fromStart

	t.logger.Info("tailing log file", zap.String("path", t.path), zap.Bool("from_start", t.fromStart))

	for {
		err := t.follow(ctx, seekEnd)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			wait := b.Duration()
			if errors.Is(err, os.ErrNotExist) {
				t.logger.Debug("log file missing, waiting", zap.String("path", t.path), zap.Duration("wait", wait))
			} else {
				t.logger.Warn("tail failed, retrying", zap.String("path", t.path), zap.Error(err), zap.Duration("wait", wait))
			}
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		// follow returned cleanly: the file was truncated or replaced.
		b.Reset()
		seekEnd = false
		t.reopens.Add(1)
		t.logger.Info("log file rotated, reopening", zap.String("path", t.path))
	}
}

func (t *Tailer) follow(ctx context.Context, seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.path, err)
	}

	var offset int64
	if seekEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", t.path, err)
		}
	}

	r := bufio.NewReader(f)
	var pending []byte
	for {
		chunk, err := r.ReadBytes('\n')
		offset += int64(len(chunk))
		if err == nil {
			line := append(pending, chunk...)
			pending = nil
			t.handleLine(line)
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", t.path, err)
		}
		pending = append(pending, chunk...)

		if !sleepCtx(ctx, t.poll) {
			return nil
		}

		cur, err := os.Stat(t.path)
		if err != nil {
			// Removed: reopen once it is back.
			return nil
		}
		if !os.SameFile(info, cur) || cur.Size() < offset {
			return nil
		}
	}
}

func (t *Tailer) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	t.lines.Add(1)

	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		t.skipped.Add(1)
		return
	}
	e, err := ParseEvent(obj, t.now())
	if err != nil {
		t.skipped.Add(1)
		t.logger.Debug("skipping log record", zap.Error(err))
		return
	}
	t.parsed.Add(1)
	t.sink.Accept(e)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
