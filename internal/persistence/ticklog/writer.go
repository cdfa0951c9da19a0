// Package ticklog writes the per-tick operational log as hourly rotated,
// zstd compressed JSON lines.
package ticklog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"meshworld.ai/internal/sim/shard"
)

// DefaultFlushInterval bounds how long a written line can sit in memory
// before it reaches the file.
const DefaultFlushInterval = time.Second

// Writer appends JSON values, one per line, to <dir>/<prefix>-<hour>.jsonl.zst.
// It is safe for concurrent use; every shard of a node can share one.
// Lines are pushed through the compressor at most FlushInterval after they
// are written, so the current hour's file can be read while it grows.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	FlushInterval time.Duration

	mu        sync.Mutex
	curHour   string
	f         *os.File
	enc       *zstd.Encoder
	w         *bufio.Writer
	lines     uint64
	lastFlush time.Time
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now, FlushInterval: DefaultFlushInterval}
}

func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	hour := now.UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	if now.Sub(w.lastFlush) >= w.FlushInterval {
		return w.flushLocked(now)
	}
	return nil
}

// Flush pushes buffered lines through the compressor to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(w.now())
}

func (w *Writer) flushLocked(now time.Time) error {
	if w.w == nil {
		return nil
	}
	w.lastFlush = now
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	w.lastFlush = w.now()
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLog is the shard.TickLogger backed by a Writer.
type TickLog struct{ w *Writer }

var _ shard.TickLogger = (*TickLog)(nil)

func New(dir string) *TickLog {
	return &TickLog{w: NewWriter(dir, "ticks")}
}

func (l *TickLog) WriteTick(e shard.TickLogEntry) error { return l.w.Write(e) }
func (l *TickLog) Flush() error                         { return l.w.Flush() }
func (l *TickLog) Close() error                         { return l.w.Close() }

// FlushEvery flushes the log every d until ctx is done, so a quiet or
// paused node still gets its last lines onto disk.
func (l *TickLog) FlushEvery(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = DefaultFlushInterval
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := l.Flush(); err != nil {
				return err
			}
		}
	}
}
