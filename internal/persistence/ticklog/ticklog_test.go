package ticklog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"meshworld.ai/internal/sim/shard"
)

func TestTickLog_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	for i := uint64(1); i <= 5; i++ {
		if err := l.WriteTick(shard.TickLogEntry{Zone: 2, Tick: i, Objects: int(i), StepMS: 0.25}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files: %v %v", files, err)
	}
	entries, err := ReadFile(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries: %d", len(entries))
	}
	for i, e := range entries {
		if e.Tick != uint64(i+1) || e.Zone != 2 || e.Objects != i+1 {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
}

func TestWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "ticks")
	now := time.Date(2026, 10, 19, 13, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(shard.TickLogEntry{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(shard.TickLogEntry{Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, _ := Files(dir)
	want := []string{
		filepath.Join(dir, "ticks-2026-10-19-13.jsonl.zst"),
		filepath.Join(dir, "ticks-2026-10-19-14.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files: %v", files)
	}
	for i, p := range files {
		entries, err := ReadFile(p)
		if err != nil || len(entries) != 1 || entries[0].Tick != uint64(i+1) {
			t.Fatalf("%s: %+v %v", p, entries, err)
		}
	}
	if w.Lines() != 2 {
		t.Fatalf("lines: %d", w.Lines())
	}
}

func TestTickLog_WiredIntoShard(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	s := shard.New(shard.Config{Zone: 4, TickPeriod: time.Hour, DT: 1}, nil, nil)
	s.SetTickLogger(l)
	for i := 0; i < 3; i++ {
		s.StepOnce(context.Background())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, _ := Files(dir)
	entries, err := ReadFile(files[0])
	if err != nil || len(entries) != 3 || entries[2].Zone != 4 || entries[2].Tick != 3 {
		t.Fatalf("entries: %+v %v", entries, err)
	}
}

func TestWriter_ReadableBeforeClose(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "ticks")
	now := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	defer w.Close()

	for i := uint64(1); i <= 500; i++ {
		if err := w.Write(shard.TickLogEntry{Zone: 1, Tick: i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// interval not reached yet: lines may still be buffered
	now = now.Add(w.FlushInterval)
	if err := w.Write(shard.TickLogEntry{Zone: 1, Tick: 501}); err != nil {
		t.Fatalf("write: %v", err)
	}

	files, _ := Files(dir)
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	entries, err := ReadFile(files[0])
	if len(entries) != 501 || entries[500].Tick != 501 {
		t.Fatalf("live file: %d entries, err=%v", len(entries), err)
	}
}

func TestTickLog_FlushEvery(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()
	if err := l.WriteTick(shard.TickLogEntry{Zone: 3, Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.FlushEvery(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		files, _ := Files(dir)
		if len(files) == 1 {
			if entries, _ := ReadFile(files[0]); len(entries) == 1 {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never reached disk")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
