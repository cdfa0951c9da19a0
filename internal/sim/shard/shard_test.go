package shard

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/sim/body"
)

func testShard(t *testing.T, pub Publisher) *Shard {
	t.Helper()
	return New(Config{Zone: 1, TickPeriod: time.Hour, DT: 1.0}, pub, nil)
}

func mustPos(t *testing.T, s *Shard, id uint64) mathx.Vec3 {
	t.Helper()
	out := s.Last()
	if out == nil {
		t.Fatalf("no tick output yet")
	}
	i, ok := out.Snapshot.IndexOf(id)
	if !ok {
		t.Fatalf("object %d not in snapshot", id)
	}
	return out.Snapshot.Position(i)
}

func TestStep_ConstantVelocityThreeTicks(t *testing.T) {
	s := testShard(t, nil)
	ctx := context.Background()
	if err := s.Spawn(body.Object{ID: 1, Vel: mathx.V3(0, 1, 0)}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.StepOnce(ctx)
	}
	if got := mustPos(t, s, 1); got != mathx.V3(0, 3, 0) {
		t.Fatalf("pos after 3 ticks: %+v", got)
	}
	if s.CurrentTick() != 3 || s.Last().Snapshot.Tick != 3 {
		t.Fatalf("tick: %d", s.CurrentTick())
	}
}

func TestStep_AccelerationIsDeterministic(t *testing.T) {
	run := func() []mathx.Vec3 {
		s := testShard(t, nil)
		_ = s.Spawn(body.Object{ID: 7, Acc: mathx.V3(1, 0, 0)})
		_ = s.Spawn(body.Object{ID: 8, Pos: mathx.V3(5, 5, 5), Vel: mathx.V3(-1, 0, 2)})
		var out []mathx.Vec3
		for i := 0; i < 3; i++ {
			s.StepOnce(context.Background())
			out = append(out, mustPos(t, s, 7), mustPos(t, s, 8))
		}
		return out
	}
	a, b := run(), run()
	want7 := []mathx.Vec3{mathx.V3(1, 0, 0), mathx.V3(3, 0, 0), mathx.V3(6, 0, 0)}
	for i := range want7 {
		if a[2*i] != want7[i] {
			t.Fatalf("tick %d: object 7 at %+v want %+v", i+1, a[2*i], want7[i])
		}
	}
	if a[5] != mathx.V3(2, 5, 11) {
		t.Fatalf("object 8 after 3 ticks: %+v", a[5])
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run mismatch at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestStep_CommandsApplyAtTickBoundary(t *testing.T) {
	s := testShard(t, nil)
	ctx := context.Background()
	_ = s.Spawn(body.Object{ID: 1, Session: "s1"})
	if s.Last() != nil {
		t.Fatalf("spawn must not be visible before a tick")
	}
	s.StepOnce(ctx)

	_ = s.SetVelocity("s2", 1, mathx.V3(9, 9, 9)) // not the owner
	_ = s.SetVelocity("s1", 1, mathx.V3(1, 0, 0))
	_ = s.SetVelocity("", 42, mathx.V3(1, 0, 0)) // unknown object
	if got := mustPos(t, s, 1); got != (mathx.Vec3{}) {
		t.Fatalf("velocity applied early: %+v", got)
	}
	s.StepOnce(ctx)
	if got := mustPos(t, s, 1); got != mathx.V3(1, 0, 0) {
		t.Fatalf("pos: %+v", got)
	}

	_ = s.Spawn(body.Object{ID: 1, Session: "other"}) // duplicate id
	_ = s.Spawn(body.Object{ID: 2, Session: "s1"})
	_ = s.Spawn(body.Object{ID: 3, Session: "s2"})
	s.StepOnce(ctx)
	if n := s.Last().Snapshot.Len(); n != 3 {
		t.Fatalf("objects: %d", n)
	}
	_ = s.DespawnSession("s1")
	s.StepOnce(ctx)
	snap := s.Last().Snapshot
	if snap.Len() != 1 || snap.IDs[0] != 3 {
		t.Fatalf("after despawn session: %v", snap.IDs)
	}
	_ = s.Despawn("s1", 3) // not the owner
	s.StepOnce(ctx)
	if s.Last().Snapshot.Len() != 1 {
		t.Fatalf("foreign despawn must be rejected")
	}
	_ = s.Despawn("", 3)
	s.StepOnce(ctx)
	if s.Last().Snapshot.Len() != 0 {
		t.Fatalf("server despawn must succeed")
	}
}

func TestSpawn_DefaultsRadiusAndZone(t *testing.T) {
	s := New(Config{Zone: 5, TickPeriod: time.Hour, DT: 1, DefaultRadius: 2}, nil, nil)
	_ = s.Spawn(body.Object{ID: 1, Zone: 99})
	s.StepOnce(context.Background())
	o := s.Last().Snapshot.Object(0)
	if o.Zone != 5 || o.Radius != 2 {
		t.Fatalf("spawned object: %+v", o)
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	outs    []*TickOutput
	advance func(out *TickOutput) []uint64
}

func (p *recordingPublisher) Publish(_ context.Context, out *TickOutput) []uint64 {
	p.mu.Lock()
	p.outs = append(p.outs, out)
	p.mu.Unlock()
	if p.advance != nil {
		return p.advance(out)
	}
	return nil
}

func TestStep_PublishesSameTickViewAndAdvancesLastBroadcast(t *testing.T) {
	pub := &recordingPublisher{advance: func(out *TickOutput) []uint64 { return []uint64{1} }}
	s := testShard(t, pub)
	_ = s.Spawn(body.Object{ID: 1, Vel: mathx.V3(1, 0, 0), Radius: 1})
	_ = s.Spawn(body.Object{ID: 2, Pos: mathx.V3(2.5, 0, 0), Radius: 1})
	ctx := context.Background()
	s.StepOnce(ctx)
	s.StepOnce(ctx)

	if len(pub.outs) != 2 {
		t.Fatalf("publishes: %d", len(pub.outs))
	}
	first := pub.outs[0]
	if first.View.Tick() != first.Snapshot.Tick || first.View.Snapshot() != first.Snapshot {
		t.Fatalf("view must be built from the tick's own snapshot")
	}
	// tick 1: object 1 at x=1, object 2 at x=2.5 -> touching spheres overlap
	if len(first.Collisions) != 1 || first.Collisions[0].A != 1 || first.Collisions[0].B != 2 {
		t.Fatalf("collisions: %+v", first.Collisions)
	}
	second := pub.outs[1].Snapshot
	i, _ := second.IndexOf(1)
	if lb := second.Object(i).LastBroadcast; lb != mathx.V3(1, 0, 0) {
		t.Fatalf("last broadcast not advanced to tick 1 position: %+v", lb)
	}
	j, _ := second.IndexOf(2)
	if lb := second.Object(j).LastBroadcast; lb != mathx.V3(2.5, 0, 0) {
		t.Fatalf("object 2 last broadcast: %+v", lb)
	}
}

func TestStep_OverrunIsLoggedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := New(Config{Zone: 3, TickPeriod: time.Nanosecond, DT: 1}, nil, logger)
	_ = s.Spawn(body.Object{ID: 1, Radius: 1})
	_ = s.Spawn(body.Object{ID: 2, Radius: 1})
	s.StepOnce(context.Background())
	s.StepOnce(context.Background())

	m := s.Metrics()
	if m.Overruns != 2 || m.Tick != 2 || m.Objects != 2 {
		t.Fatalf("metrics: %+v", m)
	}
	if out := s.Last(); !out.CollisionsSkipped || out.View.Len() != 2 {
		t.Fatalf("over-budget tick must still build the view and skip collisions: %+v", out)
	}
	if !strings.Contains(buf.String(), "tick overrun") || !strings.Contains(buf.String(), "zone=3") {
		t.Fatalf("expected overrun log:\n%s", buf.String())
	}
}

type panicPublisher struct{ calls int }

func (p *panicPublisher) Publish(context.Context, *TickOutput) []uint64 {
	p.calls++
	if p.calls == 1 {
		panic("publisher exploded")
	}
	return nil
}

func TestStep_PanicDoesNotStopShard(t *testing.T) {
	var buf bytes.Buffer
	s := New(Config{Zone: 1, TickPeriod: time.Hour, DT: 1}, &panicPublisher{}, slog.New(slog.NewTextHandler(&buf, nil)))
	_ = s.Spawn(body.Object{ID: 1, Vel: mathx.V3(0, 1, 0)})
	s.StepOnce(context.Background())
	s.StepOnce(context.Background())
	if s.Metrics().Panics != 1 || s.CurrentTick() != 2 || s.State() != Idle {
		t.Fatalf("metrics: %+v state=%v", s.Metrics(), s.State())
	}
	if got := mustPos(t, s, 1); got != mathx.V3(0, 2, 0) {
		t.Fatalf("pos: %+v", got)
	}
	if !strings.Contains(buf.String(), "tick panic") {
		t.Fatalf("expected panic log:\n%s", buf.String())
	}
}

func TestRun_PauseResume(t *testing.T) {
	s := New(Config{Zone: 1, TickPeriod: 2 * time.Millisecond, DT: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitTick := func(min uint64) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for s.CurrentTick() < min {
			if time.Now().After(deadline) {
				t.Fatalf("tick stuck at %d, want >= %d", s.CurrentTick(), min)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitTick(2)

	s.Pause()
	time.Sleep(10 * time.Millisecond) // let an in-flight tick finish
	paused := s.CurrentTick()
	time.Sleep(20 * time.Millisecond)
	if s.CurrentTick() != paused {
		t.Fatalf("ticked while paused: %d -> %d", paused, s.CurrentTick())
	}

	_ = s.Spawn(body.Object{ID: 1, Vel: mathx.V3(1, 0, 0)})
	s.Resume()
	waitTick(paused + 2)
	if s.Last().Snapshot.Len() != 1 {
		t.Fatalf("command queued while paused was not applied")
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestNew_CapacityHintPresizesState(t *testing.T) {
	s := New(Config{Zone: 1, TickPeriod: time.Hour, CapacityHint: 512}, nil, nil)
	if c := cap(s.state.IDs); c != 512 {
		t.Fatalf("ids capacity %d", c)
	}
	if c := cap(s.state.Pos); c != 3*512 {
		t.Fatalf("pos capacity %d", c)
	}
}

func TestRun_PausedShardKeepsInboxBound(t *testing.T) {
	s := New(Config{Zone: 1, TickPeriod: time.Millisecond, DT: 1, InboxSize: 4}, nil, nil)
	s.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var accepted, rejected int
	for i := 0; i < 200; i++ {
		if err := s.Spawn(body.Object{ID: uint64(i + 1)}); err != nil {
			if !errors.Is(err, ErrInboxFull) {
				t.Fatalf("spawn: %v", err)
			}
			rejected++
		} else {
			accepted++
		}
		if i%20 == 0 {
			time.Sleep(2 * time.Millisecond) // several ticker fires while paused
		}
	}
	if accepted != 4 || rejected != 196 {
		t.Fatalf("accepted=%d rejected=%d, want 4/196", accepted, rejected)
	}
	if d := s.Metrics().InboxDepth; d != 4 {
		t.Fatalf("inbox depth %d", d)
	}

	s.Resume()
	deadline := time.Now().Add(2 * time.Second)
	for s.Last() == nil || s.Last().Snapshot.Len() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("queued spawns not applied after resume")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	<-done
}

type memTickLog struct{ entries []TickLogEntry }

func (m *memTickLog) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestStep_WritesTickLog(t *testing.T) {
	s := testShard(t, nil)
	tl := &memTickLog{}
	s.SetTickLogger(tl)
	_ = s.Spawn(body.Object{ID: 1})
	s.StepOnce(context.Background())
	s.StepOnce(context.Background())
	if len(tl.entries) != 2 || tl.entries[0].Commands != 1 || tl.entries[1].Tick != 2 || tl.entries[1].Objects != 1 {
		t.Fatalf("entries: %+v", tl.entries)
	}
}

func TestInboxFull(t *testing.T) {
	s := New(Config{Zone: 1, TickPeriod: time.Hour, InboxSize: 1}, nil, nil)
	if err := s.Spawn(body.Object{ID: 1}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.Spawn(body.Object{ID: 2}); err == nil {
		t.Fatalf("expected inbox full")
	}
}
