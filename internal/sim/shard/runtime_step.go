package shard

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/sim/spatial"
)

func (s *Shard) step(ctx context.Context, cmds []command) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.status.Store(int32(Ticking))
	defer s.status.Store(int32(Idle))

	start := time.Now()
	tick := s.tick.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("tick panic", "tick", tick, "panic", fmt.Sprint(r))
		}
	}()

	for _, c := range cmds {
		s.apply(c)
	}

	st := s.state
	dt := s.cfg.DT
	// One batched pass per array for the whole zone.
	floats.AddScaled(st.Vel, dt, st.Acc)
	floats.AddScaled(st.Pos, dt, st.Vel)
	st.Tick = tick
	st.DT = dt

	snap := st.Clone()
	view := spatial.Build(snap)
	out := &TickOutput{Snapshot: snap, View: view}
	if time.Since(start) > s.cfg.TickPeriod {
		out.CollisionsSkipped = true
	} else {
		out.Collisions = view.QueryCollisions()
	}

	var advanced []uint64
	if s.pub != nil {
		advanced = s.pub.Publish(ctx, out)
	}
	for _, id := range advanced {
		if i, ok := st.IndexOf(id); ok {
			mathx.Store(st.LastBroadcast, i, mathx.Load(st.Pos, i))
		}
	}
	s.last.Store(out)

	elapsed := time.Since(start)
	if elapsed > s.cfg.TickPeriod {
		s.overruns.Add(1)
		s.log.Warn("tick overrun",
			"tick", tick,
			"elapsed_ms", float64(elapsed.Microseconds())/1000,
			"budget_ms", float64(s.cfg.TickPeriod.Microseconds())/1000,
			"objects", st.Len(),
			"collisions_skipped", out.CollisionsSkipped,
		)
	}
	stepMS := float64(elapsed.Microseconds()) / 1000
	s.metrics.Store(Metrics{
		Zone:       s.cfg.Zone,
		Tick:       tick,
		Objects:    st.Len(),
		StepMS:     stepMS,
		Overruns:   s.overruns.Load(),
		Panics:     s.panics.Load(),
		Collisions: len(out.Collisions),
		Paused:     s.paused.Load(),
		InboxDepth: len(s.inbox),
	})
	if s.tickLog != nil {
		if err := s.tickLog.WriteTick(TickLogEntry{
			Zone:       s.cfg.Zone,
			Tick:       tick,
			Objects:    st.Len(),
			Commands:   len(cmds),
			Advanced:   len(advanced),
			Collisions: len(out.Collisions),
			Skipped:    out.CollisionsSkipped,
			StepMS:     stepMS,
		}); err != nil {
			s.log.Warn("tick log write failed", "tick", tick, "err", err)
		}
	}
}

func (s *Shard) apply(c command) {
	st := s.state
	switch c.kind {
	case cmdSpawn:
		o := c.obj
		if _, exists := st.IndexOf(o.ID); exists {
			s.log.Warn("spawn rejected: duplicate object", "object", o.ID, "session", c.session)
			return
		}
		o.Zone = s.cfg.Zone
		if o.Radius <= 0 {
			o.Radius = s.cfg.DefaultRadius
		}
		o.LastBroadcast = o.Pos
		st.Append(o)
	case cmdDespawnSession:
		for _, id := range st.SessionObjects(c.session) {
			if i, ok := st.IndexOf(id); ok {
				st.Remove(i)
			}
		}
	case cmdDespawn, cmdSetVelocity, cmdSetAcceleration:
		i, ok := st.IndexOf(c.id)
		if !ok {
			s.log.Debug("command for unknown object", "object", c.id, "session", c.session)
			return
		}
		if c.session != "" && st.Session[i] != c.session {
			s.log.Warn("command rejected: object not owned by session", "object", c.id, "session", c.session)
			return
		}
		switch c.kind {
		case cmdDespawn:
			st.Remove(i)
		case cmdSetVelocity:
			mathx.Store(st.Vel, i, c.vec)
		case cmdSetAcceleration:
			mathx.Store(st.Acc, i, c.vec)
		}
	}
}
