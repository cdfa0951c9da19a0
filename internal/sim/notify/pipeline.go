// Package notify turns each tick's movement and collisions into packets for
// the sessions near them.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"meshworld.ai/internal/dispatch"
	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/protocol"
	"meshworld.ai/internal/sim/shard"
	"meshworld.ai/internal/sim/spatial"
)

const DefaultEpsilon = 1e-4

// Router is the outbound half of the dispatcher.
type Router interface {
	Notify(ctx context.Context, p protocol.Packet, raw []byte, cc dispatch.CallerContext) dispatch.Result
}

type Config struct {
	// Radius is the notification radius in world units.
	Radius float64
	// Epsilon is the smallest displacement from the last broadcast position
	// that counts as movement.
	Epsilon float64
	// Recipients narrows which nearby objects are considered.
	Recipients spatial.TagFilter
}

type Stats struct {
	Moved      uint64
	Sent       uint64
	Failed     uint64
	Collisions uint64
}

// Pipeline implements shard.Publisher.
type Pipeline struct {
	cfg    Config
	reg    *protocol.Registry
	router Router
	log    *slog.Logger

	moved      atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
	collisions atomic.Uint64
}

var _ shard.Publisher = (*Pipeline)(nil)

func New(cfg Config, reg *protocol.Registry, router Router, logger *slog.Logger) *Pipeline {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{cfg: cfg, reg: reg, router: router, log: logger}
}

// Publish sends MoveNotify for every object that moved more than Epsilon since
// it was last broadcast, and CollisionNotify for every colliding pair. It
// returns the ids of the moved objects.
func (p *Pipeline) Publish(ctx context.Context, out *shard.TickOutput) []uint64 {
	snap := out.Snapshot
	eps2 := p.cfg.Epsilon * p.cfg.Epsilon

	var moved []uint64
	seen := map[string]struct{}{}
	for i, id := range snap.IDs {
		pos := snap.Position(i)
		if mathx.Dist2(pos, mathx.Load(snap.LastBroadcast, i)) <= eps2 {
			continue
		}
		moved = append(moved, id)

		pkt := protocol.ToPacket(protocol.MoveNotify{
			Object:   id,
			Zone:     snap.Zone,
			Tick:     snap.Tick,
			Pos:      pos,
			Velocity: mathx.Load(snap.Vel, i),
		})
		raw, err := p.reg.Encode(pkt)
		if err != nil {
			p.log.Error("encode move notify", "object", id, "err", err)
			continue
		}
		clear(seen)
		for _, h := range out.View.Within(pos, p.cfg.Radius, p.cfg.Recipients) {
			owner := snap.Session[h.Index]
			if owner == "" {
				continue
			}
			if _, dup := seen[owner]; dup {
				continue
			}
			seen[owner] = struct{}{}
			p.send(ctx, pkt, raw, owner)
		}
	}
	p.moved.Add(uint64(len(moved)))

	for _, pair := range out.Collisions {
		p.collisions.Add(1)
		pkt := protocol.ToPacket(protocol.CollisionNotify{A: pair.A, B: pair.B, Tick: snap.Tick})
		raw, err := p.reg.Encode(pkt)
		if err != nil {
			p.log.Error("encode collision notify", "a", pair.A, "b", pair.B, "err", err)
			continue
		}
		var owners [2]string
		for k, id := range [2]uint64{pair.A, pair.B} {
			if i, ok := snap.IndexOf(id); ok {
				owners[k] = snap.Session[i]
			}
		}
		if owners[0] != "" {
			p.send(ctx, pkt, raw, owners[0])
		}
		if owners[1] != "" && owners[1] != owners[0] {
			p.send(ctx, pkt, raw, owners[1])
		}
	}
	return moved
}

func (p *Pipeline) send(ctx context.Context, pkt protocol.Packet, raw []byte, session string) {
	res := p.router.Notify(ctx, pkt, raw, dispatch.CallerContext{SessionID: session})
	if res.Err != nil {
		// the dispatcher already logged the failure
		p.failed.Add(1)
		return
	}
	p.sent.Add(1)
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Moved:      p.moved.Load(),
		Sent:       p.sent.Load(),
		Failed:     p.failed.Load(),
		Collisions: p.collisions.Load(),
	}
}
