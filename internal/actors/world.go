package actors

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"meshworld.ai/internal/dispatch"
	"meshworld.ai/internal/location"
	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/protocol"
	"meshworld.ai/internal/sim/body"
	"meshworld.ai/internal/sim/shard"
)

// AvatarIDBase is the first object id minted for avatars. Client spawned
// objects must stay below it.
const AvatarIDBase uint64 = 1 << 48

// World moves sessions between zones. Each JoinZone despawns the previous
// avatar (if any) and spawns a fresh one in the target zone.
type World struct {
	shards  map[uint32]*shard.Shard
	res     *Residency
	out     Outbound
	spawnAt mathx.Vec3
	log     *slog.Logger

	nextAvatar atomic.Uint64
}

func NewWorld(shards map[uint32]*shard.Shard, res *Residency, out Outbound, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &World{shards: shards, res: res, out: out, log: logger}
	w.nextAvatar.Store(AvatarIDBase)
	return w
}

func (w *World) Handle(ctx context.Context, env location.Envelope) {
	if env.From == "" {
		return
	}
	msg, err := protocol.DecodeMessage(env.Packet)
	if err != nil {
		w.log.Warn("world: bad packet", "session", env.From, "err", err)
		return
	}
	switch m := msg.(type) {
	case protocol.JoinZone:
		w.join(ctx, env.From, m.Zone)
	case protocol.LeaveZone:
		w.leave(env.From)
	default:
		w.log.Debug("world: ignored packet", "packet", env.Packet.ID)
	}
}

func (w *World) join(ctx context.Context, session string, zone uint32) {
	reply := dispatch.CallerContext{SessionID: session}
	sh, ok := w.shards[zone]
	if !ok {
		w.log.Warn("join: unknown zone", "session", session, "zone", zone)
		w.out.Send(ctx, protocol.RouteRejected{Packet: protocol.IDJoinZone, Code: protocol.WireCode(protocol.ErrCodeNotFound)}, reply)
		return
	}
	w.leave(session)

	id := w.nextAvatar.Add(1)
	avatar := body.Object{
		ID:      id,
		Session: session,
		Pos:     w.spawnAt,
		Tags:    body.TagPlayer,
	}
	if err := sh.Spawn(avatar); err != nil {
		w.log.Warn("join: spawn failed", "session", session, "zone", zone, "err", err)
		w.out.Send(ctx, protocol.RouteRejected{Packet: protocol.IDJoinZone, Code: protocol.WireCode(protocol.ErrCodeMailboxFull)}, reply)
		return
	}
	w.res.Place(session, zone, id)
	w.log.Info("joined zone", "session", session, "zone", zone, "avatar", id)
	w.out.Send(ctx, protocol.ZoneJoined{Zone: zone, Object: id, Pos: w.spawnAt}, reply)
}

// leave despawns everything session owns in its current zone.
func (w *World) leave(session string) {
	zone, avatar, ok := w.res.Clear(session)
	if !ok {
		return
	}
	if sh, ok := w.shards[zone]; ok {
		if err := sh.DespawnSession(session); err != nil {
			w.log.Error("leave: despawn failed", "session", session, "zone", zone, "avatar", avatar, "err", err)
		}
	}
}
