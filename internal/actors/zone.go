package actors

import (
	"context"
	"io"
	"log/slog"

	"meshworld.ai/internal/dispatch"
	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
	"meshworld.ai/internal/sim/body"
	"meshworld.ai/internal/sim/shard"
	"meshworld.ai/internal/sim/spatial"
)

// Zone turns zone-targeted packets into shard commands. Every command is
// issued on behalf of env.From, so the shard enforces ownership.
type Zone struct {
	shard      *shard.Shard
	res        *Residency
	out        Outbound
	reg        *protocol.Registry
	radius     float64
	recipients spatial.TagFilter
	log        *slog.Logger
}

func NewZone(sh *shard.Shard, res *Residency, out Outbound, reg *protocol.Registry, radius float64, recipients spatial.TagFilter, logger *slog.Logger) *Zone {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Zone{
		shard:      sh,
		res:        res,
		out:        out,
		reg:        reg,
		radius:     radius,
		recipients: recipients,
		log:        logger.With("zone", sh.Zone()),
	}
}

func (z *Zone) Handle(ctx context.Context, env location.Envelope) {
	msg, err := protocol.DecodeMessage(env.Packet)
	if err != nil {
		z.log.Warn("zone: bad packet", "session", env.From, "err", err)
		return
	}
	session := env.From

	switch m := msg.(type) {
	case protocol.SetVelocity:
		err = z.shard.SetVelocity(session, m.Object, m.Velocity)
	case protocol.SetAcceleration:
		err = z.shard.SetAcceleration(session, m.Object, m.Acceleration)
	case protocol.Spawn:
		if m.Object == 0 || m.Object >= AvatarIDBase {
			z.reject(ctx, session, env.Packet.ID, protocol.ErrCodeMalformedPacket)
			return
		}
		err = z.shard.Spawn(body.Object{
			ID:      m.Object,
			Session: session,
			Pos:     m.Pos,
			Tags:    m.Tags,
			Radius:  float64(m.Radius),
		})
	case protocol.Despawn:
		err = z.shard.Despawn(session, m.Object)
	case protocol.Chat:
		z.chat(ctx, session, m)
	default:
		z.log.Debug("zone: ignored packet", "packet", env.Packet.ID)
	}
	if err != nil {
		z.log.Warn("zone: command dropped", "session", session, "packet_name", z.reg.Name(env.Packet.ID), "err", err)
		z.reject(ctx, session, env.Packet.ID, protocol.ErrCodeMailboxFull)
	}
}

// chat relays text to every session with an object within the notification
// radius of the sender's avatar, the sender included. It reads the last
// published tick; a sender whose avatar has not been simulated yet is silent.
func (z *Zone) chat(ctx context.Context, session string, m protocol.Chat) {
	avatar, ok := z.res.Avatar(session)
	if !ok {
		return
	}
	last := z.shard.Last()
	if last == nil {
		return
	}
	i, ok := last.Snapshot.IndexOf(avatar)
	if !ok {
		return
	}
	note := protocol.ChatNotify{From: avatar, Channel: m.Channel, Text: m.Text}
	pkt := protocol.ToPacket(note)
	raw, err := z.reg.Encode(pkt)
	if err != nil {
		z.log.Warn("chat: encode", "session", session, "err", err)
		return
	}

	snap := last.Snapshot
	seen := map[string]struct{}{}
	for _, h := range last.View.Within(snap.Position(i), z.radius, z.recipients) {
		to := snap.Session[h.Index]
		if to == "" {
			continue
		}
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		z.out.Notify(ctx, pkt, raw, dispatch.CallerContext{SessionID: to})
	}
}

func (z *Zone) reject(ctx context.Context, session string, id uint16, code string) {
	if session == "" {
		return
	}
	z.out.Send(ctx, protocol.RouteRejected{Packet: id, Code: protocol.WireCode(code)}, dispatch.CallerContext{SessionID: session})
}
