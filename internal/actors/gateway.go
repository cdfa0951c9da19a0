package actors

import (
	"context"
	"io"
	"log/slog"

	"meshworld.ai/internal/dispatch"
	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
)

// Outbound is what handlers need from the dispatcher to answer sessions.
type Outbound interface {
	Send(ctx context.Context, m protocol.Message, cc dispatch.CallerContext) dispatch.Result
	Notify(ctx context.Context, p protocol.Packet, raw []byte, cc dispatch.CallerContext) dispatch.Result
}

// TickSource reports the server tick a session should see.
type TickSource func(session string) uint64

// Gateway handles connection-level packets: Hello, Ping and Logout.
type Gateway struct {
	out      Outbound
	sessions *Sessions
	tick     TickSource
	log      *slog.Logger
}

func NewGateway(out Outbound, sessions *Sessions, tick TickSource, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tick == nil {
		tick = func(string) uint64 { return 0 }
	}
	return &Gateway{out: out, sessions: sessions, tick: tick, log: logger}
}

func (g *Gateway) Handle(ctx context.Context, env location.Envelope) {
	if env.From == "" {
		return
	}
	msg, err := protocol.DecodeMessage(env.Packet)
	if err != nil {
		g.log.Warn("gateway: bad packet", "session", env.From, "err", err)
		return
	}
	s, _ := g.sessions.Get(env.From)
	reply := dispatch.CallerContext{SessionID: env.From}

	switch m := msg.(type) {
	case protocol.Hello:
		if m.Protocol != protocol.Version {
			g.log.Warn("hello: protocol mismatch", "session", env.From, "got", m.Protocol, "want", protocol.Version)
			g.out.Send(ctx, protocol.RouteRejected{Packet: protocol.IDHello, Code: protocol.WireCode(protocol.ErrCodeMalformedPacket)}, reply)
			if s != nil {
				s.Kick()
			}
			return
		}
		if s != nil {
			s.setName(m.Name)
		}
		g.log.Info("hello", "session", env.From, "name", m.Name)
		// Pong with nonce 0 acknowledges the handshake.
		g.out.Send(ctx, protocol.Pong{Nonce: 0, ServerTick: g.tick(env.From)}, reply)
	case protocol.Ping:
		g.out.Send(ctx, protocol.Pong{Nonce: m.Nonce, ServerTick: g.tick(env.From)}, reply)
	case protocol.Logout:
		g.log.Info("logout", "session", env.From, "reason", m.Reason)
		if s != nil {
			s.Kick()
		}
	default:
		g.log.Debug("gateway: ignored packet", "packet", env.Packet.ID)
	}
}
