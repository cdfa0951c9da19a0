package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "bot name prefix")
		count    = flag.Int("n", 1, "number of bots")
		zone     = flag.Uint("zone", 1, "zone to join")
		interval = flag.Duration("interval", time.Second, "steering interval")
		speed    = flag.Float64("speed", 2, "max speed in units/s")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var st stats
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		b := &bot{
			name:     fmt.Sprintf("%s-%d", *name, i),
			zone:     uint32(*zone),
			interval: *interval,
			speed:    *speed,
			reg:      protocol.Default(),
			rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
			log:      logger.With("bot", i),
			stats:    &st,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx, *url); err != nil && ctx.Err() == nil {
				b.log.Error("bot stopped", "err", err)
			}
		}()
	}

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			st.report(logger)
			return
		case <-t.C:
			st.report(logger)
		}
	}
}

type stats struct {
	moves      atomic.Uint64
	collisions atomic.Uint64
	chats      atomic.Uint64
	rejected   atomic.Uint64
	pongs      atomic.Uint64
}

func (s *stats) report(logger *slog.Logger) {
	logger.Info("bot stats",
		"move_notify", s.moves.Load(),
		"collision_notify", s.collisions.Load(),
		"chat_notify", s.chats.Load(),
		"route_rejected", s.rejected.Load(),
		"pong", s.pongs.Load(),
	)
}

type bot struct {
	name     string
	zone     uint32
	interval time.Duration
	speed    float64
	reg      *protocol.Registry
	rng      *rand.Rand
	log      *slog.Logger
	stats    *stats

	avatar atomic.Uint64
}

func (b *bot) run(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var wmu sync.Mutex
	send := func(m protocol.Message) error {
		raw, err := b.reg.EncodeMessage(m)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.BinaryMessage, raw)
	}

	if err := send(protocol.Hello{Name: b.name, Protocol: protocol.Version}); err != nil {
		return fmt.Errorf("send Hello: %w", err)
	}
	if err := send(protocol.JoinZone{Zone: b.zone}); err != nil {
		return fmt.Errorf("send JoinZone: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = send(protocol.Logout{})
		_ = conn.Close()
	}()
	go b.steer(ctx, send)

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		p, err := b.reg.Decode(raw)
		if err != nil {
			b.log.Warn("bad frame", "err", err)
			continue
		}
		m, err := protocol.DecodeMessage(p)
		if err != nil {
			continue
		}
		switch m := m.(type) {
		case protocol.ZoneJoined:
			b.avatar.Store(m.Object)
			b.log.Info("joined", "zone", m.Zone, "avatar", m.Object, "pos", m.Pos)
		case protocol.MoveNotify:
			b.stats.moves.Add(1)
		case protocol.CollisionNotify:
			b.stats.collisions.Add(1)
		case protocol.ChatNotify:
			b.stats.chats.Add(1)
		case protocol.Pong:
			b.stats.pongs.Add(1)
		case protocol.RouteRejected:
			b.stats.rejected.Add(1)
			b.log.Warn("rejected", "packet", b.reg.Name(m.Packet), "code", protocol.CodeFromWire(m.Code))
		}
	}
}

// steer picks a new random velocity every interval and occasionally chats.
func (b *bot) steer(ctx context.Context, send func(protocol.Message) error) {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n++
		id := b.avatar.Load()
		if id == 0 {
			continue
		}
		v := mathx.V3(b.rng.Float64()*2-1, 0, b.rng.Float64()*2-1).Scale(b.speed)
		if err := send(protocol.SetVelocity{Object: id, Velocity: v}); err != nil {
			return
		}
		if n%10 == 0 {
			_ = send(protocol.Chat{Channel: 0, Text: []byte(fmt.Sprintf("%s says hi (%d)", b.name, n))})
		}
		if n%5 == 0 {
			_ = send(protocol.Ping{Nonce: n})
		}
	}
}
