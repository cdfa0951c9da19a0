// Package actors hosts the reference handlers behind the dispatcher: one
// Session per connection, a Zone per shard, the World and the Gateway. Node
// wires them to a postbox, a directory and the simulation.
package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meshworld.ai/internal/dispatch"
	"meshworld.ai/internal/location"
	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/protocol"
	"meshworld.ai/internal/sim/notify"
	"meshworld.ai/internal/sim/shard"
	"meshworld.ai/internal/sim/spatial"
)

type ZoneOptions struct {
	ID           uint32
	Name         string
	CapacityHint int
}

type Options struct {
	NodeID  string
	WorldID string
	Zones   []ZoneOptions

	TickPeriod time.Duration
	// DT overrides the integration step; zero means TickPeriod in seconds.
	DT        float64
	InboxSize int

	NotifyRadius  float64
	Epsilon       float64
	DefaultRadius float64
	Recipients    spatial.TagFilter
	SpawnPoint    mathx.Vec3

	MailboxSize  int
	OutboundSize int
	Retry        location.RetryPolicy
	// Directory defaults to a LocalDirectory.
	Directory location.Directory
	TickLog   shard.TickLogger

	Logger *slog.Logger
}

// Node is one process worth of actors.
type Node struct {
	opts Options
	log  *slog.Logger

	Registry   *protocol.Registry
	Directory  location.Directory
	Postbox    *location.Postbox
	Dispatcher *dispatch.Dispatcher
	Residency  *Residency
	Pipeline   *notify.Pipeline

	sessions *Sessions
	shards   map[uint32]*shard.Shard
	zoneIDs  []uint32
}

func NewNode(ctx context.Context, opts Options) (*Node, error) {
	if len(opts.Zones) == 0 {
		return nil, errors.New("node: no zones configured")
	}
	if opts.NodeID == "" {
		opts.NodeID = "node"
	}
	if opts.WorldID == "" {
		opts.WorldID = "default"
	}
	if opts.NotifyRadius <= 0 {
		opts.NotifyRadius = 32
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = location.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Directory == nil {
		opts.Directory = location.NewLocalDirectory()
	}
	logger := opts.Logger.With("node", opts.NodeID)

	n := &Node{
		opts:      opts,
		log:       logger,
		Registry:  protocol.Default(),
		Directory: opts.Directory,
		Residency: NewResidency(),
		sessions:  NewSessions(),
		shards:    map[uint32]*shard.Shard{},
	}
	n.Postbox = location.NewPostbox(opts.NodeID, opts.Directory, opts.MailboxSize, logger.With("component", "postbox"))
	n.Dispatcher = dispatch.New(n.Registry, location.NewResolver(opts.Directory, opts.Retry), n.Postbox, logger.With("component", "dispatch"))
	n.Pipeline = notify.New(notify.Config{
		Radius:     opts.NotifyRadius,
		Epsilon:    opts.Epsilon,
		Recipients: opts.Recipients,
	}, n.Registry, n.Dispatcher, logger.With("component", "notify"))

	for _, z := range opts.Zones {
		if _, dup := n.shards[z.ID]; dup {
			n.Postbox.Close()
			return nil, fmt.Errorf("node: duplicate zone %d", z.ID)
		}
		sh := shard.New(shard.Config{
			Zone:          z.ID,
			TickPeriod:    opts.TickPeriod,
			DT:            opts.DT,
			CapacityHint:  z.CapacityHint,
			InboxSize:     opts.InboxSize,
			DefaultRadius: opts.DefaultRadius,
		}, n.Pipeline, logger.With("component", "shard"))
		if opts.TickLog != nil {
			sh.SetTickLogger(opts.TickLog)
		}
		n.shards[z.ID] = sh
		n.zoneIDs = append(n.zoneIDs, z.ID)
	}
	sort.Slice(n.zoneIDs, func(i, j int) bool { return n.zoneIDs[i] < n.zoneIDs[j] })

	logger = logger.With("component", "actors")
	n.log = logger
	spawn := func(k location.Key, h location.Handler) error {
		if _, err := n.Postbox.Spawn(ctx, k, h); err != nil {
			n.Postbox.Close()
			return err
		}
		return nil
	}
	for _, id := range n.zoneIDs {
		h := NewZone(n.shards[id], n.Residency, n.Dispatcher, n.Registry, opts.NotifyRadius, opts.Recipients, logger)
		if err := spawn(location.ZoneKey(id), h); err != nil {
			return nil, err
		}
	}
	world := NewWorld(n.shards, n.Residency, n.Dispatcher, logger)
	world.spawnAt = opts.SpawnPoint
	if err := spawn(location.WorldKey(opts.WorldID), world); err != nil {
		return nil, err
	}
	gw := NewGateway(n.Dispatcher, n.sessions, n.ServerTick, logger)
	if err := spawn(location.GatewayKey(opts.NodeID), gw); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) ID() string      { return n.opts.NodeID }
func (n *Node) WorldID() string { return n.opts.WorldID }

// Zones returns the configured zone ids in ascending order.
func (n *Node) Zones() []uint32 { return append([]uint32(nil), n.zoneIDs...) }

func (n *Node) Shard(zone uint32) (*shard.Shard, bool) {
	sh, ok := n.shards[zone]
	return sh, ok
}

// Run ticks every shard on its own goroutine until ctx is done. It returns the
// first error other than cancellation.
func (n *Node) Run(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	for _, id := range n.zoneIDs {
		sh := n.shards[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sh.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			mu.Lock()
			if first == nil {
				first = fmt.Errorf("zone %d: %w", sh.Zone(), err)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return first
}

// CallerContext is the dispatch context for packets arriving from session.
func (n *Node) CallerContext(session string) dispatch.CallerContext {
	return dispatch.CallerContext{
		SessionID: session,
		GatewayID: n.opts.NodeID,
		WorldID:   n.opts.WorldID,
		Zones:     n.Residency,
	}
}

// Connect registers a new session actor and returns it.
func (n *Node) Connect(ctx context.Context) (*Session, error) {
	s := NewSession(uuid.NewString(), n.Registry, n.opts.OutboundSize, n.log)
	addr, err := n.Postbox.Spawn(ctx, location.SessionKey(s.ID), s)
	if err != nil {
		return nil, err
	}
	s.addr = addr
	n.sessions.Add(s)
	n.log.Info("session connected", "session", s.ID)
	return s, nil
}

// Disconnect ends s: its avatar leaves the world and its mailbox is stopped.
func (n *Node) Disconnect(ctx context.Context, s *Session) {
	s.Kick()
	n.sessions.Remove(s.ID)
	if res := n.Dispatcher.Send(ctx, protocol.LeaveZone{}, n.CallerContext(s.ID)); !res.OK() {
		n.log.Warn("disconnect: leave zone", "session", s.ID, "err", res.Err)
	}
	if err := n.Postbox.Stop(ctx, s.addr); err != nil {
		n.log.Warn("disconnect: stop mailbox", "session", s.ID, "err", err)
	}
	sent, dropped := s.Stats()
	n.log.Info("session disconnected", "session", s.ID, "name", s.Name(), "sent", sent, "dropped", dropped)
}

func (n *Node) Session(id string) (*Session, bool) { return n.sessions.Get(id) }

func (n *Node) SessionCount() int { return n.sessions.Len() }

// ServerTick is the tick of the session's zone, or the highest zone tick for a
// session not in any zone.
func (n *Node) ServerTick(session string) uint64 {
	if zone, ok := n.Residency.ZoneOf(session); ok {
		if sh, ok := n.shards[zone]; ok {
			return sh.CurrentTick()
		}
	}
	var hi uint64
	for _, sh := range n.shards {
		if t := sh.CurrentTick(); t > hi {
			hi = t
		}
	}
	return hi
}

// Close kicks every session, stops the shards and all mailboxes.
func (n *Node) Close() {
	n.sessions.Each(func(s *Session) { s.Kick() })
	for _, sh := range n.shards {
		sh.Stop()
	}
	n.Postbox.Close()
}
