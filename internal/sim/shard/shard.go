// Package shard runs the fixed-tick kinematics of one zone.
package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/sim/body"
	"meshworld.ai/internal/sim/spatial"
)

var ErrInboxFull = errors.New("shard inbox full")

type Config struct {
	Zone       uint32
	TickPeriod time.Duration
	// DT is the integration step in seconds. Zero means TickPeriod.
	DT            float64
	CapacityHint  int
	InboxSize     int
	DefaultRadius float64
}

func (c *Config) applyDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = 100 * time.Millisecond
	}
	if c.DT <= 0 {
		c.DT = c.TickPeriod.Seconds()
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 4096
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = 0.5
	}
}

// TickOutput is everything one tick produced. The snapshot and view are
// read-only and belong to that tick.
type TickOutput struct {
	Snapshot          *body.Snapshot
	View              *spatial.View
	Collisions        []spatial.Pair
	CollisionsSkipped bool
}

// Publisher consumes each tick's output on the tick goroutine and returns the
// ids whose last-broadcast position should be advanced to the current one.
type Publisher interface {
	Publish(ctx context.Context, out *TickOutput) []uint64
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Zone       uint32  `json:"zone"`
	Tick       uint64  `json:"tick"`
	Objects    int     `json:"objects"`
	Commands   int     `json:"commands"`
	Advanced   int     `json:"advanced"`
	Collisions int     `json:"collisions"`
	Skipped    bool    `json:"collisions_skipped,omitempty"`
	StepMS     float64 `json:"step_ms"`
}

type State int32

const (
	Idle State = iota
	Ticking
)

func (s State) String() string {
	if s == Ticking {
		return "ticking"
	}
	return "idle"
}

type cmdKind uint8

const (
	cmdSpawn cmdKind = iota + 1
	cmdDespawn
	cmdSetVelocity
	cmdSetAcceleration
	cmdDespawnSession
)

type command struct {
	kind    cmdKind
	session string // issuing session; empty for server commands
	obj     body.Object
	id      uint64
	vec     mathx.Vec3
}

// Shard owns the objects of one zone. Only its tick goroutine mutates them;
// every external mutation goes through the command inbox and takes effect at
// the next tick boundary.
type Shard struct {
	cfg     Config
	log     *slog.Logger
	pub     Publisher
	tickLog TickLogger

	inbox chan command
	stop  chan struct{}
	once  sync.Once

	stepMu sync.Mutex
	state  *body.Snapshot

	tick     atomic.Uint64
	status   atomic.Int32
	paused   atomic.Bool
	overruns atomic.Uint64
	panics   atomic.Uint64

	last    atomic.Pointer[TickOutput]
	metrics atomic.Value
}

func New(cfg Config, pub Publisher, logger *slog.Logger) *Shard {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Shard{
		cfg:   cfg,
		log:   logger.With("zone", cfg.Zone),
		pub:   pub,
		inbox: make(chan command, cfg.InboxSize),
		stop:  make(chan struct{}),
		state: body.NewSnapshot(cfg.Zone, cfg.CapacityHint),
	}
	s.metrics.Store(Metrics{Zone: cfg.Zone})
	return s
}

func (s *Shard) Zone() uint32               { return s.cfg.Zone }
func (s *Shard) TickPeriod() time.Duration  { return s.cfg.TickPeriod }
func (s *Shard) SetTickLogger(l TickLogger) { s.tickLog = l }
func (s *Shard) CurrentTick() uint64        { return s.tick.Load() }
func (s *Shard) State() State               { return State(s.status.Load()) }

// Last returns the most recent tick output, nil before the first tick.
func (s *Shard) Last() *TickOutput { return s.last.Load() }

func (s *Shard) enqueue(c command) error {
	select {
	case s.inbox <- c:
		return nil
	default:
		return fmt.Errorf("zone %d: %w", s.cfg.Zone, ErrInboxFull)
	}
}

// Spawn adds o to the zone at the next tick boundary.
func (s *Shard) Spawn(o body.Object) error {
	return s.enqueue(command{kind: cmdSpawn, session: o.Session, obj: o, id: o.ID})
}

// Despawn removes an object. A non-empty session must own it.
func (s *Shard) Despawn(session string, id uint64) error {
	return s.enqueue(command{kind: cmdDespawn, session: session, id: id})
}

// DespawnSession removes every object owned by session.
func (s *Shard) DespawnSession(session string) error {
	return s.enqueue(command{kind: cmdDespawnSession, session: session})
}

func (s *Shard) SetVelocity(session string, id uint64, v mathx.Vec3) error {
	return s.enqueue(command{kind: cmdSetVelocity, session: session, id: id, vec: v})
}

func (s *Shard) SetAcceleration(session string, id uint64, a mathx.Vec3) error {
	return s.enqueue(command{kind: cmdSetAcceleration, session: session, id: id, vec: a})
}
