package actors

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
)

// Session is the handler behind "session/<id>". It turns envelopes into wire
// frames on Out; the transport owning the connection drains it.
type Session struct {
	ID string

	reg  *protocol.Registry
	log  *slog.Logger
	addr location.Address

	out  chan []byte
	done chan struct{}
	once sync.Once

	name    atomic.Pointer[string]
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewSession(id string, reg *protocol.Registry, outSize int, logger *slog.Logger) *Session {
	if outSize <= 0 {
		outSize = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		ID:   id,
		reg:  reg,
		log:  logger.With("session", id),
		out:  make(chan []byte, outSize),
		done: make(chan struct{}),
	}
}

// Handle writes the envelope's frame to Out. A full outbound queue drops the
// frame: the mailbox must never block on a slow client.
func (s *Session) Handle(_ context.Context, env location.Envelope) {
	select {
	case <-s.done:
		return
	default:
	}
	frame := env.Raw
	if frame == nil {
		b, err := s.reg.Encode(env.Packet)
		if err != nil {
			s.log.Warn("encode outbound", "packet_name", s.reg.Name(env.Packet.ID), "err", err)
			return
		}
		frame = b
	}
	select {
	case s.out <- frame:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
		s.log.Debug("outbound queue full", "packet_name", s.reg.Name(env.Packet.ID))
	}
}

// Out carries encoded frames. Frames may be shared with other sessions and
// must not be modified.
func (s *Session) Out() <-chan []byte { return s.out }

// Done is closed when the session was kicked (Logout, bad Hello, shutdown).
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Kick() { s.once.Do(func() { close(s.done) }) }

func (s *Session) Name() string {
	if p := s.name.Load(); p != nil {
		return *p
	}
	return ""
}

func (s *Session) setName(n string) { s.name.Store(&n) }

func (s *Session) Stats() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

// Sessions is the node-local table of connected sessions.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*Session
}

func NewSessions() *Sessions { return &Sessions{m: map[string]*Session{}} }

func (t *Sessions) Add(s *Session) {
	t.mu.Lock()
	t.m[s.ID] = s
	t.mu.Unlock()
}

func (t *Sessions) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.m[id]
	return s, ok
}

func (t *Sessions) Remove(id string) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

func (t *Sessions) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Each calls fn for every session; fn must not call back into t.
func (t *Sessions) Each(fn func(*Session)) {
	t.mu.RLock()
	all := make([]*Session, 0, len(t.m))
	for _, s := range t.m {
		all = append(all, s)
	}
	t.mu.RUnlock()
	for _, s := range all {
		fn(s)
	}
}
