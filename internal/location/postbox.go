package location

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"meshworld.ai/internal/protocol"
)

// Envelope is one delivered message: the decoded packet, the logical key it
// was routed to, and the sending session (empty for server traffic). Raw, when
// set, is the packet already encoded and shared by every recipient of a
// fan-out; it must not be modified.
type Envelope struct {
	Key    Key
	Packet protocol.Packet
	Raw    []byte
	From   string
}

// Handler processes envelopes for one actor. Calls for a given handler are
// serialized by its mailbox.
type Handler interface {
	Handle(ctx context.Context, env Envelope)
}

type HandlerFunc func(ctx context.Context, env Envelope)

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) { f(ctx, env) }

// Postbox hosts the mailboxes of one node. Post never blocks: a full mailbox
// drops the envelope and reports MailboxFull.
type Postbox struct {
	node string
	dir  Directory
	size int
	log  *slog.Logger

	mu    sync.RWMutex
	boxes map[string]*mailbox

	wg      sync.WaitGroup
	posted  atomic.Uint64
	dropped atomic.Uint64
}

type mailbox struct {
	key  Key
	addr Address
	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func NewPostbox(node string, dir Directory, mailboxSize int, logger *slog.Logger) *Postbox {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Postbox{
		node:  node,
		dir:   dir,
		size:  mailboxSize,
		log:   logger,
		boxes: map[string]*mailbox{},
	}
}

func (p *Postbox) Node() string { return p.node }

// Spawn starts a mailbox goroutine for h and registers k -> address in the
// directory. The goroutine exits when ctx is done or the address is stopped.
func (p *Postbox) Spawn(ctx context.Context, k Key, h Handler) (Address, error) {
	mb := &mailbox{
		key:  k,
		addr: NewAddress(p.node),
		ch:   make(chan Envelope, p.size),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	p.boxes[mb.addr.Mailbox] = mb
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, mb, h)
	}()

	if err := p.dir.Register(ctx, k, mb.addr); err != nil {
		p.remove(mb)
		return Address{}, fmt.Errorf("register %s: %w", k, err)
	}
	return mb.addr, nil
}

func (p *Postbox) run(ctx context.Context, mb *mailbox, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.done:
			return
		case env := <-mb.ch:
			p.handle(ctx, mb, h, env)
		}
	}
}

func (p *Postbox) handle(ctx context.Context, mb *mailbox, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", "key", string(mb.key), "packet", env.Packet.ID, "panic", fmt.Sprint(r))
		}
	}()
	h.Handle(ctx, env)
}

// Post enqueues env for addr without waiting for it to be handled.
func (p *Postbox) Post(addr Address, env Envelope) error {
	if addr.Node != p.node {
		return &LocationError{Code: CodeUnreachable, Addr: addr, Reason: "no route to node " + addr.Node}
	}
	p.mu.RLock()
	mb := p.boxes[addr.Mailbox]
	p.mu.RUnlock()
	if mb == nil {
		return &LocationError{Code: CodeNotFound, Addr: addr, Reason: "mailbox stopped"}
	}
	select {
	case mb.ch <- env:
		p.posted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return &LocationError{Code: CodeMailboxFull, Key: mb.key, Reason: fmt.Sprintf("capacity %d", p.size)}
	}
}

// Stop unregisters the actor at addr and ends its mailbox goroutine. Envelopes
// still queued are discarded.
func (p *Postbox) Stop(ctx context.Context, addr Address) error {
	p.mu.RLock()
	mb := p.boxes[addr.Mailbox]
	p.mu.RUnlock()
	if mb == nil {
		return nil
	}
	p.remove(mb)
	return p.dir.Unregister(ctx, mb.key)
}

func (p *Postbox) remove(mb *mailbox) {
	p.mu.Lock()
	delete(p.boxes, mb.addr.Mailbox)
	p.mu.Unlock()
	mb.once.Do(func() { close(mb.done) })
}

// Close stops every mailbox and waits for their goroutines.
func (p *Postbox) Close() {
	p.mu.Lock()
	boxes := make([]*mailbox, 0, len(p.boxes))
	for _, mb := range p.boxes {
		boxes = append(boxes, mb)
	}
	p.mu.Unlock()
	for _, mb := range boxes {
		p.remove(mb)
	}
	p.wg.Wait()
}

func (p *Postbox) Stats() (posted, dropped uint64) {
	return p.posted.Load(), p.dropped.Load()
}

func (p *Postbox) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.boxes)
}
