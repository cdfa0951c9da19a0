package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
)

// Poster delivers an envelope to an address without waiting for it to be
// handled.
type Poster interface {
	Post(addr location.Address, env location.Envelope) error
}

// Result is the outcome of one dispatch. Err is nil when the packet was
// handed to the target's mailbox.
type Result struct {
	PacketID uint16
	Target   Target
	Addr     location.Address
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }

// Code returns the error code of a failed dispatch, "" on success.
func (r Result) Code() string { return ErrorCode(r.Err) }

type Stats struct {
	Decoded        uint64
	Delivered      uint64
	DecodeErrors   uint64
	RouteErrors    uint64
	LocationErrors uint64
	Rejections     uint64
}

// Dispatcher runs decode, route resolution and location lookup on the
// caller's goroutine and hands the packet to the target's mailbox. It keeps no
// per-call state; only counters are shared.
type Dispatcher struct {
	reg      *protocol.Registry
	router   *Router
	resolver *location.Resolver
	poster   Poster
	log      *slog.Logger

	// NotifyRejections sends RouteRejected back to the sending session when
	// one of its packets cannot be dispatched.
	NotifyRejections bool

	decoded        atomic.Uint64
	delivered      atomic.Uint64
	decodeErrors   atomic.Uint64
	routeErrors    atomic.Uint64
	locationErrors atomic.Uint64
	rejections     atomic.Uint64
}

func New(reg *protocol.Registry, resolver *location.Resolver, poster Poster, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		reg:              reg,
		router:           NewRouter(reg),
		resolver:         resolver,
		poster:           poster,
		log:              logger,
		NotifyRejections: true,
	}
}

func (d *Dispatcher) Registry() *protocol.Registry { return d.reg }
func (d *Dispatcher) Router() *Router              { return d.router }

// DecodeAndDispatch is the inbound entry point for transports. Failures are
// logged and returned; none of them is fatal to the caller's connection.
func (d *Dispatcher) DecodeAndDispatch(ctx context.Context, raw []byte, cc CallerContext) Result {
	p, err := d.reg.Decode(raw)
	if err != nil {
		d.decodeErrors.Add(1)
		id, _ := protocol.PeekID(raw)
		d.warn("decode failed", id, cc, err)
		d.reject(ctx, id, cc, err)
		return Result{PacketID: id, Err: err}
	}
	d.decoded.Add(1)
	res := d.Route(ctx, p, cc)
	if res.Err != nil {
		d.reject(ctx, p.ID, cc, res.Err)
	}
	return res
}

// Route resolves and delivers an already decoded packet. Notifications use it
// directly with CallerContext.SessionID set to the recipient.
func (d *Dispatcher) Route(ctx context.Context, p protocol.Packet, cc CallerContext) Result {
	return d.route(ctx, p, nil, cc, true)
}

// RouteEncoded is Route for a packet whose wire form is already known, so a
// fan-out encodes once.
func (d *Dispatcher) RouteEncoded(ctx context.Context, p protocol.Packet, raw []byte, cc CallerContext) Result {
	return d.route(ctx, p, raw, cc, true)
}

// Notify is RouteEncoded without location retry. A recipient that is not
// registered right now is dropped at once; the tick and zone loops that fan
// out notifications must not sleep on one missing session.
func (d *Dispatcher) Notify(ctx context.Context, p protocol.Packet, raw []byte, cc CallerContext) Result {
	return d.route(ctx, p, raw, cc, false)
}

func (d *Dispatcher) route(ctx context.Context, p protocol.Packet, raw []byte, cc CallerContext, retry bool) Result {
	res := Result{PacketID: p.ID}
	desc, _ := d.reg.Lookup(p.ID)
	t, err := d.router.ResolveTarget(desc, p, cc)
	if err != nil {
		d.routeErrors.Add(1)
		d.warn("route failed", p.ID, cc, err)
		res.Err = err
		return res
	}
	res.Target = t

	key := t.Key()
	var addr location.Address
	if retry {
		addr, err = d.resolver.Resolve(ctx, key)
	} else {
		addr, err = d.resolver.Lookup(ctx, key)
	}
	if err == nil {
		err = d.poster.Post(addr, location.Envelope{Key: key, Packet: p, Raw: raw, From: cc.SessionID})
	}
	if err != nil {
		d.locationErrors.Add(1)
		if !retry && errors.Is(err, location.ErrNotFound) {
			// recipients leave between ticks; not worth a warning each time
			d.log.Debug("notify target gone", "packet", p.ID, "key", string(key))
			res.Err = err
			return res
		}
		d.warn("delivery failed", p.ID, cc, err, "key", string(key))
		res.Err = err
		return res
	}
	d.delivered.Add(1)
	res.Addr = addr
	return res
}

// Send routes a typed message. Packets stay decoded inside the node; the
// session owning the connection encodes them.
func (d *Dispatcher) Send(ctx context.Context, m protocol.Message, cc CallerContext) Result {
	return d.Route(ctx, protocol.ToPacket(m), cc)
}

func (d *Dispatcher) reject(ctx context.Context, id uint16, cc CallerContext, cause error) {
	if !d.NotifyRejections || cc.SessionID == "" || id == protocol.IDRouteRejected {
		return
	}
	code := protocol.WireCode(ErrorCode(cause))
	if code == 0 {
		return
	}
	d.rejections.Add(1)
	msg := protocol.RouteRejected{Packet: id, Code: code}
	res := d.Route(ctx, protocol.ToPacket(msg), CallerContext{SessionID: cc.SessionID})
	if res.Err != nil {
		d.log.Debug("route rejected notice not delivered", "session", cc.SessionID, "err", res.Err)
	}
}

func (d *Dispatcher) warn(msg string, id uint16, cc CallerContext, err error, extra ...any) {
	args := []any{
		"packet", id,
		"packet_name", d.reg.Name(id),
		"code", ErrorCode(err),
		"reason", err.Error(),
		"session", cc.SessionID,
	}
	d.log.Warn(msg, append(args, extra...)...)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Decoded:        d.decoded.Load(),
		Delivered:      d.delivered.Load(),
		DecodeErrors:   d.decodeErrors.Load(),
		RouteErrors:    d.routeErrors.Load(),
		LocationErrors: d.locationErrors.Load(),
		Rejections:     d.rejections.Load(),
	}
}

// ErrorCode extracts the E_* code carried by errors of this core.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		return de.Code
	}
	var re *RouteError
	if errors.As(err, &re) {
		return re.Code
	}
	var le *location.LocationError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
