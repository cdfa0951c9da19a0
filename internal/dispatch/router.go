package dispatch

import (
	"errors"
	"fmt"

	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
)

const (
	CodeMissingContext    = protocol.ErrCodeMissingContext
	CodeUnknownTargetKind = protocol.ErrCodeUnknownTargetKind
)

var (
	ErrMissingContext    = errors.New("missing dispatch context")
	ErrUnknownTargetKind = errors.New("unknown target kind")
)

type RouteError struct {
	Code     string
	PacketID uint16
	Kind     protocol.TargetKind
	Reason   string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: packet 0x%04x (%s): %s", e.Code, e.PacketID, e.Kind, e.Reason)
}

func (e *RouteError) Is(target error) bool {
	switch e.Code {
	case CodeMissingContext:
		return target == ErrMissingContext
	case CodeUnknownTargetKind:
		return target == ErrUnknownTargetKind
	}
	return false
}

// ZoneLookup answers which zone a session currently resides in. The router
// only reads it.
type ZoneLookup interface {
	ZoneOf(sessionID string) (uint32, bool)
}

// CallerContext is the runtime information available where a packet enters
// (or leaves) the core. For outbound notifications SessionID is the recipient.
type CallerContext struct {
	SessionID string
	GatewayID string
	WorldID   string
	Zones     ZoneLookup
}

// Target is a concrete logical recipient. It is built per call and never
// stored.
type Target struct {
	Kind      protocol.TargetKind
	SessionID string
	ZoneID    uint32
	WorldID   string
	GatewayID string
}

func (t Target) Key() location.Key {
	switch t.Kind {
	case protocol.TargetSession:
		return location.SessionKey(t.SessionID)
	case protocol.TargetZone:
		return location.ZoneKey(t.ZoneID)
	case protocol.TargetWorld:
		return location.WorldKey(t.WorldID)
	case protocol.TargetGateway:
		return location.GatewayKey(t.GatewayID)
	}
	return ""
}

// Router maps packet ids to their static target kind. The table is built once
// and never written again, so ResolveTarget is safe from any goroutine.
type Router struct {
	kinds []protocol.TargetKind
}

func NewRouter(reg *protocol.Registry) *Router {
	descs := reg.Descriptors()
	maxID := 0
	for _, d := range descs {
		if int(d.ID) > maxID {
			maxID = int(d.ID)
		}
	}
	kinds := make([]protocol.TargetKind, maxID+1)
	for _, d := range descs {
		kinds[d.ID] = d.Target
	}
	return &Router{kinds: kinds}
}

// Kind is one slice index.
func (r *Router) Kind(id uint16) (protocol.TargetKind, bool) {
	if int(id) >= len(r.kinds) {
		return 0, false
	}
	k := r.kinds[id]
	return k, k.Valid()
}

func (r *Router) ResolveTarget(d *protocol.Descriptor, p protocol.Packet, cc CallerContext) (Target, error) {
	id := p.ID
	if d != nil {
		id = d.ID
	}
	kind, ok := r.Kind(id)
	if !ok {
		return Target{}, &RouteError{Code: CodeUnknownTargetKind, PacketID: id, Kind: kind, Reason: "no target kind registered"}
	}
	missing := func(what string) error {
		return &RouteError{Code: CodeMissingContext, PacketID: id, Kind: kind, Reason: what}
	}

	t := Target{Kind: kind}
	switch kind {
	case protocol.TargetSession:
		if cc.SessionID == "" {
			return Target{}, missing("no session id")
		}
		t.SessionID = cc.SessionID
	case protocol.TargetZone:
		if cc.SessionID == "" {
			return Target{}, missing("no session id")
		}
		if cc.Zones == nil {
			return Target{}, missing("no zone lookup")
		}
		zone, ok := cc.Zones.ZoneOf(cc.SessionID)
		if !ok {
			return Target{}, missing("session " + cc.SessionID + " has not joined a zone")
		}
		t.SessionID = cc.SessionID
		t.ZoneID = zone
	case protocol.TargetWorld:
		if cc.WorldID == "" {
			return Target{}, missing("no world id")
		}
		t.WorldID = cc.WorldID
		t.SessionID = cc.SessionID
	case protocol.TargetGateway:
		if cc.GatewayID == "" {
			return Target{}, missing("no gateway id")
		}
		t.GatewayID = cc.GatewayID
		t.SessionID = cc.SessionID
	}
	return t, nil
}
