package dispatch

import (
	"errors"
	"testing"

	"meshworld.ai/internal/location"
	"meshworld.ai/internal/protocol"
)

type zoneMap map[string]uint32

func (m zoneMap) ZoneOf(s string) (uint32, bool) {
	z, ok := m[s]
	return z, ok
}

func TestRouter_ResolvesEachKind(t *testing.T) {
	reg := protocol.Default()
	r := NewRouter(reg)
	cc := CallerContext{SessionID: "s1", GatewayID: "g1", WorldID: "w1", Zones: zoneMap{"s1": 4}}

	cases := []struct {
		id   uint16
		kind protocol.TargetKind
		key  location.Key
	}{
		{protocol.IDPong, protocol.TargetSession, "session/s1"},
		{protocol.IDSetVelocity, protocol.TargetZone, "zone/4"},
		{protocol.IDJoinZone, protocol.TargetWorld, "world/w1"},
		{protocol.IDPing, protocol.TargetGateway, "gateway/g1"},
	}
	for _, c := range cases {
		d, _ := reg.Lookup(c.id)
		tgt, err := r.ResolveTarget(d, protocol.Packet{ID: c.id}, cc)
		if err != nil {
			t.Fatalf("0x%04x: %v", c.id, err)
		}
		if tgt.Kind != c.kind || tgt.Key() != c.key {
			t.Fatalf("0x%04x: got %+v key=%s", c.id, tgt, tgt.Key())
		}
	}
}

func TestRouter_MissingContext(t *testing.T) {
	reg := protocol.Default()
	r := NewRouter(reg)
	d, _ := reg.Lookup(protocol.IDSetVelocity)

	ctxs := map[string]CallerContext{
		"no session":     {Zones: zoneMap{}},
		"no lookup":      {SessionID: "s1"},
		"not yet joined": {SessionID: "s1", Zones: zoneMap{"other": 1}},
	}
	for name, cc := range ctxs {
		_, err := r.ResolveTarget(d, protocol.Packet{ID: d.ID}, cc)
		if !errors.Is(err, ErrMissingContext) {
			t.Fatalf("%s: expected missing context, got %v", name, err)
		}
		if ErrorCode(err) != CodeMissingContext {
			t.Fatalf("%s: code %q", name, ErrorCode(err))
		}
	}

	dw, _ := reg.Lookup(protocol.IDJoinZone)
	if _, err := r.ResolveTarget(dw, protocol.Packet{ID: dw.ID}, CallerContext{SessionID: "s1"}); !errors.Is(err, ErrMissingContext) {
		t.Fatalf("world packet without world id: %v", err)
	}
}

func TestRouter_UnknownTargetKind(t *testing.T) {
	reg := protocol.MustRegistry(
		protocol.Descriptor{ID: 1, Name: "Good", Target: protocol.TargetSession},
		protocol.Descriptor{ID: 2, Name: "Bad", Target: protocol.TargetKind(42)},
	)
	r := NewRouter(reg)
	d, _ := reg.Lookup(2)
	if _, err := r.ResolveTarget(d, protocol.Packet{ID: 2}, CallerContext{SessionID: "s"}); !errors.Is(err, ErrUnknownTargetKind) {
		t.Fatalf("expected unknown target kind, got %v", err)
	}
	if _, err := r.ResolveTarget(nil, protocol.Packet{ID: 900}, CallerContext{SessionID: "s"}); !errors.Is(err, ErrUnknownTargetKind) {
		t.Fatalf("expected unknown target kind for unregistered id, got %v", err)
	}
}

func wideRegistry(n int) *protocol.Registry {
	descs := make([]protocol.Descriptor, 0, n)
	for i := 1; i <= n; i++ {
		descs = append(descs, protocol.Descriptor{ID: uint16(i), Name: "P", Target: protocol.TargetKind(1 + i%4)})
	}
	return protocol.MustRegistry(descs...)
}

func TestRouter_TableIsDense(t *testing.T) {
	for _, n := range []int{4, 4000} {
		r := NewRouter(wideRegistry(n))
		if len(r.kinds) != n+1 {
			t.Fatalf("n=%d: table len %d", n, len(r.kinds))
		}
		k, ok := r.Kind(uint16(n))
		if !ok || k != protocol.TargetKind(1+n%4) {
			t.Fatalf("n=%d: last kind %v %v", n, k, ok)
		}
	}
}

func benchmarkKind(b *testing.B, n int) {
	r := NewRouter(wideRegistry(n))
	id := uint16(n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Kind(id)
	}
}

func BenchmarkRouterKind_16(b *testing.B)    { benchmarkKind(b, 16) }
func BenchmarkRouterKind_16000(b *testing.B) { benchmarkKind(b, 16000) }
