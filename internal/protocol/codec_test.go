package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"meshworld.ai/internal/mathx"
)

func sampleMessages() []Message {
	return []Message{
		Hello{Name: "bob", Protocol: Version},
		Ping{Nonce: 0xdeadbeefcafe},
		Pong{Nonce: 7, ServerTick: 1200},
		Logout{Reason: 2},
		JoinZone{Zone: 3},
		LeaveZone{},
		ZoneJoined{Zone: 3, Object: 42, Pos: mathx.V3(1, -2, 3.5)},
		SetVelocity{Object: 42, Velocity: mathx.V3(0, 1, 0)},
		SetAcceleration{Object: 42, Acceleration: mathx.V3(0, 0, -9.81)},
		Spawn{Object: 43, Pos: mathx.V3(10, 0, 0), Tags: 0b101, Radius: 0.5},
		Despawn{Object: 43},
		Chat{Channel: 1, Text: []byte("hello zone")},
		MoveNotify{Object: 42, Zone: 3, Tick: 9, Pos: mathx.V3(0, 3, 0), Velocity: mathx.V3(0, 1, 0)},
		CollisionNotify{A: 1, B: 2, Tick: 9},
		ChatNotify{From: 42, Channel: 1, Text: []byte("hi")},
		RouteRejected{Packet: IDSetVelocity, Code: WireCode(ErrCodeMissingContext)},
	}
}

func TestCodec_RoundTripCatalog(t *testing.T) {
	r := Default()
	seen := map[uint16]bool{}
	for _, m := range sampleMessages() {
		b, err := r.EncodeMessage(m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		p, err := r.Decode(b)
		if err != nil {
			t.Fatalf("decode %T: %v", m, err)
		}
		got, err := DecodeMessage(p)
		if err != nil {
			t.Fatalf("typed %T: %v", m, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip mismatch: got %#v want %#v", got, m)
		}
		again, err := r.Encode(p)
		if err != nil {
			t.Fatalf("re-encode %T: %v", m, err)
		}
		if !bytes.Equal(again, b) {
			t.Fatalf("re-encode %T differs: %x vs %x", m, again, b)
		}
		seen[m.PacketID()] = true
	}
	for _, d := range r.Descriptors() {
		if !seen[d.ID] {
			t.Fatalf("catalog packet %s has no round trip sample", d.Name)
		}
	}
}

func TestCodec_HelloWireLayout(t *testing.T) {
	b, err := Default().EncodeMessage(Hello{Name: "bob", Protocol: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x01, 0x00, 'b', 'o', 'b'}
	want = append(want, make([]byte, NameWidth-3)...)
	want = append(want, 0x01, 0x00)
	if !bytes.Equal(b, want) {
		t.Fatalf("wire bytes: got %x want %x", b, want)
	}
}

func TestCodec_LittleEndianVec3(t *testing.T) {
	b, err := Default().EncodeMessage(SetVelocity{Object: 1, Velocity: mathx.V3(1, 0, 0)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// 1.0 is 0x3FF0000000000000; little-endian puts 0xF0 0x3F last.
	x := b[2+8 : 2+8+8]
	if !bytes.Equal(x, []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}) {
		t.Fatalf("x bytes: %x", x)
	}
}

func TestCodec_DecodeShortAndLong(t *testing.T) {
	r := Default()
	good, err := r.EncodeMessage(SetVelocity{Object: 5, Velocity: mathx.V3(1, 2, 3)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for n := 0; n < len(good); n++ {
		if _, err := r.Decode(good[:n]); !errors.Is(err, ErrMalformedPacket) {
			t.Fatalf("truncated to %d: expected malformed, got %v", n, err)
		}
	}
	long := append(append([]byte(nil), good...), 0xFF)
	if _, err := r.Decode(long); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("oversized: expected malformed, got %v", err)
	}
}

func TestCodec_DecodeVariableLengthTruncated(t *testing.T) {
	r := Default()
	good, err := r.EncodeMessage(Chat{Channel: 1, Text: []byte("abcdef")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for n := HeaderSize; n < len(good); n++ {
		if _, err := r.Decode(good[:n]); !errors.Is(err, ErrMalformedPacket) {
			t.Fatalf("truncated to %d: expected malformed, got %v", n, err)
		}
	}
	trailing := append(append([]byte(nil), good...), 'x')
	if _, err := r.Decode(trailing); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("trailing bytes: expected malformed, got %v", err)
	}

	// declared length above the field maximum
	bad := []byte{byte(IDChat), byte(IDChat>>8), 1, 0xFF, 0xFF}
	if _, err := r.Decode(bad); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("oversized length prefix: expected malformed, got %v", err)
	}
}

func TestCodec_UnknownPacketType(t *testing.T) {
	r := Default()
	if _, err := r.Decode([]byte{0x34, 0x12, 0, 0}); !errors.Is(err, ErrUnknownPacketType) {
		t.Fatalf("expected unknown packet type, got %v", err)
	}
	if _, err := r.Encode(Packet{ID: 0x7777}); !errors.Is(err, ErrUnknownPacketType) {
		t.Fatalf("expected unknown packet type on encode, got %v", err)
	}
	var de *DecodeError
	_, err := r.Decode([]byte{0x34, 0x12})
	if !errors.As(err, &de) || de.PacketID != 0x1234 {
		t.Fatalf("expected DecodeError carrying id, got %v", err)
	}
}

func TestCodec_FieldTooLong(t *testing.T) {
	r := Default()
	if _, err := r.EncodeMessage(Hello{Name: strings.Repeat("n", NameWidth+1)}); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected field too long for name, got %v", err)
	}
	if _, err := r.EncodeMessage(Hello{Name: strings.Repeat("n", NameWidth)}); err != nil {
		t.Fatalf("name at exact width should encode: %v", err)
	}
	if _, err := r.EncodeMessage(Chat{Text: make([]byte, MaxChatText+1)}); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected field too long for chat text, got %v", err)
	}
}

func TestCodec_EncodeRejectsWrongValues(t *testing.T) {
	r := Default()
	if _, err := r.Encode(Packet{ID: IDPing, Fields: []any{int(3)}}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected malformed for wrong go type, got %v", err)
	}
	if _, err := r.Encode(Packet{ID: IDPing}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected malformed for missing field, got %v", err)
	}
	if _, err := r.EncodeMessage(Hello{Name: "pad "}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected malformed for trailing pad byte, got %v", err)
	}
}

func TestCodec_DecodeDoesNotAlias(t *testing.T) {
	r := Default()
	b, err := r.EncodeMessage(Chat{Channel: 0, Text: []byte("abc")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := r.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b[len(b)-1] = 'z'
	if got := string(p.Fields[1].([]byte)); got != "abc" {
		t.Fatalf("decoded payload aliases input: %q", got)
	}
}

func TestCodec_EmptyBytesAndPeek(t *testing.T) {
	r := Default()
	b, err := r.EncodeMessage(Chat{Channel: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != HeaderSize+1+2 {
		t.Fatalf("unexpected length %d", len(b))
	}
	id, ok := PeekID(b)
	if !ok || id != IDChat {
		t.Fatalf("peek: %v %v", id, ok)
	}
	if _, ok := PeekID(b[:1]); ok {
		t.Fatalf("peek on one byte should fail")
	}
}

func TestDecodeMessage_WrongFieldTypes(t *testing.T) {
	if _, err := DecodeMessage(Packet{ID: IDPing, Fields: []any{"x"}}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := DecodeMessage(Packet{ID: IDPong, Fields: []any{uint64(1)}}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected malformed for missing value, got %v", err)
	}
	if _, err := DecodeMessage(Packet{ID: 0x0999}); !errors.Is(err, ErrUnknownPacketType) {
		t.Fatalf("expected unknown packet type, got %v", err)
	}
}
