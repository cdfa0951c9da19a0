package protocol

import (
	"fmt"

	"meshworld.ai/internal/mathx"
)

// Packet type ids. Client -> server ids live below 0x0100, server -> client
// notifications at 0x0100 and above.
const (
	IDHello      uint16 = 0x0001
	IDPing       uint16 = 0x0002
	IDPong       uint16 = 0x0003
	IDLogout     uint16 = 0x0004
	IDJoinZone   uint16 = 0x0010
	IDLeaveZone  uint16 = 0x0011
	IDZoneJoined uint16 = 0x0012

	IDSetVelocity     uint16 = 0x0020
	IDSetAcceleration uint16 = 0x0021
	IDSpawn           uint16 = 0x0022
	IDDespawn         uint16 = 0x0023
	IDChat            uint16 = 0x0030

	IDMoveNotify      uint16 = 0x0100
	IDCollisionNotify uint16 = 0x0101
	IDChatNotify      uint16 = 0x0102
	IDRouteRejected   uint16 = 0x01FF
)

const (
	NameWidth   = 24
	MaxChatText = 512
)

// Catalog returns the descriptors of the game protocol.
func Catalog() []Descriptor {
	return []Descriptor{
		{ID: IDHello, Name: "Hello", Target: TargetGateway, Fields: []Field{Str("name", NameWidth), U16("protocol")}},
		{ID: IDPing, Name: "Ping", Target: TargetGateway, Fields: []Field{U64("nonce")}},
		{ID: IDPong, Name: "Pong", Target: TargetSession, Fields: []Field{U64("nonce"), U64("server_tick")}},
		{ID: IDLogout, Name: "Logout", Target: TargetGateway, Fields: []Field{U8("reason")}},
		{ID: IDJoinZone, Name: "JoinZone", Target: TargetWorld, Fields: []Field{U32("zone")}},
		{ID: IDLeaveZone, Name: "LeaveZone", Target: TargetWorld},
		{ID: IDZoneJoined, Name: "ZoneJoined", Target: TargetSession, Fields: []Field{U32("zone"), U64("object"), Vec3("pos")}},

		{ID: IDSetVelocity, Name: "SetVelocity", Target: TargetZone, Fields: []Field{U64("object"), Vec3("velocity")}},
		{ID: IDSetAcceleration, Name: "SetAcceleration", Target: TargetZone, Fields: []Field{U64("object"), Vec3("acceleration")}},
		{ID: IDSpawn, Name: "Spawn", Target: TargetZone, Fields: []Field{U64("object"), Vec3("pos"), U32("tags"), F32("radius")}},
		{ID: IDDespawn, Name: "Despawn", Target: TargetZone, Fields: []Field{U64("object")}},
		{ID: IDChat, Name: "Chat", Target: TargetZone, Fields: []Field{U8("channel"), Bytes("text", MaxChatText)}},

		{ID: IDMoveNotify, Name: "MoveNotify", Target: TargetSession, Fields: []Field{U64("object"), U32("zone"), U64("tick"), Vec3("pos"), Vec3("velocity")}},
		{ID: IDCollisionNotify, Name: "CollisionNotify", Target: TargetSession, Fields: []Field{U64("a"), U64("b"), U64("tick")}},
		{ID: IDChatNotify, Name: "ChatNotify", Target: TargetSession, Fields: []Field{U64("from"), U8("channel"), Bytes("text", MaxChatText)}},
		{ID: IDRouteRejected, Name: "RouteRejected", Target: TargetSession, Fields: []Field{U16("packet"), U8("code")}},
	}
}

var defaultRegistry = MustRegistry(Catalog()...)

// Default is the registry built from Catalog at startup.
func Default() *Registry { return defaultRegistry }

// Message is a typed view of one catalog packet.
type Message interface {
	PacketID() uint16
	Values() []any
}

func ToPacket(m Message) Packet { return Packet{ID: m.PacketID(), Fields: m.Values()} }

func (r *Registry) EncodeMessage(m Message) ([]byte, error) {
	return r.Encode(ToPacket(m))
}

type Hello struct {
	Name     string
	Protocol uint16
}

type Ping struct{ Nonce uint64 }

type Pong struct {
	Nonce      uint64
	ServerTick uint64
}

type Logout struct{ Reason uint8 }

type JoinZone struct{ Zone uint32 }

type LeaveZone struct{}

type ZoneJoined struct {
	Zone   uint32
	Object uint64
	Pos    mathx.Vec3
}

type SetVelocity struct {
	Object   uint64
	Velocity mathx.Vec3
}

type SetAcceleration struct {
	Object       uint64
	Acceleration mathx.Vec3
}

type Spawn struct {
	Object uint64
	Pos    mathx.Vec3
	Tags   uint32
	Radius float32
}

type Despawn struct{ Object uint64 }

type Chat struct {
	Channel uint8
	Text    []byte
}

type MoveNotify struct {
	Object   uint64
	Zone     uint32
	Tick     uint64
	Pos      mathx.Vec3
	Velocity mathx.Vec3
}

type CollisionNotify struct {
	A, B uint64
	Tick uint64
}

type ChatNotify struct {
	From    uint64
	Channel uint8
	Text    []byte
}

type RouteRejected struct {
	Packet uint16
	Code   uint8
}

func (Hello) PacketID() uint16           { return IDHello }
func (Ping) PacketID() uint16            { return IDPing }
func (Pong) PacketID() uint16            { return IDPong }
func (Logout) PacketID() uint16          { return IDLogout }
func (JoinZone) PacketID() uint16        { return IDJoinZone }
func (LeaveZone) PacketID() uint16       { return IDLeaveZone }
func (ZoneJoined) PacketID() uint16      { return IDZoneJoined }
func (SetVelocity) PacketID() uint16     { return IDSetVelocity }
func (SetAcceleration) PacketID() uint16 { return IDSetAcceleration }
func (Spawn) PacketID() uint16           { return IDSpawn }
func (Despawn) PacketID() uint16         { return IDDespawn }
func (Chat) PacketID() uint16            { return IDChat }
func (MoveNotify) PacketID() uint16      { return IDMoveNotify }
func (CollisionNotify) PacketID() uint16 { return IDCollisionNotify }
func (ChatNotify) PacketID() uint16      { return IDChatNotify }
func (RouteRejected) PacketID() uint16   { return IDRouteRejected }

func (m Hello) Values() []any           { return []any{m.Name, m.Protocol} }
func (m Ping) Values() []any            { return []any{m.Nonce} }
func (m Pong) Values() []any            { return []any{m.Nonce, m.ServerTick} }
func (m Logout) Values() []any          { return []any{m.Reason} }
func (m JoinZone) Values() []any        { return []any{m.Zone} }
func (m LeaveZone) Values() []any       { return []any{} }
func (m ZoneJoined) Values() []any      { return []any{m.Zone, m.Object, m.Pos} }
func (m SetVelocity) Values() []any     { return []any{m.Object, m.Velocity} }
func (m SetAcceleration) Values() []any { return []any{m.Object, m.Acceleration} }
func (m Spawn) Values() []any           { return []any{m.Object, m.Pos, m.Tags, m.Radius} }
func (m Despawn) Values() []any         { return []any{m.Object} }
func (m Chat) Values() []any            { return []any{m.Channel, m.Text} }
func (m MoveNotify) Values() []any      { return []any{m.Object, m.Zone, m.Tick, m.Pos, m.Velocity} }
func (m CollisionNotify) Values() []any { return []any{m.A, m.B, m.Tick} }
func (m ChatNotify) Values() []any      { return []any{m.From, m.Channel, m.Text} }
func (m RouteRejected) Values() []any   { return []any{m.Packet, m.Code} }

// DecodeMessage converts a decoded catalog packet into its typed message.
func DecodeMessage(p Packet) (Message, error) {
	v := values{id: p.ID, vals: p.Fields}
	var m Message
	switch p.ID {
	case IDHello:
		m = Hello{Name: v.str(0), Protocol: v.u16(1)}
	case IDPing:
		m = Ping{Nonce: v.u64(0)}
	case IDPong:
		m = Pong{Nonce: v.u64(0), ServerTick: v.u64(1)}
	case IDLogout:
		m = Logout{Reason: v.u8(0)}
	case IDJoinZone:
		m = JoinZone{Zone: v.u32(0)}
	case IDLeaveZone:
		m = LeaveZone{}
	case IDZoneJoined:
		m = ZoneJoined{Zone: v.u32(0), Object: v.u64(1), Pos: v.vec3(2)}
	case IDSetVelocity:
		m = SetVelocity{Object: v.u64(0), Velocity: v.vec3(1)}
	case IDSetAcceleration:
		m = SetAcceleration{Object: v.u64(0), Acceleration: v.vec3(1)}
	case IDSpawn:
		m = Spawn{Object: v.u64(0), Pos: v.vec3(1), Tags: v.u32(2), Radius: v.f32(3)}
	case IDDespawn:
		m = Despawn{Object: v.u64(0)}
	case IDChat:
		m = Chat{Channel: v.u8(0), Text: v.bytes(1)}
	case IDMoveNotify:
		m = MoveNotify{Object: v.u64(0), Zone: v.u32(1), Tick: v.u64(2), Pos: v.vec3(3), Velocity: v.vec3(4)}
	case IDCollisionNotify:
		m = CollisionNotify{A: v.u64(0), B: v.u64(1), Tick: v.u64(2)}
	case IDChatNotify:
		m = ChatNotify{From: v.u64(0), Channel: v.u8(1), Text: v.bytes(2)}
	case IDRouteRejected:
		m = RouteRejected{Packet: v.u16(0), Code: v.u8(1)}
	default:
		return nil, &DecodeError{Code: ErrCodeUnknownPacketType, PacketID: p.ID, Reason: "no typed message"}
	}
	if v.err != nil {
		return nil, v.err
	}
	return m, nil
}

// values pulls typed field values out of a Packet, remembering the first
// mismatch instead of panicking.
type values struct {
	id   uint16
	vals []any
	err  *DecodeError
}

func (v *values) at(i int) any {
	if i >= len(v.vals) {
		if v.err == nil {
			v.err = malformed(v.id, fmt.Sprintf("#%d", i), "missing field value")
		}
		return nil
	}
	return v.vals[i]
}

func get[T any](v *values, i int) T {
	var zero T
	x, ok := v.at(i).(T)
	if !ok && v.err == nil {
		v.err = malformed(v.id, fmt.Sprintf("#%d", i), "want %T, got %T", zero, v.at(i))
	}
	return x
}

func (v *values) u8(i int) uint8        { return get[uint8](v, i) }
func (v *values) u16(i int) uint16      { return get[uint16](v, i) }
func (v *values) u32(i int) uint32      { return get[uint32](v, i) }
func (v *values) u64(i int) uint64      { return get[uint64](v, i) }
func (v *values) f32(i int) float32     { return get[float32](v, i) }
func (v *values) str(i int) string      { return get[string](v, i) }
func (v *values) bytes(i int) []byte    { return get[[]byte](v, i) }
func (v *values) vec3(i int) mathx.Vec3 { return get[mathx.Vec3](v, i) }
