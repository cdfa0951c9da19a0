package protocol

import "fmt"

// FieldKind is the wire type of a single packet field.
type FieldKind uint8

const (
	KindU8 FieldKind = iota + 1
	KindU16
	KindU32
	KindU64
	KindI32
	KindI64
	KindF32
	KindF64
	KindString // fixed width, NUL padded
	KindBytes  // u16 length prefix
	KindVec3   // 3 x f64
)

func (k FieldKind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindVec3:
		return "vec3"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// size returns the wire width of a field, or -1 when it is length prefixed.
func (f Field) size() int {
	switch f.Kind {
	case KindU8:
		return 1
	case KindU16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	case KindVec3:
		return 24
	case KindString:
		return f.Width
	default:
		return -1
	}
}

// Field is one entry of a descriptor's ordered layout.
//
// Width is the padded byte width of a KindString field, and the maximum
// payload length of a KindBytes field (0 means the u16 limit).
type Field struct {
	Name  string
	Kind  FieldKind
	Width int
}

func U8(name string) Field   { return Field{Name: name, Kind: KindU8} }
func U16(name string) Field  { return Field{Name: name, Kind: KindU16} }
func U32(name string) Field  { return Field{Name: name, Kind: KindU32} }
func U64(name string) Field  { return Field{Name: name, Kind: KindU64} }
func I32(name string) Field  { return Field{Name: name, Kind: KindI32} }
func I64(name string) Field  { return Field{Name: name, Kind: KindI64} }
func F32(name string) Field  { return Field{Name: name, Kind: KindF32} }
func F64(name string) Field  { return Field{Name: name, Kind: KindF64} }
func Vec3(name string) Field { return Field{Name: name, Kind: KindVec3} }
func Str(name string, width int) Field {
	return Field{Name: name, Kind: KindString, Width: width}
}
func Bytes(name string, max int) Field {
	return Field{Name: name, Kind: KindBytes, Width: max}
}

// Descriptor is the immutable wire contract of one packet type.
type Descriptor struct {
	ID     uint16
	Name   string
	Target TargetKind
	Fields []Field

	size int // full wire size including header, -1 when variable
}

// FixedSize reports the exact wire length of the packet when every field has a
// fixed width.
func (d *Descriptor) FixedSize() (int, bool) {
	if d.size < 0 {
		return 0, false
	}
	return d.size, true
}

// Packet is a decoded packet: the descriptor id plus one value per field, in
// layout order. Value types per kind: uint8, uint16, uint32, uint64, int32,
// int64, float32, float64, string, []byte, mathx.Vec3.
type Packet struct {
	ID     uint16
	Fields []any
}

// Registry maps packet type ids to descriptors. It is immutable once built and
// safe for concurrent use without locking.
type Registry struct {
	byID  []*Descriptor
	descs []*Descriptor
}

func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{}
	maxID := 0
	for _, d := range descs {
		if int(d.ID) > maxID {
			maxID = int(d.ID)
		}
	}
	r.byID = make([]*Descriptor, maxID+1)
	for i := range descs {
		d := descs[i]
		if d.ID == 0 {
			return nil, fmt.Errorf("descriptor %q: packet id 0 is reserved", d.Name)
		}
		if r.byID[d.ID] != nil {
			return nil, fmt.Errorf("descriptor %q: duplicate packet id 0x%04x (already %q)", d.Name, d.ID, r.byID[d.ID].Name)
		}
		d.Fields = append([]Field(nil), d.Fields...)
		size := HeaderSize
		for _, f := range d.Fields {
			if f.Kind < KindU8 || f.Kind > KindVec3 {
				return nil, fmt.Errorf("descriptor %q field %q: unknown kind %d", d.Name, f.Name, f.Kind)
			}
			if f.Kind == KindString && f.Width <= 0 {
				return nil, fmt.Errorf("descriptor %q field %q: string width must be > 0", d.Name, f.Name)
			}
			if f.Kind == KindBytes && (f.Width < 0 || f.Width > maxBytesLen) {
				return nil, fmt.Errorf("descriptor %q field %q: bytes max %d out of range", d.Name, f.Name, f.Width)
			}
			if n := f.size(); n >= 0 && size >= 0 {
				size += n
			} else {
				size = -1
			}
		}
		d.size = size
		r.byID[d.ID] = &d
		r.descs = append(r.descs, &d)
	}
	return r, nil
}

func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup is a single slice index; its cost does not depend on how many
// descriptors are registered.
func (r *Registry) Lookup(id uint16) (*Descriptor, bool) {
	if int(id) >= len(r.byID) {
		return nil, false
	}
	d := r.byID[id]
	return d, d != nil
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), r.descs...)
}

// Name returns the descriptor name for logging, or a hex id when unknown.
func (r *Registry) Name(id uint16) string {
	if d, ok := r.Lookup(id); ok {
		return d.Name
	}
	return fmt.Sprintf("0x%04x", id)
}
