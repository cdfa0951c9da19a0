package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"meshworld.ai/internal/mathx"
)

const maxBytesLen = math.MaxUint16

// padding stripped from fixed-width strings on decode.
const stringPad = "\x00 "

var le = binary.LittleEndian

// Encode serializes p according to its registered descriptor.
func (r *Registry) Encode(p Packet) ([]byte, error) {
	return r.AppendEncode(nil, p)
}

// AppendEncode appends the wire form of p to dst.
func (r *Registry) AppendEncode(dst []byte, p Packet) ([]byte, error) {
	d, ok := r.Lookup(p.ID)
	if !ok {
		return dst, &DecodeError{Code: ErrCodeUnknownPacketType, PacketID: p.ID, Reason: "not registered"}
	}
	if len(p.Fields) != len(d.Fields) {
		return dst, malformed(p.ID, "", "got %d field values, layout has %d", len(p.Fields), len(d.Fields))
	}
	if n, ok := d.FixedSize(); ok && cap(dst)-len(dst) < n {
		grown := make([]byte, len(dst), len(dst)+n)
		copy(grown, dst)
		dst = grown
	}
	dst = le.AppendUint16(dst, p.ID)
	for i, f := range d.Fields {
		var err *DecodeError
		dst, err = appendField(dst, d.ID, f, p.Fields[i])
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendField(dst []byte, id uint16, f Field, v any) ([]byte, *DecodeError) {
	wrongType := func() *DecodeError {
		return malformed(id, f.Name, "want %s value, got %T", f.Kind, v)
	}
	switch f.Kind {
	case KindU8:
		x, ok := v.(uint8)
		if !ok {
			return dst, wrongType()
		}
		return append(dst, x), nil
	case KindU16:
		x, ok := v.(uint16)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint16(dst, x), nil
	case KindU32:
		x, ok := v.(uint32)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint32(dst, x), nil
	case KindU64:
		x, ok := v.(uint64)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint64(dst, x), nil
	case KindI32:
		x, ok := v.(int32)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint32(dst, uint32(x)), nil
	case KindI64:
		x, ok := v.(int64)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint64(dst, uint64(x)), nil
	case KindF32:
		x, ok := v.(float32)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint32(dst, math.Float32bits(x)), nil
	case KindF64:
		x, ok := v.(float64)
		if !ok {
			return dst, wrongType()
		}
		return le.AppendUint64(dst, math.Float64bits(x)), nil
	case KindVec3:
		x, ok := v.(mathx.Vec3)
		if !ok {
			return dst, wrongType()
		}
		dst = le.AppendUint64(dst, math.Float64bits(x.X))
		dst = le.AppendUint64(dst, math.Float64bits(x.Y))
		return le.AppendUint64(dst, math.Float64bits(x.Z)), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return dst, wrongType()
		}
		if len(s) > f.Width {
			return dst, &DecodeError{Code: ErrCodeFieldTooLong, PacketID: id, Field: f.Name, Reason: fmt.Sprintf("%d bytes exceeds width %d", len(s), f.Width)}
		}
		if s != strings.TrimRight(s, stringPad) {
			return dst, malformed(id, f.Name, "value ends with padding byte")
		}
		dst = append(dst, s...)
		for i := len(s); i < f.Width; i++ {
			dst = append(dst, 0)
		}
		return dst, nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return dst, wrongType()
		}
		limit := f.Width
		if limit == 0 {
			limit = maxBytesLen
		}
		if len(b) > limit {
			return dst, &DecodeError{Code: ErrCodeFieldTooLong, PacketID: id, Field: f.Name, Reason: fmt.Sprintf("%d bytes exceeds max %d", len(b), limit)}
		}
		dst = le.AppendUint16(dst, uint16(len(b)))
		return append(dst, b...), nil
	}
	return dst, malformed(id, f.Name, "unknown kind %d", f.Kind)
}

// Decode parses one packet. It never reads past b and never panics on short or
// oversized input; the returned Packet does not alias b.
func (r *Registry) Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, malformed(0, "", "%d bytes is shorter than the type header", len(b))
	}
	id := le.Uint16(b)
	d, ok := r.Lookup(id)
	if !ok {
		return Packet{}, &DecodeError{Code: ErrCodeUnknownPacketType, PacketID: id, Reason: "not registered"}
	}
	if n, ok := d.FixedSize(); ok && len(b) != n {
		return Packet{}, malformed(id, "", "length %d, layout requires %d", len(b), n)
	}

	rd := reader{buf: b[HeaderSize:]}
	vals := make([]any, len(d.Fields))
	for i, f := range d.Fields {
		v, reason := rd.field(f)
		if reason != "" {
			return Packet{}, malformed(id, f.Name, "%s", reason)
		}
		vals[i] = v
	}
	if len(rd.buf) != 0 {
		return Packet{}, malformed(id, "", "%d trailing bytes", len(rd.buf))
	}
	return Packet{ID: id, Fields: vals}, nil
}

// PeekID reads the type id without decoding the payload.
func PeekID(b []byte) (uint16, bool) {
	if len(b) < HeaderSize {
		return 0, false
	}
	return le.Uint16(b), true
}

type reader struct {
	buf []byte
}

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || len(r.buf) < n {
		return nil, false
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, true
}

func (r *reader) field(f Field) (any, string) {
	if f.Kind == KindBytes {
		hdr, ok := r.take(2)
		if !ok {
			return nil, "truncated length prefix"
		}
		n := int(le.Uint16(hdr))
		if f.Width > 0 && n > f.Width {
			return nil, fmt.Sprintf("length %d exceeds max %d", n, f.Width)
		}
		raw, ok := r.take(n)
		if !ok {
			return nil, fmt.Sprintf("declared length %d, %d bytes left", n, len(r.buf))
		}
		if n == 0 {
			return []byte(nil), ""
		}
		return append([]byte(nil), raw...), ""
	}

	raw, ok := r.take(f.size())
	if !ok {
		return nil, fmt.Sprintf("truncated: need %d bytes, %d left", f.size(), len(r.buf))
	}
	switch f.Kind {
	case KindU8:
		return raw[0], ""
	case KindU16:
		return le.Uint16(raw), ""
	case KindU32:
		return le.Uint32(raw), ""
	case KindU64:
		return le.Uint64(raw), ""
	case KindI32:
		return int32(le.Uint32(raw)), ""
	case KindI64:
		return int64(le.Uint64(raw)), ""
	case KindF32:
		return math.Float32frombits(le.Uint32(raw)), ""
	case KindF64:
		return math.Float64frombits(le.Uint64(raw)), ""
	case KindVec3:
		return mathx.Vec3{
			X: math.Float64frombits(le.Uint64(raw[0:8])),
			Y: math.Float64frombits(le.Uint64(raw[8:16])),
			Z: math.Float64frombits(le.Uint64(raw[16:24])),
		}, ""
	case KindString:
		return strings.TrimRight(string(raw), stringPad), ""
	}
	return nil, fmt.Sprintf("unknown kind %d", f.Kind)
}
