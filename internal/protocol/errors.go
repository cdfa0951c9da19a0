package protocol

import (
	"errors"
	"fmt"
)

const (
	// Codec.
	ErrCodeUnknownPacketType = "E_UNKNOWN_PACKET_TYPE"
	ErrCodeMalformedPacket   = "E_MALFORMED_PACKET"
	ErrCodeFieldTooLong      = "E_FIELD_TOO_LONG"

	// Dispatch routing.
	ErrCodeMissingContext    = "E_MISSING_CONTEXT"
	ErrCodeUnknownTargetKind = "E_UNKNOWN_TARGET_KIND"

	// Location/delivery.
	ErrCodeNotFound    = "E_NOT_FOUND"
	ErrCodeUnreachable = "E_UNREACHABLE"
	ErrCodeMailboxFull = "E_MAILBOX_FULL"
)

// wireCodes assigns the u8 carried by RouteRejected. Values are part of the
// protocol and must never be renumbered.
var wireCodes = map[string]uint8{
	ErrCodeUnknownPacketType: 1,
	ErrCodeMalformedPacket:   2,
	ErrCodeFieldTooLong:      3,
	ErrCodeMissingContext:    4,
	ErrCodeUnknownTargetKind: 5,
	ErrCodeNotFound:          6,
	ErrCodeUnreachable:       7,
	ErrCodeMailboxFull:       8,
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := wireCodes[code]
	return ok
}

// WireCode returns the RouteRejected code for an error code; 0 means unknown.
func WireCode(code string) uint8 { return wireCodes[code] }

func CodeFromWire(c uint8) string {
	for code, w := range wireCodes {
		if w == c {
			return code
		}
	}
	return ""
}

var (
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrFieldTooLong      = errors.New("field too long")
)

// DecodeError is returned by Encode and Decode. It is always recoverable: the
// offending buffer is dropped and the connection stays up.
type DecodeError struct {
	Code     string
	PacketID uint16
	Field    string
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: packet 0x%04x field %s: %s", e.Code, e.PacketID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: packet 0x%04x: %s", e.Code, e.PacketID, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	switch e.Code {
	case ErrCodeUnknownPacketType:
		return target == ErrUnknownPacketType
	case ErrCodeMalformedPacket:
		return target == ErrMalformedPacket
	case ErrCodeFieldTooLong:
		return target == ErrFieldTooLong
	}
	return false
}

func malformed(id uint16, field, format string, args ...any) *DecodeError {
	return &DecodeError{Code: ErrCodeMalformedPacket, PacketID: id, Field: field, Reason: fmt.Sprintf(format, args...)}
}
