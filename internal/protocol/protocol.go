package protocol

// Version is bumped whenever a descriptor's field layout changes. Clients and
// servers sharing a Version must agree on every wire layout in the catalog.
const Version uint16 = 1

// HeaderSize is the leading little-endian packet type id.
const HeaderSize = 2

// TargetKind is the static dispatch target declared per packet type.
type TargetKind uint8

const (
	TargetSession TargetKind = iota + 1
	TargetZone
	TargetWorld
	TargetGateway
)

func (k TargetKind) String() string {
	switch k {
	case TargetSession:
		return "session"
	case TargetZone:
		return "zone"
	case TargetWorld:
		return "world"
	case TargetGateway:
		return "gateway"
	default:
		return "unknown"
	}
}

func (k TargetKind) Valid() bool { return k >= TargetSession && k <= TargetGateway }
