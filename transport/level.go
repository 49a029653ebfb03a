package transport

// EncryptionLevel identifies one of the four keying contexts a packet may
// be protected with. Initial, Handshake and Application map 1:1 onto the
// three packet-number spaces of §3; ZeroRTT shares the Application space's
// ack state but uses distinct keys.
type EncryptionLevel int

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionHandshake
	EncryptionZeroRTT
	EncryptionApplication
	numEncryptionLevels
)

func (l EncryptionLevel) String() string {
	switch l {
	case EncryptionInitial:
		return "initial"
	case EncryptionHandshake:
		return "handshake"
	case EncryptionZeroRTT:
		return "0-rtt"
	case EncryptionApplication:
		return "1-rtt"
	default:
		return "unknown"
	}
}

// PacketNumberSpace identifies one of the three disjoint ack-tracking and
// encryption contexts (§3 "Packet-number space").
type PacketNumberSpace int

const (
	SpaceInitial PacketNumberSpace = iota
	SpaceHandshake
	SpaceApplication
	numPacketNumberSpaces
)

func (s PacketNumberSpace) String() string {
	switch s {
	case SpaceInitial:
		return "initial"
	case SpaceHandshake:
		return "handshake"
	case SpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Space maps an encryption level onto its packet-number space. 0-RTT and
// 1-RTT share the application space (§3).
func (l EncryptionLevel) Space() PacketNumberSpace {
	switch l {
	case EncryptionInitial:
		return SpaceInitial
	case EncryptionHandshake:
		return SpaceHandshake
	default:
		return SpaceApplication
	}
}
