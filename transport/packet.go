package transport

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// PacketType identifies the long-header packet types plus the single
// short-header (1-RTT) form (§4.3).
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketTypeZeroRTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketTypeVersionNegotiation
	PacketTypeShort
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "initial"
	case PacketTypeZeroRTT:
		return "0-rtt"
	case PacketTypeHandshake:
		return "handshake"
	case PacketTypeRetry:
		return "retry"
	case PacketTypeVersionNegotiation:
		return "version-negotiation"
	case PacketTypeShort:
		return "short"
	default:
		return "unknown"
	}
}

// Level returns the encryption level a long-header packet type is
// protected under. Short-header packets are always 1-RTT.
func (t PacketType) Level() EncryptionLevel {
	switch t {
	case PacketTypeInitial:
		return EncryptionInitial
	case PacketTypeZeroRTT:
		return EncryptionZeroRTT
	case PacketTypeHandshake:
		return EncryptionHandshake
	default:
		return EncryptionApplication
	}
}

const (
	longHeaderForm  = 0x80
	fixedBit        = 0x40
	shortHeaderType = 0x00

	// long-header type bits occupy positions 4-5 (after form+fixed bits).
	longTypeInitial   = 0x00
	longTypeZeroRTT   = 0x10
	longTypeHandshake = 0x20
	longTypeRetry     = 0x30

	// §4.4: header protection masks the low 4 bits of a long header's
	// first byte and the low 5 bits of a short header's first byte.
	longHeaderProtectMask  = 0x0f
	shortHeaderProtectMask = 0x1f
)

// MinInitialPacketSize is the minimum UDP datagram size carrying a client
// Initial packet (§4.9 "Pad client initial packet").
const MinInitialPacketSize = 1200

// MaxPacketLength is the default maximum datagram size this endpoint will
// build (§6 max_packet_length).
const MaxPacketLength = 1452

// LongHeader is the parsed, not-yet-header-protection-removed long-header
// fields of an Initial/0-RTT/Handshake/Retry packet (§4.3).
type LongHeader struct {
	Type    PacketType
	Version uint32
	DestCID ConnectionID
	SrcCID  ConnectionID
	Token   []byte // Initial only
	Length  uint64 // remaining bytes: packet number + payload (+ retry tag)

	typeByte  byte // the raw, still header-protected first byte
	headerLen int  // bytes consumed up to and including the length field
}

// ShortHeader is the parsed, not-yet-header-protection-removed fields of a
// 1-RTT packet (§4.3). The destination connection id length is known a
// priori by the endpoint (or derived by a pluggable generator, §3).
type ShortHeader struct {
	DestCID ConnectionID

	typeByte  byte
	headerLen int
}

// IsLongHeaderForm reports whether the first byte of b indicates a long
// header (top bit set).
func IsLongHeaderForm(b byte) bool {
	return b&longHeaderForm != 0
}

// ParseLongHeader parses everything in a long header up to, but not
// including, the header-protection-masked packet number field. b must
// start at the first byte of the packet.
func ParseLongHeader(b []byte) (*LongHeader, error) {
	if len(b) < 6 {
		return nil, newError(InvalidPacketHeader, "long header too short")
	}
	if !IsLongHeaderForm(b[0]) {
		return nil, newError(InvalidPacketHeader, "not a long header")
	}
	h := &LongHeader{typeByte: b[0]}
	version := binary.BigEndian.Uint32(b[1:5])
	h.Version = version
	n := 5
	if version == 0 {
		h.Type = PacketTypeVersionNegotiation
		h.headerLen = n
		return h, nil
	}
	switch b[0] & 0x30 {
	case longTypeInitial:
		h.Type = PacketTypeInitial
	case longTypeZeroRTT:
		h.Type = PacketTypeZeroRTT
	case longTypeHandshake:
		h.Type = PacketTypeHandshake
	case longTypeRetry:
		h.Type = PacketTypeRetry
	}

	dcil := int(b[n])
	n++
	if len(b) < n+dcil {
		return nil, newError(InvalidPacketHeader, "dest cid truncated")
	}
	h.DestCID = append(ConnectionID(nil), b[n:n+dcil]...)
	n += dcil

	if len(b) < n+1 {
		return nil, newError(InvalidPacketHeader, "missing source cid length")
	}
	scil := int(b[n])
	n++
	if len(b) < n+scil {
		return nil, newError(InvalidPacketHeader, "source cid truncated")
	}
	h.SrcCID = append(ConnectionID(nil), b[n:n+scil]...)
	n += scil

	if h.Type == PacketTypeRetry {
		// Everything remaining except the final 16-byte integrity tag is
		// the retry token (§4.3, §7 "Retry").
		if len(b)-n < RetryIntegrityTagLength {
			return nil, newError(InvalidPacketHeader, "retry packet too short")
		}
		h.Token = append([]byte(nil), b[n:len(b)-RetryIntegrityTagLength]...)
		h.headerLen = len(b)
		return h, nil
	}

	if h.Type == PacketTypeInitial {
		var tokenLen uint64
		m := getVarint(b[n:], &tokenLen)
		if m == 0 {
			return nil, newError(InvalidPacketHeader, "token length")
		}
		n += m
		if uint64(len(b)-n) < tokenLen {
			return nil, newError(InvalidPacketHeader, "token truncated")
		}
		h.Token = append([]byte(nil), b[n:n+int(tokenLen)]...)
		n += int(tokenLen)
	}

	var length uint64
	m := getVarint(b[n:], &length)
	if m == 0 {
		return nil, newError(InvalidPacketHeader, "length field")
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, newError(InvalidPacketHeader, "length field overruns datagram")
	}
	h.Length = length
	h.headerLen = n
	return h, nil
}

// AppendLongHeader appends a long header (unprotected first byte and
// packet number) to b. pnLen is 1-4 bytes.
func AppendLongHeader(b []byte, h *LongHeader, pn uint64, pnLen int) []byte {
	var typeBits byte
	switch h.Type {
	case PacketTypeInitial:
		typeBits = longTypeInitial
	case PacketTypeZeroRTT:
		typeBits = longTypeZeroRTT
	case PacketTypeHandshake:
		typeBits = longTypeHandshake
	case PacketTypeRetry:
		typeBits = longTypeRetry
	}
	first := longHeaderForm | fixedBit | typeBits | byte(pnLen-1)
	b = append(b, first)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], h.Version)
	b = append(b, v[:]...)
	b = append(b, byte(len(h.DestCID)))
	b = append(b, h.DestCID...)
	b = append(b, byte(len(h.SrcCID)))
	b = append(b, h.SrcCID...)
	if h.Type == PacketTypeInitial {
		b = appendVarint(b, uint64(len(h.Token)))
		b = append(b, h.Token...)
	}
	b = appendVarint(b, h.Length)
	b = appendPacketNumber(b, pn, pnLen)
	return b
}

// ParseShortHeader parses a short header given the expected (a priori
// known) destination connection id length.
func ParseShortHeader(b []byte, dcidLen int) (*ShortHeader, error) {
	if len(b) < 1+dcidLen {
		return nil, newError(InvalidPacketHeader, "short header too short")
	}
	if IsLongHeaderForm(b[0]) {
		return nil, newError(InvalidPacketHeader, "not a short header")
	}
	h := &ShortHeader{typeByte: b[0]}
	h.DestCID = append(ConnectionID(nil), b[1:1+dcidLen]...)
	h.headerLen = 1 + dcidLen
	return h, nil
}

// AppendShortHeader appends a short (1-RTT) header. keyPhase is the
// current key-phase bit (§3).
func AppendShortHeader(b []byte, dcid ConnectionID, pn uint64, pnLen int, keyPhase bool, spinBit bool) []byte {
	first := fixedBit | byte(pnLen-1)
	if keyPhase {
		first |= 0x04
	}
	if spinBit {
		first |= 0x20
	}
	b = append(b, first)
	b = append(b, dcid...)
	b = appendPacketNumber(b, pn, pnLen)
	return b
}

// BuildVersionNegotiationPacket constructs a version-negotiation packet:
// a long header with version 0, echoing the client's connection ids,
// followed by the concatenation of supportedVersions (§6).
func BuildVersionNegotiationPacket(destCID, srcCID ConnectionID, supportedVersions []uint32) []byte {
	b := make([]byte, 0, 16+len(supportedVersions)*4)
	first := longHeaderForm | fixedBit
	// Low 7 bits of the first byte are unspecified for version
	// negotiation, other than the form bit; a random value discourages
	// middlebox ossification, matching production implementations.
	var r [1]byte
	_, _ = rand.Read(r[:])
	first |= r[0] &^ (longHeaderForm | fixedBit)
	b = append(b, first)
	b = append(b, 0, 0, 0, 0) // version 0
	b = append(b, byte(len(destCID)))
	b = append(b, destCID...)
	b = append(b, byte(len(srcCID)))
	b = append(b, srcCID...)
	for _, v := range supportedVersions {
		var vb [4]byte
		binary.BigEndian.PutUint32(vb[:], v)
		b = append(b, vb[:]...)
	}
	return b
}

// ParseVersionNegotiationPacket extracts the destination/source CIDs and
// supported version list from a whole version-negotiation packet; it skips
// the fixed 5-byte prefix (first byte and zero version) itself.
func ParseVersionNegotiationPacket(b []byte) (destCID, srcCID ConnectionID, versions []uint32, err error) {
	if len(b) < 6 {
		return nil, nil, nil, newError(InvalidPacketHeader, "version negotiation too short")
	}
	n := 5
	dcil := int(b[n])
	n++
	if len(b) < n+dcil+1 {
		return nil, nil, nil, newError(InvalidPacketHeader, "version negotiation dest cid")
	}
	destCID = append(ConnectionID(nil), b[n:n+dcil]...)
	n += dcil
	scil := int(b[n])
	n++
	if len(b) < n+scil {
		return nil, nil, nil, newError(InvalidPacketHeader, "version negotiation src cid")
	}
	srcCID = append(ConnectionID(nil), b[n:n+scil]...)
	n += scil
	rest := b[n:]
	if len(rest)%4 != 0 {
		return nil, nil, nil, newError(InvalidPacketHeader, "version list misaligned")
	}
	for i := 0; i+4 <= len(rest); i += 4 {
		versions = append(versions, binary.BigEndian.Uint32(rest[i:i+4]))
	}
	return destCID, srcCID, versions, nil
}

// unsupportedVersionLabel is an intentionally bogus version label used by
// the probe datagram (§6); real implementations must never negotiate it.
const unsupportedVersionLabel = 0xcabadada

const probeGreeting = "QUIC version negotiation probe: if you can read this, you are not speaking QUIC.\n"

// BuildVersionNegotiationProbe writes a single packet designed to elicit a
// version-negotiation response from any peer: an intentionally
// unsupported version label, padded to at least MinInitialPacketSize
// bytes including a human-readable greeting (§4.3, §6).
func BuildVersionNegotiationProbe(destCID, srcCID ConnectionID) []byte {
	b := make([]byte, 0, MinInitialPacketSize)
	b = append(b, 0xC0, 0xCA, 0xBA, 0xDA, 0xDA) // matches §6's literal byte sequence
	b = append(b, byte(len(destCID)))
	b = append(b, destCID...)
	b = append(b, byte(len(srcCID)))
	b = append(b, srcCID...)
	b = append(b, probeGreeting...)
	for len(b) < MinInitialPacketSize {
		b = append(b, 0)
	}
	return b
}

// StatelessResetPacket builds a stateless-reset datagram of a random
// length in [21, 21+maxCIDLen] bytes whose last 16 bytes are token, with
// the leading two bits forced to 0b01 to disambiguate from long headers
// (§6 "Stateless reset packet").
func StatelessResetPacket(token StatelessResetToken, maxCIDLen int) ([]byte, error) {
	if maxCIDLen < 0 {
		maxCIDLen = 0
	}
	extra := make([]byte, 1)
	if _, err := rand.Read(extra); err != nil {
		return nil, errors.WithStack(err)
	}
	totalLen := 21 + int(extra[0])%(maxCIDLen+1)
	b := make([]byte, totalLen)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.WithStack(err)
	}
	b[0] = (b[0] &^ 0xc0) | 0x40 // form=0 (short), fixed bit=1 => 0b01xxxxxx
	copy(b[totalLen-StatelessResetTokenLength:], token[:])
	return b, nil
}

// LooksLikeStatelessReset reports whether the trailing 16 bytes of an
// undecryptable datagram match a known peer reset token (§4.4, §8.6).
func LooksLikeStatelessReset(datagram []byte, knownToken StatelessResetToken) bool {
	if len(datagram) < StatelessResetTokenLength {
		return false
	}
	trailing := datagram[len(datagram)-StatelessResetTokenLength:]
	var ok byte
	for i := range trailing {
		ok |= trailing[i] ^ knownToken[i]
	}
	return ok == 0
}
