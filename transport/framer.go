package transport

// Framer owns the per-level keying material and coalesces/decodes whole
// packets: it combines the wire header codec (packet.go), header
// protection and AEAD (protection.go) and the frame codec (frame*.go)
// into "build me an Initial packet carrying these frames" and "here is a
// datagram, tell me what's in it" operations (§4.5).
type Framer struct {
	levels   [numEncryptionLevels]levelKeys
	scil     int // this endpoint's outgoing source connection id length
	dcidLen  int // expected incoming short-header destination cid length
}

type levelKeys struct {
	write *PacketProtector
	read  *PacketProtector
	// readPrev is the previous key-phase's decrypter, kept available for
	// a short window after a key update so a reordered old-phase packet
	// still decrypts (§4.4 "Key update").
	readPrev *PacketProtector
	keyPhase bool // current outgoing key-phase bit
}

// NewFramer constructs a Framer for one endpoint. dcidLen is the length
// this endpoint expects of incoming short-header destination connection
// ids (its own issued CIDs, §3).
func NewFramer(dcidLen int) *Framer {
	return &Framer{dcidLen: dcidLen}
}

// InstallKeys sets the write and read keys for level, discarding any
// previous-phase decrypter (used for Initial/Handshake keys and the first
// installation of 1-RTT keys; key updates go through UpdateKeys instead).
func (fr *Framer) InstallKeys(level EncryptionLevel, write, read *PacketProtector) {
	fr.levels[level] = levelKeys{write: write, read: read}
}

// UpdateKeys performs a 1-RTT key update (§4.4 "Key update"): the new
// keys become current, the old read key is retained as readPrev so
// packets sent just before the peer's update still decrypt, and the
// outgoing key-phase bit flips.
func (fr *Framer) UpdateKeys(write, read *PacketProtector) {
	lvl := &fr.levels[EncryptionApplication]
	lvl.readPrev = lvl.read
	lvl.write = write
	lvl.read = read
	lvl.keyPhase = !lvl.keyPhase
}

// DiscardPreviousPhaseKeys drops the retained previous-phase decrypter
// once enough time has passed that a reordered packet from before the
// update is no longer plausible.
func (fr *Framer) DiscardPreviousPhaseKeys() {
	fr.levels[EncryptionApplication].readPrev = nil
}

// DiscardKeys drops both directions' keys for a level once it will never
// be used again (Initial keys after the handshake completes, Handshake
// keys once 1-RTT keys are confirmed, §4.9).
func (fr *Framer) DiscardKeys(level EncryptionLevel) {
	fr.levels[level] = levelKeys{}
}

// HasKeys reports whether both directions' keys are installed for level.
func (fr *Framer) HasKeys(level EncryptionLevel) bool {
	lvl := &fr.levels[level]
	return lvl.write != nil && lvl.read != nil
}

// BuildLongHeaderPacket encrypts and protects frames into a single
// long-header packet at level, returning the finished datagram bytes.
// destCID/srcCID/token are as in LongHeader; pn is the full (untruncated)
// packet number to send, largestAcked the largest acked in this packet's
// space (for truncation), and paddingTo pads the datagram to at least
// that many bytes before protection (used to meet the 1200-byte client
// Initial minimum, §4.9).
func (fr *Framer) BuildLongHeaderPacket(typ PacketType, destCID, srcCID ConnectionID, token []byte, pn uint64, largestAcked uint64, frames []Frame, paddingTo int) ([]byte, error) {
	level := typ.Level()
	lvl := &fr.levels[level]
	if lvl.write == nil {
		return nil, newError(MissingKey, "no write key for "+level.String())
	}

	pnLen := packetNumberLen(pn, largestAcked)
	payload := make([]byte, 0, 256)
	for _, f := range frames {
		payload = f.AppendTo(payload)
	}
	padLen := paddingTo - (len(payload) + pnLen + lvl.write.Overhead())
	if padLen > 0 {
		payload = append(payload, make([]byte, padLen)...)
	}

	h := &LongHeader{Type: typ, Version: 1, DestCID: destCID, SrcCID: srcCID, Token: token}
	h.Length = uint64(pnLen) + uint64(len(payload)) + uint64(lvl.write.Overhead())

	header := AppendLongHeader(nil, h, pn, pnLen)
	pnOffset := len(header) - pnLen

	out := lvl.write.Seal(header, header, payload, pn)
	if err := lvl.write.ApplyHeaderProtection(out, pnOffset, pnLen, longHeaderProtectMask); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildShortHeaderPacket encrypts and protects frames into a 1-RTT packet
// addressed to destCID.
func (fr *Framer) BuildShortHeaderPacket(destCID ConnectionID, pn uint64, largestAcked uint64, frames []Frame, spinBit bool) ([]byte, error) {
	lvl := &fr.levels[EncryptionApplication]
	if lvl.write == nil {
		return nil, newError(MissingKey, "no write key for 1-rtt")
	}
	pnLen := packetNumberLen(pn, largestAcked)
	payload := make([]byte, 0, 256)
	for _, f := range frames {
		payload = f.AppendTo(payload)
	}
	header := AppendShortHeader(nil, destCID, pn, pnLen, lvl.keyPhase, spinBit)
	pnOffset := len(header) - pnLen
	out := lvl.write.Seal(header, header, payload, pn)
	if err := lvl.write.ApplyHeaderProtection(out, pnOffset, pnLen, shortHeaderProtectMask); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodedPacket is one decrypted packet out of a (possibly coalesced)
// datagram (§4.5 "coalesced packet").
type DecodedPacket struct {
	Level         EncryptionLevel
	PacketNumber  uint64
	DestCID       ConnectionID
	SrcCID        ConnectionID // long header only
	Token         []byte       // Initial only
	KeyPhase      bool
	Frames        []Frame
	WireLength    int // bytes this packet occupied in the datagram
}

// DecodePacket removes header protection from, and decrypts, the first
// packet in datagram, using largestReceived in the packet's space for
// packet-number reconstruction. It returns the decoded packet and does
// not touch any bytes beyond what that packet occupies, so callers loop
// over DecodedPacket.WireLength to walk a coalesced datagram.
func (fr *Framer) DecodePacket(datagram []byte, spaceLargestReceived func(PacketNumberSpace) int64) (*DecodedPacket, error) {
	if len(datagram) == 0 {
		return nil, newError(InvalidPacketHeader, "empty datagram")
	}
	if IsLongHeaderForm(datagram[0]) {
		return fr.decodeLongHeaderPacket(datagram, spaceLargestReceived)
	}
	return fr.decodeShortHeaderPacket(datagram, spaceLargestReceived)
}

func (fr *Framer) decodeLongHeaderPacket(datagram []byte, spaceLargestReceived func(PacketNumberSpace) int64) (*DecodedPacket, error) {
	h, err := ParseLongHeader(datagram)
	if err != nil {
		return nil, err
	}
	if h.Type == PacketTypeVersionNegotiation || h.Type == PacketTypeRetry {
		return nil, newError(InvalidPacketHeader, "not a protected packet")
	}
	level := h.Type.Level()
	lvl := &fr.levels[level]
	if lvl.read == nil {
		return nil, newError(MissingKey, "no read key for "+level.String())
	}

	packetEnd := h.headerLen + int(h.Length)
	if packetEnd > len(datagram) {
		return nil, newError(InvalidPacketHeader, "long header length overruns datagram")
	}
	buf := datagram[:packetEnd]

	first, pnLen, err := lvl.read.RemoveHeaderProtection(buf, h.headerLen, longHeaderProtectMask)
	if err != nil {
		return nil, err
	}
	truncated, ok := getUint(buf[h.headerLen:h.headerLen+pnLen], pnLen)
	if !ok {
		return nil, newError(InvalidPacketHeader, "packet number truncated")
	}
	largest := spaceLargestReceived(level.Space())
	pn := decodePacketNumber(largest, truncated, pnLen)

	aad := append([]byte(nil), buf[:h.headerLen+pnLen]...)
	aad[0] = first
	ciphertext := buf[h.headerLen+pnLen:]
	plaintext, err := lvl.read.Open(nil, aad, ciphertext, pn)
	if err != nil {
		return nil, err
	}

	frames, err := decodeFrames(plaintext, level)
	if err != nil {
		return nil, err
	}
	return &DecodedPacket{
		Level:        level,
		PacketNumber: pn,
		DestCID:      h.DestCID,
		SrcCID:       h.SrcCID,
		Token:        h.Token,
		Frames:       frames,
		WireLength:   packetEnd,
	}, nil
}

func (fr *Framer) decodeShortHeaderPacket(datagram []byte, spaceLargestReceived func(PacketNumberSpace) int64) (*DecodedPacket, error) {
	h, err := ParseShortHeader(datagram, fr.dcidLen)
	if err != nil {
		return nil, err
	}
	level := EncryptionApplication
	lvl := &fr.levels[level]
	if lvl.read == nil {
		return nil, newError(MissingKey, "no read key for 1-rtt")
	}
	keyPhase := h.typeByte&0x04 != 0

	decrypter := lvl.read
	if keyPhase != lvl.keyPhase {
		if lvl.readPrev == nil {
			return nil, newError(KeyUpdateError, "key phase mismatch with no previous key available")
		}
		decrypter = lvl.readPrev
	}

	buf := datagram
	first, pnLen, err := decrypter.RemoveHeaderProtection(buf, h.headerLen, shortHeaderProtectMask)
	if err != nil {
		return nil, err
	}
	truncated, ok := getUint(buf[h.headerLen:h.headerLen+pnLen], pnLen)
	if !ok {
		return nil, newError(InvalidPacketHeader, "packet number truncated")
	}
	largest := spaceLargestReceived(SpaceApplication)
	pn := decodePacketNumber(largest, truncated, pnLen)

	aad := append([]byte(nil), buf[:h.headerLen+pnLen]...)
	aad[0] = first
	ciphertext := buf[h.headerLen+pnLen:]
	plaintext, err := decrypter.Open(nil, aad, ciphertext, pn)
	if err != nil {
		return nil, err
	}
	frames, err := decodeFrames(plaintext, level)
	if err != nil {
		return nil, err
	}
	return &DecodedPacket{
		Level:        level,
		PacketNumber: pn,
		DestCID:      h.DestCID,
		KeyPhase:     keyPhase,
		Frames:       frames,
		WireLength:   len(datagram),
	}, nil
}

// decodeFrames decodes every frame in a packet's plaintext payload.
func decodeFrames(payload []byte, level EncryptionLevel) ([]Frame, error) {
	var frames []Frame
	for len(payload) > 0 {
		f, n, err := decodeFrame(payload, level)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, newError(FrameEncodingError, "frame decoder made no progress")
		}
		frames = append(frames, f)
		payload = payload[n:]
	}
	return frames, nil
}
