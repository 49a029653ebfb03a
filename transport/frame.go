package transport

// Frame is the tagged-union wire frame (§3 "Frame"). Small, fixed-shape
// frames are represented as value types; larger ones own their payload
// slices. Every frame knows its own wire type, encoded length and how to
// append itself to a buffer.
type Frame interface {
	FrameType() uint64
	EncodedLen() int
	AppendTo(b []byte) []byte
}

// Frame type codepoints (§6, matching QUIC v1/v2 wire values; the last
// four are extension codepoints from the drafts named in §1).
const (
	frameTypePadding             = 0x00
	frameTypePing                = 0x01
	frameTypeAck                 = 0x02
	frameTypeAckECN              = 0x03
	frameTypeResetStream         = 0x04
	frameTypeStopSending         = 0x05
	frameTypeCrypto              = 0x06
	frameTypeNewToken            = 0x07
	frameTypeStream              = 0x08 // 0x08..0x0f, OFF/LEN/FIN bits
	frameTypeStreamEnd           = 0x0f
	frameTypeMaxData             = 0x10
	frameTypeMaxStreamData       = 0x11
	frameTypeMaxStreamsBidi      = 0x12
	frameTypeMaxStreamsUni       = 0x13
	frameTypeDataBlocked         = 0x14
	frameTypeStreamDataBlocked   = 0x15
	frameTypeStreamsBlockedBidi  = 0x16
	frameTypeStreamsBlockedUni   = 0x17
	frameTypeNewConnectionID     = 0x18
	frameTypeRetireConnectionID  = 0x19
	frameTypePathChallenge       = 0x1a
	frameTypePathResponse        = 0x1b
	frameTypeConnectionClose     = 0x1c
	frameTypeApplicationClose    = 0x1d
	frameTypeHandshakeDone       = 0x1e
	frameTypeImmediateAck        = 0x1f
	frameTypeResetStreamAt       = 0x24
	frameTypeMessage             = 0x30 // 0x30..0x31, LEN bit
	frameTypeMessageEnd          = 0x31
	frameTypeAckFrequency        = 0xaf
	frameTypeGoAway              = 0xb0 // legacy gQUIC-style extension, kept for OnGoAway visitor
	frameTypeAckReceiveTimestamps = 0xb1 // extension codepoint, no IANA value assigned (§1, §3)
)

const pathChallengeDataLen = 8

// PaddingFrame is one or more PADDING bytes coalesced into a single
// logical frame (§1). Length is the number of zero bytes it occupies.
type PaddingFrame struct {
	Length int
}

func (f *PaddingFrame) FrameType() uint64  { return frameTypePadding }
func (f *PaddingFrame) EncodedLen() int    { return f.Length }
func (f *PaddingFrame) AppendTo(b []byte) []byte {
	for i := 0; i < f.Length; i++ {
		b = append(b, frameTypePadding)
	}
	return b
}

// PingFrame elicits an acknowledgement with no other effect.
type PingFrame struct{}

func (f *PingFrame) FrameType() uint64         { return frameTypePing }
func (f *PingFrame) EncodedLen() int           { return 1 }
func (f *PingFrame) AppendTo(b []byte) []byte  { return append(b, frameTypePing) }

// HandshakeDoneFrame signals handshake confirmation to the client. Sent
// only by the server (§6).
type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) FrameType() uint64 { return frameTypeHandshakeDone }
func (f *HandshakeDoneFrame) EncodedLen() int    { return 1 }
func (f *HandshakeDoneFrame) AppendTo(b []byte) []byte {
	return append(b, frameTypeHandshakeDone)
}

// ImmediateAckFrame requests that the peer ack immediately (§4.6,
// §9 Open Questions).
type ImmediateAckFrame struct{}

func (f *ImmediateAckFrame) FrameType() uint64 { return frameTypeImmediateAck }
func (f *ImmediateAckFrame) EncodedLen() int    { return 1 }
func (f *ImmediateAckFrame) AppendTo(b []byte) []byte {
	return append(b, frameTypeImmediateAck)
}

// PathChallengeFrame carries an 8-byte random payload used to validate a
// path (§4.9 "Path validation").
type PathChallengeFrame struct {
	Data [pathChallengeDataLen]byte
}

func (f *PathChallengeFrame) FrameType() uint64 { return frameTypePathChallenge }
func (f *PathChallengeFrame) EncodedLen() int    { return 1 + pathChallengeDataLen }
func (f *PathChallengeFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypePathChallenge)
	return append(b, f.Data[:]...)
}

// PathResponseFrame echoes a PathChallengeFrame's payload.
type PathResponseFrame struct {
	Data [pathChallengeDataLen]byte
}

func (f *PathResponseFrame) FrameType() uint64 { return frameTypePathResponse }
func (f *PathResponseFrame) EncodedLen() int    { return 1 + pathChallengeDataLen }
func (f *PathResponseFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypePathResponse)
	return append(b, f.Data[:]...)
}

// StopSendingFrame asks the peer to stop sending on a stream (§1).
type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func (f *StopSendingFrame) FrameType() uint64 { return frameTypeStopSending }
func (f *StopSendingFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.ErrorCode)
}
func (f *StopSendingFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeStopSending)
	b = appendVarint(b, f.StreamID)
	return appendVarint(b, f.ErrorCode)
}

// decodeFrame decodes a single frame from the front of b, dispatching on
// the leading varint type, and enforces the per-level acceptance table
// (§4.2). It returns the decoded frame and the number of bytes consumed.
func decodeFrame(b []byte, level EncryptionLevel) (Frame, int, error) {
	if len(b) == 0 {
		return nil, 0, newError(InvalidFrameData, "empty frame buffer")
	}
	var typ uint64
	tn := getVarint(b, &typ)
	if tn == 0 {
		return nil, 0, newError(FrameEncodingError, "frame type not minimally encoded")
	}
	if !frameAllowedAtLevel(typ, level) {
		return nil, 0, newError(ProtocolViolation, "frame type not permitted at this encryption level")
	}
	switch {
	case typ == frameTypePadding:
		return decodePaddingFrame(b)
	case typ == frameTypePing:
		return &PingFrame{}, 1, nil
	case typ == frameTypeAck || typ == frameTypeAckECN || typ == frameTypeAckReceiveTimestamps:
		return decodeAckFrame(b, typ)
	case typ == frameTypeResetStream:
		return decodeResetStreamFrame(b)
	case typ == frameTypeResetStreamAt:
		return decodeResetStreamAtFrame(b)
	case typ == frameTypeStopSending:
		return decodeStopSendingFrame(b)
	case typ == frameTypeCrypto:
		return decodeCryptoFrame(b)
	case typ == frameTypeNewToken:
		return decodeNewTokenFrame(b)
	case typ >= frameTypeStream && typ <= frameTypeStreamEnd:
		return decodeStreamFrame(b)
	case typ == frameTypeMaxData:
		return decodeMaxDataFrame(b)
	case typ == frameTypeMaxStreamData:
		return decodeMaxStreamDataFrame(b)
	case typ == frameTypeMaxStreamsBidi || typ == frameTypeMaxStreamsUni:
		return decodeMaxStreamsFrame(b, typ == frameTypeMaxStreamsBidi)
	case typ == frameTypeDataBlocked:
		return decodeDataBlockedFrame(b)
	case typ == frameTypeStreamDataBlocked:
		return decodeStreamDataBlockedFrame(b)
	case typ == frameTypeStreamsBlockedBidi || typ == frameTypeStreamsBlockedUni:
		return decodeStreamsBlockedFrame(b, typ == frameTypeStreamsBlockedBidi)
	case typ == frameTypeNewConnectionID:
		return decodeNewConnectionIDFrame(b)
	case typ == frameTypeRetireConnectionID:
		return decodeRetireConnectionIDFrame(b)
	case typ == frameTypePathChallenge:
		return decodePathChallengeFrame(b)
	case typ == frameTypePathResponse:
		return decodePathResponseFrame(b)
	case typ == frameTypeConnectionClose || typ == frameTypeApplicationClose:
		return decodeConnectionCloseFrame(b, typ == frameTypeApplicationClose)
	case typ == frameTypeHandshakeDone:
		return &HandshakeDoneFrame{}, 1, nil
	case typ == frameTypeImmediateAck:
		return &ImmediateAckFrame{}, 1, nil
	case typ == frameTypeAckFrequency:
		return decodeAckFrequencyFrame(b)
	case typ >= frameTypeMessage && typ <= frameTypeMessageEnd:
		return decodeMessageFrame(b, typ)
	case typ == frameTypeGoAway:
		return decodeGoAwayFrame(b)
	default:
		return nil, 0, newError(FrameEncodingError, "unknown frame type")
	}
}

func decodePaddingFrame(b []byte) (Frame, int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	return &PaddingFrame{Length: n}, n, nil
}

func decodeStopSendingFrame(b []byte) (Frame, int, error) {
	n := 1
	var f StopSendingFrame
	m := getVarint(b[n:], &f.StreamID)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "stop_sending stream id")
	}
	n += m
	m = getVarint(b[n:], &f.ErrorCode)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "stop_sending error code")
	}
	n += m
	return &f, n, nil
}

func decodePathChallengeFrame(b []byte) (Frame, int, error) {
	if len(b) < 1+pathChallengeDataLen {
		return nil, 0, newError(InvalidFrameData, "path_challenge too short")
	}
	var f PathChallengeFrame
	copy(f.Data[:], b[1:1+pathChallengeDataLen])
	return &f, 1 + pathChallengeDataLen, nil
}

func decodePathResponseFrame(b []byte) (Frame, int, error) {
	if len(b) < 1+pathChallengeDataLen {
		return nil, 0, newError(InvalidFrameData, "path_response too short")
	}
	var f PathResponseFrame
	copy(f.Data[:], b[1:1+pathChallengeDataLen])
	return &f, 1 + pathChallengeDataLen, nil
}

// isFrameAckEliciting reports whether receiving this frame type requires
// the receiver to eventually send an ack (everything except ACK, PADDING,
// and CONNECTION_CLOSE, per RFC 9000 §13.2).
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypeAck, frameTypeAckECN, frameTypeAckReceiveTimestamps, frameTypePadding,
		frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frameAllowedAtLevel implements the frame-type acceptance-by-level table
// of §4.2.
func frameAllowedAtLevel(typ uint64, level EncryptionLevel) bool {
	switch level {
	case EncryptionApplication:
		return true
	case EncryptionInitial, EncryptionHandshake:
		switch typ {
		case frameTypeCrypto, frameTypeAck, frameTypeAckECN, frameTypeAckReceiveTimestamps,
			frameTypePing, frameTypePadding, frameTypeConnectionClose:
			return true
		default:
			return false
		}
	case EncryptionZeroRTT:
		switch typ {
		case frameTypeAck, frameTypeAckECN, frameTypeAckReceiveTimestamps, frameTypeHandshakeDone,
			frameTypeNewToken, frameTypePathResponse, frameTypeRetireConnectionID:
			return false
		default:
			return true
		}
	default:
		return false
	}
}
