package transport

// StreamFrame carries stream data (§3 "Stream", §4.2 "STREAM"). The type
// byte's low three bits are OFF (offset present), LEN (length present),
// FIN (final frame of the stream).
type StreamFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
	Fin      bool
}

const (
	streamFlagFin = 0x01
	streamFlagLen = 0x02
	streamFlagOff = 0x04
)

func (f *StreamFrame) FrameType() uint64 {
	typ := uint64(frameTypeStream)
	if f.Offset != 0 {
		typ |= streamFlagOff
	}
	typ |= streamFlagLen
	if f.Fin {
		typ |= streamFlagFin
	}
	return typ
}

func (f *StreamFrame) EncodedLen() int {
	n := 1 + varintLen(f.StreamID)
	if f.Offset != 0 {
		n += varintLen(f.Offset)
	}
	n += varintLen(uint64(len(f.Data)))
	return n + len(f.Data)
}

// encodedLenNoLength is the size of this frame if LEN is omitted (legal
// only as the last frame of a packet, §4.2).
func (f *StreamFrame) encodedLenNoLength() int {
	n := 1 + varintLen(f.StreamID)
	if f.Offset != 0 {
		n += varintLen(f.Offset)
	}
	return n + len(f.Data)
}

func (f *StreamFrame) AppendTo(b []byte) []byte {
	return f.appendTo(b, true)
}

// AppendToOmitLength appends the frame without the LEN field, which is
// only legal as the last frame in a packet (§4.2 "Only the last frame in a
// packet may omit LEN").
func (f *StreamFrame) AppendToOmitLength(b []byte) []byte {
	return f.appendTo(b, false)
}

func (f *StreamFrame) appendTo(b []byte, withLen bool) []byte {
	typ := uint64(frameTypeStream)
	if f.Fin {
		typ |= streamFlagFin
	}
	if f.Offset != 0 {
		typ |= streamFlagOff
	}
	if withLen {
		typ |= streamFlagLen
	}
	b = appendVarint(b, typ)
	b = appendVarint(b, f.StreamID)
	if f.Offset != 0 {
		b = appendVarint(b, f.Offset)
	}
	if withLen {
		b = appendVarint(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...)
}

// decodeStreamFrame decodes a STREAM frame. When the LEN bit is absent,
// Data consumes everything left in b, so the caller must pass exactly the
// remaining packet bytes (§4.2).
func decodeStreamFrame(b []byte) (Frame, int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 {
		return nil, 0, newError(FrameEncodingError, "stream frame type")
	}
	off := typ&streamFlagOff != 0
	hasLen := typ&streamFlagLen != 0
	fin := typ&streamFlagFin != 0

	var f StreamFrame
	f.Fin = fin
	m := getVarint(b[n:], &f.StreamID)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "stream id")
	}
	n += m
	if off {
		m = getVarint(b[n:], &f.Offset)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "stream offset")
		}
		n += m
	}
	if hasLen {
		var length uint64
		m = getVarint(b[n:], &length)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "stream length")
		}
		n += m
		if length > 0xffff {
			return nil, 0, newError(InvalidFrameData, "stream data length too large")
		}
		if uint64(len(b)-n) < length {
			return nil, 0, newError(InvalidFrameData, "stream data truncated")
		}
		f.Data = b[n : n+int(length)]
		n += int(length)
	} else {
		// No LEN: consume to the end of the packet. Only legal as the
		// last frame; the framer enforces that by passing exactly the
		// remaining payload as b.
		f.Data = b[n:]
		n = len(b)
	}
	return &f, n, nil
}

// CryptoFrame carries handshake data at a given encryption level (§3
// "always (offset, length, bytes)"). Offsets across levels are independent.
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (f *CryptoFrame) FrameType() uint64 { return frameTypeCrypto }
func (f *CryptoFrame) EncodedLen() int {
	return 1 + varintLen(f.Offset) + varintLen(uint64(len(f.Data))) + len(f.Data)
}
func (f *CryptoFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeCrypto)
	b = appendVarint(b, f.Offset)
	b = appendVarint(b, uint64(len(f.Data)))
	return append(b, f.Data...)
}

func decodeCryptoFrame(b []byte) (Frame, int, error) {
	n := 1
	var f CryptoFrame
	m := getVarint(b[n:], &f.Offset)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "crypto offset")
	}
	n += m
	var length uint64
	m = getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "crypto length")
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, 0, newError(InvalidFrameData, "crypto data truncated")
	}
	f.Data = b[n : n+int(length)]
	n += int(length)
	return &f, n, nil
}

// NewTokenFrame carries an address-validation token a client should use in
// future connections (§6, §4.9 Close/Retry discussion).
type NewTokenFrame struct {
	Token []byte
}

func (f *NewTokenFrame) FrameType() uint64 { return frameTypeNewToken }
func (f *NewTokenFrame) EncodedLen() int {
	return 1 + varintLen(uint64(len(f.Token))) + len(f.Token)
}
func (f *NewTokenFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeNewToken)
	b = appendVarint(b, uint64(len(f.Token)))
	return append(b, f.Token...)
}

func decodeNewTokenFrame(b []byte) (Frame, int, error) {
	n := 1
	var f NewTokenFrame
	var length uint64
	m := getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "new_token length")
	}
	n += m
	if length == 0 {
		return nil, 0, newError(InvalidFrameData, "new_token empty")
	}
	if uint64(len(b)-n) < length {
		return nil, 0, newError(InvalidFrameData, "new_token truncated")
	}
	f.Token = b[n : n+int(length)]
	n += int(length)
	return &f, n, nil
}

// MessageFrame is an unreliable, unordered datagram carried inside a QUIC
// packet (RFC 9221 DATAGRAM, named MESSAGE in the spec's frame list).
type MessageFrame struct {
	Data []byte
}

func (f *MessageFrame) FrameType() uint64 { return frameTypeMessage | 0x01 }
func (f *MessageFrame) EncodedLen() int {
	return 1 + varintLen(uint64(len(f.Data))) + len(f.Data)
}
func (f *MessageFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeMessage|0x01)
	b = appendVarint(b, uint64(len(f.Data)))
	return append(b, f.Data...)
}

func decodeMessageFrame(b []byte, typ uint64) (Frame, int, error) {
	n := 1
	var f MessageFrame
	hasLen := typ&0x01 != 0
	if hasLen {
		var length uint64
		m := getVarint(b[n:], &length)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "message length")
		}
		n += m
		if uint64(len(b)-n) < length {
			return nil, 0, newError(InvalidFrameData, "message data truncated")
		}
		f.Data = b[n : n+int(length)]
		n += int(length)
	} else {
		f.Data = b[n:]
		n = len(b)
	}
	return &f, n, nil
}
