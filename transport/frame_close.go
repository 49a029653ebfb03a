package transport

import (
	"strconv"
	"strings"
)

// missingQuicErrorCode is the sentinel used when a CONNECTION_CLOSE reason
// phrase carries no "<numeric>:" prefix (§4.2).
const missingQuicErrorCode = ^uint64(0)

// ConnectionCloseFrame represents either shape of CONNECTION_CLOSE (§4.2):
// a transport close (IsApplication == false, carries the frame type that
// triggered it) or an application close.
type ConnectionCloseFrame struct {
	IsApplication bool
	ErrorCode     uint64
	FrameType_    uint64 // only meaningful when !IsApplication
	ReasonPhrase  string
	QuicErrorCode uint64 // extracted "<numeric>:" prefix, or missingQuicErrorCode
}

func (f *ConnectionCloseFrame) FrameType() uint64 {
	if f.IsApplication {
		return frameTypeApplicationClose
	}
	return frameTypeConnectionClose
}

func (f *ConnectionCloseFrame) EncodedLen() int {
	n := 1 + varintLen(f.ErrorCode)
	if !f.IsApplication {
		n += varintLen(f.FrameType_)
	}
	n += varintLen(uint64(len(f.ReasonPhrase))) + len(f.ReasonPhrase)
	return n
}

func (f *ConnectionCloseFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, f.FrameType())
	b = appendVarint(b, f.ErrorCode)
	if !f.IsApplication {
		b = appendVarint(b, f.FrameType_)
	}
	b = appendVarint(b, uint64(len(f.ReasonPhrase)))
	return append(b, f.ReasonPhrase...)
}

// NewConnectionCloseFrame builds a CONNECTION_CLOSE frame, extracting a
// leading "<numeric>:" prefix from reason into QuicErrorCode when present
// (§4.2).
func NewConnectionCloseFrame(isApplication bool, errorCode, triggerFrameType uint64, reason string) *ConnectionCloseFrame {
	f := &ConnectionCloseFrame{
		IsApplication: isApplication,
		ErrorCode:     errorCode,
		FrameType_:    triggerFrameType,
		ReasonPhrase:  reason,
		QuicErrorCode: missingQuicErrorCode,
	}
	if code, ok := parseQuicErrorPrefix(reason); ok {
		f.QuicErrorCode = code
	}
	return f
}

func parseQuicErrorPrefix(reason string) (uint64, bool) {
	idx := strings.IndexByte(reason, ':')
	if idx <= 0 {
		return 0, false
	}
	code, err := strconv.ParseUint(reason[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return code, true
}

func decodeConnectionCloseFrame(b []byte, application bool) (Frame, int, error) {
	n := 1
	f := &ConnectionCloseFrame{IsApplication: application, QuicErrorCode: missingQuicErrorCode}
	m := getVarint(b[n:], &f.ErrorCode)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "connection_close error code")
	}
	n += m
	if !application {
		m = getVarint(b[n:], &f.FrameType_)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "connection_close trigger frame type")
		}
		n += m
	}
	var length uint64
	m = getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "connection_close reason length")
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, 0, newError(InvalidFrameData, "connection_close reason truncated")
	}
	f.ReasonPhrase = string(b[n : n+int(length)])
	n += int(length)
	if code, ok := parseQuicErrorPrefix(f.ReasonPhrase); ok {
		f.QuicErrorCode = code
	}
	return f, n, nil
}

// ResetStreamFrame abruptly terminates the sending part of a stream (§3).
type ResetStreamFrame struct {
	StreamID   uint64
	ErrorCode  uint64
	FinalSize  uint64
}

func (f *ResetStreamFrame) FrameType() uint64 { return frameTypeResetStream }
func (f *ResetStreamFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.ErrorCode) + varintLen(f.FinalSize)
}
func (f *ResetStreamFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, frameTypeResetStream)
	b = appendVarint(b, f.StreamID)
	b = appendVarint(b, f.ErrorCode)
	return appendVarint(b, f.FinalSize)
}

func decodeResetStreamFrame(b []byte) (Frame, int, error) {
	n := 1
	var f ResetStreamFrame
	for _, v := range []*uint64{&f.StreamID, &f.ErrorCode, &f.FinalSize} {
		m := getVarint(b[n:], v)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "reset_stream field")
		}
		n += m
	}
	return &f, n, nil
}

// ResetStreamAtFrame is RESET_STREAM_AT (§3): like RESET_STREAM, but the
// sender must keep delivering bytes up to ReliableOffset before the reset
// takes effect.
type ResetStreamAtFrame struct {
	StreamID       uint64
	ErrorCode      uint64
	FinalSize      uint64
	ReliableOffset uint64
}

func (f *ResetStreamAtFrame) FrameType() uint64 { return frameTypeResetStreamAt }
func (f *ResetStreamAtFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.ErrorCode) +
		varintLen(f.FinalSize) + varintLen(f.ReliableOffset)
}
func (f *ResetStreamAtFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, frameTypeResetStreamAt)
	b = appendVarint(b, f.StreamID)
	b = appendVarint(b, f.ErrorCode)
	b = appendVarint(b, f.FinalSize)
	return appendVarint(b, f.ReliableOffset)
}

// decodeResetStreamAtFrame rejects reliable_offset > final_offset (§4.2,
// §8 scenario 3).
func decodeResetStreamAtFrame(b []byte) (Frame, int, error) {
	n := 1
	var f ResetStreamAtFrame
	for _, v := range []*uint64{&f.StreamID, &f.ErrorCode, &f.FinalSize, &f.ReliableOffset} {
		m := getVarint(b[n:], v)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "reset_stream_at field")
		}
		n += m
	}
	if f.ReliableOffset > f.FinalSize {
		return nil, 0, newError(InvalidFrameData, "reliable_offset > final_offset")
	}
	return &f, n, nil
}

// GoAwayFrame is a legacy gQUIC-style extension frame surfaced to the
// OnGoAway visitor callback (§6); not part of IETF QUIC v1/v2 but kept for
// parity with the visitor interface the spec enumerates.
type GoAwayFrame struct {
	ErrorCode      uint64
	LastGoodStream uint64
	Reason         string
}

func (f *GoAwayFrame) FrameType() uint64 { return frameTypeGoAway }
func (f *GoAwayFrame) EncodedLen() int {
	return 1 + varintLen(f.ErrorCode) + varintLen(f.LastGoodStream) +
		varintLen(uint64(len(f.Reason))) + len(f.Reason)
}
func (f *GoAwayFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, frameTypeGoAway)
	b = appendVarint(b, f.ErrorCode)
	b = appendVarint(b, f.LastGoodStream)
	b = appendVarint(b, uint64(len(f.Reason)))
	return append(b, f.Reason...)
}

func decodeGoAwayFrame(b []byte) (Frame, int, error) {
	n := varintLen(frameTypeGoAway)
	var f GoAwayFrame
	m := getVarint(b[n:], &f.ErrorCode)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "goaway error code")
	}
	n += m
	m = getVarint(b[n:], &f.LastGoodStream)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "goaway last good stream")
	}
	n += m
	var length uint64
	m = getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "goaway reason length")
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, 0, newError(InvalidFrameData, "goaway reason truncated")
	}
	f.Reason = string(b[n : n+int(length)])
	n += int(length)
	return &f, n, nil
}
