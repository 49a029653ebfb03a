package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is a QUIC transport error code, either one of the standard
// codes defined by the transport spec or a crypto/application-specific one.
type ErrorCode uint64

// Standard transport error codes (§7 error taxonomy).
const (
	NoError                  ErrorCode = 0x0
	InternalError            ErrorCode = 0x1
	ConnectionRefused        ErrorCode = 0x2
	FlowControlError         ErrorCode = 0x3
	StreamLimitError         ErrorCode = 0x4
	StreamStateError         ErrorCode = 0x5
	FinalSizeError           ErrorCode = 0x6
	FrameEncodingError       ErrorCode = 0x7
	TransportParameterError  ErrorCode = 0x8
	ConnectionIDLimitError   ErrorCode = 0x9
	ProtocolViolation        ErrorCode = 0xa
	InvalidToken             ErrorCode = 0xb
	ApplicationError         ErrorCode = 0xc
	CryptoBufferExceeded     ErrorCode = 0xd
	KeyUpdateError           ErrorCode = 0xe
	AEADLimitReached         ErrorCode = 0xf
	NoViablePath             ErrorCode = 0x10
	DecryptionFailure        ErrorCode = 0x1001
	MissingKey               ErrorCode = 0x1002
	InvalidPacketHeader      ErrorCode = 0x1003
	InvalidFrameData         ErrorCode = 0x1004
	InvalidPacketNumber      ErrorCode = 0x1005
	TooManyBufferedControl   ErrorCode = 0x1006
	TooManyOutstandingPacket ErrorCode = 0x1007
	PeerGoingAway            ErrorCode = 0x1008
	HandshakeFailed          ErrorCode = 0x1009
	PacketWriteError         ErrorCode = 0x100a
	PathDegrading            ErrorCode = 0x100b
	BlackholeDetected        ErrorCode = 0x100c
	IdleTimeoutError         ErrorCode = 0x100d
	HandshakeTimeoutError    ErrorCode = 0x100e
)

var errorCodeNames = map[ErrorCode]string{
	NoError:                  "no-error",
	InternalError:            "internal-error",
	ConnectionRefused:        "connection-refused",
	FlowControlError:         "flow-control-error",
	StreamLimitError:         "stream-limit-error",
	StreamStateError:         "stream-state-error",
	FinalSizeError:           "final-size-error",
	FrameEncodingError:       "frame-encoding-error",
	TransportParameterError:  "transport-parameter-error",
	ConnectionIDLimitError:   "connection-id-limit-error",
	ProtocolViolation:        "protocol-violation",
	InvalidToken:             "invalid-token",
	ApplicationError:         "application-error",
	CryptoBufferExceeded:     "crypto-buffer-exceeded",
	KeyUpdateError:           "key-update-error",
	AEADLimitReached:         "aead-limit-reached",
	NoViablePath:             "no-viable-path",
	DecryptionFailure:        "decryption-failure",
	MissingKey:               "missing-key",
	InvalidPacketHeader:      "invalid-packet-header",
	InvalidFrameData:         "invalid-frame-data",
	InvalidPacketNumber:      "invalid-packet-number",
	TooManyBufferedControl:   "too-many-buffered-control-frames",
	TooManyOutstandingPacket: "too-many-outstanding-packets",
	PeerGoingAway:            "peer-going-away",
	HandshakeFailed:          "handshake-failed",
	PacketWriteError:         "packet-write-error",
	PathDegrading:            "path-degrading",
	BlackholeDetected:        "blackhole-detected",
	IdleTimeoutError:         "idle-timeout",
	HandshakeTimeoutError:    "handshake-timeout",
}

// String returns the contract name for the error code (§7: "names are
// contracts, not type identifiers").
func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error-0x%x", uint64(c))
}

// TransportError is the single error type produced by this module. It
// carries a taxonomy code (§7) plus a human detail and, when the error
// wraps a lower-level cause (a short read, a bad AEAD tag), that cause via
// github.com/pkg/errors. It has no Format method, so %+v prints the same
// text as %v and no stack trace.
type TransportError struct {
	Code   ErrorCode
	Detail string
	cause  error
}

func (e *TransportError) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Detail
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *TransportError) Unwrap() error {
	return e.cause
}

// newError builds a TransportError, matching the teacher's newError(code, msg)
// call shape used throughout conn.go.
func newError(code ErrorCode, detail string) error {
	return &TransportError{Code: code, Detail: detail}
}

// wrapError wraps a lower-level cause with a taxonomy code, used at AEAD
// and wire-decode boundaries where the original error carries useful
// context (a short buffer, a bad varint) that's worth preserving.
func wrapError(code ErrorCode, cause error, detail string) error {
	return &TransportError{Code: code, Detail: detail, cause: errors.WithStack(cause)}
}

// IsTransportError reports whether err is a TransportError with the given code.
func IsTransportError(err error, code ErrorCode) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
