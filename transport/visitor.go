package transport

// Visitor is implemented by whatever drives the connection from above — a
// TLS/handshake layer, an HTTP mapping, or a test harness (§6 "Visitor
// interface consumed by the connection"). The connection calls back into
// it as frames are dispatched and as its own state changes; it never
// calls back into the connection from within one of these methods other
// than through the methods documented to return a value.
type Visitor interface {
	OnStreamFrame(streamID, offset uint64, data []byte, fin bool)
	OnCryptoFrame(level EncryptionLevel, offset uint64, data []byte)
	OnWindowUpdateFrame(streamID uint64, maximumData uint64, isConnection bool)
	OnBlockedFrame(streamID uint64, limit uint64, isConnection bool)
	OnRstStream(streamID, errorCode, finalSize uint64)
	OnResetStreamAt(streamID, errorCode, finalSize, reliableOffset uint64)
	OnGoAway(errorCode, lastGoodStream uint64, reason string)
	OnMessageReceived(data []byte)
	OnHandshakeDoneReceived()
	OnNewTokenReceived(token []byte)
	OnMaxStreamsFrame(bidi bool, maximumStreams uint64)
	OnStreamsBlockedFrame(bidi bool, streamLimit uint64)
	OnStopSendingFrame(streamID, errorCode uint64)

	OnConnectionClosed(code ErrorCode, reason string, remote bool)
	OnPacketDecrypted(level EncryptionLevel)
	OnOneRttPacketAcknowledged()
	OnHandshakePacketSent()
	OnKeyUpdate()

	// AdvanceKeysAndCreateCurrentOneRttDecrypter is called when the
	// connection needs the next 1-RTT read key (a local or peer-initiated
	// key update); CreateCurrentOneRttEncrypter mirrors it for the write
	// direction.
	AdvanceKeysAndCreateCurrentOneRttDecrypter() (*PacketProtector, error)
	CreateCurrentOneRttEncrypter() (*PacketProtector, error)

	// WillingAndAbleToWrite reports whether the application layer has more
	// data it would write given the chance, used to decide whether to arm
	// a retransmittable-on-wire probe instead of going idle.
	WillingAndAbleToWrite() bool
	ShouldKeepConnectionAlive() bool

	// ValidateToken checks an address-validation token from a client
	// Initial's token field; MaybeSendAddressToken lets the visitor ask
	// the connection to carry a NEW_TOKEN frame on its next flight.
	ValidateToken(token []byte, addr string) bool
	MaybeSendAddressToken() []byte

	// OnAuthenticatedIetfStatelessResetPacket reports a verified stateless
	// reset from the peer (§7 "a single stateless-reset event").
	OnAuthenticatedIetfStatelessResetPacket()
}

// NoopVisitor implements Visitor with inert defaults, useful for tests
// that only exercise one or two callbacks.
type NoopVisitor struct{}

func (NoopVisitor) OnStreamFrame(uint64, uint64, []byte, bool)             {}
func (NoopVisitor) OnCryptoFrame(EncryptionLevel, uint64, []byte)          {}
func (NoopVisitor) OnWindowUpdateFrame(uint64, uint64, bool)               {}
func (NoopVisitor) OnBlockedFrame(uint64, uint64, bool)                    {}
func (NoopVisitor) OnRstStream(uint64, uint64, uint64)                     {}
func (NoopVisitor) OnResetStreamAt(uint64, uint64, uint64, uint64)         {}
func (NoopVisitor) OnGoAway(uint64, uint64, string)                        {}
func (NoopVisitor) OnMessageReceived([]byte)                               {}
func (NoopVisitor) OnHandshakeDoneReceived()                               {}
func (NoopVisitor) OnNewTokenReceived([]byte)                              {}
func (NoopVisitor) OnMaxStreamsFrame(bool, uint64)                         {}
func (NoopVisitor) OnStreamsBlockedFrame(bool, uint64)                     {}
func (NoopVisitor) OnStopSendingFrame(uint64, uint64)                      {}
func (NoopVisitor) OnConnectionClosed(ErrorCode, string, bool)             {}
func (NoopVisitor) OnPacketDecrypted(EncryptionLevel)                     {}
func (NoopVisitor) OnOneRttPacketAcknowledged()                            {}
func (NoopVisitor) OnHandshakePacketSent()                                 {}
func (NoopVisitor) OnKeyUpdate()                                           {}
func (NoopVisitor) AdvanceKeysAndCreateCurrentOneRttDecrypter() (*PacketProtector, error) {
	return nil, newError(MissingKey, "noop visitor has no keys")
}
func (NoopVisitor) CreateCurrentOneRttEncrypter() (*PacketProtector, error) {
	return nil, newError(MissingKey, "noop visitor has no keys")
}
func (NoopVisitor) WillingAndAbleToWrite() bool    { return false }
func (NoopVisitor) ShouldKeepConnectionAlive() bool { return false }
func (NoopVisitor) ValidateToken([]byte, string) bool { return true }
func (NoopVisitor) MaybeSendAddressToken() []byte     { return nil }
func (NoopVisitor) OnAuthenticatedIetfStatelessResetPacket() {}
