package main

import (
	"crypto/rand"
	"log"
	"net"

	"github.com/quince-project/quince/transport"
)

// drainAndSend writes every datagram a connection has queued out to addr
// over w, logging (rather than failing the whole loop) on a write error
// since a single lost datagram is routine on UDP.
func drainAndSend(conn *transport.Conn, w PacketWriter, addr net.Addr) {
	for _, dgram := range conn.DrainDatagrams() {
		if _, err := w.WriteTo(dgram, addr); err != nil {
			log.Printf("write to %s: %v", addr, err)
		}
	}
}

// demoVisitor logs every callback it receives to the standard logger; it
// implements none of the policy decisions (token validation, keep-alive,
// key rotation) beyond the inert defaults, since this command demonstrates
// the transport wiring rather than a real QUIC application (SPEC_FULL.md §4
// "no TLS handshake driver, no HTTP/3 mapping").
type demoVisitor struct {
	transport.NoopVisitor
	label string
}

func (v *demoVisitor) OnStreamFrame(streamID, offset uint64, data []byte, fin bool) {
	log.Printf("%s: stream %d offset %d +%dB fin=%v", v.label, streamID, offset, len(data), fin)
}

func (v *demoVisitor) OnCryptoFrame(level transport.EncryptionLevel, offset uint64, data []byte) {
	log.Printf("%s: crypto %s offset %d +%dB", v.label, level, offset, len(data))
}

func (v *demoVisitor) OnHandshakeDoneReceived() {
	log.Printf("%s: handshake done", v.label)
}

func (v *demoVisitor) OnConnectionClosed(code transport.ErrorCode, reason string, remote bool) {
	log.Printf("%s: closed code=%s reason=%q remote=%v", v.label, code, reason, remote)
}

func (v *demoVisitor) OnGoAway(errorCode, lastGoodStream uint64, reason string) {
	log.Printf("%s: goaway last_good_stream=%d reason=%q", v.label, lastGoodStream, reason)
}

func (v *demoVisitor) ShouldKeepConnectionAlive() bool { return true }
func (v *demoVisitor) ValidateToken([]byte, string) bool { return true }

func randomConnectionID(n int) transport.ConnectionID {
	cid := make(transport.ConnectionID, n)
	_, _ = rand.Read(cid)
	return cid
}
