package transport

import "time"

// sendBuffer retains the bytes of one outgoing stream (or one CRYPTO
// level) from the first still-needed offset onward, so the packet
// creator can reconstruct any requested range — including for
// retransmission — without the caller re-presenting the data (§4.8,
// grounded on QUICHE's QuicStreamSendBuffer).
type sendBuffer struct {
	base uint64 // offset of data[0]
	data []byte
}

func (b *sendBuffer) append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *sendBuffer) slice(offset, length uint64) []byte {
	if offset < b.base {
		return nil
	}
	start := offset - b.base
	if start > uint64(len(b.data)) {
		return nil
	}
	end := start + length
	if end > uint64(len(b.data)) {
		end = uint64(len(b.data))
	}
	return b.data[start:end]
}

// trimTo drops bytes before upTo once they can never be needed again
// (acked, or Initial data neutered after the handshake).
func (b *sendBuffer) trimTo(upTo uint64) {
	if upTo <= b.base {
		return
	}
	n := upTo - b.base
	if n > uint64(len(b.data)) {
		n = uint64(len(b.data))
	}
	b.data = b.data[n:]
	b.base = upTo
}

// beginFlush/endFlush bracket a "scoped packet flusher" (§4.9): every
// Send* entry point opens one, frames built while it is open accumulate
// per level instead of going straight to the wire, and only the
// outermost call actually serializes and coalesces them into datagrams.
// This lets a single call stack — e.g. SendControlFrame triggering a
// MAX_STREAM_DATA while handling a SendStreamData call — end up in one
// packet instead of two.
func (c *Conn) beginFlush() {
	c.flushDepth++
}

func (c *Conn) endFlush() error {
	c.flushDepth--
	if c.flushDepth > 0 {
		return nil
	}
	return c.flushPendingLocked()
}

func (c *Conn) queueFrameLocked(level EncryptionLevel, f Frame) {
	c.pendingFrames[level] = append(c.pendingFrames[level], f)
}

// flushPendingLocked serializes every level's queued frames into one
// packet per level with anything pending, in ascending encryption-level
// order (Initial, Handshake, then Application), and coalesces them all into
// a single datagram (§4.5 "coalesced packet"); the datagram's size is not
// checked against MaxPacketLength. Ack-eliciting packets are recorded in
// the sent-packet log and set ackElicitingSent; no retransmission alarm is
// armed.
func (c *Conn) flushPendingLocked() error {
	var datagram []byte
	sentAckEliciting := false

	for level := EncryptionInitial; level <= EncryptionApplication; level++ {
		frames := c.pendingFrames[level]
		if len(frames) == 0 {
			continue
		}
		c.pendingFrames[level] = nil
		if !c.framer.HasKeys(level) {
			continue
		}

		space := level.Space()
		pn := c.spaces[space].nextSendPN
		c.spaces[space].nextSendPN++
		largestAcked := uint64(0)
		if c.spaces[space].haveLargestAcked {
			largestAcked = c.spaces[space].largestAcked
		}

		var pkt []byte
		var err error
		if level == EncryptionApplication {
			pkt, err = c.framer.BuildShortHeaderPacket(c.dcid, pn, largestAcked, frames, false)
		} else {
			paddingTo := 0
			if level == EncryptionInitial && c.isClient && !c.handshakeConfirmed {
				paddingTo = MinInitialPacketSize
			}
			pkt, err = c.framer.BuildLongHeaderPacket(levelPacketType(level), c.dcid, c.scid, nil, pn, largestAcked, frames, paddingTo)
		}
		if err != nil {
			return err
		}

		ackEliciting := false
		for _, f := range frames {
			if isFrameAckEliciting(f.FrameType()) {
				ackEliciting = true
			}
		}
		if ackEliciting {
			sentAckEliciting = true
			c.recordSentPacketLocked(space, pn, frames, time.Now().UnixNano())
		}
		c.logger.PacketSent(level, pn, len(pkt), frames)
		datagram = append(datagram, pkt...)
	}

	if len(datagram) == 0 {
		return nil
	}
	if sentAckEliciting {
		c.ackElicitingSent = true
	}
	c.lastSendNano = time.Now().UnixNano()
	c.bytesSentBeforeValidation += uint64(len(datagram))
	c.pendingDatagrams = append(c.pendingDatagrams, datagram)
	return nil
}

func levelPacketType(level EncryptionLevel) PacketType {
	switch level {
	case EncryptionInitial:
		return PacketTypeInitial
	case EncryptionHandshake:
		return PacketTypeHandshake
	default:
		return PacketTypeZeroRTT
	}
}

// DrainDatagrams removes and returns every datagram the connection has
// built but not yet handed to the socket layer, used by the caller's
// I/O loop after a Send*/On* call returns.
func (c *Conn) DrainDatagrams() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pendingDatagrams
	c.pendingDatagrams = nil
	return out
}

// SendStreamData queues data for streamID (plus fin, if state is
// StreamDataFin) and asks the packet creator to emit it immediately,
// returning how many of the newly queued bytes actually made it into a
// packet this call (§4.8, §4.9 "Outgoing path").
func (c *Conn) SendStreamData(streamID uint64, data []byte, state StreamDataState) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateHandshaking && c.state != stateActive {
		return 0, newError(InternalError, "connection not open for writing")
	}

	buf := c.streamBuffers[streamID]
	if buf == nil {
		if c.streamBuffers == nil {
			c.streamBuffers = make(map[uint64]*sendBuffer)
		}
		buf = &sendBuffer{}
		c.streamBuffers[streamID] = buf
	}
	buf.append(data)

	c.beginFlush()
	written, ok := c.notifier.WriteOrBufferData(streamID, uint64(len(data)), state)
	if err := c.endFlush(); err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return written, nil
}

// SendCryptoData queues handshake bytes at level and asks the creator to
// emit a CRYPTO frame immediately.
func (c *Conn) SendCryptoData(level EncryptionLevel, data []byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.cryptoBuffers[level]
	if buf == nil {
		buf = &sendBuffer{}
		c.cryptoBuffers[level] = buf
	}
	buf.append(data)

	c.beginFlush()
	written := c.notifier.WriteCryptoData(level, c.cryptoQueued[level], uint64(len(data)))
	c.cryptoQueued[level] += written
	err := c.endFlush()
	return written, err
}

// SendControlFrame hands frame to the control-frame manager and attempts
// to emit it on this call stack (§4.7, §4.9).
func (c *Conn) SendControlFrame(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.control.WriteOrBuffer(frame)
	if err != nil {
		return err
	}
	c.beginFlush()
	c.queueFrameLocked(c.controlFrameLevel(frame), frame)
	c.noteControlFrameIDLocked(frame, id)
	c.control.OnSent(id)
	return c.endFlush()
}

// noteControlFrameIDLocked remembers which control-frame-manager id a
// queued frame corresponds to, so a later ACK or loss notification for the
// packet it ends up in can be routed back to ControlFrameManager.OnAcked /
// OnLost (§4.7, §4.9).
func (c *Conn) noteControlFrameIDLocked(frame Frame, id uint64) {
	if c.controlFrameIDs == nil {
		c.controlFrameIDs = make(map[Frame]uint64)
	}
	c.controlFrameIDs[frame] = id
}

// controlFrameLevel picks the encryption level a control frame belongs
// to: CRYPTO-adjacent frames never originate here (SendCryptoData covers
// those), so every control frame is an Application-space flow-control,
// connection-id, path-validation, or close frame, which QUIC only ever
// sends once 1-RTT (or, for CONNECTION_CLOSE while still handshaking,
// Initial/Handshake) keys exist. The connection's current phase decides.
func (c *Conn) controlFrameLevel(frame Frame) EncryptionLevel {
	if _, ok := frame.(*ConnectionCloseFrame); ok && !c.handshakeConfirmed {
		if c.framer.HasKeys(EncryptionHandshake) {
			return EncryptionHandshake
		}
		return EncryptionInitial
	}
	return EncryptionApplication
}

// driveStreamWrite is the WriteDriver half of the outgoing stream path:
// the notifier calls it to ask for up to length bytes starting wherever
// this stream's cursor currently sits. Anti-amplification is the only
// backpressure modeled here — real congestion/flow control is out of
// scope (SPEC_FULL.md §3).
func (c *Conn) driveStreamWrite(streamID uint64, length uint64, state StreamDataState) (uint64, bool) {
	if !c.canSendLocked() {
		return 0, true
	}
	buf := c.streamBuffers[streamID]
	if buf == nil {
		return 0, true
	}
	cursor := c.streamCursor(streamID)
	data := buf.slice(cursor, length)
	if len(data) == 0 && state != StreamDataFin {
		return 0, true
	}
	fin := state == StreamDataFin && uint64(len(data)) == length
	f := &StreamFrame{StreamID: streamID, Offset: cursor, Data: append([]byte(nil), data...), Fin: fin}
	c.queueFrameLocked(EncryptionApplication, f)
	if c.streamCursors == nil {
		c.streamCursors = make(map[uint64]uint64)
	}
	c.streamCursors[streamID] = cursor + uint64(len(data))
	return uint64(len(data)), false
}

func (c *Conn) streamCursor(streamID uint64) uint64 {
	return c.streamCursors[streamID]
}

// driveCryptoWrite is the CRYPTO-stream counterpart of driveStreamWrite.
func (c *Conn) driveCryptoWrite(level EncryptionLevel, offset, length uint64) (uint64, bool) {
	if !c.framer.HasKeys(level) {
		return 0, true
	}
	buf := c.cryptoBuffers[level]
	if buf == nil {
		return 0, true
	}
	data := buf.slice(offset, length)
	if len(data) == 0 {
		return 0, true
	}
	f := &CryptoFrame{Offset: offset, Data: append([]byte(nil), data...)}
	c.queueFrameLocked(level, f)
	return uint64(len(data)), false
}

// canSendLocked enforces the anti-amplification limit: an unvalidated
// server path may send at most AntiAmplificationFactor times what it has
// received from that address (§4.9 "Anti-amplification").
func (c *Conn) canSendLocked() bool {
	if c.isClient || c.peerValidated {
		return true
	}
	limit := c.bytesReceivedBeforeValidation * uint64(c.config.AntiAmplificationFactor)
	return c.bytesSentBeforeValidation < limit
}

// FlushControlFrames asks the control-frame manager and session notifier
// to emit anything they have pending (lost retransmissions first, then
// buffered new data), coalescing everything into as few datagrams as
// possible (§4.7, §4.8, §4.9).
func (c *Conn) FlushControlFrames() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginFlush()
	c.control.OnCanWrite(func(id uint64, f Frame) bool {
		if !c.canSendLocked() {
			return false
		}
		c.queueFrameLocked(c.controlFrameLevel(f), f)
		c.noteControlFrameIDLocked(f, id)
		return true
	})
	c.notifier.OnCanWrite()
	return c.endFlush()
}
