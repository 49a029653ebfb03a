package transport

import "time"

// sentFrameRecord remembers the ack-eliciting frames carried by one sent
// packet, so a later ACK can be turned into acked notifications on the
// control-frame manager and session notifier, and a receive-time sample can
// feed the received-packet manager's RTT estimate (§4.9; loss detection and
// retransmission timing themselves are out of scope, SPEC_FULL.md §3 —
// this bookkeeping only drives the ack-side wiring).
type sentFrameRecord struct {
	pn       uint64
	frames   []Frame
	sentNano int64
}

// maxSentPacketRecords bounds the per-space log; once exceeded the oldest
// (least likely to still be acked) entries are dropped, matching the
// bounded-buffer treatment acks.go already gives received ranges.
const maxSentPacketRecords = 2048

func (c *Conn) recordSentPacketLocked(space PacketNumberSpace, pn uint64, frames []Frame, nowNano int64) {
	log := append(c.sentPackets[space], sentFrameRecord{pn: pn, frames: frames, sentNano: nowNano})
	if len(log) > maxSentPacketRecords {
		log = log[len(log)-maxSentPacketRecords:]
	}
	c.sentPackets[space] = log
}

// spaceLargestReceived is the callback Framer.DecodePacket uses to
// reconstruct a truncated packet number (§4.1).
func (c *Conn) spaceLargestReceived(space PacketNumberSpace) int64 {
	return c.spaces[space].largestReceived
}

func spaceToLevel(space PacketNumberSpace) EncryptionLevel {
	switch space {
	case SpaceInitial:
		return EncryptionInitial
	case SpaceHandshake:
		return EncryptionHandshake
	default:
		return EncryptionApplication
	}
}

// ProcessUdpPacket decodes and dispatches every coalesced packet in one
// incoming UDP datagram (§4.5 "coalesced packet", §4.9 "Incoming path").
// It refuses to reenter: a Visitor callback that tries to feed the
// connection another datagram synchronously gets an error instead of
// corrupting the flush scope.
func (c *Conn) ProcessUdpPacket(datagram []byte, peerAddr string, ecnCE bool, nowNano int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isProcessingPacket {
		return newError(InternalError, "reentrant ProcessUdpPacket call")
	}
	c.isProcessingPacket = true
	defer func() { c.isProcessingPacket = false }()

	if c.state == stateClosed {
		return nil
	}
	if !c.isClient && !c.peerValidated {
		c.bytesReceivedBeforeValidation += uint64(len(datagram))
	}

	c.beginFlush()
	var firstErr error
	rest := datagram
	for len(rest) > 0 {
		pkt, err := c.framer.DecodePacket(rest, c.spaceLargestReceived)
		if err != nil {
			c.logger.PacketDropped("decode_failed", err)
			break // can't know this packet's wire length; stop walking the datagram
		}
		if err := c.handleDecodedPacketLocked(pkt, peerAddr, ecnCE, nowNano); err != nil && firstErr == nil {
			firstErr = err
		}
		if pkt.WireLength <= 0 || pkt.WireLength > len(rest) {
			break
		}
		rest = rest[pkt.WireLength:]
	}
	if ferr := c.endFlush(); firstErr == nil {
		firstErr = ferr
	}
	return firstErr
}

// handleDecodedPacketLocked applies one already-decrypted packet: duplicate
// rejection, ack-manager bookkeeping, idle-timer reset and frame dispatch
// (§4.6, §4.9, grounded on conn_orig_ref.go's recvPacket/recvFrames chain).
func (c *Conn) handleDecodedPacketLocked(pkt *DecodedPacket, peerAddr string, ecnCE bool, nowNano int64) error {
	space := pkt.Level.Space()
	if c.acks[space].HasReceived(pkt.PacketNumber) {
		c.logger.PacketDropped("duplicate_packet_number", nil)
		return nil
	}

	ackEliciting := false
	for _, f := range pkt.Frames {
		if isFrameAckEliciting(f.FrameType()) {
			ackEliciting = true
			break
		}
	}
	c.acks[space].OnPacketReceived(pkt.PacketNumber, ackEliciting, false, false, ecnCE, nowNano)
	if int64(pkt.PacketNumber) > c.spaces[space].largestReceived {
		c.spaces[space].largestReceived = int64(pkt.PacketNumber)
	}
	c.logger.PacketReceived(pkt)

	if !c.isClient && pkt.Level == EncryptionHandshake && !c.discardedInitial {
		c.framer.DiscardKeys(EncryptionInitial)
		c.discardedInitial = true
		c.notifier.NeuterUnencryptedData()
	}
	if c.state == stateHandshaking && pkt.Level == EncryptionApplication {
		c.state = stateActive
	}

	c.idleDeadline = time.Unix(0, nowNano).Add(c.config.IdleNetworkTimeout)
	if c.visitor != nil {
		c.visitor.OnPacketDecrypted(pkt.Level)
	}

	if peerAddr != c.defaultPath.peerAddr && c.defaultPath.peerAddr != "" && !c.isProbingOnlyLocked(pkt.Frames) {
		c.beginPathValidationLocked(peerAddr, nowNano, false)
	}

	for _, f := range pkt.Frames {
		if err := c.dispatchFrameLocked(space, f, peerAddr, nowNano); err != nil {
			return err
		}
	}
	return nil
}

// dispatchFrameLocked routes one decoded frame to the Visitor, a
// bookkeeping module, or both (§6 "Visitor interface").
func (c *Conn) dispatchFrameLocked(space PacketNumberSpace, f Frame, peerAddr string, nowNano int64) error {
	switch v := f.(type) {
	case *PaddingFrame, *PingFrame:
		// No effect beyond the ack-eliciting bookkeeping already applied.
	case *AckFrame:
		c.processAckFrameLocked(space, v, nowNano)
	case *ImmediateAckFrame:
		c.acks[space].OnImmediateAck()
	case *AckFrequencyFrame:
		c.acks[space].OnAckFrequencyFrame(v)
	case *StreamFrame:
		if c.visitor != nil {
			c.visitor.OnStreamFrame(v.StreamID, v.Offset, v.Data, v.Fin)
		}
	case *CryptoFrame:
		if c.visitor != nil {
			c.visitor.OnCryptoFrame(pkt0Level(space), v.Offset, v.Data)
		}
	case *ResetStreamFrame:
		if c.visitor != nil {
			c.visitor.OnRstStream(v.StreamID, v.ErrorCode, v.FinalSize)
		}
	case *ResetStreamAtFrame:
		if c.visitor != nil {
			c.visitor.OnResetStreamAt(v.StreamID, v.ErrorCode, v.FinalSize, v.ReliableOffset)
		}
	case *StopSendingFrame:
		if c.visitor != nil {
			c.visitor.OnStopSendingFrame(v.StreamID, v.ErrorCode)
		}
	case *MaxDataFrame:
		if c.visitor != nil {
			c.visitor.OnWindowUpdateFrame(0, v.MaximumData, true)
		}
	case *MaxStreamDataFrame:
		if c.visitor != nil {
			c.visitor.OnWindowUpdateFrame(v.StreamID, v.MaximumData, false)
		}
	case *DataBlockedFrame:
		if c.visitor != nil {
			c.visitor.OnBlockedFrame(0, v.DataLimit, true)
		}
	case *StreamDataBlockedFrame:
		if c.visitor != nil {
			c.visitor.OnBlockedFrame(v.StreamID, v.DataLimit, false)
		}
	case *MaxStreamsFrame:
		if c.visitor != nil {
			c.visitor.OnMaxStreamsFrame(v.Bidi, v.MaximumStreams)
		}
	case *StreamsBlockedFrame:
		if c.visitor != nil {
			c.visitor.OnStreamsBlockedFrame(v.Bidi, v.StreamLimit)
		}
	case *NewConnectionIDFrame:
		return c.peerCIDs.OnNewConnectionID(v.SequenceNumber, v.RetirePriorTo, v.ConnectionID, v.ResetToken)
	case *RetireConnectionIDFrame:
		return c.selfCIDs.OnRetireConnectionID(v.SequenceNumber, nowNano, c.ptoEstimateNano())
	case *NewTokenFrame:
		if c.visitor != nil {
			c.visitor.OnNewTokenReceived(v.Token)
		}
	case *MessageFrame:
		if c.visitor != nil {
			c.visitor.OnMessageReceived(v.Data)
		}
	case *GoAwayFrame:
		if c.visitor != nil {
			c.visitor.OnGoAway(v.ErrorCode, v.LastGoodStream, v.Reason)
		}
	case *PathChallengeFrame:
		c.queueFrameLocked(EncryptionApplication, &PathResponseFrame{Data: v.Data})
	case *PathResponseFrame:
		c.onPathResponseLocked(peerAddr, v.Data, nowNano)
	case *HandshakeDoneFrame:
		if c.isClient {
			c.handshakeConfirmed = true
			c.state = stateActive
			if !c.discardedHandshake {
				c.framer.DiscardKeys(EncryptionHandshake)
				c.discardedHandshake = true
			}
		}
		if c.visitor != nil {
			c.visitor.OnHandshakeDoneReceived()
		}
	case *ConnectionCloseFrame:
		if c.state != stateClosed && c.state != stateDraining {
			c.closeErr = &TransportError{Code: ErrorCode(v.ErrorCode), Detail: v.ReasonPhrase}
			c.state = stateDraining
			c.drainAlarmsLocked()
			c.logger.ConnectionClosed(ErrorCode(v.ErrorCode), v.ReasonPhrase, true)
			if c.visitor != nil {
				c.visitor.OnConnectionClosed(ErrorCode(v.ErrorCode), v.ReasonPhrase, true)
			}
		}
	}
	return nil
}

// pkt0Level is CryptoFrame's owning level, which (unlike StreamFrame) isn't
// self-describing: it rides whatever packet carried it, so the caller
// passes the packet's own space back in as the level the visitor should
// see (§3 "Offsets across levels are independent").
func pkt0Level(space PacketNumberSpace) EncryptionLevel {
	return spaceToLevel(space)
}

// ptoEstimateNano is a conservative stand-in for a real PTO sample: it
// bounds how long this endpoint keeps honoring a connection id it has told
// the peer to retire, not a retransmission deadline, so reusing the
// configured ack-delay budget is sufficient without implementing loss
// recovery timing (SPEC_FULL.md §3 non-goal).
func (c *Conn) ptoEstimateNano() int64 {
	return int64(c.config.LocalMaxAckDelay) * 3
}

// processAckFrameLocked applies an ACK's newly-covered packet numbers to
// the control-frame manager and session notifier, and updates the space's
// view of what the peer has acknowledged so the next outgoing packet in
// this space can truncate its packet number against it (§4.1, §4.9).
func (c *Conn) processAckFrameLocked(space PacketNumberSpace, f *AckFrame, nowNano int64) {
	if !c.spaces[space].haveLargestAcked || f.LargestAcked > c.spaces[space].largestAcked {
		c.spaces[space].largestAcked = f.LargestAcked
		c.spaces[space].haveLargestAcked = true
	}

	records := c.sentPackets[space]
	kept := records[:0]
	anyNewlyAcked := false
	for _, rec := range records {
		if !ackFrameCoversPN(f, rec.pn) {
			kept = append(kept, rec)
			continue
		}
		anyNewlyAcked = true
		for _, fr := range rec.frames {
			c.applyAckedFrameLocked(space, fr)
		}
		if rec.pn == f.LargestAcked {
			ackDelayNano := int64(f.AckDelay) * ackDelayExponentDivisor * 1000
			sample := nowNano - rec.sentNano - ackDelayNano
			if sample <= 0 {
				sample = nowNano - rec.sentNano
			}
			if sample > 0 {
				c.acks[space].UpdateMinRTT(sample)
			}
		}
	}
	c.sentPackets[space] = kept

	if anyNewlyAcked && space == SpaceApplication && c.visitor != nil {
		c.visitor.OnOneRttPacketAcknowledged()
	}
}

func ackFrameCoversPN(f *AckFrame, pn uint64) bool {
	for _, r := range f.Ranges {
		if pn >= r.Smallest && pn <= r.Largest {
			return true
		}
		if pn > r.Largest {
			return false
		}
	}
	return false
}

// applyAckedFrameLocked notifies the owning bookkeeping module that one
// frame from a newly-acked packet has been delivered (§4.7, §4.8).
func (c *Conn) applyAckedFrameLocked(space PacketNumberSpace, f Frame) {
	switch v := f.(type) {
	case *StreamFrame:
		c.notifier.OnStreamFrameAcked(v.StreamID, v.Offset, uint64(len(v.Data)), v.Fin)
	case *CryptoFrame:
		c.notifier.OnCryptoFrameAcked(spaceToLevel(space), v.Offset, uint64(len(v.Data)))
	default:
		if id, ok := c.controlFrameIDs[f]; ok {
			c.control.OnAcked(id)
			delete(c.controlFrameIDs, f)
		}
	}
}

// isProbingOnlyLocked reports whether every frame in a packet is one of the
// path-probing frame types (PATH_CHALLENGE, PATH_RESPONSE, PADDING, and a
// NEW_CONNECTION_ID/RETIRE_CONNECTION_ID pair), in which case a changed
// source address is connectivity probing rather than a migration (§4.9
// "Connectivity probing").
func (c *Conn) isProbingOnlyLocked(frames []Frame) bool {
	for _, f := range frames {
		switch f.(type) {
		case *PathChallengeFrame, *PathResponseFrame, *PaddingFrame,
			*NewConnectionIDFrame, *RetireConnectionIDFrame:
		default:
			return false
		}
	}
	return true
}
