package transport

import "time"

// ArmIdleTimer (re)arms the idle-network-timeout deadline. Construction
// does not arm it; every received packet re-arms it, sends do not, so
// callers use this directly to prime a freshly constructed connection
// before any traffic has moved (§4.9 "Idle timeout", grounded on
// conn_orig_ref.go's idleTimer handling inside recv/Write).
func (c *Conn) ArmIdleTimer(nowNano int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armIdleTimerLocked(nowNano)
}

func (c *Conn) armIdleTimerLocked(nowNano int64) {
	c.idleDeadline = time.Unix(0, nowNano).Add(c.config.IdleNetworkTimeout)
}

// ArmHandshakeTimer arms the handshake-completion deadline; a no-op when
// the configuration leaves HandshakeTimeout unset (§6).
func (c *Conn) ArmHandshakeTimer(nowNano int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.HandshakeTimeout <= 0 {
		return
	}
	c.handshakeDeadline = time.Unix(0, nowNano).Add(c.config.HandshakeTimeout)
}

// NextTimeout reports how long the caller's event loop should wait before
// calling AdvanceTime again: the earliest of every currently armed
// deadline, or -1 once nothing is armed or the connection is closed
// (mirrors conn_orig_ref.go's Timeout(), adapted from the teacher's single
// loss-detection timer to this module's several independent deadlines
// since retransmission timing itself is out of scope, SPEC_FULL.md §3).
func (c *Conn) NextTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return -1
	}

	var deadline time.Time
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}

	consider(c.drainDeadline)
	consider(c.idleDeadline)
	consider(c.handshakeDeadline)
	for _, t := range c.ackAlarm {
		consider(t)
	}
	if c.state != stateDraining {
		for space := PacketNumberSpace(0); space < numPacketNumberSpaces; space++ {
			if t := c.acks[space].NextAckTime(); t != 0 && c.framer.HasKeys(spaceToLevel(space)) {
				consider(time.Unix(0, t))
			}
		}
	}
	if c.altPath != nil && !c.altPath.validated {
		consider(c.altPath.nextRetryAt)
	}
	if c.config.KeepAliveTimeout > 0 && c.lastSendNano != 0 {
		consider(time.Unix(0, c.lastSendNano).Add(c.config.KeepAliveTimeout))
	}

	if deadline.IsZero() {
		return -1
	}
	if d := deadline.Sub(time.Now()); d > 0 {
		return d
	}
	return 0
}

// AdvanceTime is the single alarm-check entry point: the caller's event
// loop invokes it whenever NextTimeout's wait elapses (or sooner, cheaply).
// It fires, in priority order, the draining/handshake/idle timeouts, due
// ACKs, connection-id retirement cleanup, path-validation retries and a
// keep-alive probe (§4.9, grounded on conn_orig_ref.go's checkTimeout plus
// its per-space sendFrameAck/sendFrameMaxData-style helpers).
func (c *Conn) AdvanceTime(nowNano int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	if c.state == stateDraining {
		if !c.drainDeadline.IsZero() && nowNano >= c.drainDeadline.UnixNano() {
			c.state = stateClosed
		}
		return nil
	}
	if c.state == stateHandshaking && !c.handshakeDeadline.IsZero() && nowNano >= c.handshakeDeadline.UnixNano() {
		c.state = stateClosed
		c.logger.ConnectionClosed(HandshakeTimeoutError, "handshake timeout", false)
		if c.visitor != nil {
			c.visitor.OnConnectionClosed(HandshakeTimeoutError, "handshake timeout", false)
		}
		return nil
	}
	if !c.idleDeadline.IsZero() && nowNano >= c.idleDeadline.UnixNano() {
		c.state = stateClosed
		c.logger.ConnectionClosed(IdleTimeoutError, "idle timeout", false)
		if c.visitor != nil {
			c.visitor.OnConnectionClosed(IdleTimeoutError, "idle timeout", false)
		}
		return nil
	}

	c.beginFlush()
	c.maybeSendAcksLocked(nowNano)
	c.drainRetiredConnectionIDsLocked(nowNano)
	c.expirePathValidationLocked(nowNano)
	c.maybeSendKeepAliveLocked(nowNano)
	return c.endFlush()
}

// maybeSendAcksLocked builds and queues an ACK frame for every space whose
// received-packet manager has one due (§4.6, the teacher's sendFrameAck).
func (c *Conn) maybeSendAcksLocked(nowNano int64) {
	for space := PacketNumberSpace(0); space < numPacketNumberSpaces; space++ {
		if !c.framer.HasKeys(spaceToLevel(space)) {
			continue
		}
		if !c.acks[space].ShouldSendAck(nowNano) {
			continue
		}
		f, ok := c.acks[space].BuildAckFrame(nowNano)
		if !ok {
			continue
		}
		c.queueFrameLocked(spaceToLevel(space), f)
		c.logger.AckSent()
	}
}

// drainRetiredConnectionIDsLocked emits RETIRE_CONNECTION_ID for any
// peer-issued id superseded by retire_prior_to, and forgets our own issued
// ids once their peer-side retirement grace period has passed (§4.10).
func (c *Conn) drainRetiredConnectionIDsLocked(nowNano int64) {
	for _, seq := range c.peerCIDs.PendingRetirements() {
		f := &RetireConnectionIDFrame{SequenceNumber: seq}
		id, err := c.control.WriteOrBuffer(f)
		if err != nil {
			continue
		}
		c.queueFrameLocked(EncryptionApplication, f)
		c.noteControlFrameIDLocked(f, id)
		c.control.OnSent(id)
	}
	c.selfCIDs.DrainPendingRetires(nowNano)
}

// maybeSendKeepAliveLocked sends a PING to hold a NAT/firewall binding open
// once KeepAliveTimeout has elapsed since the last datagram, provided the
// application still wants the connection alive (§6 KeepAliveTimeout).
func (c *Conn) maybeSendKeepAliveLocked(nowNano int64) {
	if c.config.KeepAliveTimeout <= 0 || c.lastSendNano == 0 {
		return
	}
	if nowNano < c.lastSendNano+c.config.KeepAliveTimeout.Nanoseconds() {
		return
	}
	if c.visitor != nil && !c.visitor.ShouldKeepConnectionAlive() {
		return
	}
	if c.config.MaxRetransmittableOnWireCount > 0 && c.retransmittableOnWireCount >= c.config.MaxRetransmittableOnWireCount {
		return
	}
	c.retransmittableOnWireCount++
	c.queueFrameLocked(EncryptionApplication, &PingFrame{})
}

// InitiateKeyUpdate starts a 1-RTT key update: it asks the visitor for the
// next phase's encrypter/decrypter and installs them, letting the next
// outgoing short-header packet carry the flipped key-phase bit (§4.4 "Key
// update"). Returns an error if key updates aren't enabled for this
// connection or the handshake isn't confirmed yet.
func (c *Conn) InitiateKeyUpdate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.config.SupportKeyUpdate {
		return newError(KeyUpdateError, "key update not supported by configuration")
	}
	if !c.handshakeConfirmed {
		return newError(KeyUpdateError, "key update attempted before handshake confirmed")
	}
	read, err := c.visitor.AdvanceKeysAndCreateCurrentOneRttDecrypter()
	if err != nil {
		return err
	}
	write, err := c.visitor.CreateCurrentOneRttEncrypter()
	if err != nil {
		return err
	}
	c.framer.UpdateKeys(write, read)
	c.logger.KeyUpdate(EncryptionApplication)
	if c.visitor != nil {
		c.visitor.OnKeyUpdate()
	}
	return nil
}

// DiscardPreviousKeyPhase drops the retained previous-phase decrypter once
// the caller's policy judges a reordered packet from before the last key
// update implausible (§4.4).
func (c *Conn) DiscardPreviousKeyPhase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framer.DiscardPreviousPhaseKeys()
}
