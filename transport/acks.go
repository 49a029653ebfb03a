package transport

import (
	"sort"
	"sync"
)

// defaultAckEveryN forces an immediate ack after this many ack-eliciting
// packets have arrived without one, absent an ACK_FREQUENCY override (§4.6).
const defaultAckEveryN = 2

// defaultMaxAckRanges bounds the interval set; the oldest ranges are
// trimmed once it's exceeded (§4.6 "bounded").
const defaultMaxAckRanges = 256

// decimationThresholdPackets is the number of packets received in a space
// before the ack-decimation policy (max_ack_delay = min_rtt/4) takes over
// from the configured delay, grounded on QUICHE's
// quic_received_packet_manager.cc default of giving the RTT sample a
// chance to stabilize first (SPEC_FULL.md §4 supplemented features).
const decimationThresholdPackets = 100

// pnRange is one inclusive range of received packet numbers.
type pnRange struct {
	smallest uint64
	largest  uint64
}

// receivedTimestamp pairs a packet number with the local time it arrived,
// used to build ACK_RECEIVE_TIMESTAMPS ranges.
type receivedTimestamp struct {
	pn      uint64
	nowNano int64
}

// ReceivedPacketManager tracks, for one packet-number space, which packet
// numbers have been received and decides when an ACK is due (§4.6).
type ReceivedPacketManager struct {
	mu sync.Mutex

	ranges []pnRange // descending by largest, non-overlapping, no two adjacent

	ackElicitingSinceAck int // toward the every-Nth-packet immediate-ack rule
	ackEveryN            int
	ackTimeoutNano       int64 // 0 means "not armed"
	ackNow               bool  // latched by IMMEDIATE_ACK

	localMaxAckDelayNano int64
	minRTTNano           int64
	totalReceived        int

	ecn     ECNCounts
	sawCE   bool

	ackFrequencySeq     uint64
	haveAckFrequency    bool
	packetTolerance     uint64
	requestedMaxDelayNs int64
	reorderingThreshold uint64

	timestampsEnabled    bool
	timestamps           []receivedTimestamp
	timestampsExponent   uint8
	maxTimestampsPerAck  int
	creationTimeNano     int64
}

// NewReceivedPacketManager constructs a manager with the endpoint's
// configured max_ack_delay (nanoseconds). exponent and maxPerAck are the
// negotiated receive_timestamps_exponent and max_receive_timestamps_per_ack
// (§6); maxPerAck <= 0 means unlimited. creationTimeNano anchors the first
// ACK_RECEIVE_TIMESTAMPS delta of each range (§3).
func NewReceivedPacketManager(localMaxAckDelayNano int64, timestampsEnabled bool, exponent int, maxPerAck int, creationTimeNano int64) *ReceivedPacketManager {
	return &ReceivedPacketManager{
		ackEveryN:            defaultAckEveryN,
		localMaxAckDelayNano: localMaxAckDelayNano,
		timestampsEnabled:    timestampsEnabled,
		timestampsExponent:   uint8(exponent),
		maxTimestampsPerAck:  maxPerAck,
		creationTimeNano:     creationTimeNano,
	}
}

// UpdateMinRTT feeds a fresh RTT sample used by the decimation policy.
func (m *ReceivedPacketManager) UpdateMinRTT(rttNano int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.minRTTNano == 0 || rttNano < m.minRTTNano {
		m.minRTTNano = rttNano
	}
}

// maxAckDelay returns the effective max_ack_delay, switching to
// min_rtt/4 once decimation kicks in, capped by the locally configured
// value either way.
func (m *ReceivedPacketManager) maxAckDelay() int64 {
	delay := m.localMaxAckDelayNano
	if m.haveAckFrequency && m.requestedMaxDelayNs > 0 {
		delay = m.requestedMaxDelayNs
	} else if m.totalReceived >= decimationThresholdPackets && m.minRTTNano > 0 {
		if d := m.minRTTNano / 4; d < delay {
			delay = d
		}
	}
	if delay > m.localMaxAckDelayNano {
		delay = m.localMaxAckDelayNano
	}
	return delay
}

// recordReceived inserts pn into the interval set and reports whether it
// was previously missing: a packet number below the current highest
// received is an out-of-order arrival filling a gap (§4.6); one that
// extends the front is the expected in-order case; a duplicate reports
// false and changes nothing.
func (m *ReceivedPacketManager) recordReceived(pn uint64) (wasMissing bool) {
	highest := int64(-1)
	if len(m.ranges) > 0 {
		highest = int64(m.ranges[0].largest)
	}
	wasMissing = int64(pn) < highest

	for i, r := range m.ranges {
		switch {
		case pn >= r.smallest && pn <= r.largest:
			return false // duplicate
		case pn == r.largest+1:
			m.ranges[i].largest = pn
			m.mergeForward(i)
			m.trim()
			return wasMissing
		case pn+1 == r.smallest:
			m.ranges[i].smallest = pn
			m.mergeBackward(i)
			m.trim()
			return wasMissing
		case pn > r.largest:
			m.ranges = append(m.ranges, pnRange{})
			copy(m.ranges[i+1:], m.ranges[i:])
			m.ranges[i] = pnRange{smallest: pn, largest: pn}
			m.trim()
			return wasMissing
		}
	}
	// Smaller than every existing range (or the set is empty).
	m.ranges = append(m.ranges, pnRange{smallest: pn, largest: pn})
	m.trim()
	return wasMissing
}

// mergeForward joins ranges[i] with ranges[i-1] if they are now adjacent
// (ranges[i-1] is the next-larger range in the descending list).
func (m *ReceivedPacketManager) mergeForward(i int) {
	if i > 0 && m.ranges[i].largest+1 == m.ranges[i-1].smallest {
		m.ranges[i].largest = m.ranges[i-1].largest
		m.ranges = append(m.ranges[:i-1], m.ranges[i:]...)
	}
}

// mergeBackward joins ranges[i] with ranges[i+1] if they are now adjacent
// (ranges[i+1] is the next-smaller range).
func (m *ReceivedPacketManager) mergeBackward(i int) {
	if i+1 < len(m.ranges) && m.ranges[i+1].largest+1 == m.ranges[i].smallest {
		m.ranges[i].smallest = m.ranges[i+1].smallest
		m.ranges = append(m.ranges[:i+1], m.ranges[i+2:]...)
	}
}

func (m *ReceivedPacketManager) trim() {
	if len(m.timestamps) > defaultMaxAckRanges*4 {
		m.timestamps = m.timestamps[len(m.timestamps)-defaultMaxAckRanges*4:]
	}
	if len(m.ranges) <= defaultMaxAckRanges {
		return
	}
	m.ranges = m.ranges[:defaultMaxAckRanges]
}

// OnPacketReceived records a received packet number and updates the ack
// timeout per the rules of §4.6. ecnCE reports whether this packet carried
// the CE codepoint.
func (m *ReceivedPacketManager) OnPacketReceived(pn uint64, ackEliciting bool, ect0, ect1, ecnCE bool, nowNano int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasMissing := m.recordReceived(pn)
	m.totalReceived++
	if m.timestampsEnabled {
		m.timestamps = append(m.timestamps, receivedTimestamp{pn: pn, nowNano: nowNano})
	}
	if ect0 {
		m.ecn.ECT0++
	}
	if ect1 {
		m.ecn.ECT1++
	}
	ceTransition := ecnCE && !m.sawCE
	if ecnCE {
		m.ecn.CE++
		m.sawCE = true
	}

	if !ackEliciting {
		return
	}

	everyN := m.ackEveryN
	if m.haveAckFrequency && m.packetTolerance > 0 {
		everyN = int(m.packetTolerance)
	}
	m.ackElicitingSinceAck++

	switch {
	case wasMissing:
		m.ackTimeoutNano = nowNano
	case m.ackElicitingSinceAck >= everyN:
		m.ackTimeoutNano = nowNano
		m.ackElicitingSinceAck = 0
	case ceTransition:
		m.ackTimeoutNano = nowNano
	default:
		m.ackTimeoutNano = nowNano + m.maxAckDelay()
	}
}

// HasReceived reports whether pn is already recorded as received, used by
// the connection to drop duplicate packets before dispatching their frames
// (§4.6, mirroring QUICHE's QuicReceivedPacketManager::IsDuplicate, grounded
// on the teacher's packetNumberSpace.isPacketReceived).
func (m *ReceivedPacketManager) HasReceived(pn uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ranges {
		if pn >= r.smallest && pn <= r.largest {
			return true
		}
		if pn > r.largest {
			return false
		}
	}
	return false
}

// OnImmediateAck latches an immediate-ack request from an IMMEDIATE_ACK
// frame; the next ack-timeout check fires at once.
func (m *ReceivedPacketManager) OnImmediateAck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackNow = true
}

// OnAckFrequencyFrame applies an ACK_FREQUENCY update, ignoring any frame
// whose sequence number does not exceed one already applied (§4.6).
func (m *ReceivedPacketManager) OnAckFrequencyFrame(f *AckFrequencyFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveAckFrequency && f.SequenceNumber <= m.ackFrequencySeq {
		return
	}
	m.haveAckFrequency = true
	m.ackFrequencySeq = f.SequenceNumber
	m.packetTolerance = f.PacketTolerance
	m.requestedMaxDelayNs = int64(f.MaxAckDelay) * 1000 // wire value is microseconds
	m.reorderingThreshold = f.ReorderingThreshold
}

// ShouldSendAck reports whether an ack is due at nowNano: either latched
// by IMMEDIATE_ACK, or the armed timeout has passed.
func (m *ReceivedPacketManager) ShouldSendAck(nowNano int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackNow {
		return true
	}
	return m.ackTimeoutNano != 0 && nowNano >= m.ackTimeoutNano
}

// NextAckTime returns the armed ack timeout, or 0 if none is armed.
func (m *ReceivedPacketManager) NextAckTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ackTimeoutNano
}

// ackDelayExponentDivisor is 2^3, the default ACK delay exponent (RFC 9000
// §18.2 transport parameter default).
const ackDelayExponentDivisor = 1 << 3

// BuildAckFrame produces the ACK (or ACK_ECN) frame describing the
// current interval set, resets the ack-pending state, and reports whether
// there was anything to acknowledge.
func (m *ReceivedPacketManager) BuildAckFrame(nowNano int64) (*AckFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ranges) == 0 {
		return nil, false
	}
	largest := m.ranges[0].largest
	delayNano := nowNano - m.largestAckedReceiveTime(largest)
	if delayNano < 0 {
		delayNano = 0
	}
	ranges := make([]AckRange, len(m.ranges))
	for i, r := range m.ranges {
		ranges[i] = AckRange{Smallest: r.smallest, Largest: r.largest}
	}
	f := &AckFrame{
		LargestAcked: largest,
		AckDelay:     uint64(delayNano) / 1000 / ackDelayExponentDivisor,
		Ranges:       ranges,
	}
	if m.timestampsEnabled && len(m.timestamps) > 0 {
		f.TimestampRanges = m.buildTimestampRanges(largest)
	} else if m.ecn.ECT0 > 0 || m.ecn.ECT1 > 0 || m.ecn.CE > 0 {
		ecn := m.ecn
		f.ECN = &ecn
	}
	m.ackTimeoutNano = 0
	m.ackNow = false
	m.ackElicitingSinceAck = 0
	return f, true
}

// tsRangeBuild is the intermediate (gap, index-range) form ported from
// QUICHE's QuicFramer::GetAckTimestampRanges, before wire deltas are
// computed.
type tsRangeBuild struct {
	gap        uint64
	rangeBegin int // index into the pn-ascending timestamps slice, inclusive
	rangeEnd   int // inclusive, rangeEnd <= rangeBegin
}

// buildTimestampRanges produces the ACK_RECEIVE_TIMESTAMPS ranges for the
// packets tracked in m.timestamps, scaled by timestampsExponent and capped
// at maxTimestampsPerAck, newest packet first (§3, grounded on QUICHE's
// QuicFramer::GetAckTimestampRanges / FrameAckTimestampRanges). Deltas are
// stored as already wire-scaled values; decodeAckFrame stores them
// unchanged, so AppendTo/decodeAckFrame round-trip the frame without
// needing to know about clocks at all.
func (m *ReceivedPacketManager) buildTimestampRanges(largest uint64) []TimestampRange {
	sorted := append([]receivedTimestamp(nil), m.timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].pn < sorted[j].pn })

	limit := len(sorted)
	if m.maxTimestampsPerAck > 0 && m.maxTimestampsPerAck < limit {
		limit = m.maxTimestampsPerAck
	}

	var builds []tsRangeBuild
	for r := 0; r < limit; r++ {
		i := len(sorted) - 1 - r
		pn := sorted[i].pn
		if pn > largest {
			continue // can't happen for a well-formed largest_acked, but don't emit garbage
		}
		if len(builds) == 0 {
			builds = append(builds, tsRangeBuild{gap: largest - pn, rangeBegin: i, rangeEnd: i})
			continue
		}
		prev := &builds[len(builds)-1]
		prevPN := sorted[prev.rangeEnd].pn
		switch {
		case prevPN == pn+1:
			prev.rangeEnd = i
		case prevPN > pn+1:
			builds = append(builds, tsRangeBuild{gap: prevPN - 2 - pn, rangeBegin: i, rangeEnd: i})
		default:
			continue // duplicate or out-of-order packet number, skip it
		}
	}

	ranges := make([]TimestampRange, len(builds))
	var effectivePrevNano int64
	havePrev := false
	for bi, rb := range builds {
		deltas := make([]uint64, 0, rb.rangeBegin-rb.rangeEnd+1)
		for i := rb.rangeBegin; i >= rb.rangeEnd; i-- {
			ts := sorted[i].nowNano
			var delta uint64
			if !havePrev {
				rawMicros := (ts - m.creationTimeNano) / 1000
				if rawMicros < 0 {
					rawMicros = 0
				}
				delta = firstTimestampDelta(uint64(rawMicros), m.timestampsExponent)
				effectivePrevNano = m.creationTimeNano + int64(delta<<m.timestampsExponent)*1000
				havePrev = true
			} else {
				rawMicros := (effectivePrevNano - ts) / 1000
				if rawMicros < 0 {
					rawMicros = 0
				}
				delta = uint64(rawMicros) >> m.timestampsExponent
				effectivePrevNano -= int64(delta<<m.timestampsExponent) * 1000
			}
			deltas = append(deltas, delta)
		}
		ranges[bi] = TimestampRange{Gap: rb.gap, Deltas: deltas}
	}
	return ranges
}

// firstTimestampDelta rounds the first exponent-scaled delta of an
// ACK_RECEIVE_TIMESTAMPS frame up, guaranteeing every later delta in the
// frame (which moves backward from this one) stays non-negative (§3,
// grounded on QUICHE's QuicFramer::FrameAckTimestampRanges).
func firstTimestampDelta(rawMicros uint64, exponent uint8) uint64 {
	if rawMicros == 0 {
		return 0
	}
	return ((rawMicros - 1) >> exponent) + 1
}

func (m *ReceivedPacketManager) largestAckedReceiveTime(pn uint64) int64 {
	for i := len(m.timestamps) - 1; i >= 0; i-- {
		if m.timestamps[i].pn == pn {
			return m.timestamps[i].nowNano
		}
	}
	return 0
}
