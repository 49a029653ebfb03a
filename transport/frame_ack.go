package transport

// AckRange is one inclusive range of acknowledged packet numbers,
// [Smallest, Largest] (§3 "Ack frame").
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// ECNCounts carries the cumulative ECT0/ECT1/CE counts an AckFrame may
// report (§3, ACK_ECN).
type ECNCounts struct {
	ECT0 uint64
	ECT1 uint64
	CE   uint64
}

// TimestampRange is one run of consecutive acknowledged packets together
// with receive-timestamp deltas for each, used by
// ACK_RECEIVE_TIMESTAMPS (§3).
type TimestampRange struct {
	Gap        uint64   // packet numbers skipped since the previous range
	Deltas     []uint64 // scaled timestamp deltas, first relative to framer-creation time
}

// AckFrame is the decoded ACK / ACK_ECN / ACK_RECEIVE_TIMESTAMPS frame
// (§3). Ranges are stored largest-first as fully reconstructed
// [Smallest, Largest] pairs for easy consumption; AppendTo rebuilds
// the wire gap/length encoding from them.
type AckFrame struct {
	LargestAcked    uint64
	AckDelay        uint64 // raw wire value, scaled by the ack-delay exponent by the caller
	Ranges          []AckRange // largest-first, non-overlapping, strictly decreasing
	ECN             *ECNCounts
	TimestampRanges []TimestampRange
}

func (f *AckFrame) FrameType() uint64 {
	if len(f.TimestampRanges) > 0 {
		return frameTypeAckReceiveTimestamps
	}
	if f.ECN != nil {
		return frameTypeAckECN
	}
	return frameTypeAck
}

func (f *AckFrame) firstRangeLen() uint64 {
	return f.Ranges[0].Largest - f.Ranges[0].Smallest
}

func (f *AckFrame) EncodedLen() int {
	n := 1 + varintLen(f.LargestAcked) + varintLen(f.AckDelay)
	n += varintLen(uint64(len(f.Ranges) - 1))
	n += varintLen(f.firstRangeLen())
	for i := 1; i < len(f.Ranges); i++ {
		gap := f.Ranges[i-1].Smallest - f.Ranges[i].Largest - 2
		length := f.Ranges[i].Largest - f.Ranges[i].Smallest
		n += varintLen(gap) + varintLen(length)
	}
	if len(f.TimestampRanges) > 0 {
		n += varintLen(uint64(len(f.TimestampRanges)))
		for _, r := range f.TimestampRanges {
			n += varintLen(r.Gap) + varintLen(uint64(len(r.Deltas)))
			for _, d := range r.Deltas {
				n += varintLen(d)
			}
		}
	} else if f.ECN != nil {
		n += varintLen(f.ECN.ECT0) + varintLen(f.ECN.ECT1) + varintLen(f.ECN.CE)
	}
	return n
}

// AppendTo encodes the frame per §3: ranges are emitted smallest-first
// from the largest-acked edge as (gap, length) pairs, both length-1
// encoded.
func (f *AckFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, f.FrameType())
	b = appendVarint(b, f.LargestAcked)
	b = appendVarint(b, f.AckDelay)
	b = appendVarint(b, uint64(len(f.Ranges)-1))
	b = appendVarint(b, f.firstRangeLen())
	for i := 1; i < len(f.Ranges); i++ {
		gap := f.Ranges[i-1].Smallest - f.Ranges[i].Largest - 2
		length := f.Ranges[i].Largest - f.Ranges[i].Smallest
		b = appendVarint(b, gap)
		b = appendVarint(b, length)
	}
	if len(f.TimestampRanges) > 0 {
		b = appendVarint(b, uint64(len(f.TimestampRanges)))
		for _, r := range f.TimestampRanges {
			b = appendVarint(b, r.Gap)
			b = appendVarint(b, uint64(len(r.Deltas)))
			for _, d := range r.Deltas {
				b = appendVarint(b, d)
			}
		}
	} else if f.ECN != nil {
		b = appendVarint(b, f.ECN.ECT0)
		b = appendVarint(b, f.ECN.ECT1)
		b = appendVarint(b, f.ECN.CE)
	}
	return b
}

// decodeAckFrame decodes an ACK, ACK_ECN or ACK_RECEIVE_TIMESTAMPS frame.
// It rejects a first range that would reach below packet number zero
// (§4.2).
func decodeAckFrame(b []byte, typ uint64) (Frame, int, error) {
	n := varintLen(typ)
	var f AckFrame
	m := getVarint(b[n:], &f.LargestAcked)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "largest_acked")
	}
	n += m
	m = getVarint(b[n:], &f.AckDelay)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "ack_delay")
	}
	n += m
	var rangeCount uint64
	m = getVarint(b[n:], &rangeCount)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "ack_range_count")
	}
	n += m
	var firstRangeLen uint64
	m = getVarint(b[n:], &firstRangeLen)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "first_ack_range")
	}
	n += m
	if firstRangeLen > f.LargestAcked {
		return nil, 0, newError(InvalidFrameData, "first ack range exceeds largest acked")
	}
	largest := f.LargestAcked
	smallest := largest - firstRangeLen
	f.Ranges = append(f.Ranges, AckRange{Smallest: smallest, Largest: largest})

	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		m = getVarint(b[n:], &gap)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ack gap")
		}
		n += m
		m = getVarint(b[n:], &length)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ack range length")
		}
		n += m
		if smallest < gap+2 {
			return nil, 0, newError(InvalidFrameData, "ack range underflows packet number zero")
		}
		newLargest := smallest - gap - 2
		if length > newLargest {
			return nil, 0, newError(InvalidFrameData, "ack range underflows packet number zero")
		}
		newSmallest := newLargest - length
		f.Ranges = append(f.Ranges, AckRange{Smallest: newSmallest, Largest: newLargest})
		smallest = newSmallest
	}

	switch typ {
	case frameTypeAckECN:
		f.ECN = &ECNCounts{}
		m = getVarint(b[n:], &f.ECN.ECT0)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ect0")
		}
		n += m
		m = getVarint(b[n:], &f.ECN.ECT1)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ect1")
		}
		n += m
		m = getVarint(b[n:], &f.ECN.CE)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ce")
		}
		n += m
	case frameTypeAckReceiveTimestamps:
		var rangeCount uint64
		m = getVarint(b[n:], &rangeCount)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "timestamp_range_count")
		}
		n += m
		for i := uint64(0); i < rangeCount; i++ {
			var gap, count uint64
			m = getVarint(b[n:], &gap)
			if m == 0 {
				return nil, 0, newError(InvalidFrameData, "timestamp range gap")
			}
			n += m
			m = getVarint(b[n:], &count)
			if m == 0 {
				return nil, 0, newError(InvalidFrameData, "timestamp delta count")
			}
			n += m
			deltas := make([]uint64, count)
			for j := range deltas {
				m = getVarint(b[n:], &deltas[j])
				if m == 0 {
					return nil, 0, newError(InvalidFrameData, "timestamp delta")
				}
				n += m
			}
			f.TimestampRanges = append(f.TimestampRanges, TimestampRange{Gap: gap, Deltas: deltas})
		}
	}
	return &f, n, nil
}

// AckFrequencyFrame lets the receiver request a different ack cadence from
// its peer (§4.6).
type AckFrequencyFrame struct {
	SequenceNumber      uint64
	PacketTolerance     uint64
	MaxAckDelay         uint64 // microseconds
	ReorderingThreshold uint64
}

func (f *AckFrequencyFrame) FrameType() uint64 { return frameTypeAckFrequency }
func (f *AckFrequencyFrame) EncodedLen() int {
	return 1 + varintLen(f.SequenceNumber) + varintLen(f.PacketTolerance) +
		varintLen(f.MaxAckDelay) + varintLen(f.ReorderingThreshold)
}
func (f *AckFrequencyFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, frameTypeAckFrequency)
	b = appendVarint(b, f.SequenceNumber)
	b = appendVarint(b, f.PacketTolerance)
	b = appendVarint(b, f.MaxAckDelay)
	return appendVarint(b, f.ReorderingThreshold)
}

func decodeAckFrequencyFrame(b []byte) (Frame, int, error) {
	n := varintLen(frameTypeAckFrequency)
	var f AckFrequencyFrame
	for _, v := range []*uint64{&f.SequenceNumber, &f.PacketTolerance, &f.MaxAckDelay, &f.ReorderingThreshold} {
		m := getVarint(b[n:], v)
		if m == 0 {
			return nil, 0, newError(InvalidFrameData, "ack_frequency field")
		}
		n += m
	}
	return &f, n, nil
}
