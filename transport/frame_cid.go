package transport

// NewConnectionIDFrame issues a new connection id the peer may use to
// address this endpoint (§3, §4.10).
type NewConnectionIDFrame struct {
	SequenceNumber uint64
	RetirePriorTo  uint64
	ConnectionID   ConnectionID
	ResetToken     StatelessResetToken
}

func (f *NewConnectionIDFrame) FrameType() uint64 { return frameTypeNewConnectionID }
func (f *NewConnectionIDFrame) EncodedLen() int {
	return 1 + varintLen(f.SequenceNumber) + varintLen(f.RetirePriorTo) +
		1 + len(f.ConnectionID) + StatelessResetTokenLength
}
func (f *NewConnectionIDFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeNewConnectionID)
	b = appendVarint(b, f.SequenceNumber)
	b = appendVarint(b, f.RetirePriorTo)
	b = append(b, byte(len(f.ConnectionID)))
	b = append(b, f.ConnectionID...)
	return append(b, f.ResetToken[:]...)
}

// decodeNewConnectionIDFrame fails with "retire_prior_to > sequence_number"
// if that invariant is violated (§4.2).
func decodeNewConnectionIDFrame(b []byte) (Frame, int, error) {
	n := 1
	var f NewConnectionIDFrame
	m := getVarint(b[n:], &f.SequenceNumber)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "new_connection_id sequence number")
	}
	n += m
	m = getVarint(b[n:], &f.RetirePriorTo)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "new_connection_id retire_prior_to")
	}
	n += m
	if f.RetirePriorTo > f.SequenceNumber {
		return nil, 0, newError(FrameEncodingError, "retire_prior_to > sequence_number")
	}
	if n >= len(b) {
		return nil, 0, newError(InvalidFrameData, "new_connection_id length")
	}
	cidLen := int(b[n])
	n++
	if cidLen == 0 || cidLen > MaxCIDLength || len(b)-n < cidLen+StatelessResetTokenLength {
		return nil, 0, newError(InvalidFrameData, "new_connection_id truncated")
	}
	f.ConnectionID = append(ConnectionID(nil), b[n:n+cidLen]...)
	n += cidLen
	copy(f.ResetToken[:], b[n:n+StatelessResetTokenLength])
	n += StatelessResetTokenLength
	return &f, n, nil
}

// RetireConnectionIDFrame asks the peer to stop using a previously issued
// connection id (§3, §4.10).
type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func (f *RetireConnectionIDFrame) FrameType() uint64 { return frameTypeRetireConnectionID }
func (f *RetireConnectionIDFrame) EncodedLen() int {
	return 1 + varintLen(f.SequenceNumber)
}
func (f *RetireConnectionIDFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeRetireConnectionID)
	return appendVarint(b, f.SequenceNumber)
}

func decodeRetireConnectionIDFrame(b []byte) (Frame, int, error) {
	n := 1
	var f RetireConnectionIDFrame
	m := getVarint(b[n:], &f.SequenceNumber)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "retire_connection_id")
	}
	return &f, n + m, nil
}
