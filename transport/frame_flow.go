package transport

// MaxDataFrame raises the connection-level flow-control limit (§3).
type MaxDataFrame struct {
	MaximumData uint64
}

func (f *MaxDataFrame) FrameType() uint64    { return frameTypeMaxData }
func (f *MaxDataFrame) EncodedLen() int      { return 1 + varintLen(f.MaximumData) }
func (f *MaxDataFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeMaxData)
	return appendVarint(b, f.MaximumData)
}

func decodeMaxDataFrame(b []byte) (Frame, int, error) {
	n := 1
	var f MaxDataFrame
	m := getVarint(b[n:], &f.MaximumData)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "max_data")
	}
	return &f, n + m, nil
}

// MaxStreamDataFrame raises a per-stream flow-control limit (§3).
type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (f *MaxStreamDataFrame) FrameType() uint64 { return frameTypeMaxStreamData }
func (f *MaxStreamDataFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.MaximumData)
}
func (f *MaxStreamDataFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeMaxStreamData)
	b = appendVarint(b, f.StreamID)
	return appendVarint(b, f.MaximumData)
}

func decodeMaxStreamDataFrame(b []byte) (Frame, int, error) {
	n := 1
	var f MaxStreamDataFrame
	m := getVarint(b[n:], &f.StreamID)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "max_stream_data stream id")
	}
	n += m
	m = getVarint(b[n:], &f.MaximumData)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "max_stream_data maximum")
	}
	return &f, n + m, nil
}

// MaxStreamsFrame raises the limit on streams the peer may open (§3).
type MaxStreamsFrame struct {
	Bidi           bool
	MaximumStreams uint64
}

func (f *MaxStreamsFrame) FrameType() uint64 {
	if f.Bidi {
		return frameTypeMaxStreamsBidi
	}
	return frameTypeMaxStreamsUni
}
func (f *MaxStreamsFrame) EncodedLen() int { return 1 + varintLen(f.MaximumStreams) }
func (f *MaxStreamsFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, f.FrameType())
	return appendVarint(b, f.MaximumStreams)
}

func decodeMaxStreamsFrame(b []byte, bidi bool) (Frame, int, error) {
	n := 1
	f := MaxStreamsFrame{Bidi: bidi}
	m := getVarint(b[n:], &f.MaximumStreams)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "max_streams")
	}
	return &f, n + m, nil
}

// DataBlockedFrame indicates the sender wanted to send more but was
// blocked by connection-level flow control (§3).
type DataBlockedFrame struct {
	DataLimit uint64
}

func (f *DataBlockedFrame) FrameType() uint64 { return frameTypeDataBlocked }
func (f *DataBlockedFrame) EncodedLen() int   { return 1 + varintLen(f.DataLimit) }
func (f *DataBlockedFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeDataBlocked)
	return appendVarint(b, f.DataLimit)
}

func decodeDataBlockedFrame(b []byte) (Frame, int, error) {
	n := 1
	var f DataBlockedFrame
	m := getVarint(b[n:], &f.DataLimit)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "data_blocked")
	}
	return &f, n + m, nil
}

// StreamDataBlockedFrame is the per-stream counterpart of DataBlockedFrame.
type StreamDataBlockedFrame struct {
	StreamID  uint64
	DataLimit uint64
}

func (f *StreamDataBlockedFrame) FrameType() uint64 { return frameTypeStreamDataBlocked }
func (f *StreamDataBlockedFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.DataLimit)
}
func (f *StreamDataBlockedFrame) AppendTo(b []byte) []byte {
	b = append(b, frameTypeStreamDataBlocked)
	b = appendVarint(b, f.StreamID)
	return appendVarint(b, f.DataLimit)
}

func decodeStreamDataBlockedFrame(b []byte) (Frame, int, error) {
	n := 1
	var f StreamDataBlockedFrame
	m := getVarint(b[n:], &f.StreamID)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "stream_data_blocked stream id")
	}
	n += m
	m = getVarint(b[n:], &f.DataLimit)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "stream_data_blocked limit")
	}
	return &f, n + m, nil
}

// StreamsBlockedFrame indicates the sender wanted to open a stream beyond
// its current limit (§3).
type StreamsBlockedFrame struct {
	Bidi        bool
	StreamLimit uint64
}

func (f *StreamsBlockedFrame) FrameType() uint64 {
	if f.Bidi {
		return frameTypeStreamsBlockedBidi
	}
	return frameTypeStreamsBlockedUni
}
func (f *StreamsBlockedFrame) EncodedLen() int { return 1 + varintLen(f.StreamLimit) }
func (f *StreamsBlockedFrame) AppendTo(b []byte) []byte {
	b = appendVarint(b, f.FrameType())
	return appendVarint(b, f.StreamLimit)
}

func decodeStreamsBlockedFrame(b []byte, bidi bool) (Frame, int, error) {
	n := 1
	f := StreamsBlockedFrame{Bidi: bidi}
	m := getVarint(b[n:], &f.StreamLimit)
	if m == 0 {
		return nil, 0, newError(InvalidFrameData, "streams_blocked")
	}
	return &f, n + m, nil
}
