package transport

// defaultMaxBufferedControlFrames is the default limit before
// write_or_buffer raises too-many-buffered-control-frames (§4.7).
const defaultMaxBufferedControlFrames = 1000

// controlFrameState is the lifecycle of one buffered control frame.
type controlFrameState int

const (
	controlFramePending controlFrameState = iota
	controlFrameSent
	controlFrameAcked
	controlFrameLost
)

type controlFrameEntry struct {
	id    uint64
	frame Frame
	state controlFrameState
}

// ControlFrameManager backs every retransmittable control frame (flow
// control, connection id, path validation, close) with a monotone id so
// sent/acked/lost bookkeeping survives retransmission (§4.7).
type ControlFrameManager struct {
	lastID        uint64
	leastUnsent   uint64
	leastUnacked  uint64
	entries       []controlFrameEntry // ordered by id ascending
	maxBuffered   int
	pendingRetransmit []uint64

	// windowUpdateStream maps a stream id to the id of its latest
	// MAX_STREAM_DATA frame, so a newer window update for the same stream
	// retires the older one as soon as WriteOrBuffer buffers the newer
	// frame; the retirement does not wait for the newer frame to be sent.
	windowUpdateStream map[uint64]uint64
}

// NewControlFrameManager constructs an empty manager.
func NewControlFrameManager() *ControlFrameManager {
	return &ControlFrameManager{
		leastUnsent:        1,
		leastUnacked:       1,
		maxBuffered:        defaultMaxBufferedControlFrames,
		windowUpdateStream: make(map[uint64]uint64),
	}
}

func (m *ControlFrameManager) indexOf(id uint64) int {
	lo, hi := 0, len(m.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.entries[mid].id < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.entries) && m.entries[lo].id == id {
		return lo
	}
	return -1
}

// WriteOrBuffer assigns the next id to frame and appends it to the
// buffer, returning the assigned id. It returns too-many-buffered-control-
// frames once the buffer exceeds maxBuffered (§4.7).
func (m *ControlFrameManager) WriteOrBuffer(frame Frame) (uint64, error) {
	if len(m.entries) >= m.maxBuffered {
		return 0, newError(TooManyBufferedControl, "control frame buffer full")
	}
	m.lastID++
	id := m.lastID
	m.entries = append(m.entries, controlFrameEntry{id: id, frame: frame, state: controlFramePending})
	if wsf, ok := frame.(*MaxStreamDataFrame); ok {
		if prevID, ok := m.windowUpdateStream[wsf.StreamID]; ok {
			m.markAcked(prevID)
		}
		m.windowUpdateStream[wsf.StreamID] = id
	}
	return id, nil
}

// OnSent advances least_unsent past id and marks its entry sent.
func (m *ControlFrameManager) OnSent(id uint64) {
	if i := m.indexOf(id); i >= 0 {
		m.entries[i].state = controlFrameSent
	}
	if id >= m.leastUnsent {
		m.leastUnsent = id + 1
	}
}

func (m *ControlFrameManager) markAcked(id uint64) {
	if i := m.indexOf(id); i >= 0 {
		m.entries[i].state = controlFrameAcked
	}
}

// OnAcked clears id's slot and slides least_unacked forward while the
// front of the buffer is empty.
func (m *ControlFrameManager) OnAcked(id uint64) {
	m.markAcked(id)
	m.compact()
}

// OnLost marks id pending retransmission unless it has already been
// acked (a common race between loss detection and a delayed ack).
func (m *ControlFrameManager) OnLost(id uint64) {
	i := m.indexOf(id)
	if i < 0 || m.entries[i].state == controlFrameAcked {
		return
	}
	m.entries[i].state = controlFrameLost
	m.pendingRetransmit = append(m.pendingRetransmit, id)
}

// compact removes acked entries from the front of the buffer and advances
// least_unacked.
func (m *ControlFrameManager) compact() {
	i := 0
	for i < len(m.entries) && m.entries[i].state == controlFrameAcked {
		i++
	}
	if i > 0 {
		m.entries = m.entries[i:]
	}
	if len(m.entries) > 0 {
		m.leastUnacked = m.entries[0].id
	} else {
		m.leastUnacked = m.lastID + 1
	}
}

// Retransmit re-serializes id's frame for the caller's writer. If the
// writer accepts it (write returns true), the copy is deleted from the
// pending-retransmit list; if the writer rejects it (blocked), it stays
// pending and Retransmit returns false (§4.7).
func (m *ControlFrameManager) Retransmit(id uint64, write func(uint64, Frame) bool) bool {
	i := m.indexOf(id)
	if i < 0 || m.entries[i].state != controlFrameLost {
		m.removePending(id)
		return true
	}
	if !write(id, m.entries[i].frame) {
		return false
	}
	m.entries[i].state = controlFrameSent
	m.removePending(id)
	return true
}

func (m *ControlFrameManager) removePending(id uint64) {
	for i, pid := range m.pendingRetransmit {
		if pid == id {
			m.pendingRetransmit = append(m.pendingRetransmit[:i], m.pendingRetransmit[i+1:]...)
			return
		}
	}
}

// OnCanWrite drains pending retransmissions first, then buffered new
// frames, stopping at the first writer rejection (§4.7). write receives
// each frame's assigned id so the caller can correlate a later ack or loss
// notification back to it.
func (m *ControlFrameManager) OnCanWrite(write func(id uint64, f Frame) bool) {
	for len(m.pendingRetransmit) > 0 {
		id := m.pendingRetransmit[0]
		if !m.Retransmit(id, write) {
			return
		}
	}
	for _, e := range m.entries {
		if e.state != controlFramePending {
			continue
		}
		if !write(e.id, e.frame) {
			return
		}
		m.OnSent(e.id)
	}
}
