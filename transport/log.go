package transport

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a structured logger for qlog-style connection and packet
// events (https://quiclog.github.io/internet-drafts/draft-marx-qlog-event-definitions-quic-h3.html),
// backed by go.uber.org/zap rather than a hand-rolled event/field pair
// (SPEC_FULL.md §2.1 ambient stack).
type Logger struct {
	zl      *zap.Logger
	metrics *Metrics
}

// NewLogger wraps an existing zap logger.
func NewLogger(zl *zap.Logger) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{zl: zl}
}

// NewNopLogger returns a Logger that discards everything, the default
// when a connection is constructed without one.
func NewNopLogger() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// WithMetrics attaches m so every logged event also updates its counters,
// and returns l for chaining at construction time.
func (l *Logger) WithMetrics(m *Metrics) *Logger {
	if l == nil {
		return l
	}
	l.metrics = m
	return l
}

func (l *Logger) PacketSent(level EncryptionLevel, pn uint64, wireLen int, frames []Frame) {
	if l == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.PacketsSent.WithLabelValues(level.String()).Inc()
		l.metrics.BytesSent.Add(float64(wireLen))
	}
	if l.zl == nil {
		return
	}
	l.zl.Debug("packet_sent",
		zap.String("level", level.String()),
		zap.Uint64("packet_number", pn),
		zap.Int("length", wireLen),
		zap.Array("frames", frameArrayMarshaler(frames)),
	)
}

func (l *Logger) PacketReceived(p *DecodedPacket) {
	if l == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.PacketsReceived.WithLabelValues(p.Level.String()).Inc()
		l.metrics.BytesReceived.Add(float64(p.WireLength))
	}
	if l.zl == nil {
		return
	}
	l.zl.Debug("packet_received",
		zap.String("level", p.Level.String()),
		zap.Uint64("packet_number", p.PacketNumber),
		zap.Int("length", p.WireLength),
		zap.Array("frames", frameArrayMarshaler(p.Frames)),
	)
}

func (l *Logger) PacketDropped(reason string, err error) {
	if l == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
	if l.zl == nil {
		return
	}
	l.zl.Info("packet_dropped", zap.String("reason", reason), zap.Error(err))
}

func (l *Logger) ConnectionClosed(code ErrorCode, reason string, remote bool) {
	if l == nil || l.zl == nil {
		return
	}
	l.zl.Info("connection_closed",
		zap.String("error_code", code.String()),
		zap.String("reason", reason),
		zap.Bool("remote", remote),
	)
}

// AckSent records that an ACK frame was queued for transmission; unlike
// the other events this has no accompanying qlog line since the ack
// itself is logged as part of the packet that carries it.
func (l *Logger) AckSent() {
	if l == nil || l.metrics == nil {
		return
	}
	l.metrics.AcksSent.Inc()
}

func (l *Logger) KeyUpdate(level EncryptionLevel) {
	if l == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.KeyUpdates.Inc()
	}
	if l.zl == nil {
		return
	}
	l.zl.Info("key_update", zap.String("level", level.String()))
}

func (l *Logger) PathValidation(peerAddr string, succeeded bool) {
	if l == nil {
		return
	}
	if l.metrics != nil {
		outcome := "failed"
		if succeeded {
			outcome = "succeeded"
		}
		l.metrics.PathValidations.WithLabelValues(outcome).Inc()
	}
	if l.zl == nil {
		return
	}
	l.zl.Info("path_validation", zap.String("peer_addr", peerAddr), zap.Bool("succeeded", succeeded))
}

type frameArrayMarshaler []Frame

func (fs frameArrayMarshaler) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, f := range fs {
		if err := enc.AppendObject(frameObjectMarshaler{f}); err != nil {
			return err
		}
	}
	return nil
}

type frameObjectMarshaler struct{ f Frame }

func (m frameObjectMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	switch f := m.f.(type) {
	case *PaddingFrame:
		enc.AddString("type", "padding")
		enc.AddInt("length", f.Length)
	case *PingFrame:
		enc.AddString("type", "ping")
	case *AckFrame:
		enc.AddString("type", "ack")
		enc.AddUint64("largest_acked", f.LargestAcked)
		enc.AddUint64("ack_delay", f.AckDelay)
		enc.AddInt("ranges", len(f.Ranges))
	case *ResetStreamFrame:
		enc.AddString("type", "reset_stream")
		enc.AddUint64("stream_id", f.StreamID)
		enc.AddUint64("error_code", f.ErrorCode)
		enc.AddUint64("final_size", f.FinalSize)
	case *ResetStreamAtFrame:
		enc.AddString("type", "reset_stream_at")
		enc.AddUint64("stream_id", f.StreamID)
		enc.AddUint64("reliable_offset", f.ReliableOffset)
	case *StopSendingFrame:
		enc.AddString("type", "stop_sending")
		enc.AddUint64("stream_id", f.StreamID)
	case *CryptoFrame:
		enc.AddString("type", "crypto")
		enc.AddUint64("offset", f.Offset)
		enc.AddInt("length", len(f.Data))
	case *NewTokenFrame:
		enc.AddString("type", "new_token")
		enc.AddInt("length", len(f.Token))
	case *StreamFrame:
		enc.AddString("type", "stream")
		enc.AddUint64("stream_id", f.StreamID)
		enc.AddUint64("offset", f.Offset)
		enc.AddInt("length", len(f.Data))
		enc.AddBool("fin", f.Fin)
	case *MaxDataFrame:
		enc.AddString("type", "max_data")
		enc.AddUint64("maximum", f.MaximumData)
	case *MaxStreamDataFrame:
		enc.AddString("type", "max_stream_data")
		enc.AddUint64("stream_id", f.StreamID)
		enc.AddUint64("maximum", f.MaximumData)
	case *MaxStreamsFrame:
		enc.AddString("type", "max_streams")
		enc.AddBool("bidi", f.Bidi)
		enc.AddUint64("maximum", f.MaximumStreams)
	case *DataBlockedFrame:
		enc.AddString("type", "data_blocked")
		enc.AddUint64("limit", f.DataLimit)
	case *StreamDataBlockedFrame:
		enc.AddString("type", "stream_data_blocked")
		enc.AddUint64("stream_id", f.StreamID)
	case *StreamsBlockedFrame:
		enc.AddString("type", "streams_blocked")
		enc.AddBool("bidi", f.Bidi)
	case *NewConnectionIDFrame:
		enc.AddString("type", "new_connection_id")
		enc.AddUint64("sequence_number", f.SequenceNumber)
	case *RetireConnectionIDFrame:
		enc.AddString("type", "retire_connection_id")
		enc.AddUint64("sequence_number", f.SequenceNumber)
	case *PathChallengeFrame:
		enc.AddString("type", "path_challenge")
	case *PathResponseFrame:
		enc.AddString("type", "path_response")
	case *ConnectionCloseFrame:
		enc.AddString("type", "connection_close")
		enc.AddBool("application", f.IsApplication)
		enc.AddUint64("error_code", f.ErrorCode)
		enc.AddString("reason", f.ReasonPhrase)
	case *HandshakeDoneFrame:
		enc.AddString("type", "handshake_done")
	case *ImmediateAckFrame:
		enc.AddString("type", "immediate_ack")
	case *AckFrequencyFrame:
		enc.AddString("type", "ack_frequency")
		enc.AddUint64("sequence_number", f.SequenceNumber)
	case *MessageFrame:
		enc.AddString("type", "message")
		enc.AddInt("length", len(f.Data))
	case *GoAwayFrame:
		enc.AddString("type", "goaway")
		enc.AddUint64("last_good_stream", f.LastGoodStream)
	default:
		enc.AddString("type", "unknown")
	}
	return nil
}
