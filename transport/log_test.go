package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewLogger(zap.New(core)), logs
}

func TestLoggerPacketSentFields(t *testing.T) {
	l, logs := newObservedLogger()
	f := &StreamFrame{StreamID: 2, Offset: 3, Data: []byte("hi"), Fin: true}
	l.PacketSent(EncryptionApplication, 7, 42, []Frame{f})

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	require.Equal(t, "packet_sent", entries[0].Message)

	m := entries[0].ContextMap()
	require.Equal(t, "1-rtt", m["level"])
	require.EqualValues(t, 7, m["packet_number"])
	require.EqualValues(t, 42, m["length"])
}

func TestLoggerPacketDroppedCarriesError(t *testing.T) {
	l, logs := newObservedLogger()
	l.PacketDropped("decrypt_failed", newError(DecryptionFailure, "bad tag"))

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	require.Equal(t, "packet_dropped", entries[0].Message)
	require.Equal(t, "decrypt_failed", entries[0].ContextMap()["reason"])
}

func TestLoggerNilIsSafe(t *testing.T) {
	var l *Logger
	require.NotPanics(t, func() {
		l.PacketDropped("whatever", nil)
		l.KeyUpdate(EncryptionHandshake)
		l.PathValidation("10.0.0.1:4433", true)
	})
}

func TestFrameObjectMarshalerCoversKnownTypes(t *testing.T) {
	frames := []Frame{
		&PaddingFrame{Length: 3},
		&PingFrame{},
		&ResetStreamFrame{StreamID: 1, ErrorCode: 2, FinalSize: 3},
		&CryptoFrame{Offset: 1, Data: []byte("hello")},
		&MaxDataFrame{MaximumData: 100},
	}
	l, logs := newObservedLogger()
	l.PacketSent(EncryptionInitial, 0, 10, frames)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)

	logged, ok := entries[0].ContextMap()["frames"].([]interface{})
	require.True(t, ok)
	require.Len(t, logged, len(frames))
	for _, lf := range logged {
		require.NotEqual(t, "unknown", lf.(map[string]interface{})["type"])
	}
}
