package transport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithMetricsCountsPackets(t *testing.T) {
	m := NewMetrics()
	l := NewNopLogger().WithMetrics(m)

	l.PacketSent(EncryptionApplication, 1, 100, nil)
	l.PacketSent(EncryptionApplication, 2, 50, nil)
	l.PacketReceived(&DecodedPacket{Level: EncryptionApplication, PacketNumber: 3, WireLength: 80})
	l.PacketDropped("duplicate_packet_number", nil)

	require.Equal(t, float64(2), testutil.ToFloat64(m.PacketsSent.WithLabelValues("1-rtt")))
	require.Equal(t, float64(150), testutil.ToFloat64(m.BytesSent))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PacketsReceived.WithLabelValues("1-rtt")))
	require.Equal(t, float64(80), testutil.ToFloat64(m.BytesReceived))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PacketsDropped.WithLabelValues("duplicate_packet_number")))
}

func TestLoggerWithMetricsCountsPathValidationAndKeyUpdate(t *testing.T) {
	m := NewMetrics()
	l := NewNopLogger().WithMetrics(m)

	l.PathValidation("10.0.0.1:4433", true)
	l.PathValidation("10.0.0.2:4433", false)
	l.KeyUpdate(EncryptionApplication)
	l.AckSent()

	require.Equal(t, float64(1), testutil.ToFloat64(m.PathValidations.WithLabelValues("succeeded")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PathValidations.WithLabelValues("failed")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.KeyUpdates))
	require.Equal(t, float64(1), testutil.ToFloat64(m.AcksSent))
}

func TestLoggerWithoutMetricsNeverPanics(t *testing.T) {
	l := NewNopLogger()
	require.NotPanics(t, func() {
		l.PacketSent(EncryptionInitial, 1, 10, nil)
		l.PacketReceived(&DecodedPacket{Level: EncryptionInitial})
		l.PacketDropped("whatever", nil)
		l.PathValidation("x", true)
		l.KeyUpdate(EncryptionApplication)
		l.AckSent()
	})
}
