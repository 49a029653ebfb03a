package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrameDispatchesStreamFrame(t *testing.T) {
	f := &StreamFrame{StreamID: 4, Data: []byte("hello"), Fin: true}
	b := f.AppendTo(nil)

	decoded, n, err := decodeFrame(b, EncryptionApplication)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	sf, ok := decoded.(*StreamFrame)
	require.True(t, ok)
	require.Equal(t, f.StreamID, sf.StreamID)
	require.Equal(t, f.Data, sf.Data)
	require.True(t, sf.Fin)
}

func TestAckFrameRoundTripPlainAndECN(t *testing.T) {
	plain := &AckFrame{
		LargestAcked: 10,
		AckDelay:     5,
		Ranges:       []AckRange{{Smallest: 8, Largest: 10}, {Smallest: 2, Largest: 4}},
	}
	b := plain.AppendTo(nil)
	require.Len(t, b, plain.EncodedLen())
	decoded, n, err := decodeFrame(b, EncryptionApplication)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	got, ok := decoded.(*AckFrame)
	require.True(t, ok)
	require.Equal(t, plain.LargestAcked, got.LargestAcked)
	require.Equal(t, plain.Ranges, got.Ranges)
	require.Nil(t, got.ECN)
	require.Nil(t, got.TimestampRanges)

	withECN := &AckFrame{
		LargestAcked: 10,
		AckDelay:     5,
		Ranges:       []AckRange{{Smallest: 8, Largest: 10}},
		ECN:          &ECNCounts{ECT0: 3, ECT1: 1, CE: 2},
	}
	b = withECN.AppendTo(nil)
	require.Equal(t, frameTypeAckECN, withECN.FrameType())
	decoded, n, err = decodeFrame(b, EncryptionApplication)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	got, ok = decoded.(*AckFrame)
	require.True(t, ok)
	require.Equal(t, *withECN.ECN, *got.ECN)
}

func TestAckFrameRoundTripReceiveTimestamps(t *testing.T) {
	f := &AckFrame{
		LargestAcked: 20,
		AckDelay:     7,
		Ranges:       []AckRange{{Smallest: 15, Largest: 20}, {Smallest: 1, Largest: 3}},
		ECN:          &ECNCounts{ECT0: 9}, // must be dropped from the wire: timestamps take priority (§3)
		TimestampRanges: []TimestampRange{
			{Gap: 0, Deltas: []uint64{100, 5, 5}},
			{Gap: 2, Deltas: []uint64{40}},
		},
	}
	require.Equal(t, frameTypeAckReceiveTimestamps, f.FrameType())

	b := f.AppendTo(nil)
	require.Len(t, b, f.EncodedLen())

	decoded, n, err := decodeFrame(b, EncryptionApplication)
	require.NoError(t, err)
	require.Equal(t, len(b), n)

	got, ok := decoded.(*AckFrame)
	require.True(t, ok)
	require.Equal(t, f.LargestAcked, got.LargestAcked)
	require.Equal(t, f.Ranges, got.Ranges)
	require.Equal(t, f.TimestampRanges, got.TimestampRanges)
	require.Nil(t, got.ECN) // ACK_RECEIVE_TIMESTAMPS has no ECN tail on the wire
}

func TestBuildAckFramePopulatesTimestampRanges(t *testing.T) {
	m := NewReceivedPacketManager(25_000_000, true, 2, 0, 1_000_000_000)

	m.OnPacketReceived(10, true, false, false, false, 1_000_050_000)
	m.OnPacketReceived(9, true, false, false, false, 1_000_040_000)
	m.OnPacketReceived(7, true, false, false, false, 1_000_010_000)

	f, ok := m.BuildAckFrame(1_000_100_000)
	require.True(t, ok)
	require.Equal(t, uint64(10), f.LargestAcked)
	require.NotEmpty(t, f.TimestampRanges)
	require.Nil(t, f.ECN)

	// Range grouping mirrors the gap convention of the main ACK ranges: packets
	// 10 and 9 are contiguous (one range), packet 7 starts a new one after a gap.
	require.Len(t, f.TimestampRanges, 2)
	require.Len(t, f.TimestampRanges[0].Deltas, 2)
	require.Len(t, f.TimestampRanges[1].Deltas, 1)

	// Re-encoding must round-trip exactly what BuildAckFrame produced.
	b := f.AppendTo(nil)
	decoded, _, err := decodeFrame(b, EncryptionApplication)
	require.NoError(t, err)
	got := decoded.(*AckFrame)
	require.Equal(t, f.TimestampRanges, got.TimestampRanges)
}

func TestBuildAckFrameFallsBackToECNWithoutTimestamps(t *testing.T) {
	m := NewReceivedPacketManager(25_000_000, false, 0, 0, 0)
	m.OnPacketReceived(1, true, true, false, false, 100)

	f, ok := m.BuildAckFrame(200)
	require.True(t, ok)
	require.Empty(t, f.TimestampRanges)
	require.NotNil(t, f.ECN)
	require.Equal(t, uint64(1), f.ECN.ECT0)
}
