package transport

import "time"

// Config enumerates every tunable of the connection (§6 "Configuration
// (enumerated)"). Start from DefaultConfig for the defaults; a Config
// built by hand keeps its zero-value fields as zero.
type Config struct {
	IdleNetworkTimeout time.Duration
	HandshakeTimeout   time.Duration // zero means no timeout

	KeepAliveTimeout                      time.Duration
	InitialRetransmittableOnWireTimeout   time.Duration // zero means no timeout
	MaxRetransmittableOnWireCount          int           // zero means unlimited
	MaxAggressiveRetransmittableOnWireCount int

	MaxAckRanges                int
	MinReceivedBeforeAckDecimation int
	AckFrequency                 int
	LocalMaxAckDelay              time.Duration
	ReceiveTimestampsExponent     int
	MaxReceiveTimestampsPerAck    int
	EnableReceiveTimestamps       bool

	AntiAmplificationFactor int
	MaxPacketLength         int
	MaxUndecryptablePackets int

	ActiveConnectionIDLimit int

	SupportKeyUpdate         bool
	MultiPortProbingInterval time.Duration // zero disables multi-port probing
	DropIncomingRetryPackets bool

	CipherSuite CipherSuite
}

// DefaultConfig returns the configuration with every default named in §6.
func DefaultConfig() *Config {
	return &Config{
		IdleNetworkTimeout: 30 * time.Second,
		HandshakeTimeout:   0,

		KeepAliveTimeout:                         15 * time.Second,
		InitialRetransmittableOnWireTimeout:       0,
		MaxRetransmittableOnWireCount:             0,
		MaxAggressiveRetransmittableOnWireCount:   5,

		MaxAckRanges:                   defaultMaxAckRanges,
		MinReceivedBeforeAckDecimation: decimationThresholdPackets,
		AckFrequency:                   defaultAckEveryN,
		LocalMaxAckDelay:               25 * time.Millisecond,
		ReceiveTimestampsExponent:      0,
		MaxReceiveTimestampsPerAck:     0,
		EnableReceiveTimestamps:        false,

		AntiAmplificationFactor: 3,
		MaxPacketLength:         MaxPacketLength,
		MaxUndecryptablePackets: 10,

		ActiveConnectionIDLimit: 2,

		SupportKeyUpdate:         true,
		MultiPortProbingInterval: 0,
		DropIncomingRetryPackets: false,

		CipherSuite: SuiteAES128GCMSHA256,
	}
}

// Validate rejects configurations that would violate an invariant the
// connection relies on rather than failing lazily mid-handshake.
func (c *Config) Validate() error {
	if c.MaxPacketLength < MinInitialPacketSize {
		return newError(InternalError, "max_packet_length below minimum initial packet size")
	}
	if c.ActiveConnectionIDLimit < 1 {
		return newError(InternalError, "active_connection_id_limit must be at least 1")
	}
	if c.AntiAmplificationFactor < 1 {
		return newError(InternalError, "anti_amplification_factor must be at least 1")
	}
	return nil
}
