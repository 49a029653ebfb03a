package transport

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// configFile mirrors Config with plain field types TOML can decode
// directly; durations are expressed in milliseconds on disk.
type configFile struct {
	IdleNetworkTimeoutMs int64 `toml:"idle_network_timeout_ms"`
	HandshakeTimeoutMs   int64 `toml:"handshake_timeout_ms"`

	KeepAliveTimeoutMs                      int64 `toml:"keep_alive_timeout_ms"`
	InitialRetransmittableOnWireTimeoutMs    int64 `toml:"initial_retransmittable_on_wire_timeout_ms"`
	MaxRetransmittableOnWireCount            int   `toml:"max_retransmittable_on_wire_count"`
	MaxAggressiveRetransmittableOnWireCount  int   `toml:"max_aggressive_retransmittable_on_wire_count"`

	MaxAckRanges                   int  `toml:"max_ack_ranges"`
	MinReceivedBeforeAckDecimation int  `toml:"min_received_before_ack_decimation"`
	AckFrequency                   int  `toml:"ack_frequency"`
	LocalMaxAckDelayMs             int64 `toml:"local_max_ack_delay_ms"`
	ReceiveTimestampsExponent      int  `toml:"receive_timestamps_exponent"`
	MaxReceiveTimestampsPerAck     int  `toml:"max_receive_timestamps_per_ack"`
	EnableReceiveTimestamps        bool `toml:"enable_receive_timestamps"`

	AntiAmplificationFactor int `toml:"anti_amplification_factor"`
	MaxPacketLength         int `toml:"max_packet_length"`
	MaxUndecryptablePackets int `toml:"max_undecryptable_packets"`

	ActiveConnectionIDLimit int `toml:"active_connection_id_limit"`

	SupportKeyUpdate            *bool `toml:"support_key_update"`
	MultiPortProbingIntervalMs  int64 `toml:"multi_port_probing_interval_ms"`
	DropIncomingRetryPackets    bool  `toml:"drop_incoming_retry_packets"`

	CipherSuite string `toml:"cipher_suite"` // "aes-128-gcm-sha256" or "chacha20-poly1305-sha256"
}

// LoadConfigFile reads a TOML configuration file, starting from
// DefaultConfig and overriding whatever fields the file sets.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	var raw configFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}
	applyConfigFile(cfg, &raw)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyConfigFile(cfg *Config, raw *configFile) {
	if raw.IdleNetworkTimeoutMs > 0 {
		cfg.IdleNetworkTimeout = time.Duration(raw.IdleNetworkTimeoutMs) * time.Millisecond
	}
	if raw.HandshakeTimeoutMs > 0 {
		cfg.HandshakeTimeout = time.Duration(raw.HandshakeTimeoutMs) * time.Millisecond
	}
	if raw.KeepAliveTimeoutMs > 0 {
		cfg.KeepAliveTimeout = time.Duration(raw.KeepAliveTimeoutMs) * time.Millisecond
	}
	if raw.InitialRetransmittableOnWireTimeoutMs > 0 {
		cfg.InitialRetransmittableOnWireTimeout = time.Duration(raw.InitialRetransmittableOnWireTimeoutMs) * time.Millisecond
	}
	if raw.MaxRetransmittableOnWireCount > 0 {
		cfg.MaxRetransmittableOnWireCount = raw.MaxRetransmittableOnWireCount
	}
	if raw.MaxAggressiveRetransmittableOnWireCount > 0 {
		cfg.MaxAggressiveRetransmittableOnWireCount = raw.MaxAggressiveRetransmittableOnWireCount
	}
	if raw.MaxAckRanges > 0 {
		cfg.MaxAckRanges = raw.MaxAckRanges
	}
	if raw.MinReceivedBeforeAckDecimation > 0 {
		cfg.MinReceivedBeforeAckDecimation = raw.MinReceivedBeforeAckDecimation
	}
	if raw.AckFrequency > 0 {
		cfg.AckFrequency = raw.AckFrequency
	}
	if raw.LocalMaxAckDelayMs > 0 {
		cfg.LocalMaxAckDelay = time.Duration(raw.LocalMaxAckDelayMs) * time.Millisecond
	}
	if raw.ReceiveTimestampsExponent > 0 {
		cfg.ReceiveTimestampsExponent = raw.ReceiveTimestampsExponent
	}
	if raw.MaxReceiveTimestampsPerAck > 0 {
		cfg.MaxReceiveTimestampsPerAck = raw.MaxReceiveTimestampsPerAck
	}
	cfg.EnableReceiveTimestamps = raw.EnableReceiveTimestamps
	if raw.AntiAmplificationFactor > 0 {
		cfg.AntiAmplificationFactor = raw.AntiAmplificationFactor
	}
	if raw.MaxPacketLength > 0 {
		cfg.MaxPacketLength = raw.MaxPacketLength
	}
	if raw.MaxUndecryptablePackets > 0 {
		cfg.MaxUndecryptablePackets = raw.MaxUndecryptablePackets
	}
	if raw.ActiveConnectionIDLimit > 0 {
		cfg.ActiveConnectionIDLimit = raw.ActiveConnectionIDLimit
	}
	if raw.SupportKeyUpdate != nil {
		cfg.SupportKeyUpdate = *raw.SupportKeyUpdate
	}
	if raw.MultiPortProbingIntervalMs > 0 {
		cfg.MultiPortProbingInterval = time.Duration(raw.MultiPortProbingIntervalMs) * time.Millisecond
	}
	cfg.DropIncomingRetryPackets = raw.DropIncomingRetryPackets
	switch raw.CipherSuite {
	case "chacha20-poly1305-sha256":
		cfg.CipherSuite = SuiteChaCha20Poly1305SHA256
	case "aes-128-gcm-sha256", "":
		cfg.CipherSuite = SuiteAES128GCMSHA256
	}
}
