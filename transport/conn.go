package transport

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// connectionState is the connection's coarse lifecycle phase (§4.9).
type connectionState int

const (
	stateHandshaking connectionState = iota
	stateActive
	stateDraining
	stateClosed
)

// packetNumberSpaceState is the per-space bookkeeping the connection
// needs beyond the received-packet manager: the next outgoing packet
// number, the largest packet number actually received, the largest
// packet number the peer has acknowledged, and the first packet number
// sent in the current key phase. Key availability is tracked by the framer.
type packetNumberSpaceState struct {
	nextSendPN       uint64
	largestReceived  int64 // -1 means none yet
	largestAcked     uint64
	haveLargestAcked bool
	firstSentInPhase uint64
}

// MultiPortStats accumulates diagnostics for the background probe run on
// an alternative path when multi-port probing is enabled (§4.9
// "Multi-port").
type MultiPortStats struct {
	ProbesSent             int
	ProbesSucceeded        int
	DefaultPathDegradingFailures int
	OtherFailures          int
	AlternativePathRTT     time.Duration
}

// pathState tracks one network path (address pair) under validation or
// in active use (§4.9 "Path validation").
type pathState struct {
	localAddr    string
	peerAddr     string
	validated    bool
	probeOnly    bool // multi-port probe: never promoted to the default path
	challengeData [pathChallengeDataLen]byte
	challengeSentAt time.Time
	nextRetryAt  time.Time
	backoff      *backoff.ExponentialBackOff
	attempts     int
}

// Conn is a QUIC connection: the framer, the three packet-number spaces'
// received-packet managers, the control-frame manager, the session
// notifier, and the connection-id managers wired together behind the
// single-threaded state machine of §4.9.
type Conn struct {
	mu sync.Mutex

	isClient bool
	perspectiveServer bool

	config *Config
	visitor Visitor

	framer *Framer
	spaces [numPacketNumberSpaces]packetNumberSpaceState
	acks   [numPacketNumberSpaces]*ReceivedPacketManager

	control  *ControlFrameManager
	notifier *SessionNotifier

	selfCIDs *SelfIssuedCIDManager
	peerCIDs *PeerIssuedCIDManager

	scid  ConnectionID
	dcid  ConnectionID
	odcid ConnectionID // original destination cid, client-chosen

	state connectionState

	isProcessingPacket bool

	handshakeConfirmed bool
	discardedInitial   bool
	discardedHandshake bool

	ackElicitingSent bool

	bytesReceivedBeforeValidation uint64
	bytesSentBeforeValidation     uint64
	peerValidated                 bool

	idleDeadline      time.Time
	handshakeDeadline time.Time
	drainDeadline     time.Time
	ackAlarm          [numPacketNumberSpaces]time.Time

	defaultPath pathState
	altPath     *pathState
	multiPort   MultiPortStats

	pacer *rate.Limiter

	closeErr *TransportError

	pendingDatagrams [][]byte // coalesced output awaiting a blocked writer

	flushDepth    int
	pendingFrames [numEncryptionLevels][]Frame

	streamBuffers map[uint64]*sendBuffer
	streamCursors map[uint64]uint64
	cryptoBuffers [numEncryptionLevels]*sendBuffer
	cryptoQueued  [numEncryptionLevels]uint64

	sentPackets     [numPacketNumberSpaces][]sentFrameRecord
	controlFrameIDs map[Frame]uint64

	lastSendNano               int64
	retransmittableOnWireCount int

	logger *Logger
}

// newConn builds the shared skeleton for both Connect and Accept.
func newConn(config *Config, isClient bool, scid ConnectionID, logger *Logger) (*Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	c := &Conn{
		isClient: isClient,
		config:   config,
		scid:     scid,
		state:    stateHandshaking,
		control:  NewControlFrameManager(),
		selfCIDs: NewSelfIssuedCIDManager(randomSecret(), config.ActiveConnectionIDLimit, nil),
		peerCIDs: NewPeerIssuedCIDManager(),
		framer:   NewFramer(len(scid)),
		pacer:    rate.NewLimiter(rate.Inf, 1<<20),
		logger:   logger,
	}
	creationTimeNano := time.Now().UnixNano()
	for i := range c.acks {
		c.acks[i] = NewReceivedPacketManager(config.LocalMaxAckDelay.Nanoseconds(), config.EnableReceiveTimestamps,
			config.ReceiveTimestampsExponent, config.MaxReceiveTimestampsPerAck, creationTimeNano)
	}
	for i := range c.spaces {
		c.spaces[i].largestReceived = -1
	}
	c.notifier = NewSessionNotifier(connWriteDriver{c})
	return c, nil
}

func randomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

// Connect creates a client connection to dcid, the server's initial
// destination connection id (chosen at random if nil).
func Connect(config *Config, visitor Visitor, scid, dcid ConnectionID, logger *Logger) (*Conn, error) {
	if len(dcid) == 0 {
		dcid = make(ConnectionID, MaxCIDLength)
		if _, err := rand.Read(dcid); err != nil {
			return nil, err
		}
	}
	c, err := newConn(config, true, scid, logger)
	if err != nil {
		return nil, err
	}
	c.visitor = visitor
	c.dcid = dcid
	c.odcid = append(ConnectionID(nil), dcid...)
	if err := c.installInitialKeys(dcid); err != nil {
		return nil, err
	}
	return c, nil
}

// Accept creates a server connection from a client's first Initial
// packet, whose destination cid was odcid.
func Accept(config *Config, visitor Visitor, scid, odcid, peerSCID ConnectionID, logger *Logger) (*Conn, error) {
	c, err := newConn(config, false, scid, logger)
	if err != nil {
		return nil, err
	}
	c.visitor = visitor
	c.odcid = odcid
	c.dcid = peerSCID
	if err := c.installInitialKeys(odcid); err != nil {
		return nil, err
	}
	return c, nil
}

// installInitialKeys derives and installs the Initial level's keys from
// the client's destination connection id (§4.4, §4.9
// "deriveInitialKeyMaterial").
func (c *Conn) installInitialKeys(clientDestCID ConnectionID) error {
	clientSecret, serverSecret := DeriveInitialSecrets(clientDestCID)
	mySecret, peerSecret := serverSecret, clientSecret
	if c.isClient {
		mySecret, peerSecret = clientSecret, serverSecret
	}
	write, err := NewPacketProtector(SuiteAES128GCMSHA256, mySecret)
	if err != nil {
		return err
	}
	read, err := NewPacketProtector(SuiteAES128GCMSHA256, peerSecret)
	if err != nil {
		return err
	}
	c.framer.InstallKeys(EncryptionInitial, write, read)
	return nil
}

// State reports the connection's coarse lifecycle phase.
func (c *Conn) State() connectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandshakeConfirmed reports whether the handshake has been confirmed.
// Only a client connection sets it, when HANDSHAKE_DONE is received
// (§4.9); a server connection never sends HANDSHAKE_DONE and always
// reports false.
func (c *Conn) HandshakeConfirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakeConfirmed
}

// IsEstablished reports whether the connection has left the handshaking
// phase (§4.9).
func (c *Conn) IsEstablished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateActive
}

// IsClosed reports whether the connection has finished draining and will
// process no further packets (§4.9).
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// Close begins the closing state machine: it latches the close reason,
// arms the draining timer, and cancels every other alarm (§4.9, §5
// "Closing the connection permanently cancels all alarms").
func (c *Conn) Close(code ErrorCode, application bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed || c.state == stateDraining {
		return
	}
	c.closeErr = &TransportError{Code: code, Detail: reason}
	c.state = stateDraining
	c.drainDeadline = time.Now().Add(time.Duration(c.ptoEstimateNano() * 3))
	c.drainAlarmsLocked()
	c.logger.ConnectionClosed(code, reason, false)
	if c.visitor != nil {
		c.visitor.OnConnectionClosed(code, reason, false)
	}
}

func (c *Conn) drainAlarmsLocked() {
	c.idleDeadline = time.Time{}
	c.handshakeDeadline = time.Time{}
	for i := range c.ackAlarm {
		c.ackAlarm[i] = time.Time{}
	}
}

// closeWithError is the internal path used when a decode or protocol
// error forces a shutdown (§7 "the connection translates them to a
// CONNECTION_CLOSE at the highest available level").
func (c *Conn) closeWithError(err error) {
	te, ok := err.(*TransportError)
	if !ok {
		te = &TransportError{Code: InternalError, Detail: err.Error()}
	}
	c.Close(te.Code, false, te.Error())
}

// connWriteDriver adapts Conn to the WriteDriver interface consumed by
// SessionNotifier, keeping the stream/crypto write path's actual framing
// decisions in conn_send.go.
type connWriteDriver struct{ c *Conn }

func (d connWriteDriver) DriveStreamWrite(streamID uint64, length uint64, state StreamDataState) (uint64, bool) {
	return d.c.driveStreamWrite(streamID, length, state)
}

func (d connWriteDriver) DriveCryptoWrite(level EncryptionLevel, offset, length uint64) (uint64, bool) {
	return d.c.driveCryptoWrite(level, offset, length)
}
