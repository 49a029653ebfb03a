package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxCIDLength is the maximum length in bytes of a QUIC connection id.
const MaxCIDLength = 20

// StatelessResetTokenLength is the fixed size of a stateless reset token (§3).
const StatelessResetTokenLength = 16

// ConnectionID is a variable-length connection identifier (§3).
type ConnectionID []byte

func (c ConnectionID) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(c)*2)
	for i, b := range c {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0xf]
	}
	return string(buf)
}

// StatelessResetToken is the 16-byte token carried alongside an issued
// connection id (§3).
type StatelessResetToken [StatelessResetTokenLength]byte

// DeriveStatelessResetToken derives a deterministic token for cid from a
// long-lived server secret, so a server that has lost in-memory connection
// state after a restart can still recognize its own tokens (supplemented
// from QUICHE's QuicConnectionIdManager, §4 of SPEC_FULL.md).
func DeriveStatelessResetToken(secret []byte, cid ConnectionID) StatelessResetToken {
	mac := hmac.New(sha256.New, secret)
	mac.Write(cid)
	sum := mac.Sum(nil)
	var token StatelessResetToken
	copy(token[:], sum)
	return token
}

// issuedCID is one connection id this endpoint has handed to its peer.
type issuedCID struct {
	seq             uint64
	cid             ConnectionID
	resetToken      StatelessResetToken
	pendingRetireAt bool // queued for RETIRE_CONNECTION_ID emission by peer... n/a here
	retired         bool
}

// SelfIssuedCIDManager issues connection ids for this endpoint and tracks
// which are still active versus pending retirement (§4.10 "Self-issued
// manager").
type SelfIssuedCIDManager struct {
	mu              sync.Mutex
	secret          []byte
	nextSeq         uint64
	activeLimit     int
	issued          []issuedCID
	retirePriorTo   uint64
	pendingRetire   []pendingRetire
	generateHandle  func() ConnectionID
	connHandle      uuid.UUID // async-continuation identifier, §9
}

type pendingRetire struct {
	seq      uint64
	deadline int64 // unix nano; drained by a single alarm, see conn_timers.go
}

// NewSelfIssuedCIDManager creates a manager with the given active CID
// limit (§6 active_connection_id_limit) and an optional custom CID
// generator (§3 "or derives via a pluggable generator"); genFn nil uses
// crypto/rand.
func NewSelfIssuedCIDManager(secret []byte, activeLimit int, genFn func() ConnectionID) *SelfIssuedCIDManager {
	if activeLimit <= 0 {
		activeLimit = 2
	}
	m := &SelfIssuedCIDManager{
		secret:         secret,
		activeLimit:    activeLimit,
		generateHandle: genFn,
		connHandle:     uuid.New(),
	}
	return m
}

// ConnHandle returns the uuid identifying this connection for
// async-continuation message passing (§9: "each async continuation
// carries a connection handle identifier and is dropped if the connection
// no longer exists").
func (m *SelfIssuedCIDManager) ConnHandle() uuid.UUID {
	return m.connHandle
}

func (m *SelfIssuedCIDManager) generate() (ConnectionID, error) {
	if m.generateHandle != nil {
		return m.generateHandle(), nil
	}
	cid := make(ConnectionID, MaxCIDLength)
	if _, err := rand.Read(cid); err != nil {
		return nil, errors.WithStack(err)
	}
	return cid, nil
}

// Issue creates and records a new connection id with its reset token,
// failing once activeLimit active ids already exist.
func (m *SelfIssuedCIDManager) Issue() (ConnectionID, StatelessResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, e := range m.issued {
		if !e.retired {
			active++
		}
	}
	if active >= m.activeLimit {
		return nil, StatelessResetToken{}, newError(ConnectionIDLimitError, "active connection id limit reached")
	}
	cid, err := m.generate()
	if err != nil {
		return nil, StatelessResetToken{}, err
	}
	seq := m.nextSeq
	m.nextSeq++
	token := DeriveStatelessResetToken(m.secret, cid)
	m.issued = append(m.issued, issuedCID{seq: seq, cid: cid, resetToken: token})
	return cid, token, nil
}

// OnRetireConnectionID processes a received RETIRE_CONNECTION_ID(seq)
// frame from the peer. A seq that this endpoint has not yet issued is a
// protocol violation (§4.10).
func (m *SelfIssuedCIDManager) OnRetireConnectionID(seq uint64, nowUnixNano int64, ptoDelayNano int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq >= m.nextSeq {
		return newError(ProtocolViolation, "retire_connection_id for unissued sequence number")
	}
	for i := range m.issued {
		if m.issued[i].seq == seq && !m.issued[i].retired {
			m.issued[i].retired = true
			m.pendingRetire = append(m.pendingRetire, pendingRetire{seq: seq, deadline: nowUnixNano + ptoDelayNano})
			return nil
		}
	}
	return nil // already retired: no-op
}

// DrainPendingRetires returns the sequence numbers whose retirement
// deadline has passed, removing them from the pending list. A single
// alarm owned by the connection drains this (§4.10).
func (m *SelfIssuedCIDManager) DrainPendingRetires(nowUnixNano int64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var drained []uint64
	kept := m.pendingRetire[:0]
	for _, p := range m.pendingRetire {
		if nowUnixNano >= p.deadline {
			drained = append(drained, p.seq)
		} else {
			kept = append(kept, p)
		}
	}
	m.pendingRetire = kept
	return drained
}

// peerCID is one connection id the peer has issued to us via
// NEW_CONNECTION_ID.
type peerCID struct {
	seq        uint64
	cid        ConnectionID
	resetToken StatelessResetToken
	state      peerCIDState
}

type peerCIDState int

const (
	peerCIDUnused peerCIDState = iota
	peerCIDActive
	peerCIDRetiring
)

// PeerIssuedCIDManager tracks connection ids the peer has issued to us
// (§4.10 "Peer-issued manager").
type PeerIssuedCIDManager struct {
	mu            sync.Mutex
	cids          []peerCID
	retirePriorTo uint64
	seenSeq       map[uint64]bool // duplicate-sequence detection
	toRetire      []uint64        // sequence numbers awaiting a RETIRE_CONNECTION_ID we must emit
}

// NewPeerIssuedCIDManager creates an empty peer-issued cid tracker.
func NewPeerIssuedCIDManager() *PeerIssuedCIDManager {
	return &PeerIssuedCIDManager{seenSeq: make(map[uint64]bool)}
}

// OnNewConnectionID processes a received NEW_CONNECTION_ID frame,
// ignoring duplicate sequence numbers and rejecting invalid retire_prior_to values
// (§4.2 "Fails with retire_prior_to > sequence_number").
func (m *PeerIssuedCIDManager) OnNewConnectionID(seq, retirePriorTo uint64, cid ConnectionID, token StatelessResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if retirePriorTo > seq {
		return newError(FrameEncodingError, "retire_prior_to > sequence_number")
	}
	if m.seenSeq[seq] {
		// A duplicate NEW_CONNECTION_ID for an already-seen sequence is
		// ignored rather than an error, matching QUICHE's idempotent
		// handling of retransmitted frames.
		return nil
	}
	m.seenSeq[seq] = true
	if retirePriorTo > m.retirePriorTo {
		m.retirePriorTo = retirePriorTo
	}
	m.cids = append(m.cids, peerCID{seq: seq, cid: cid, resetToken: token, state: peerCIDUnused})
	m.retireBelow(m.retirePriorTo)
	return nil
}

func (m *PeerIssuedCIDManager) retireBelow(threshold uint64) {
	for i := range m.cids {
		if m.cids[i].seq < threshold && m.cids[i].state != peerCIDRetiring {
			m.cids[i].state = peerCIDRetiring
			m.toRetire = append(m.toRetire, m.cids[i].seq)
		}
	}
}

// PendingRetirements drains the sequence numbers for which a
// RETIRE_CONNECTION_ID frame must be emitted back to the peer.
func (m *PeerIssuedCIDManager) PendingRetirements() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.toRetire
	m.toRetire = nil
	return out
}

// Active returns an unused (not yet active, not retiring) peer-issued cid
// to address the peer with, used for migration (§3 "active after issue and
// before retirement").
func (m *PeerIssuedCIDManager) Active() (ConnectionID, StatelessResetToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.cids {
		if m.cids[i].state == peerCIDUnused {
			m.cids[i].state = peerCIDActive
			return m.cids[i].cid, m.cids[i].resetToken, true
		}
	}
	return nil, StatelessResetToken{}, false
}

// ReplaceConnectionID swaps an id in place when still tracked, used when a
// NEW_CONNECTION_ID retransmission arrives with updated reset token data
// for an id already active (§4.10).
func (m *PeerIssuedCIDManager) ReplaceConnectionID(oldCID, newCID ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.cids {
		if string(m.cids[i].cid) == string(oldCID) {
			m.cids[i].cid = newCID
			return true
		}
	}
	return false
}

// KnownResetToken reports whether token matches any reset token the peer
// has issued us, used by the stateless-reset detection path (§4.4, §8.6).
func (m *PeerIssuedCIDManager) KnownResetToken(token StatelessResetToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cids {
		if c.resetToken == token {
			return true
		}
	}
	return false
}
