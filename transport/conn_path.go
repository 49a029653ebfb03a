package transport

import (
	"crypto/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newPathChallengeData generates an 8-byte random PATH_CHALLENGE payload.
func newPathChallengeData() [pathChallengeDataLen]byte {
	var d [pathChallengeDataLen]byte
	_, _ = rand.Read(d[:])
	return d
}

// beginPathValidationLocked starts validating peerAddr, either because an
// incoming non-probing packet arrived from an address that isn't the
// current default path (a candidate migration) or because the caller asked
// for a background multi-port liveness probe. Either way a PATH_CHALLENGE
// goes out and the matching PATH_RESPONSE is watched for in
// onPathResponseLocked (§4.9 "Path validation", grounded on QUICHE's
// quic_connection.cc path-validation state plus its multi-port extension).
func (c *Conn) beginPathValidationLocked(peerAddr string, nowNano int64, probeOnly bool) {
	if c.altPath != nil && c.altPath.peerAddr == peerAddr {
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.LocalMaxAckDelay
	bo.MaxElapsedTime = 0
	sentAt := time.Unix(0, nowNano)
	ps := &pathState{
		peerAddr:        peerAddr,
		probeOnly:       probeOnly,
		challengeData:   newPathChallengeData(),
		challengeSentAt: sentAt,
		nextRetryAt:     sentAt.Add(bo.NextBackOff()),
		backoff:         bo,
		attempts:        1,
	}
	c.altPath = ps
	c.queueFrameLocked(EncryptionApplication, &PathChallengeFrame{Data: ps.challengeData})
	c.logger.PathValidation(peerAddr, false)
}

// onPathResponseLocked matches an incoming PATH_RESPONSE against whichever
// path is currently awaiting one. A match on the default path validates it
// for anti-amplification purposes; a match on the alternative path either
// commits a migration or, for a multi-port probe, just records the RTT
// sample (§4.9 "Path validation", "Migration", "Multi-port").
func (c *Conn) onPathResponseLocked(fromAddr string, data [pathChallengeDataLen]byte, nowNano int64) {
	if c.defaultPath.challengeData == data && !c.defaultPath.validated {
		c.defaultPath.validated = true
		c.peerValidated = true
		c.logger.PathValidation(c.defaultPath.peerAddr, true)
		return
	}
	if c.altPath == nil || c.altPath.challengeData != data {
		return
	}
	c.altPath.validated = true
	rtt := nowNano - c.altPath.challengeSentAt.UnixNano()

	if c.altPath.probeOnly {
		c.multiPort.ProbesSucceeded++
		if rtt > 0 {
			c.multiPort.AlternativePathRTT = time.Duration(rtt)
		}
		c.altPath = nil
		c.logger.PathValidation(fromAddr, true)
		return
	}
	c.commitMigrationLocked(nowNano)
}

// commitMigrationLocked promotes the validated alternative path to the
// default path, resetting anti-amplification bookkeeping for the new
// address (§4.9 "Migration").
func (c *Conn) commitMigrationLocked(nowNano int64) {
	if c.altPath == nil {
		return
	}
	old := c.defaultPath.peerAddr
	c.defaultPath = *c.altPath
	c.altPath = nil
	c.peerValidated = true
	if !c.isClient {
		c.bytesReceivedBeforeValidation = 0
		c.bytesSentBeforeValidation = 0
	}
	c.logger.PathValidation(old+"->"+c.defaultPath.peerAddr, true)
}

// ProbeAlternativePath issues a best-effort multi-port liveness probe on
// candidateAddr without affecting which path traffic actually flows on;
// results accumulate in MultiPortStats as PATH_RESPONSEs arrive (§4.9
// "Multi-port"). A no-op when multi-port probing isn't configured.
func (c *Conn) ProbeAlternativePath(candidateAddr string, nowNano int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.MultiPortProbingInterval <= 0 {
		return
	}
	c.beginFlush()
	c.beginPathValidationLocked(candidateAddr, nowNano, true)
	c.multiPort.ProbesSent++
	_ = c.endFlush()
}

// MaybeRespondToConnectivityProbingOrMigration reports whether peerAddr
// differs from the connection's current default path, letting the caller's
// I/O loop decide whether a reply needs to go out on a different local
// socket (§4.9 "Connectivity probing").
func (c *Conn) MaybeRespondToConnectivityProbingOrMigration(peerAddr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return peerAddr != c.defaultPath.peerAddr
}

// expirePathValidationLocked backs off and re-sends the outstanding
// PATH_CHALLENGE once nextRetryAt has passed, or gives up once the backoff
// policy says so; called from the connection's alarm loop (conn_timers.go).
func (c *Conn) expirePathValidationLocked(nowNano int64) {
	if c.altPath == nil || c.altPath.validated {
		return
	}
	now := time.Unix(0, nowNano)
	if now.Before(c.altPath.nextRetryAt) {
		return
	}
	next := c.altPath.backoff.NextBackOff()
	if next == backoff.Stop {
		if c.altPath.probeOnly {
			c.multiPort.OtherFailures++
		} else {
			c.multiPort.DefaultPathDegradingFailures++
		}
		c.altPath = nil
		return
	}
	c.altPath.attempts++
	c.altPath.challengeSentAt = now
	c.altPath.nextRetryAt = now.Add(next)
	c.queueFrameLocked(EncryptionApplication, &PathChallengeFrame{Data: c.altPath.challengeData})
}
