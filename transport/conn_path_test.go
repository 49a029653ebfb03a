package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpirePathValidationDoesNothingBeforeNextRetry(t *testing.T) {
	c := newTestConn(t, nil)
	now := time.Now().UnixNano()

	c.mu.Lock()
	c.beginPathValidationLocked("10.0.0.2:4433", now, true)
	firstRetryAt := c.altPath.nextRetryAt
	attemptsBefore := c.altPath.attempts
	c.mu.Unlock()

	c.mu.Lock()
	c.expirePathValidationLocked(firstRetryAt.Add(-time.Millisecond).UnixNano())
	attemptsAfter := c.altPath.attempts
	retryAfter := c.altPath.nextRetryAt
	c.mu.Unlock()

	require.Equal(t, attemptsBefore, attemptsAfter)
	require.Equal(t, firstRetryAt, retryAfter)
}

func TestExpirePathValidationRetriesAndAdvancesDeadline(t *testing.T) {
	c := newTestConn(t, nil)
	now := time.Now().UnixNano()

	c.mu.Lock()
	c.beginPathValidationLocked("10.0.0.2:4433", now, true)
	firstRetryAt := c.altPath.nextRetryAt
	c.mu.Unlock()

	c.mu.Lock()
	c.expirePathValidationLocked(firstRetryAt.UnixNano() + 1)
	attempts := c.altPath.attempts
	secondRetryAt := c.altPath.nextRetryAt
	c.mu.Unlock()

	require.Equal(t, 2, attempts)
	require.True(t, secondRetryAt.After(firstRetryAt))
}

func TestExpirePathValidationNoopWhenAlreadyValidated(t *testing.T) {
	c := newTestConn(t, nil)
	now := time.Now().UnixNano()

	c.mu.Lock()
	c.beginPathValidationLocked("10.0.0.2:4433", now, true)
	c.altPath.validated = true
	c.mu.Unlock()

	c.mu.Lock()
	c.expirePathValidationLocked(now + int64(time.Hour))
	stillThere := c.altPath != nil
	c.mu.Unlock()

	require.True(t, stillThere)
}

func TestOnPathResponseValidatesDefaultPath(t *testing.T) {
	c := newTestConn(t, nil)
	data := newPathChallengeData()

	c.mu.Lock()
	c.defaultPath.challengeData = data
	c.onPathResponseLocked("10.0.0.1:4433", data, time.Now().UnixNano())
	validated := c.defaultPath.validated
	peerValidated := c.peerValidated
	c.mu.Unlock()

	require.True(t, validated)
	require.True(t, peerValidated)
}

func TestCommitMigrationPromotesAltPath(t *testing.T) {
	c := newTestConn(t, nil)
	now := time.Now().UnixNano()

	c.mu.Lock()
	c.defaultPath.peerAddr = "10.0.0.1:4433"
	c.beginPathValidationLocked("10.0.0.2:4433", now, false)
	c.commitMigrationLocked(now)
	newDefault := c.defaultPath.peerAddr
	altGone := c.altPath == nil
	c.mu.Unlock()

	require.Equal(t, "10.0.0.2:4433", newDefault)
	require.True(t, altGone)
}
