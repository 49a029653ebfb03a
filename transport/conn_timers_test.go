package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, configure func(*Config)) *Conn {
	t.Helper()
	cfg := DefaultConfig()
	if configure != nil {
		configure(cfg)
	}
	c, err := newConn(cfg, true, ConnectionID{1, 2, 3, 4}, NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNextTimeoutReturnsMinusOneWhenNothingArmed(t *testing.T) {
	c := newTestConn(t, nil)
	require.Equal(t, time.Duration(-1), c.NextTimeout())
}

func TestNextTimeoutReturnsMinusOneWhenClosed(t *testing.T) {
	c := newTestConn(t, nil)
	c.ArmIdleTimer(time.Now().UnixNano())
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	require.Equal(t, time.Duration(-1), c.NextTimeout())
}

func TestAdvanceTimeClosesOnIdleTimeout(t *testing.T) {
	c := newTestConn(t, func(cfg *Config) { cfg.IdleNetworkTimeout = time.Millisecond })
	now := time.Now().UnixNano()
	c.ArmIdleTimer(now)

	require.NoError(t, c.AdvanceTime(now+2*time.Millisecond.Nanoseconds()))
	require.True(t, c.IsClosed())
}

func TestAdvanceTimeClosesOnHandshakeTimeout(t *testing.T) {
	c := newTestConn(t, func(cfg *Config) { cfg.HandshakeTimeout = time.Millisecond })
	now := time.Now().UnixNano()
	c.ArmHandshakeTimer(now)

	require.NoError(t, c.AdvanceTime(now+2*time.Millisecond.Nanoseconds()))
	require.True(t, c.IsClosed())
}

func TestArmHandshakeTimerNoopWhenUnconfigured(t *testing.T) {
	c := newTestConn(t, func(cfg *Config) { cfg.HandshakeTimeout = 0 })
	c.ArmHandshakeTimer(time.Now().UnixNano())
	c.mu.Lock()
	deadline := c.handshakeDeadline
	c.mu.Unlock()
	require.True(t, deadline.IsZero())
}

func TestAdvanceTimeIsNoopOnceClosed(t *testing.T) {
	c := newTestConn(t, nil)
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	require.NoError(t, c.AdvanceTime(time.Now().UnixNano()))
}

func TestDrainDeadlineTransitionsDrainingToClosed(t *testing.T) {
	c := newTestConn(t, nil)
	c.mu.Lock()
	c.state = stateActive
	c.mu.Unlock()

	c.Close(NoError, false, "done")
	require.False(t, c.IsClosed())

	c.mu.Lock()
	drainDeadline := c.drainDeadline
	c.mu.Unlock()
	require.False(t, drainDeadline.IsZero())

	require.NoError(t, c.AdvanceTime(drainDeadline.UnixNano()+1))
	require.True(t, c.IsClosed())
}

func TestInitiateKeyUpdateRejectsWhenUnsupported(t *testing.T) {
	c := newTestConn(t, func(cfg *Config) { cfg.SupportKeyUpdate = false })
	err := c.InitiateKeyUpdate()
	require.Error(t, err)
}

func TestInitiateKeyUpdateRejectsBeforeHandshakeConfirmed(t *testing.T) {
	c := newTestConn(t, func(cfg *Config) { cfg.SupportKeyUpdate = true })
	err := c.InitiateKeyUpdate()
	require.Error(t, err)
}
