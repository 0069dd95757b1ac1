package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/domsolutions/grpctransport/keepalive"
)

// newTestServerConn builds a ServerConn over a net.Pipe, enough to exercise
// receivedPing/resetKeepaliveState directly without driving the full serve
// loop (this is a white-box unit test, same package as ServerConn).
func newTestServerConn(t *testing.T, enforcement keepalive.EnforcementPolicy) *ServerConn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })

	return NewServerConn(server, ServerConnOptions{Enforcement: enforcement})
}

// TestReceivedPingStrikesTooManyOnFourthPing covers S7: the first ping
// is always accepted, the next two strike, and the fourth trips
// enhance-your-calm.
func TestReceivedPingStrikesTooManyOnFourthPing(t *testing.T) {
	sc := newTestServerConn(t, keepalive.EnforcementPolicy{PermitWithoutStream: true})
	// MinTime far larger than the real (near-zero) gap between these calls,
	// so every ping after the first reads as "too soon".
	sc.opts.Enforcement.MinTime = time.Hour

	assert.False(t, sc.receivedPing(), "first ping is always accepted")
	assert.False(t, sc.receivedPing(), "second ping: 1st strike")
	assert.False(t, sc.receivedPing(), "third ping: 2nd strike")
	assert.True(t, sc.receivedPing(), "fourth ping: 3rd strike exceeds MaxServerPingStrikes")
}

// TestResetKeepaliveStateClearsStrikes covers S8: once the server flushes a
// HEADERS/DATA frame, strikes reset, so three more tightly-spaced pings are
// tolerated again before a fourth would trip enhance-your-calm.
func TestResetKeepaliveStateClearsStrikes(t *testing.T) {
	sc := newTestServerConn(t, keepalive.EnforcementPolicy{PermitWithoutStream: true})
	sc.opts.Enforcement.MinTime = time.Hour

	assert.False(t, sc.receivedPing())
	assert.False(t, sc.receivedPing())
	assert.False(t, sc.receivedPing())

	sc.resetKeepaliveState()

	assert.False(t, sc.receivedPing(), "first ping after reset is accepted again")
	assert.False(t, sc.receivedPing())
	assert.False(t, sc.receivedPing())
	assert.True(t, sc.receivedPing(), "a fourth tight ping after reset still trips enhance-your-calm")
}
