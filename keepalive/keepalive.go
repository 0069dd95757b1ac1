// Package keepalive defines the tunables for gRPC's keep-alive ping
// protocol (gRFC A8) on both sides of a connection. Names intentionally
// match the wider gRPC ecosystem's vocabulary, since that vocabulary is
// what operators already know.
package keepalive

import "time"

// ClientParameters configures the client's outbound keep-alive pings,
// consumed by the client ConnectionManager (C1).
type ClientParameters struct {
	// Time is the interval a ping is sent on an otherwise idle connection.
	// Zero disables client-initiated keep-alive entirely.
	Time time.Duration

	// Timeout is how long the client waits for a ping ack before the
	// connection is considered dead.
	Timeout time.Duration

	// PermitWithoutStream lets the keep-alive timer run even with no
	// active RPCs on the connection. The client starts its ping timer only
	// when this is set; with it unset, no keep-alive pings are sent, even
	// while streams are open.
	PermitWithoutStream bool
}

func (p *ClientParameters) defaults() {
	if p.Timeout <= 0 {
		p.Timeout = 20 * time.Second
	}
}

// DefaultClientParameters returns client keep-alive parameters with
// Time left at 0 (disabled), matching grpc's own conservative default.
func DefaultClientParameters() ClientParameters {
	p := ClientParameters{}
	p.defaults()
	return p
}

// ServerParameters configures the server's connection-lifetime timers,
// consumed by the server ConnectionManager (C2).
type ServerParameters struct {
	// MaxConnectionIdle is the maximum amount of time a connection with no
	// open streams may exist before the server starts a graceful shutdown.
	// Zero disables the idle timer.
	MaxConnectionIdle time.Duration

	// MaxConnectionAge is the maximum amount of time a connection may
	// exist before the server starts a graceful shutdown, regardless of
	// activity. Zero disables the age timer.
	MaxConnectionAge time.Duration

	// MaxConnectionAgeGrace bounds how long the server waits, once the
	// second GOAWAY has been sent, before force-closing the connection.
	MaxConnectionAgeGrace time.Duration

	// Time is the interval at which the server pings an idle connection
	// to check it is still alive.
	Time time.Duration

	// Timeout is how long the server waits for a ping ack.
	Timeout time.Duration
}

func (p *ServerParameters) defaults() {
	if p.MaxConnectionAgeGrace <= 0 {
		p.MaxConnectionAgeGrace = 10 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 20 * time.Second
	}
}

// FillDefaults fills zero-valued fields in place, leaving any
// caller-supplied timers untouched. Exported so ServerConnOptions.defaults
// (internal/transport) can apply it to a caller-provided ServerParameters
// without discarding their configuration.
func (p *ServerParameters) FillDefaults() { p.defaults() }

// DefaultServerParameters returns server keep-alive parameters with all
// timers disabled except the grace period, which always has a floor.
func DefaultServerParameters() ServerParameters {
	p := ServerParameters{}
	p.defaults()
	return p
}

// EnforcementPolicy controls how aggressively the server polices client
// pings (gRFC A8); see ServerConn.receivedPing in internal/transport.
type EnforcementPolicy struct {
	// MinTime is the minimum amount of time a client should wait between
	// successive pings while streams are open.
	MinTime time.Duration

	// PermitWithoutStream allows clients to send pings even with no
	// active streams, policed at MinTime. When false, pings on a
	// connection with no open streams are policed at
	// MinPingIntervalWithoutCalls (two hours).
	PermitWithoutStream bool
}

func (p *EnforcementPolicy) defaults() {
	if p.MinTime <= 0 {
		p.MinTime = 5 * time.Minute
	}
}

// FillDefaults fills zero-valued fields in place; see
// ServerParameters.FillDefaults for why this is exported.
func (p *EnforcementPolicy) FillDefaults() { p.defaults() }

// DefaultEnforcementPolicy returns the enforcement policy gRPC servers use
// out of the box.
func DefaultEnforcementPolicy() EnforcementPolicy {
	p := EnforcementPolicy{}
	p.defaults()
	return p
}

// MinPingIntervalWithoutCalls is the interval used to police pings on an
// otherwise idle connection when the enforcement policy does not permit
// pings without calls — two hours, per §4.2.
const MinPingIntervalWithoutCalls = 2 * time.Hour

// MaxServerPingStrikes is the number of bad pings tolerated before the
// server sends GOAWAY(enhanceYourCalm); the third bad ping (strikes > 2),
// i.e. the fourth ping of a tight burst, triggers it.
const MaxServerPingStrikes = 2
