// Package transport implements the two per-connection state machines (C1
// client, C2 server) and the per-stream gRPC framing handler (C3) that sit
// beneath the exported Conn facade. HTTP/2 frame I/O is delegated to
// golang.org/x/net/http2's Framer, the frame codec the spec treats as an
// external collaborator (§1); everything here is the lifecycle logic gRPC
// layers on top of it.
package transport

import (
	"fmt"

	"golang.org/x/net/http2"
)

// connState is the client connection's one-way state ladder: NotConnected
// -> Connected -> Closing -> Closed (§3).
type connState int32

const (
	stateNotConnected connState = iota
	stateConnected
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateNotConnected:
		return "NotConnected"
	case stateConnected:
		return "Connected"
	case stateClosing:
		return "Closing"
	case stateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CloseReasonKind tags the variant of CloseReason.
type CloseReasonKind int

const (
	ReasonIdleTimeout CloseReasonKind = iota
	ReasonKeepaliveTimeout
	ReasonInitiatedLocally
	ReasonRemote
	ReasonUnexpectedError
)

// precedence implements the close-cause ordering from §4.1:
// unexpectedError(-1) < goAway/remote(0) < idle(1) < keepaliveExpired(2) < initiatedLocally(3).
func (k CloseReasonKind) precedence() int {
	switch k {
	case ReasonUnexpectedError:
		return -1
	case ReasonRemote:
		return 0
	case ReasonIdleTimeout:
		return 1
	case ReasonKeepaliveTimeout:
		return 2
	case ReasonInitiatedLocally:
		return 3
	default:
		return -2
	}
}

func (k CloseReasonKind) String() string {
	switch k {
	case ReasonIdleTimeout:
		return "idle"
	case ReasonKeepaliveTimeout:
		return "keepalive expired"
	case ReasonInitiatedLocally:
		return "initiated locally"
	case ReasonRemote:
		return "remote"
	case ReasonUnexpectedError:
		return "unexpected error"
	default:
		return "unknown"
	}
}

// CloseReason explains why a connection's Closed event fired.
type CloseReason struct {
	Kind    CloseReasonKind
	Err     error
	WasIdle bool
}

func (r CloseReason) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s", r.Kind, r.Err)
	}
	return r.Kind.String()
}

// higherPrecedence reports whether candidate should replace current as the
// close cause, per the maximum-precedence rule in §4.1/§8.
func higherPrecedence(current, candidate CloseReason) bool {
	return candidate.Kind.precedence() > current.Kind.precedence()
}

// Event is the tagged union of values delivered over a Conn's event
// channel, in order, terminating in exactly one Closed (§3 invariant c).
type Event interface {
	isEvent()
}

type EventConnectSucceeded struct{}

func (EventConnectSucceeded) isEvent() {}

type EventConnectFailed struct{ Err error }

func (EventConnectFailed) isEvent() {}

type EventGoingAway struct {
	Code http2.ErrCode
	Msg  string
}

func (EventGoingAway) isEvent() {}

type EventClosed struct{ Reason CloseReason }

func (EventClosed) isEvent() {}

// Peer is a free-form diagnostic description of one side of a connection
// (§9's resolved open question: both local and remote peers are always
// populated from the live net.Conn, no placeholder string).
type Peer struct {
	Addr      string
	Authority string
}

func (p Peer) String() string {
	if p.Authority != "" && p.Authority != p.Addr {
		return fmt.Sprintf("%s (%s)", p.Authority, p.Addr)
	}
	return p.Addr
}
