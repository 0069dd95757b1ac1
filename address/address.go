// Package address defines the value types used to describe where a gRPC
// channel can connect: individual socket addresses and the endpoints (groups
// of equivalent addresses) that a NameResolver produces.
package address

import "fmt"

// Kind tags which variant of SocketAddress is populated.
type Kind uint8

const (
	KindIPv4 Kind = iota
	KindIPv6
	KindUnix
	KindVsock
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindUnix:
		return "unix"
	case KindVsock:
		return "vsock"
	default:
		return "unknown"
	}
}

// SocketAddress is an immutable tagged union of the four address families
// the core understands. Use the constructors below rather than building one
// by hand; the zero value is not a valid address.
type SocketAddress struct {
	kind Kind

	host string
	port int

	// ipv6 only
	scopeID string
	hasScope bool

	// unix only
	path string

	// vsock only
	contextID uint32
	vsockPort uint32
}

// IPv4 builds an IPv4 socket address.
func IPv4(host string, port int) SocketAddress {
	return SocketAddress{kind: KindIPv4, host: host, port: port}
}

// IPv6 builds an IPv6 socket address. scopeID is optional; pass "" if unused.
func IPv6(host string, port int, scopeID string) SocketAddress {
	return SocketAddress{kind: KindIPv6, host: host, port: port, scopeID: scopeID, hasScope: scopeID != ""}
}

// Unix builds a Unix domain socket address.
func Unix(path string) SocketAddress {
	return SocketAddress{kind: KindUnix, path: path}
}

// Vsock builds a virtual-socket address (POSIX transports only).
func Vsock(contextID, port uint32) SocketAddress {
	return SocketAddress{kind: KindVsock, contextID: contextID, vsockPort: port}
}

// Kind reports which variant this address is.
func (a SocketAddress) Kind() Kind { return a.kind }

// Host returns (host, true) for IPv4/IPv6 addresses, ("", false) otherwise.
func (a SocketAddress) Host() (string, bool) {
	if a.kind == KindIPv4 || a.kind == KindIPv6 {
		return a.host, true
	}
	return "", false
}

// Port returns (port, true) for IPv4/IPv6 addresses, (0, false) otherwise.
func (a SocketAddress) Port() (int, bool) {
	if a.kind == KindIPv4 || a.kind == KindIPv6 {
		return a.port, true
	}
	return 0, false
}

// ScopeID returns the IPv6 zone identifier, if present.
func (a SocketAddress) ScopeID() (string, bool) {
	if a.kind == KindIPv6 && a.hasScope {
		return a.scopeID, true
	}
	return "", false
}

// Path returns the filesystem path for a Unix domain socket address.
func (a SocketAddress) Path() (string, bool) {
	if a.kind == KindUnix {
		return a.path, true
	}
	return "", false
}

// ContextID returns the vsock context ID and port.
func (a SocketAddress) ContextID() (uint32, uint32, bool) {
	if a.kind == KindVsock {
		return a.contextID, a.vsockPort, true
	}
	return 0, 0, false
}

// Network returns the net.Dial-style network name for this address.
func (a SocketAddress) Network() string {
	switch a.kind {
	case KindIPv4:
		return "tcp4"
	case KindIPv6:
		return "tcp6"
	case KindUnix:
		return "unix"
	case KindVsock:
		return "vsock"
	default:
		return ""
	}
}

// DialString returns the string net.Dial expects for this address's network,
// e.g. "host:port", "[ipv6]:port" or a UDS path.
func (a SocketAddress) DialString() string {
	switch a.kind {
	case KindIPv4:
		return fmt.Sprintf("%s:%d", a.host, a.port)
	case KindIPv6:
		if a.hasScope {
			return fmt.Sprintf("[%s%%%s]:%d", a.host, a.scopeID, a.port)
		}
		return fmt.Sprintf("[%s]:%d", a.host, a.port)
	case KindUnix:
		return a.path
	case KindVsock:
		return fmt.Sprintf("vsock:%d:%d", a.contextID, a.vsockPort)
	default:
		return ""
	}
}

func (a SocketAddress) String() string {
	return fmt.Sprintf("%s(%s)", a.kind, a.DialString())
}

// Endpoint is an ordered list of equivalent addresses the channel tries in
// order when connecting.
type Endpoint struct {
	Addresses []SocketAddress
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%v", e.Addresses)
}
