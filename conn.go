// Package grpctransport is the public facade (C5) over the client and
// server connection managers in internal/transport: one Conn per
// connection, a single ordered event stream, and stream handles that
// speak the gRPC length-prefix codec directly against HTTP/2.
package grpctransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/domsolutions/grpctransport/address"
	"github.com/domsolutions/grpctransport/credentials"
	"github.com/domsolutions/grpctransport/internal/grpclog"
	"github.com/domsolutions/grpctransport/internal/transport"
	"github.com/domsolutions/grpctransport/keepalive"
	"github.com/domsolutions/grpctransport/metadata"
)

// Conn is a single client-side gRPC-over-HTTP/2 connection.
type Conn struct {
	cc *transport.ClientConn
}

// DialOptions configures Dial.
type DialOptions struct {
	// TLS, when non-nil, is used to wrap the dialed TCP/Unix/Vsock
	// connection; nil dials plaintext ("h2c").
	TLS *credentials.Options

	Keepalive      keepalive.ClientParameters
	MaxIdleTime    time.Duration // zero disables the idle timer
	MaxMessageSize int

	// PreferredEncoding is the compression algorithm requested on outbound
	// RPCs, subject to the peer's advertised grpc-accept-encoding. Empty
	// means "identity".
	PreferredEncoding string

	Logger grpclog.Logger
}

// Dial establishes a Conn to addr, performing the TLS handshake (if
// DialOptions.TLS is set) and the HTTP/2 connection preface before
// returning. It blocks until the connection is Connected or has failed.
func Dial(ctx context.Context, addr address.SocketAddress, opts DialOptions) (*Conn, error) {
	authority := addr.Authority()

	connector := func(ctx context.Context) (net.Conn, error) {
		raw, err := dialAddress(ctx, addr)
		if err != nil {
			return nil, err
		}

		if opts.TLS == nil {
			return raw, nil
		}

		tlsOpts := *opts.TLS
		if tlsOpts.ServerName == "" {
			tlsOpts.ServerName = address.SNIHostname(authority)
		}
		tlsConn := tls.Client(raw, tlsOpts.Build())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
		return tlsConn, nil
	}

	cc := transport.NewClientConn(transport.ClientConnOptions{
		Connector:         connector,
		Authority:         authority,
		Scheme:            schemeFor(opts.TLS),
		Keepalive:         opts.Keepalive,
		MaxIdleTime:       opts.MaxIdleTime,
		MaxMessageSize:    opts.MaxMessageSize,
		PreferredEncoding: opts.PreferredEncoding,
		Logger:            opts.Logger,
	})

	go func() { _ = cc.Run(ctx) }()

	for ev := range cc.Events() {
		switch e := ev.(type) {
		case transport.EventConnectSucceeded:
			return &Conn{cc: cc}, nil
		case transport.EventConnectFailed:
			return nil, e.Err
		}
	}

	return nil, fmt.Errorf("grpctransport: connection closed before becoming ready")
}

// dialAddress dials addr over the network family its Kind implies,
// delegating to the build-tagged vsock dialer for KindVsock (§6: "virtual
// sockets... only for POSIX transport") since net.Dialer has no notion of
// AF_VSOCK.
func dialAddress(ctx context.Context, addr address.SocketAddress) (net.Conn, error) {
	if addr.Kind() == address.KindVsock {
		return dialVsock(ctx, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, addr.Network(), addr.DialString())
}

func schemeFor(tlsOpts *credentials.Options) string {
	if tlsOpts == nil {
		return "http"
	}
	return "https"
}

// Events returns the connection's ordered event stream.
func (c *Conn) Events() <-chan transport.Event { return c.cc.Events() }

// Close requests a graceful close; the connection finishes in-flight
// streams before the final Closed event fires.
func (c *Conn) Close() { c.cc.Close() }

// LocalPeer and RemotePeer describe the two ends of the connection.
func (c *Conn) LocalPeer() transport.Peer  { return c.cc.LocalPeer() }
func (c *Conn) RemotePeer() transport.Peer { return c.cc.RemotePeer() }

// Stream is a caller handle onto one RPC's HTTP/2 stream.
type Stream struct {
	conn *Conn
	s    *transport.Stream
}

// NewStream opens a new stream for fullMethod (e.g. "/pkg.Service/Method"),
// attaching md as outgoing metadata.
func (c *Conn) NewStream(md metadata.MD, fullMethod string) (*Stream, error) {
	s, err := c.cc.NewStream(md, fullMethod)
	if err != nil {
		return nil, err
	}
	return &Stream{conn: c, s: s}, nil
}

// Send writes one gRPC-framed message on the stream.
func (s *Stream) Send(payload []byte, compressed bool) error {
	return s.conn.cc.WriteMessage(s.s, compressed, payload, false)
}

// CloseSend half-closes the stream's send side.
func (s *Stream) CloseSend() error {
	return s.conn.cc.WriteMessage(s.s, false, nil, true)
}

// Recv returns the next fully-reassembled inbound message, blocking until
// one arrives or the stream finishes.
func (s *Stream) Recv() (transport.Message, error) {
	m, ok := <-s.s.RecvMessages()
	if !ok {
		return transport.Message{}, s.s.Err()
	}
	return m, nil
}

// Cancel fires the stream's cancellation handle (RST_STREAM on the wire
// is left to a future iteration of this facade; Cancel today only
// unblocks local waiters registered via OnCancel).
func (s *Stream) Cancel() { s.s.Cancel() }
